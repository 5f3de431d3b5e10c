// Copyright 2025 James Ross
// Command migrate-legacy-queues is a one-shot utility that drains the
// pre-namespacing shared queues onto the namespaced per-worker queue
// layer, redirecting anything undecodable or invalid to the dead-letter
// queues instead of dropping it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/archivault/workers/internal/config"
	"github.com/archivault/workers/internal/migrate"
	"github.com/archivault/workers/internal/obs"
	"github.com/archivault/workers/internal/queue"
	"github.com/archivault/workers/internal/redisclient"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := obs.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFile,
		cfg.Observability.LogMaxSizeMB, cfg.Observability.LogMaxBackups, cfg.Observability.LogCompress)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	rdb := redisclient.New(cfg)
	defer func() { _ = rdb.Close() }()
	legacy := redisclient.NewLegacy(cfg)
	defer func() { _ = legacy.Close() }()

	m := &migrate.Migrator{
		Legacy: legacy,
		Queue:  queue.New(rdb, log),
		Queues: cfg.Worker.Queues,
		Log:    log,
	}

	stats, err := m.Run(context.Background())
	if err != nil {
		log.Error("migration run failed", zap.Error(err))
		os.Exit(1)
	}

	for _, ks := range stats.Keys {
		log.Info("migration key summary",
			zap.String("legacy_key", ks.LegacyKey),
			zap.Int("migrated", ks.Migrated),
			zap.Int("failed", ks.Failed))
	}
	log.Info("migration complete",
		zap.Int("total_migrated", stats.TotalMigrated()),
		zap.Int("total_failed", stats.TotalFailed()))

	if stats.TotalFailed() > 0 {
		os.Exit(1)
	}
}
