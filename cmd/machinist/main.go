// Copyright 2025 James Ross
// Command machinist runs the image-derivative worker process.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/archivault/workers/internal/blob"
	"github.com/archivault/workers/internal/breaker"
	"github.com/archivault/workers/internal/config"
	"github.com/archivault/workers/internal/job"
	"github.com/archivault/workers/internal/machinist"
	"github.com/archivault/workers/internal/obs"
	"github.com/archivault/workers/internal/queue"
	"github.com/archivault/workers/internal/redisclient"
	"github.com/archivault/workers/internal/resilience"
	"github.com/archivault/workers/internal/store"
	"github.com/archivault/workers/internal/webhook"
	"github.com/archivault/workers/internal/worker"
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

	tp, err := obs.MaybeInitTracing(cfg)
	if err != nil {
		log.Warn("tracing init failed, continuing without it", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redisclient.New(cfg)
	defer func() { _ = rdb.Close() }()

	assetVersions, err := openAssetVersionStore(cfg)
	if err != nil {
		log.Fatal("open store", zap.Error(err))
	}

	blobClient, err := blob.New(cfg.Blob, log)
	if err != nil {
		log.Fatal("build blob client", zap.Error(err))
	}

	q := queue.New(rdb, log)
	dlqKey := cfg.Worker.Queues.DLQMachinist
	pipeline := machinist.New(blobClient, assetVersions, q, dlqKey, cfg.Worker.Machinist, cfg.Worker.MinFreeMemoryMB, log)

	notifier := webhook.New(cfg.Webhook, log)
	envelope := &resilience.Envelope{
		Worker:  job.Machinist,
		Queues:  cfg.Worker.Queues,
		Backoff: cfg.Worker.Backoff,
		Q:       q,
		Rdb:     rdb,
		Log:     log,
		Webhook: notifier,
	}
	handler := envelope.Wrap(func(ctx context.Context, j job.Job) error {
		_, err := pipeline.Process(ctx, j)
		return err
	})

	cb := breaker.New(cfg.Worker.CircuitBreaker.Window, cfg.Worker.CircuitBreaker.CooldownPeriod,
		cfg.Worker.CircuitBreaker.FailureThreshold, cfg.Worker.CircuitBreaker.MinSamples)

	steps := []worker.QueueStep{
		{Key: cfg.Worker.Queues.MachinistInstant, Priority: job.Instant},
		{Key: cfg.Worker.Queues.MachinistStandard, Priority: job.Standard},
	}
	handlers := map[job.Priority]worker.HandlerFunc{
		job.Instant:  handler,
		job.Standard: handler,
	}

	loop := worker.New(job.Machinist, q, cb, log, steps, dlqKey,
		cfg.Worker.Machinist.BlockTimeout, 0, cfg.Worker.BreakerPause, handlers)

	obs.StartQueueLengthUpdater(ctx, cfg, rdb, log)
	healthSrv := obs.StartHTTPServer(cfg, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})

	go func() {
		<-ctx.Done()
		loop.RequestShutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = healthSrv.Shutdown(shutdownCtx)
		if tp != nil {
			_ = obs.TracerShutdown(shutdownCtx, tp)
		}
	}()

	log.Info("machinist worker starting", zap.String("redis_addr", cfg.Redis.Addr))
	if err := loop.Run(ctx); err != nil {
		log.Fatal("worker loop exited with error", zap.Error(err))
	}
	log.Info("machinist worker stopped")
}

func openAssetVersionStore(cfg *config.Config) (store.AssetVersionStore, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.OpenSQLite(cfg.Store.DSN)
	default:
		return store.OpenPostgres(cfg.Store.DSN)
	}
}
