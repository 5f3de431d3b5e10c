// Copyright 2025 James Ross
// Command controlplane runs the HTTP control surface: job submission,
// queue introspection, and dead-letter management.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/archivault/workers/internal/config"
	"github.com/archivault/workers/internal/controlplane"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redisclient.New(cfg)
	defer func() { _ = rdb.Close() }()
	q := queue.New(rdb, log)

	srv := controlplane.New(cfg.ControlPlane, cfg.Worker.Queues, q, log)

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ControlPlane.Port),
		Handler:      srv.NewRouter(),
		ReadTimeout:  cfg.ControlPlane.ReadTimeout,
		WriteTimeout: cfg.ControlPlane.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn("control plane shutdown error", zap.Error(err))
		}
	}()

	log.Info("control plane starting", zap.Int("port", cfg.ControlPlane.Port))
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("control plane exited with error", zap.Error(err))
	}
	log.Info("control plane stopped")
}
