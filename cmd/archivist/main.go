// Copyright 2025 James Ross
// Command archivist runs the AI-description worker process, along with
// the jobgroup poller that reconciles in-flight async batches.
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

	"github.com/archivault/workers/internal/archivist"
	"github.com/archivault/workers/internal/audit"
	"github.com/archivault/workers/internal/blob"
	"github.com/archivault/workers/internal/breaker"
	"github.com/archivault/workers/internal/config"
	"github.com/archivault/workers/internal/job"
	"github.com/archivault/workers/internal/jobgroup"
	"github.com/archivault/workers/internal/modelapi"
	"github.com/archivault/workers/internal/obs"
	"github.com/archivault/workers/internal/queue"
	"github.com/archivault/workers/internal/redisclient"
	"github.com/archivault/workers/internal/resilience"
	"github.com/archivault/workers/internal/store"
	"github.com/archivault/workers/internal/tenant"
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

	descriptionStore, jobgroupStore, resultStore, err := openArchivistStores(cfg)
	if err != nil {
		log.Fatal("open store", zap.Error(err))
	}

	blobClient, err := blob.New(cfg.Blob, log)
	if err != nil {
		log.Fatal("build blob client", zap.Error(err))
	}

	auditLog, err := audit.New(cfg.Worker.Jobgroup.AuditDir, log)
	if err != nil {
		log.Fatal("build audit logger", zap.Error(err))
	}

	model := modelapi.New(cfg.ModelAPIURL, cfg.ModelAPIKey, cfg.Worker.Archivist.RequestTimeout, cfg.Worker.Archivist.MaxRetries, log)
	throttle := tenant.New(rdb, cfg.Worker.Jobgroup.MaxActivePerTenant, cfg.Worker.Jobgroup.Max24hPerTenant)
	notifier := webhook.New(cfg.Webhook, log)
	q := queue.New(rdb, log)

	poller := &jobgroup.Poller{
		Rdb:   rdb,
		Model: model,
		Store: jobgroupStore,
		Cfg:   cfg.Worker.Jobgroup,
		Log:   log,
	}
	poller.Processor = &jobgroup.ResultProcessor{
		Rdb:          rdb,
		Model:        model,
		Descriptions: descriptionStore,
		Results:      resultStore,
		Jobgroups:    jobgroupStore,
		Queue:        q,
		Throttle:     throttle,
		Audit:        auditLog,
		Webhook:      notifier,
		ArchivistCfg: cfg.Worker.Archivist,
		Cfg:          cfg.Worker.Jobgroup,
		Log:          log,
	}

	submitter := &jobgroup.Submitter{
		Blob:         blobClient,
		Model:        model,
		Store:        jobgroupStore,
		Throttle:     throttle,
		Audit:        auditLog,
		Webhook:      notifier,
		Poller:       poller,
		ArchivistCfg: cfg.Worker.Archivist,
		Cfg:          cfg.Worker.Jobgroup,
		Log:          log,
	}
	delegate := &jobgroup.WorkerDelegate{Submitter: submitter}

	pipeline := archivist.New(blobClient, descriptionStore, model, delegate, cfg.Worker.Archivist, log)

	dlqKey := cfg.Worker.Queues.DLQArchivist
	envelope := &resilience.Envelope{
		Worker:  job.Archivist,
		Queues:  cfg.Worker.Queues,
		Backoff: cfg.Worker.Backoff,
		Q:       q,
		Rdb:     rdb,
		Log:     log,
		Webhook: notifier,
	}
	handler := envelope.Wrap(pipeline.Process)

	cb := breaker.New(cfg.Worker.CircuitBreaker.Window, cfg.Worker.CircuitBreaker.CooldownPeriod,
		cfg.Worker.CircuitBreaker.FailureThreshold, cfg.Worker.CircuitBreaker.MinSamples)

	steps := []worker.QueueStep{
		{Key: cfg.Worker.Queues.ArchivistInstant, Priority: job.Instant},
		{Key: cfg.Worker.Queues.ArchivistStandard, Priority: job.Standard},
		{Key: cfg.Worker.Queues.ArchivistJobgroup, Priority: job.Jobgroup},
	}
	handlers := map[job.Priority]worker.HandlerFunc{
		job.Instant:  handler,
		job.Standard: handler,
		job.Jobgroup: handler,
	}

	loop := worker.New(job.Archivist, q, cb, log, steps, dlqKey,
		0, cfg.Worker.Archivist.IdleSleep, cfg.Worker.BreakerPause, handlers)

	obs.StartQueueLengthUpdater(ctx, cfg, rdb, log)
	healthSrv := obs.StartHTTPServer(cfg, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})

	pollInterval := cfg.Worker.Jobgroup.PollIdleInterval
	if pollInterval <= 0 {
		pollInterval = cfg.Worker.Jobgroup.PollActiveInterval
	}
	scheduler := jobgroup.NewScheduler(poller, pollInterval, log)
	scheduler.Start()

	go func() {
		<-ctx.Done()
		loop.RequestShutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		scheduler.Stop(shutdownCtx)
		_ = healthSrv.Shutdown(shutdownCtx)
		if tp != nil {
			_ = obs.TracerShutdown(shutdownCtx, tp)
		}
	}()

	log.Info("archivist worker starting", zap.String("redis_addr", cfg.Redis.Addr))
	if err := loop.Run(ctx); err != nil {
		log.Fatal("worker loop exited with error", zap.Error(err))
	}
	log.Info("archivist worker stopped")
}

func openArchivistStores(cfg *config.Config) (store.AIDescriptionStore, store.JobgroupStore, store.JobgroupResultStore, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		s, err := store.OpenSQLite(cfg.Store.DSN)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, s, s, nil
	default:
		s, err := store.OpenPostgres(cfg.Store.DSN)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, s, s, nil
	}
}
