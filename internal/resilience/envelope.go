// Copyright 2025 James Ross
// Package resilience wraps a worker.HandlerFunc with the retry, dead-letter,
// batch-status, and observability envelope every job handler runs inside.
package resilience

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/archivault/workers/internal/apperrors"
	"github.com/archivault/workers/internal/config"
	"github.com/archivault/workers/internal/job"
	"github.com/archivault/workers/internal/obs"
	"github.com/archivault/workers/internal/queue"
	"github.com/archivault/workers/internal/router"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// BatchStatus is the vocabulary spec's Open Question (c) selects for
// updateBatchStatus: {not_started, in_progress, complete, cancelled}.
type BatchStatus string

const (
	BatchNotStarted BatchStatus = "not_started"
	BatchInProgress BatchStatus = "in_progress"
	BatchComplete   BatchStatus = "complete"
	BatchCancelled  BatchStatus = "cancelled"
)

// BatchStatusUpdater is called on successful completion of any job carrying
// a batch_id.
type BatchStatusUpdater interface {
	UpdateBatchStatus(ctx context.Context, batchID string, status BatchStatus) error
}

// FailedReasonWriter best-effort records a failure reason on the affected
// asset-version row; errors are logged, never propagated.
type FailedReasonWriter interface {
	MarkFailed(ctx context.Context, tenantID, assetID, reason string) error
}

// DLQNotifier sends an optional outbound webhook on dead-letter. Failure to
// notify never fails the envelope.
type DLQNotifier interface {
	NotifyDLQ(ctx context.Context, entry queue.DLQEntry) error
}

// Envelope wraps handler invocations with recordJobStart/logStart/withRetry/
// sendToDLQ/logEnd/recordJobEnd, per spec's resilience contract.
type Envelope struct {
	Worker  job.Worker
	Queues  config.Queues
	Backoff config.Backoff

	Q       *queue.Queue
	Rdb     *redis.Client
	Log     *zap.Logger
	Batches BatchStatusUpdater
	Reasons FailedReasonWriter
	Webhook DLQNotifier
}

// Wrap returns a worker.HandlerFunc-compatible function implementing the
// full envelope around inner.
func (e *Envelope) Wrap(inner func(ctx context.Context, j job.Job) error) func(ctx context.Context, j job.Job) error {
	return func(ctx context.Context, j job.Job) error {
		timerKey := e.timerKey(j)
		e.recordJobStart(ctx, timerKey, j)
		e.logStart(j)

		err := e.withRetry(ctx, j, inner)

		if err != nil {
			e.logFailure(j, err)
			e.sendToDLQ(ctx, j, err)
			e.recordJobEnd(ctx, timerKey)
			return err
		}

		e.logEnd(j)
		if j.BatchID != "" && e.Batches != nil {
			if berr := e.Batches.UpdateBatchStatus(ctx, j.BatchID, BatchComplete); berr != nil {
				e.Log.Warn("updateBatchStatus failed", obs.String("batch_id", j.BatchID), obs.Err(berr))
			}
		}
		e.recordJobEnd(ctx, timerKey)
		return nil
	}
}

// withRetry runs inner up to Backoff.MaxRetries+1 times with exponential
// backoff and symmetric jitter, stopping early on non-retryable errors.
func (e *Envelope) withRetry(ctx context.Context, j job.Job, inner func(context.Context, job.Job) error) error {
	maxRetries := e.Backoff.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 2
	}
	base := e.Backoff.Base
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxDelay := e.Backoff.Max
	if maxDelay <= 0 {
		maxDelay = 4 * time.Second
	}
	jitter := e.Backoff.Jitter
	if jitter <= 0 {
		jitter = 0.3
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffWithJitter(attempt, base, maxDelay, jitter)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			obs.JobsRetried.WithLabelValues(string(e.Worker)).Inc()
		}

		err := inner(ctx, j)
		if err == nil {
			return nil
		}
		lastErr = err
		if !apperrors.IsRetryable(err) {
			return err
		}
	}
	return fmt.Errorf("job exhausted %d retries: %w", maxRetries, lastErr)
}

func backoffWithJitter(attempt int, base, maxDelay time.Duration, jitter float64) time.Duration {
	d := base << uint(attempt-1)
	if d > maxDelay || d <= 0 {
		d = maxDelay
	}
	spread := float64(d) * jitter
	offset := (rand.Float64()*2 - 1) * spread
	jittered := time.Duration(float64(d) + offset)
	if jittered < 0 {
		jittered = 0
	}
	return jittered
}

// sendToDLQ constructs a redacted DLQEntry, pushes it, increments the DLQ
// counter, best-effort records a failed_reason, and best-effort notifies a
// webhook. It must never return an error or panic.
func (e *Envelope) sendToDLQ(ctx context.Context, j job.Job, cause error) {
	defer func() {
		if r := recover(); r != nil {
			e.Log.Error("sendToDLQ panicked, suppressing", obs.String("recover", fmt.Sprintf("%v", r)))
		}
	}()

	reason := cause.Error()
	entry := queue.NewDLQEntry(j.JobType, reason, &j)

	dlqKey, derr := router.DLQKey(e.Queues, e.Worker)
	if derr != nil {
		e.Log.Error("could not resolve dlq key", obs.Err(derr))
		return
	}
	if err := e.Q.PushRawDLQ(ctx, dlqKey, entry); err != nil {
		e.Log.Error("failed to push dlq entry", obs.Err(err))
	}
	obs.JobsDeadLetter.WithLabelValues(string(e.Worker)).Inc()
	obs.JobsFailed.WithLabelValues(string(e.Worker), string(j.DerivePriority())).Inc()

	if e.Reasons != nil {
		if err := e.Reasons.MarkFailed(ctx, j.TenantID, j.AssetID, reason); err != nil {
			e.Log.Warn("failed to write failed_reason", obs.Err(err))
		}
	}
	if e.Webhook != nil {
		if err := e.Webhook.NotifyDLQ(ctx, entry); err != nil {
			e.Log.Warn("dlq webhook notification failed", obs.Err(err))
		}
	}
}

func (e *Envelope) timerKey(j job.Job) string {
	tenant, batch, asset := j.TenantID, j.BatchID, j.AssetID
	if tenant == "" || asset == "" {
		return fmt.Sprintf("job_timer:%s:%08x", e.Worker, rand.Uint32())
	}
	if batch == "" {
		batch = "-"
	}
	return fmt.Sprintf("job_timer:%s:%s:%s:%s", e.Worker, tenant, batch, asset)
}

func (e *Envelope) recordJobStart(ctx context.Context, key string, j job.Job) {
	payload, _ := job.Marshal(j)
	if e.Rdb != nil {
		_ = e.Rdb.Set(ctx, key, payload, 10*time.Minute).Err()
	}
}

func (e *Envelope) recordJobEnd(ctx context.Context, key string) {
	if e.Rdb != nil {
		_ = e.Rdb.Del(ctx, key).Err()
	}
}

func (e *Envelope) logStart(j job.Job) {
	e.Log.Info("job started",
		obs.String("worker", string(e.Worker)),
		obs.String("tenant_id", j.TenantID),
		obs.String("asset_id", j.AssetID),
		obs.String("batch_id", j.BatchID),
		obs.Int("retries", j.Retries),
	)
}

func (e *Envelope) logEnd(j job.Job) {
	obs.JobsCompleted.WithLabelValues(string(e.Worker), string(j.DerivePriority())).Inc()
	e.Log.Info("job completed",
		obs.String("worker", string(e.Worker)),
		obs.String("tenant_id", j.TenantID),
		obs.String("asset_id", j.AssetID),
	)
}

func (e *Envelope) logFailure(j job.Job, err error) {
	e.Log.Error("job failed",
		obs.String("worker", string(e.Worker)),
		obs.String("tenant_id", j.TenantID),
		obs.String("asset_id", j.AssetID),
		obs.Err(err),
	)
}
