// Copyright 2025 James Ross
// Package worker implements the shared run loop used by both the Machinist
// and Archivist processes: dequeue, dispatch to a handler, record breaker
// state, repeat until shutdown.
package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/archivault/workers/internal/breaker"
	"github.com/archivault/workers/internal/job"
	"github.com/archivault/workers/internal/obs"
	"github.com/archivault/workers/internal/queue"
	"go.uber.org/zap"
)

// HandlerFunc processes one dequeued job. The resilience envelope wraps
// handlers registered here; the loop itself only swallows handler errors
// and continues, per spec's "loop swallows the error and continues" rule.
type HandlerFunc func(ctx context.Context, j job.Job) error

// QueueStep pairs a namespaced queue key with the priority it represents,
// in the strict-priority order the loop should scan or block over.
type QueueStep struct {
	Key      string
	Priority job.Priority
}

// Loop is the shared worker run loop. Machinist instances set BlockTimeout
// and leave IdleSleep at zero; Archivist instances set IdleSleep and leave
// BlockTimeout at zero, matching spec's blocking-vs-scanning split.
type Loop struct {
	Worker       job.Worker
	Steps        []QueueStep
	DLQKey       string
	BlockTimeout time.Duration
	IdleSleep    time.Duration
	BreakerPause time.Duration
	Handlers     map[job.Priority]HandlerFunc

	q   *queue.Queue
	cb  *breaker.CircuitBreaker
	log *zap.Logger

	shutdown atomic.Bool
}

// New constructs a Loop. cb may be shared across loops in the same process
// if they should trip together; typically each worker process owns one.
func New(worker job.Worker, q *queue.Queue, cb *breaker.CircuitBreaker, log *zap.Logger, steps []QueueStep, dlqKey string, blockTimeout, idleSleep, breakerPause time.Duration, handlers map[job.Priority]HandlerFunc) *Loop {
	return &Loop{
		Worker:       worker,
		Steps:        steps,
		DLQKey:       dlqKey,
		BlockTimeout: blockTimeout,
		IdleSleep:    idleSleep,
		BreakerPause: breakerPause,
		Handlers:     handlers,
		q:            q,
		cb:           cb,
		log:          log,
	}
}

// RequestShutdown sets the process-level shutdown flag the loop checks
// between iterations; in-flight jobs still run to completion.
func (l *Loop) RequestShutdown() {
	l.shutdown.Store(true)
}

// Run drives the loop until ctx is canceled or RequestShutdown is called.
func (l *Loop) Run(ctx context.Context) error {
	keys := make([]string, len(l.Steps))
	priorityOf := make(map[string]job.Priority, len(l.Steps))
	for i, s := range l.Steps {
		keys[i] = s.Key
		priorityOf[s.Key] = s.Priority
	}

	obs.WorkerActive.Inc()
	defer obs.WorkerActive.Dec()

	go l.reportBreakerState(ctx)

	for ctx.Err() == nil && !l.shutdown.Load() {
		if !l.cb.Allow() {
			sleepOrDone(ctx, l.BreakerPause)
			continue
		}

		srcKey, j, err := l.dequeue(ctx, keys)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.log.Error("worker loop store error, retrying", obs.String("worker", string(l.Worker)), obs.Err(err))
			sleepOrDone(ctx, 5*time.Second)
			continue
		}
		if j == nil {
			if l.BlockTimeout <= 0 {
				sleepOrDone(ctx, l.IdleSleep)
			}
			continue
		}

		priority := priorityOf[srcKey]
		handler, ok := l.Handlers[priority]
		if !ok {
			l.log.Error("no handler registered for priority", obs.String("worker", string(l.Worker)), obs.String("priority", string(priority)))
			continue
		}

		obs.JobsConsumed.WithLabelValues(string(l.Worker), string(priority)).Inc()

		start := time.Now()
		herr := handler(ctx, *j)
		obs.JobProcessingDuration.WithLabelValues(string(l.Worker)).Observe(time.Since(start).Seconds())

		prev := l.cb.State()
		l.cb.Record(herr == nil)
		if curr := l.cb.State(); prev != curr && curr == breaker.Open {
			obs.CircuitBreakerTrips.WithLabelValues(string(l.Worker)).Inc()
		}
		if herr != nil {
			l.log.Warn("handler returned error", obs.String("worker", string(l.Worker)), obs.String("priority", string(priority)), obs.Err(herr))
		}
	}
	return nil
}

// dequeue obtains one job using the loop's configured strategy: a single
// blocking multi-key pop (Machinist) or a non-blocking priority scan with
// an idle sleep between full passes (Archivist).
func (l *Loop) dequeue(ctx context.Context, keys []string) (string, *job.Job, error) {
	if l.BlockTimeout > 0 {
		return l.q.BlockingPop(ctx, keys, l.BlockTimeout, l.DLQKey)
	}
	for _, key := range keys {
		j, err := l.q.Pop(ctx, key, l.DLQKey)
		if err != nil {
			return "", nil, err
		}
		if j != nil {
			return key, j, nil
		}
	}
	return "", nil, nil
}

func (l *Loop) reportBreakerState(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			switch l.cb.State() {
			case breaker.Closed:
				obs.CircuitBreakerState.WithLabelValues(string(l.Worker)).Set(0)
			case breaker.HalfOpen:
				obs.CircuitBreakerState.WithLabelValues(string(l.Worker)).Set(1)
			case breaker.Open:
				obs.CircuitBreakerState.WithLabelValues(string(l.Worker)).Set(2)
			}
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
