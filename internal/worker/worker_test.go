// Copyright 2025 James Ross
package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/archivault/workers/internal/breaker"
	"github.com/archivault/workers/internal/job"
	"github.com/archivault/workers/internal/queue"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLoop(t *testing.T, steps []QueueStep, blockTimeout, idleSleep time.Duration, handlers map[job.Priority]HandlerFunc) (*Loop, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	log := zap.NewNop()
	q := queue.New(rdb, log)
	cb := breaker.New(time.Second, 10*time.Millisecond, 0.5, 1)

	l := New(job.Machinist, q, cb, log, steps, "dlq:machinist", blockTimeout, idleSleep, time.Millisecond, handlers)
	return l, rdb
}

func TestLoopBlockingModeDispatchesByPriority(t *testing.T) {
	steps := []QueueStep{
		{Key: "jobs:machinist:instant", Priority: job.Instant},
		{Key: "jobs:machinist:standard", Priority: job.Standard},
	}
	seen := make(chan job.Priority, 1)
	handlers := map[job.Priority]HandlerFunc{
		job.Instant:  func(ctx context.Context, j job.Job) error { seen <- job.Instant; return nil },
		job.Standard: func(ctx context.Context, j job.Job) error { seen <- job.Standard; return nil },
	}
	l, rdb := newTestLoop(t, steps, 200*time.Millisecond, 0, handlers)

	j := job.Job{JobType: "machinist", TenantID: "t1", AssetID: "a1"}
	payload, err := job.Marshal(j)
	require.NoError(t, err)
	require.NoError(t, rdb.LPush(context.Background(), "jobs:machinist:instant", payload).Err())

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() { defer wg.Done(); _ = l.Run(ctx) }()

	select {
	case p := <-seen:
		require.Equal(t, job.Instant, p)
	case <-time.After(2 * time.Second):
		t.Fatal("handler was never invoked")
	}
	cancel()
	wg.Wait()
}

func TestLoopScanModeHonorsStrictPriorityAndIdleSleep(t *testing.T) {
	steps := []QueueStep{
		{Key: "jobs:archivist:instant", Priority: job.Instant},
		{Key: "jobs:archivist:standard", Priority: job.Standard},
		{Key: "jobs:archivist:jobgroup", Priority: job.Jobgroup},
	}
	var mu sync.Mutex
	var order []job.Priority
	handlers := map[job.Priority]HandlerFunc{
		job.Instant:  func(ctx context.Context, j job.Job) error { mu.Lock(); order = append(order, job.Instant); mu.Unlock(); return nil },
		job.Standard: func(ctx context.Context, j job.Job) error { mu.Lock(); order = append(order, job.Standard); mu.Unlock(); return nil },
		job.Jobgroup: func(ctx context.Context, j job.Job) error { mu.Lock(); order = append(order, job.Jobgroup); mu.Unlock(); return nil },
	}
	l, rdb := newTestLoop(t, steps, 0, 5*time.Millisecond, handlers)

	j := job.Job{JobType: "archivist", TenantID: "t1", AssetID: "a1"}
	payload, err := job.Marshal(j)
	require.NoError(t, err)
	require.NoError(t, rdb.LPush(context.Background(), "jobs:archivist:standard", payload).Err())
	require.NoError(t, rdb.LPush(context.Background(), "jobs:archivist:instant", payload).Err())

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() { defer wg.Done(); _ = l.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []job.Priority{job.Instant, job.Standard}, order)
}

func TestLoopParseFailureRedirectsToDLQAndContinues(t *testing.T) {
	steps := []QueueStep{{Key: "jobs:machinist:instant", Priority: job.Instant}}
	called := false
	handlers := map[job.Priority]HandlerFunc{
		job.Instant: func(ctx context.Context, j job.Job) error { called = true; return nil },
	}
	l, rdb := newTestLoop(t, steps, 0, 5*time.Millisecond, handlers)

	require.NoError(t, rdb.LPush(context.Background(), "jobs:machinist:instant", "not-json").Err())

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() { defer wg.Done(); _ = l.Run(ctx) }()

	require.Eventually(t, func() bool {
		n, err := rdb.LLen(context.Background(), "dlq:machinist").Result()
		return err == nil && n == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	wg.Wait()
	require.False(t, called, "handler must not be invoked for an unparseable payload")
}

func TestLoopRequestShutdownStopsBetweenIterations(t *testing.T) {
	steps := []QueueStep{{Key: "jobs:machinist:instant", Priority: job.Instant}}
	handlers := map[job.Priority]HandlerFunc{
		job.Instant: func(ctx context.Context, j job.Job) error { return nil },
	}
	l, _ := newTestLoop(t, steps, 0, 5*time.Millisecond, handlers)

	done := make(chan struct{})
	go func() { _ = l.Run(context.Background()); close(done) }()

	time.Sleep(20 * time.Millisecond)
	l.RequestShutdown()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after RequestShutdown")
	}
}
