// Copyright 2025 James Ross
package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestTryAcquireExclusive(t *testing.T) {
	rdb := newTestClient(t)
	ctx := context.Background()

	l1 := New(rdb, "jobgroup_poller_lock", time.Minute)
	l2 := New(rdb, "jobgroup_poller_lock", time.Minute)

	ok1, err := l1.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok1)

	ok2, err := l2.TryAcquire(ctx)
	require.NoError(t, err)
	require.False(t, ok2, "a second holder must not acquire a live lock")
}

func TestReleaseOnlyRemovesOwnLock(t *testing.T) {
	rdb := newTestClient(t)
	ctx := context.Background()

	l1 := New(rdb, "jobgroup_poller_lock", time.Minute)
	ok, err := l1.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// Simulate a stale handle from a previous, already-expired holder
	// trying to release a lock someone else now owns.
	stale := &Lock{rdb: rdb, key: "jobgroup_poller_lock", ttl: time.Minute, token: "not-the-real-token"}
	require.NoError(t, stale.Release(ctx))

	n, err := rdb.Exists(ctx, "jobgroup_poller_lock").Result()
	require.NoError(t, err)
	require.EqualValues(t, 1, n, "stale release must not remove a lock it doesn't own")

	require.NoError(t, l1.Release(ctx))
	n, err = rdb.Exists(ctx, "jobgroup_poller_lock").Result()
	require.NoError(t, err)
	require.EqualValues(t, 0, n)
}

func TestRefreshExtendsTTLForOwner(t *testing.T) {
	rdb := newTestClient(t)
	ctx := context.Background()

	l := New(rdb, "jobgroup_poller_lock", 50*time.Millisecond)
	ok, err := l.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, l.Refresh(ctx, 5*time.Minute))

	ttl, err := rdb.TTL(ctx, "jobgroup_poller_lock").Result()
	require.NoError(t, err)
	require.Greater(t, ttl, time.Second)
}

func TestAcquireAfterExpirySucceeds(t *testing.T) {
	rdb := newTestClient(t)
	ctx := context.Background()

	l1 := New(rdb, "jobgroup_poller_lock", 10*time.Millisecond)
	ok, err := l1.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(30 * time.Millisecond)

	l2 := New(rdb, "jobgroup_poller_lock", time.Minute)
	ok2, err := l2.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok2, "a new holder should acquire once the previous lock expired")
}
