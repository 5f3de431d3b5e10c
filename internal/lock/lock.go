// Copyright 2025 James Ross
// Package lock implements the distributed lock primitive used by the
// jobgroup poller: atomic set-if-absent with a TTL, and a compare-and-delete
// release that only removes a lock this holder still owns.
package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript only deletes the key if its value still matches the token
// we set, so a holder never releases a lock it no longer owns (e.g. after
// its own TTL already expired and someone else acquired it).
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// refreshScript extends the TTL only if this holder still owns the lock.
var refreshScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`)

// Lock is a handle to one acquisition attempt against a named key.
type Lock struct {
	rdb   *redis.Client
	key   string
	token string
	ttl   time.Duration
}

// New returns an unacquired handle for key. TryAcquire must be called
// before Refresh/Release do anything meaningful.
func New(rdb *redis.Client, key string, ttl time.Duration) *Lock {
	return &Lock{rdb: rdb, key: key, ttl: ttl, token: uuid.NewString()}
}

// TryAcquire attempts SET key token NX EX=ttl. Returns (true, nil) on
// success, (false, nil) if already held by someone else, and (false, err)
// only on a genuine store error — callers implementing spec's fail-open
// poller behavior should treat a non-nil err as "proceed without the lock".
func (l *Lock) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Refresh extends the lock's TTL if this handle still holds it. Used
// between result-processing chunks on a long poll cycle.
func (l *Lock) Refresh(ctx context.Context, ttl time.Duration) error {
	return refreshScript.Run(ctx, l.rdb, []string{l.key}, l.token, ttl.Milliseconds()).Err()
}

// Release deletes the lock only if this handle still holds it.
func (l *Lock) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err()
}
