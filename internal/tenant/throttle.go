// Copyright 2025 James Ross
// Package tenant implements the per-tenant jobgroup submission throttle:
// at most one active (non-terminal) jobgroup, and at most N created within
// a rolling 24-hour window.
package tenant

import (
	"context"
	"fmt"
	"time"

	"github.com/archivault/workers/internal/apperrors"
	"github.com/redis/go-redis/v9"
)

// reserveScript atomically checks both limits and, if neither trips,
// records the reservation — avoiding a check-then-act race between two
// concurrent submissions for the same tenant.
var reserveScript = redis.NewScript(`
local active_key = KEYS[1]
local recent_key = KEYS[2]
local jobgroup_id = ARGV[1]
local now = tonumber(ARGV[2])
local window_start = tonumber(ARGV[3])
local max_active = tonumber(ARGV[4])
local max_24h = tonumber(ARGV[5])
local recent_ttl = tonumber(ARGV[6])

redis.call("zremrangebyscore", recent_key, "-inf", window_start)

local active_count = redis.call("scard", active_key)
if active_count >= max_active then
	return "active_exists"
end

local recent_count = redis.call("zcard", recent_key)
if recent_count >= max_24h then
	return "rate_limited"
end

redis.call("sadd", active_key, jobgroup_id)
redis.call("zadd", recent_key, now, jobgroup_id)
redis.call("expire", recent_key, recent_ttl)
return "ok"
`)

// Throttle enforces spec.md §4.8's jobgroup submission preconditions.
type Throttle struct {
	rdb       *redis.Client
	maxActive int
	max24h    int
}

// New constructs a Throttle. maxActive/max24h default to spec's 1 and 5
// when non-positive.
func New(rdb *redis.Client, maxActive, max24h int) *Throttle {
	if maxActive <= 0 {
		maxActive = 1
	}
	if max24h <= 0 {
		max24h = 5
	}
	return &Throttle{rdb: rdb, maxActive: maxActive, max24h: max24h}
}

func activeKey(tenantID string) string { return fmt.Sprintf("tenant:%s:jobgroups:active", tenantID) }
func recentKey(tenantID string) string { return fmt.Sprintf("tenant:%s:jobgroups:recent", tenantID) }

// Reserve atomically checks the active-jobgroup and 24h-rolling limits for
// tenantID and, if both pass, reserves jobgroupID against them. Call
// Release (on terminal transition) to free the active slot.
func (t *Throttle) Reserve(ctx context.Context, tenantID, jobgroupID string, now time.Time) error {
	windowStart := now.Add(-24 * time.Hour).Unix()
	res, err := reserveScript.Run(ctx, t.rdb,
		[]string{activeKey(tenantID), recentKey(tenantID)},
		jobgroupID, now.Unix(), windowStart, t.maxActive, t.max24h, int((25 * time.Hour).Seconds()),
	).Text()
	if err != nil {
		return apperrors.NewStore("jobgroup_throttle_reserve", true, err)
	}
	switch res {
	case "ok":
		return nil
	case "active_exists":
		return apperrors.NewResource("JOBGROUP_ACTIVE_EXISTS", "tenant already has a non-terminal jobgroup")
	case "rate_limited":
		return apperrors.NewResource("JOBGROUP_RATE_LIMITED", "tenant has reached the 24-hour jobgroup submission limit")
	default:
		return apperrors.NewStore("jobgroup_throttle_reserve", false, fmt.Errorf("unexpected script result %q", res))
	}
}

// Release frees the active-jobgroup slot for tenantID when jobgroupID
// reaches a terminal state (completed, failed, cancelled). The 24h rolling
// entry is left in place — it counts toward the submission-rate limit
// regardless of terminal state.
func (t *Throttle) Release(ctx context.Context, tenantID, jobgroupID string) error {
	if err := t.rdb.SRem(ctx, activeKey(tenantID), jobgroupID).Err(); err != nil {
		return apperrors.NewStore("jobgroup_throttle_release", true, err)
	}
	return nil
}
