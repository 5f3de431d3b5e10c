// Copyright 2025 James Ross
// Package queue implements the namespaced, priority-routed job queue over
// an external list store (Redis-compatible).
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/archivault/workers/internal/apperrors"
	"github.com/archivault/workers/internal/job"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DLQEntry is the redacted record written on parse failure or pipeline
// failure: identifiers and a reason only, never buffers or image data.
type DLQEntry struct {
	ID        string `json:"id"`
	JobType   string `json:"job_type,omitempty"`
	Reason    string `json:"reason"`
	Timestamp string `json:"timestamp"`
	TenantID  string `json:"tenant_id,omitempty"`
	AssetID   string `json:"asset_id,omitempty"`
	BatchID   string `json:"batch_id,omitempty"`
}

func NewDLQEntry(jobType, reason string, j *job.Job) DLQEntry {
	e := DLQEntry{
		ID:        uuid.NewString(),
		JobType:   jobType,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if j != nil {
		e.TenantID = j.TenantID
		e.AssetID = j.AssetID
		e.BatchID = j.BatchID
	}
	return e
}

// Queue is the thin wrapper over the list-store client implementing the
// push/pop/blockingPop/length/range/requeue primitives of spec.md §4.1.
type Queue struct {
	rdb *redis.Client
	log *zap.Logger
}

func New(rdb *redis.Client, log *zap.Logger) *Queue {
	return &Queue{rdb: rdb, log: log}
}

// Push serializes j and left-pushes onto key. FIFO order is established by
// pairing Push with a right-pop consumer.
func (q *Queue) Push(ctx context.Context, key string, j job.Job) error {
	payload, err := job.Marshal(j)
	if err != nil {
		return err
	}
	if err := q.rdb.LPush(ctx, key, payload).Err(); err != nil {
		return apperrors.NewStore("push", true, err)
	}
	return nil
}

// Requeue is identical to Push but logged at warn level, per spec.md §4.1.
func (q *Queue) Requeue(ctx context.Context, key string, j job.Job) error {
	q.log.Warn("requeueing job", zap.String("queue", key), zap.String("asset_id", j.AssetID))
	return q.Push(ctx, key, j)
}

// Pop right-pops one element from key. Parse failures are redirected to
// dlqKey and Pop returns (nil, nil) for that attempt — the raw element is
// never surfaced to the caller as a retryable job.
func (q *Queue) Pop(ctx context.Context, key, dlqKey string) (*job.Job, error) {
	raw, err := q.rdb.RPop(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewStore("pop", true, err)
	}
	j, perr := job.Unmarshal(raw)
	if perr != nil {
		q.redirectToDLQ(ctx, dlqKey, "unparseable_payload")
		return nil, nil
	}
	return &j, nil
}

// BlockingPop blocks for up to timeout across keys, returning from the
// first non-empty queue in argument order (strict priority). go-redis's
// BRPOP already honors key order across multiple keys, so this maps
// directly onto it.
func (q *Queue) BlockingPop(ctx context.Context, keys []string, timeout time.Duration, dlqKey string) (string, *job.Job, error) {
	res, err := q.rdb.BRPop(ctx, timeout, keys...).Result()
	if err == redis.Nil {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, apperrors.NewStore("blocking_pop", true, err)
	}
	srcQueue, raw := res[0], res[1]
	j, perr := job.Unmarshal(raw)
	if perr != nil {
		q.redirectToDLQ(ctx, dlqKey, "unparseable_payload")
		return srcQueue, nil, nil
	}
	return srcQueue, &j, nil
}

// Length reports the current size of key.
func (q *Queue) Length(ctx context.Context, key string) (int64, error) {
	n, err := q.rdb.LLen(ctx, key).Result()
	if err != nil {
		return 0, apperrors.NewStore("length", true, err)
	}
	return n, nil
}

// Range returns up to limit raw elements starting at offset, for control-
// plane inspection endpoints.
func (q *Queue) Range(ctx context.Context, key string, offset, limit int64) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	stop := offset + limit - 1
	vals, err := q.rdb.LRange(ctx, key, offset, stop).Result()
	if err != nil {
		return nil, apperrors.NewStore("range", true, err)
	}
	return vals, nil
}

// PushRawDLQ pushes a pre-built DLQEntry onto the worker's DLQ list.
func (q *Queue) PushRawDLQ(ctx context.Context, dlqKey string, entry DLQEntry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return apperrors.NewSerialization(err)
	}
	if err := q.rdb.LPush(ctx, dlqKey, string(b)).Err(); err != nil {
		return apperrors.NewStore("push_dlq", true, err)
	}
	return nil
}

// PopRaw right-pops one raw element from key without attempting to decode
// it as a Job, for control-plane requeue/purge of DLQ entries.
func (q *Queue) PopRaw(ctx context.Context, key string) (string, bool, error) {
	raw, err := q.rdb.RPop(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.NewStore("pop_raw", true, err)
	}
	return raw, true, nil
}

// PushRaw left-pushes a pre-serialized raw element onto key.
func (q *Queue) PushRaw(ctx context.Context, key, raw string) error {
	if err := q.rdb.LPush(ctx, key, raw).Err(); err != nil {
		return apperrors.NewStore("push_raw", true, err)
	}
	return nil
}

func (q *Queue) redirectToDLQ(ctx context.Context, dlqKey, reason string) {
	entry := NewDLQEntry("", reason, nil)
	if err := q.PushRawDLQ(ctx, dlqKey, entry); err != nil {
		q.log.Error("failed to redirect unparseable payload to DLQ", zap.String("dlq", dlqKey), zap.Error(err))
	}
}
