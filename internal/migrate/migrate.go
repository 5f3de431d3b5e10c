// Copyright 2025 James Ross
// Package migrate is the one-shot utility that drains the legacy,
// pre-namespacing shared queues and re-routes each entry onto the
// namespaced per-worker/per-priority queue layer.
package migrate

import (
	"context"
	"errors"

	legacyredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/archivault/workers/internal/config"
	"github.com/archivault/workers/internal/job"
	"github.com/archivault/workers/internal/queue"
	"github.com/archivault/workers/internal/router"
)

// KeyStats reports the outcome of draining a single legacy key.
type KeyStats struct {
	LegacyKey string
	Migrated  int
	Failed    int
}

// Stats reports the full-run outcome across every legacy key drained.
type Stats struct {
	Keys []KeyStats
}

func (s Stats) TotalMigrated() int {
	total := 0
	for _, k := range s.Keys {
		total += k.Migrated
	}
	return total
}

func (s Stats) TotalFailed() int {
	total := 0
	for _, k := range s.Keys {
		total += k.Failed
	}
	return total
}

// Migrator drains legacy shared queues via a go-redis v8 client and
// re-pushes each decodable entry onto the namespaced v9 queue layer.
type Migrator struct {
	Legacy *legacyredis.Client
	Queue  *queue.Queue
	Queues config.Queues
	Log    *zap.Logger
}

// legacyKeys returns the shared keys recognized only by this utility.
func (m *Migrator) legacyKeys() []string {
	keys := []string{m.Queues.LegacyInstant, m.Queues.LegacyStandard, m.Queues.LegacyJobgroup}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}

// Run drains every configured legacy key to empty, one entry at a time.
func (m *Migrator) Run(ctx context.Context) (Stats, error) {
	var stats Stats
	for _, legacyKey := range m.legacyKeys() {
		ks := KeyStats{LegacyKey: legacyKey}
		for {
			raw, err := m.Legacy.RPop(ctx, legacyKey).Result()
			if errors.Is(err, legacyredis.Nil) {
				break
			}
			if err != nil {
				return stats, err
			}
			if m.migrateOne(ctx, legacyKey, raw) {
				ks.Migrated++
			} else {
				ks.Failed++
			}
		}
		m.Log.Info("migrate: drained legacy queue",
			zap.String("legacy_key", legacyKey),
			zap.Int("migrated", ks.Migrated),
			zap.Int("failed", ks.Failed))
		stats.Keys = append(stats.Keys, ks)
	}
	return stats, nil
}

// migrateOne decodes raw as a Job, validates and routes it, and pushes it
// onto the resolved namespaced queue. Undecodable or unroutable entries are
// redirected to the best-guess DLQ (falling back to the machinist DLQ) and
// reported as failed; they are never silently dropped.
func (m *Migrator) migrateOne(ctx context.Context, legacyKey, raw string) bool {
	j, err := job.Unmarshal(raw)
	if err != nil {
		m.toDLQ(ctx, nil, "legacy_unparseable_payload")
		return false
	}
	if j.JobType == "" {
		j.JobType = string(job.Machinist)
	}
	j.ProcessingType = job.NormalizeProcessingType(j.ProcessingType)

	if err := job.Validate(j); err != nil {
		m.Log.Warn("migrate: legacy entry failed validation", zap.String("legacy_key", legacyKey), zap.Error(err))
		m.toDLQ(ctx, &j, "legacy_validation_failed: "+err.Error())
		return false
	}

	queueKey, err := router.ResolveQueue(m.Queues, j)
	if err != nil {
		m.Log.Warn("migrate: legacy entry failed routing", zap.String("legacy_key", legacyKey), zap.Error(err))
		m.toDLQ(ctx, &j, "legacy_routing_failed: "+err.Error())
		return false
	}

	if err := m.Queue.Push(ctx, queueKey, j); err != nil {
		m.Log.Error("migrate: push failed", zap.String("queue", queueKey), zap.Error(err))
		return false
	}
	return true
}

func (m *Migrator) toDLQ(ctx context.Context, j *job.Job, reason string) {
	dlqKey := m.Queues.DLQMachinist
	if j != nil {
		if w, err := j.DeriveWorker(); err == nil {
			if key, err := router.DLQKey(m.Queues, w); err == nil {
				dlqKey = key
			}
		}
	}
	entry := queue.NewDLQEntry("legacy-migration", reason, j)
	if err := m.Queue.PushRawDLQ(ctx, dlqKey, entry); err != nil {
		m.Log.Error("migrate: failed to redirect undecodable legacy entry to dlq", zap.Error(err))
	}
}
