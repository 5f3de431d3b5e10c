// Copyright 2025 James Ross
package jobgroup

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/archivault/workers/internal/config"
	"github.com/archivault/workers/internal/lock"
	"github.com/archivault/workers/internal/modelapi"
	"github.com/archivault/workers/internal/store"
	"github.com/archivault/workers/internal/tenant"
	"github.com/redis/go-redis/v9"
)

const pollerLockKey = "jobgroup_poller_lock"

// nonTerminalStatuses is the set of jobgroup rows a poll cycle inspects.
var nonTerminalStatuses = []string{store.JobgroupCreated, store.JobgroupInProgress, store.JobgroupValidating}

// Poller implements spec.md §4.8's polling contract: a single PollOnce
// call, run on a fixed interval by Scheduler (cmd/archivist) and, when a
// Submitter has a Poller set, once right after each submission.
type Poller struct {
	Rdb       *redis.Client
	Model     *modelapi.Client
	Store     store.JobgroupStore
	Processor *ResultProcessor
	Throttle  *tenant.Throttle
	Cfg       config.JobgroupConfig
	Log       *zap.Logger
}

// PollOnce runs one polling cycle. Per spec.md §4.8: a failure to
// acquire the distributed lock store-side is fail-open (proceed without
// the lock and log); a lock already held by someone else is a no-op.
func (p *Poller) PollOnce(ctx context.Context) error {
	l := lock.New(p.Rdb, pollerLockKey, p.Cfg.PollLockTTL)
	acquired, err := l.TryAcquire(ctx)
	if err != nil {
		p.Log.Warn("jobgroup poller: lock store error, proceeding without lock (fail-open)", zap.Error(err))
	} else if !acquired {
		return nil
	} else {
		defer func() {
			if err := l.Release(ctx); err != nil {
				p.Log.Warn("jobgroup poller: lock release failed", zap.Error(err))
			}
		}()
	}

	if p.Cfg.MockOutputDir != "" {
		return p.pollMockDirectory(ctx)
	}
	return p.pollRemote(ctx)
}

// pollMockDirectory reads pre-placed output files from disk instead of
// querying the remote batch endpoint, for deterministic integration
// tests and local development against no live model API.
func (p *Poller) pollMockDirectory(ctx context.Context) error {
	jgs, err := p.Store.ListJobgroupsByStatus(ctx, nonTerminalStatuses)
	if err != nil {
		return err
	}
	for _, jg := range jgs {
		path := filepath.Join(p.Cfg.MockOutputDir, jg.ID+".jsonl")
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		p.Processor.ProcessOutputBytes(ctx, jg, data)
	}
	return nil
}

func (p *Poller) pollRemote(ctx context.Context) error {
	jgs, err := p.Store.ListJobgroupsByStatus(ctx, nonTerminalStatuses)
	if err != nil {
		return err
	}

	for _, jg := range jgs {
		batch, err := p.Model.GetBatch(ctx, jg.ExternalJobgroupID)
		if err != nil {
			p.Log.Warn("jobgroup poller: status fetch failed", zap.String("jobgroup_id", jg.ID), zap.Error(err))
			continue
		}

		switch batch.Status {
		case "completed":
			// Persist the output file id only; the row stays non-terminal
			// until ResultProcessor.finish() decides completed vs. failed
			// from what processing actually found, same as the mock path.
			if err := p.Store.UpdateJobgroupStatus(ctx, jg.ID, store.JobgroupInProgress, batch.OutputFileID, nil); err != nil {
				p.Log.Warn("jobgroup poller: output file id persist failed", zap.String("jobgroup_id", jg.ID), zap.Error(err))
				continue
			}
			jg.OutputFileID = batch.OutputFileID
			p.Processor.ProcessCompletedJobgroup(ctx, jg)
		case "failed", "expired":
			now := time.Now().UTC()
			if err := p.Store.UpdateJobgroupStatus(ctx, jg.ID, store.JobgroupFailed, "", &now); err != nil {
				p.Log.Warn("jobgroup poller: failure transition failed", zap.String("jobgroup_id", jg.ID), zap.Error(err))
				continue
			}
			if p.Throttle != nil {
				_ = p.Throttle.Release(ctx, jg.TenantID, jg.ID)
			}
		default:
			if jg.Status != store.JobgroupInProgress {
				if err := p.Store.UpdateJobgroupStatus(ctx, jg.ID, store.JobgroupInProgress, "", nil); err != nil {
					p.Log.Warn("jobgroup poller: in_progress transition failed", zap.String("jobgroup_id", jg.ID), zap.Error(err))
				}
			}
		}
	}
	return nil
}
