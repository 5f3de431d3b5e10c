// Copyright 2025 James Ross
package jobgroup

import (
	"context"

	"go.uber.org/zap"

	"github.com/archivault/workers/internal/modelapi"
	"github.com/archivault/workers/internal/store"
	"github.com/archivault/workers/internal/tenant"
	"github.com/archivault/workers/internal/webhook"
)

// Canceller implements the operator-triggered cancellation path exposed
// through jobgroupctl's cancel-jobgroup command: request cancellation at the
// remote batch endpoint, then mark the row cancelled locally regardless
// of whether the remote side has already moved past a cancellable state.
type Canceller struct {
	Model    *modelapi.Client
	Store    store.JobgroupStore
	Throttle *tenant.Throttle
	Webhook  *webhook.Notifier
	Log      *zap.Logger
}

// Cancel looks up jg by ID, requests cancellation remotely, and marks it
// cancelled locally. A remote cancel failure is logged but does not stop
// the local transition: an operator asking to cancel a jobgroup wants it
// off their active-slot regardless of whether the provider already
// finished it.
func (c *Canceller) Cancel(ctx context.Context, jobgroupID string) error {
	jg, err := c.Store.GetJobgroup(ctx, jobgroupID)
	if err != nil {
		return err
	}
	if jg == nil {
		return nil
	}
	if store.IsTerminalJobgroupStatus(jg.Status) {
		return nil
	}

	if jg.ExternalJobgroupID != "" {
		if _, err := c.Model.CancelBatch(ctx, jg.ExternalJobgroupID); err != nil {
			c.Log.Warn("jobgroup cancel: remote cancel failed, proceeding with local transition",
				zap.String("jobgroup_id", jobgroupID), zap.Error(err))
		}
	}

	if err := c.Store.CancelJobgroup(ctx, jobgroupID); err != nil {
		return err
	}

	if c.Throttle != nil {
		if err := c.Throttle.Release(ctx, jg.TenantID, jg.ID); err != nil {
			c.Log.Warn("jobgroup cancel: throttle release failed", zap.String("jobgroup_id", jobgroupID), zap.Error(err))
		}
	}

	if c.Webhook != nil {
		if err := c.Webhook.NotifyJobgroup(ctx, webhook.JobgroupEvent{
			Event: "jobgroup.cancelled", JobgroupID: jg.ID, TenantID: jg.TenantID, BatchID: jg.BatchID,
			Status: store.JobgroupCancelled,
		}); err != nil {
			c.Log.Warn("jobgroup cancel: webhook delivery failed", zap.String("jobgroup_id", jobgroupID), zap.Error(err))
		}
	}
	return nil
}
