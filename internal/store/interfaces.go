// Copyright 2025 James Ross
package store

import (
	"context"
	"time"
)

// AssetVersionStore upserts and reads per-asset derivative rows.
type AssetVersionStore interface {
	UpsertAssetVersion(ctx context.Context, v AssetVersion) error
	GetAssetVersion(ctx context.Context, assetID, purpose, variant, typ string) (*AssetVersion, error)
	MarkAssetVersionFailed(ctx context.Context, assetID, purpose, variant, typ, reason string) error
}

// AIDescriptionStore upserts and reads per-asset AI description rows.
type AIDescriptionStore interface {
	UpsertAIDescription(ctx context.Context, d AIDescription) error
	GetAIDescription(ctx context.Context, tenantID, assetID string) (*AIDescription, error)
}

// JobgroupStore persists jobgroup lifecycle rows.
type JobgroupStore interface {
	CreateJobgroup(ctx context.Context, jg Jobgroup) error
	GetJobgroup(ctx context.Context, id string) (*Jobgroup, error)
	ListJobgroupsByStatus(ctx context.Context, statuses []string) ([]Jobgroup, error)
	// UpdateJobgroupStatus is a no-op returning nil if the jobgroup is
	// already in a terminal state, enforcing spec.md §3's monotonicity
	// invariant at the store layer.
	UpdateJobgroupStatus(ctx context.Context, id, status string, outputFileID string, at *time.Time) error
	CancelJobgroup(ctx context.Context, id string) error
}

// JobgroupResultStore upserts per-asset jobgroup results, idempotent on
// (jobgroup_id, asset_id).
type JobgroupResultStore interface {
	UpsertJobgroupResult(ctx context.Context, r JobgroupResult) error
	CountJobgroupResults(ctx context.Context, jobgroupID string) (int, error)
	ExistsJobgroupResult(ctx context.Context, jobgroupID, assetID string) (bool, error)
}
