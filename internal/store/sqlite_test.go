// Copyright 2025 James Ross
package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertAssetVersionInsertsThenUpdates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v := AssetVersion{
		AssetID: "asset-1", Purpose: "viewing", Variant: "full", Type: "jpeg",
		BucketLabel: "derivatives", Key: "asset-1/viewing/full.jpg",
		Status: "pending", FileSize: 1024, Width: 800, Height: 600,
		MimeType: "image/jpeg", Checksum: "abc123", ChecksumAlgorithm: "sha256",
	}
	require.NoError(t, s.UpsertAssetVersion(ctx, v))

	got, err := s.GetAssetVersion(ctx, "asset-1", "viewing", "full", "jpeg")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "pending", got.Status)
	require.Equal(t, int64(1024), got.FileSize)

	v.Status = "success"
	v.FileSize = 2048
	require.NoError(t, s.UpsertAssetVersion(ctx, v))

	got, err = s.GetAssetVersion(ctx, "asset-1", "viewing", "full", "jpeg")
	require.NoError(t, err)
	require.Equal(t, "success", got.Status)
	require.Equal(t, int64(2048), got.FileSize)
}

func TestGetAssetVersionMissingReturnsNilNil(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetAssetVersion(context.Background(), "nope", "viewing", "full", "jpeg")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestMarkAssetVersionFailedSetsReason(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	v := AssetVersion{AssetID: "asset-2", Purpose: "ai", Variant: "default", Type: "jpeg", Status: "processing"}
	require.NoError(t, s.UpsertAssetVersion(ctx, v))

	require.NoError(t, s.MarkAssetVersionFailed(ctx, "asset-2", "ai", "default", "jpeg", "unsupported codec"))

	got, err := s.GetAssetVersion(ctx, "asset-2", "ai", "default", "jpeg")
	require.NoError(t, err)
	require.Equal(t, "failed", got.Status)
	require.Equal(t, "unsupported codec", got.FailedReason)
}

func TestUpsertAIDescriptionRoundTripsKeywords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	d := AIDescription{
		TenantID: "tenant-a", AssetID: "asset-1", Model: "vision-model",
		Content: []byte(`{"summary":"a red barn"}`), Keywords: []string{"barn", "rural", "red"},
	}
	require.NoError(t, s.UpsertAIDescription(ctx, d))

	got, err := s.GetAIDescription(ctx, "tenant-a", "asset-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "vision-model", got.Model)
	require.Equal(t, []string{"barn", "rural", "red"}, got.Keywords)
}

func TestGetAIDescriptionMissingReturnsNilNil(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetAIDescription(context.Background(), "tenant-a", "nope")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestCreateAndGetJobgroupDefaultsStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateJobgroup(ctx, Jobgroup{ID: "jg-1", TenantID: "tenant-a", InputFileID: "file-1", RequestCount: 10}))

	got, err := s.GetJobgroup(ctx, "jg-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, JobgroupCreated, got.Status)
	require.Equal(t, 10, got.RequestCount)
	require.Nil(t, got.CompletedAt)
}

func TestGetJobgroupMissingReturnsNilNil(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetJobgroup(context.Background(), "nope")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestUpdateJobgroupStatusSetsCompletedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateJobgroup(ctx, Jobgroup{ID: "jg-2", TenantID: "tenant-a"}))

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.UpdateJobgroupStatus(ctx, "jg-2", JobgroupCompleted, "output-file-1", &now))

	got, err := s.GetJobgroup(ctx, "jg-2")
	require.NoError(t, err)
	require.Equal(t, JobgroupCompleted, got.Status)
	require.Equal(t, "output-file-1", got.OutputFileID)
	require.NotNil(t, got.CompletedAt)
}

func TestUpdateJobgroupStatusIsMonotoneOnceTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateJobgroup(ctx, Jobgroup{ID: "jg-3", TenantID: "tenant-a"}))

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.UpdateJobgroupStatus(ctx, "jg-3", JobgroupCompleted, "output-1", &now))

	// A later attempt to move the jobgroup backward to in_progress must
	// no-op rather than regress the sticky terminal status.
	require.NoError(t, s.UpdateJobgroupStatus(ctx, "jg-3", JobgroupInProgress, "", &now))

	got, err := s.GetJobgroup(ctx, "jg-3")
	require.NoError(t, err)
	require.Equal(t, JobgroupCompleted, got.Status)
	require.Equal(t, "output-1", got.OutputFileID)
}

func TestCancelJobgroupSetsFailedAtAndCancelledStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateJobgroup(ctx, Jobgroup{ID: "jg-4", TenantID: "tenant-a"}))

	require.NoError(t, s.CancelJobgroup(ctx, "jg-4"))

	got, err := s.GetJobgroup(ctx, "jg-4")
	require.NoError(t, err)
	require.Equal(t, JobgroupCancelled, got.Status)
	require.NotNil(t, got.FailedAt)
}

func TestListJobgroupsByStatusFiltersToRequestedSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateJobgroup(ctx, Jobgroup{ID: "jg-5", TenantID: "tenant-a"}))
	require.NoError(t, s.CreateJobgroup(ctx, Jobgroup{ID: "jg-6", TenantID: "tenant-a"}))
	now := time.Now().UTC()
	require.NoError(t, s.UpdateJobgroupStatus(ctx, "jg-6", JobgroupCompleted, "", &now))

	created, err := s.ListJobgroupsByStatus(ctx, []string{JobgroupCreated})
	require.NoError(t, err)
	require.Len(t, created, 1)
	require.Equal(t, "jg-5", created[0].ID)

	done, err := s.ListJobgroupsByStatus(ctx, []string{JobgroupCompleted, JobgroupFailed})
	require.NoError(t, err)
	require.Len(t, done, 1)
	require.Equal(t, "jg-6", done[0].ID)
}

func TestJobgroupResultUpsertIsIdempotentAndCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := JobgroupResult{JobgroupID: "jg-7", AssetID: "asset-1", Status: "completed", CustomID: "req-1"}
	require.NoError(t, s.UpsertJobgroupResult(ctx, r))
	require.NoError(t, s.UpsertJobgroupResult(ctx, r)) // idempotent re-delivery

	n, err := s.CountJobgroupResults(ctx, "jg-7")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	exists, err := s.ExistsJobgroupResult(ctx, "jg-7", "asset-1")
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = s.ExistsJobgroupResult(ctx, "jg-7", "asset-2")
	require.NoError(t, err)
	require.False(t, exists)
}
