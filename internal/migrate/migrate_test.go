// Copyright 2025 James Ross
package migrate

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	legacyredis "github.com/go-redis/redis/v8"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/archivault/workers/internal/config"
	"github.com/archivault/workers/internal/job"
	"github.com/archivault/workers/internal/queue"
)

func testMigrateQueues() config.Queues {
	return config.Queues{
		MachinistInstant:  "jobs:machinist:instant",
		MachinistStandard: "jobs:machinist:standard",
		ArchivistInstant:  "jobs:archivist:instant",
		ArchivistStandard: "jobs:archivist:standard",
		ArchivistJobgroup: "jobs:archivist:jobgroup",
		DLQMachinist:      "dlq:machinist",
		DLQArchivist:      "dlq:archivist",
		LegacyInstant:     "legacy:instant",
		LegacyStandard:    "legacy:standard",
		LegacyJobgroup:    "legacy:jobgroup",
	}
}

func newTestMigrator(t *testing.T) (*Migrator, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	legacy := legacyredis.NewClient(&legacyredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = legacy.Close() })
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	queues := testMigrateQueues()
	return &Migrator{
		Legacy: legacy,
		Queue:  queue.New(rdb, zap.NewNop()),
		Queues: queues,
		Log:    zap.NewNop(),
	}, rdb
}

func TestMigrateRoutesLegacyEntriesToNamespacedQueues(t *testing.T) {
	m, rdb := newTestMigrator(t)
	ctx := context.Background()

	machinistJob, err := job.Marshal(job.Job{
		JobType: "machinist", ProcessingType: "instant",
		TenantID: "11111111-1111-4111-8111-111111111111",
		AssetID:  "22222222-2222-4222-8222-222222222222",
		FilePurpose: "viewing", InputExtension: "jpg",
	})
	require.NoError(t, err)
	archivistJob, err := job.Marshal(job.Job{
		JobType: "archivist", ProcessingType: "instant",
		TenantID: "11111111-1111-4111-8111-111111111111",
		AssetID:  "33333333-3333-4333-8333-333333333333",
	})
	require.NoError(t, err)

	require.NoError(t, m.Legacy.LPush(ctx, m.Queues.LegacyInstant, machinistJob, archivistJob).Err())

	stats, err := m.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats.TotalMigrated())
	require.Equal(t, 0, stats.TotalFailed())

	n, err := rdb.LLen(ctx, m.Queues.MachinistInstant).Result()
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	n, err = rdb.LLen(ctx, m.Queues.ArchivistInstant).Result()
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestMigrateRedirectsUnparseableEntriesToDLQ(t *testing.T) {
	m, rdb := newTestMigrator(t)
	ctx := context.Background()
	require.NoError(t, m.Legacy.LPush(ctx, m.Queues.LegacyStandard, "not-json").Err())

	stats, err := m.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, stats.TotalMigrated())
	require.Equal(t, 1, stats.TotalFailed())

	n, err := rdb.LLen(ctx, m.Queues.DLQMachinist).Result()
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestMigrateRedirectsInvalidJobsToWorkerSpecificDLQ(t *testing.T) {
	m, rdb := newTestMigrator(t)
	ctx := context.Background()

	badArchivistJob, err := job.Marshal(job.Job{
		JobType: "archivist", ProcessingType: "instant",
		TenantID: "not-a-uuid", AssetID: "22222222-2222-4222-8222-222222222222",
	})
	require.NoError(t, err)
	require.NoError(t, m.Legacy.LPush(ctx, m.Queues.LegacyInstant, badArchivistJob).Err())

	stats, err := m.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.TotalFailed())

	n, err := rdb.LLen(ctx, m.Queues.DLQArchivist).Result()
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestMigrateIsANoOpWhenLegacyQueuesAreEmpty(t *testing.T) {
	m, _ := newTestMigrator(t)
	stats, err := m.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, stats.TotalMigrated())
	require.Equal(t, 0, stats.TotalFailed())
}
