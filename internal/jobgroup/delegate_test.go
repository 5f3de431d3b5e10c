// Copyright 2025 James Ross
package jobgroup

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/archivault/workers/internal/config"
	"github.com/archivault/workers/internal/job"
	"github.com/archivault/workers/internal/modelapi"
	"github.com/archivault/workers/internal/store"
	"github.com/archivault/workers/internal/tenant"
	"github.com/archivault/workers/internal/webhook"
)

func TestWorkerDelegateSubmitsSingleJobAsDegenerateJobgroup(t *testing.T) {
	server := batchAPIServer(t, "validating", "")
	defer server.Close()

	tenantID, batchID, assetID := uuid.NewString(), uuid.NewString(), uuid.NewString()
	fb := &fakeJobgroupBlob{data: map[string][]byte{
		testViewingKey(tenantID, batchID, assetID): solidJPEG(t, 200, 200),
	}}
	st, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	submitter := &Submitter{
		Blob:         fb,
		Model:        modelapi.New(server.URL, "test-key", 5*time.Second, 1, zap.NewNop()),
		Store:        st,
		Throttle:     tenant.New(testRedis(t), 1, 5),
		Audit:        mustAuditLogger(t),
		Webhook:      webhook.New(config.Webhook{}, zap.NewNop()),
		ArchivistCfg: testArchivistCfgForJobgroup(),
		Cfg:          testJobgroupConfig(),
		Log:          zap.NewNop(),
	}
	delegate := &WorkerDelegate{Submitter: submitter}

	j := job.Job{TenantID: tenantID, AssetID: assetID, BatchID: batchID, ProcessingType: "jobgroup"}
	require.NoError(t, delegate.Submit(context.Background(), j))

	jgs, err := st.ListJobgroupsByStatus(context.Background(), []string{store.JobgroupCreated, store.JobgroupValidating, store.JobgroupInProgress})
	require.NoError(t, err)
	require.Len(t, jgs, 1)
	require.Equal(t, 1, jgs[0].RequestCount)
}
