// Copyright 2025 James Ross
package jobgroup

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/archivault/workers/internal/audit"
	"github.com/archivault/workers/internal/blob"
	"github.com/archivault/workers/internal/config"
	"github.com/archivault/workers/internal/job"
	"github.com/archivault/workers/internal/modelapi"
	"github.com/archivault/workers/internal/store"
	"github.com/archivault/workers/internal/tenant"
	"github.com/archivault/workers/internal/webhook"
)

func solidJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 255), G: uint8(y % 255), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

type fakeJobgroupBlob struct{ data map[string][]byte }

func (f *fakeJobgroupBlob) Exists(_ context.Context, _ blob.Label, key string) (bool, error) {
	_, ok := f.data[key]
	return ok, nil
}

func (f *fakeJobgroupBlob) Get(_ context.Context, _ blob.Label, key string) ([]byte, error) {
	return f.data[key], nil
}

func testViewingKey(tenantID, batchID, assetID string) string {
	return "tenant-" + tenantID + "/batch-" + batchID + "/asset-" + assetID + "/viewing/viewing.jpg"
}

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func testJobgroupConfig() config.JobgroupConfig {
	return config.JobgroupConfig{
		PollLockTTL:        30 * time.Second,
		MaxActivePerTenant: 1,
		Max24hPerTenant:    5,
		ResultChunkSize:    25,
	}
}

// batchAPIServer fakes the upload/create-batch/get-batch surface a
// Submitter and Poller drive, returning a fixed batch status.
func batchAPIServer(t *testing.T, status, outputFileID string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v1/files":
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "file-in-1"})
		case r.URL.Path == "/v1/batches" && r.Method == http.MethodPost:
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "batch-1", "status": "validating"})
		case r.Method == http.MethodGet:
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "batch-1", "status": status, "output_file_id": outputFileID})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestRunJobgroupUploadsAssemblesAndPersists(t *testing.T) {
	server := batchAPIServer(t, "validating", "")
	defer server.Close()

	tenantID, batchID, assetID := uuid.NewString(), uuid.NewString(), uuid.NewString()

	fb := &fakeJobgroupBlob{data: map[string][]byte{
		testViewingKey(tenantID, batchID, assetID): solidJPEG(t, 400, 400),
	}}
	st, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	rdb := testRedis(t)
	throttle := tenant.New(rdb, 1, 5)
	auditLog, err := audit.New(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	notifier := webhook.New(config.Webhook{}, zap.NewNop())

	s := &Submitter{
		Blob:         fb,
		Model:        modelapi.New(server.URL, "test-key", 5*time.Second, 1, zap.NewNop()),
		Store:        st,
		Throttle:     throttle,
		Audit:        auditLog,
		Webhook:      notifier,
		ArchivistCfg: testArchivistCfgForJobgroup(),
		Cfg:          testJobgroupConfig(),
		Log:          zap.NewNop(),
	}

	jobs := []job.Job{{TenantID: tenantID, AssetID: assetID, BatchID: batchID, ProcessingType: "jobgroup"}}
	result, err := s.RunJobgroup(context.Background(), jobs, t.TempDir())
	require.NoError(t, err)
	require.Equal(t, 1, result.RequestCount)
	require.Equal(t, "batch-1", result.ExternalJobgroupID)

	got, err := st.GetJobgroup(context.Background(), result.JobgroupID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, tenantID, got.TenantID)
	require.Equal(t, 1, got.RequestCount)
}

func TestRunJobgroupRejectsEmptyJobSet(t *testing.T) {
	st, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	s := &Submitter{
		Store: st, Throttle: tenant.New(testRedis(t), 1, 5),
		Audit: mustAuditLogger(t), Webhook: webhook.New(config.Webhook{}, zap.NewNop()),
		Cfg: testJobgroupConfig(), Log: zap.NewNop(),
	}
	_, err = s.RunJobgroup(context.Background(), nil, t.TempDir())
	require.Error(t, err)
}

func TestRunJobgroupSecondConcurrentSubmissionIsThrottled(t *testing.T) {
	server := batchAPIServer(t, "validating", "")
	defer server.Close()

	tenantID, batchID := uuid.NewString(), uuid.NewString()
	assetID1, assetID2 := uuid.NewString(), uuid.NewString()

	fb := &fakeJobgroupBlob{data: map[string][]byte{
		testViewingKey(tenantID, batchID, assetID1): solidJPEG(t, 400, 400),
		testViewingKey(tenantID, batchID, assetID2): solidJPEG(t, 300, 300),
	}}
	st, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	rdb := testRedis(t)
	s := &Submitter{
		Blob:         fb,
		Model:        modelapi.New(server.URL, "test-key", 5*time.Second, 1, zap.NewNop()),
		Store:        st,
		Throttle:     tenant.New(rdb, 1, 5),
		Audit:        mustAuditLogger(t),
		Webhook:      webhook.New(config.Webhook{}, zap.NewNop()),
		ArchivistCfg: testArchivistCfgForJobgroup(),
		Cfg:          testJobgroupConfig(),
		Log:          zap.NewNop(),
	}

	_, err = s.RunJobgroup(context.Background(), []job.Job{{TenantID: tenantID, AssetID: assetID1, BatchID: batchID, ProcessingType: "jobgroup"}}, t.TempDir())
	require.NoError(t, err)

	_, err = s.RunJobgroup(context.Background(), []job.Job{{TenantID: tenantID, AssetID: assetID2, BatchID: batchID, ProcessingType: "jobgroup"}}, t.TempDir())
	require.Error(t, err, "a tenant with an already-active jobgroup must be rejected")
}

func mustAuditLogger(t *testing.T) *audit.Logger {
	t.Helper()
	l, err := audit.New(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return l
}

func testArchivistCfgForJobgroup() config.ArchivistConfig {
	return config.ArchivistConfig{
		Model:           "vision-model",
		MaxEncodedBytes: 10 << 20,
		QualitySteps:    []int{85, 60, 40},
		MaxJSONBytes:    500 << 10,
		MaxKeywords:     30,
		AllowedTags:     []string{"portrait", "landscape"},
		RequestTimeout:  5 * time.Second,
	}
}
