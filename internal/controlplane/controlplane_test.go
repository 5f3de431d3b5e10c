// Copyright 2025 James Ross
package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/archivault/workers/internal/config"
	"github.com/archivault/workers/internal/queue"
)

func testQueues() config.Queues {
	return config.Queues{
		MachinistInstant:  "jobs:machinist:instant",
		MachinistStandard: "jobs:machinist:standard",
		ArchivistInstant:  "jobs:archivist:instant",
		ArchivistStandard: "jobs:archivist:standard",
		ArchivistJobgroup: "jobs:archivist:jobgroup",
		DLQMachinist:      "dlq:machinist",
		DLQArchivist:      "dlq:archivist",
	}
}

func testControlPlaneConfig() config.ControlPlane {
	return config.ControlPlane{
		Port:            8081,
		EnqueueToken:    "enqueue-secret",
		WorkerToken:     "worker-secret",
		AdminToken:      "admin-secret",
		DLQPageSizeCap:  200,
		RequeueCountCap: 1000,
	}
}

func newTestServer(t *testing.T) (*Server, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := queue.New(rdb, zap.NewNop())
	return New(testControlPlaneConfig(), testQueues(), q, zap.NewNop()), rdb
}

func TestHealthAndMetricsRequireNoAuth(t *testing.T) {
	s, _ := newTestServer(t)
	router := s.NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestEnqueueRejectsMissingToken(t *testing.T) {
	s, _ := newTestServer(t)
	router := s.NewRouter()

	req := httptest.NewRequest(http.MethodPost, "/enqueue", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEnqueueDefaultsJobTypeAndLeftPushes(t *testing.T) {
	s, rdb := newTestServer(t)
	router := s.NewRouter()

	body := map[string]string{
		"processing_type": "instant",
		"tenant_id":       "11111111-1111-4111-8111-111111111111",
		"asset_id":        "22222222-2222-4222-8222-222222222222",
		"file_purpose":    "viewing",
		"input_extension": "jpg",
	}
	b, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/enqueue", bytes.NewReader(b))
	req.Header.Set("Authorization", "Bearer enqueue-secret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp enqueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "jobs:machinist:instant", resp.Queue)

	n, err := rdb.LLen(context.Background(), "jobs:machinist:instant").Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestEnqueueAcceptsWorkerToken(t *testing.T) {
	s, _ := newTestServer(t)
	router := s.NewRouter()

	body := map[string]string{
		"job_type":        "archivist",
		"processing_type": "batch",
		"tenant_id":       "11111111-1111-4111-8111-111111111111",
		"asset_id":        "22222222-2222-4222-8222-222222222222",
	}
	b, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/enqueue", bytes.NewReader(b))
	req.Header.Set("Authorization", "Bearer worker-secret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp enqueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "jobs:archivist:jobgroup", resp.Queue, "deprecated batch synonym must normalize to jobgroup routing")
}

func TestEnqueueRejectsMachinistJobgroup(t *testing.T) {
	s, _ := newTestServer(t)
	router := s.NewRouter()

	body := map[string]string{
		"job_type":        "machinist",
		"processing_type": "jobgroup",
		"tenant_id":       "11111111-1111-4111-8111-111111111111",
		"asset_id":        "22222222-2222-4222-8222-222222222222",
		"file_purpose":    "viewing",
		"input_extension": "jpg",
	}
	b, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/enqueue", bytes.NewReader(b))
	req.Header.Set("Authorization", "Bearer enqueue-secret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "unsupported_priority", resp.Code)
}

func TestQueuesOverviewRequiresAdminToken(t *testing.T) {
	s, rdb := newTestServer(t)
	router := s.NewRouter()
	require.NoError(t, rdb.LPush(context.Background(), "jobs:machinist:instant", "x", "y").Err())

	req := httptest.NewRequest(http.MethodGet, "/queues/overview", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req.Header.Set("Authorization", "Bearer admin-secret")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp queuesOverviewResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, int64(2), resp.Queues["jobs:machinist:instant"])
}

func TestDLQPageCapsLimit(t *testing.T) {
	s, rdb := newTestServer(t)
	router := s.NewRouter()
	for i := 0; i < 5; i++ {
		require.NoError(t, rdb.LPush(context.Background(), "dlq:machinist", "entry").Err())
	}

	req := httptest.NewRequest(http.MethodGet, "/queues/dlq?key=dlq:machinist&limit=2", nil)
	req.Header.Set("Authorization", "Bearer admin-secret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp dlqPageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 2)
}

func TestDLQRequeueMovesEntriesBetweenLists(t *testing.T) {
	s, rdb := newTestServer(t)
	router := s.NewRouter()
	ctx := context.Background()
	require.NoError(t, rdb.LPush(ctx, "dlq:machinist", "entry-1", "entry-2").Err())

	reqBody, err := json.Marshal(dlqRequeueRequest{SrcKey: "dlq:machinist", DstKey: "jobs:machinist:standard", Count: 10})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/queues/dlq/requeue", bytes.NewReader(reqBody))
	req.Header.Set("Authorization", "Bearer admin-secret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp dlqRequeueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Requeued)

	n, err := rdb.LLen(ctx, "dlq:machinist").Result()
	require.NoError(t, err)
	require.Equal(t, int64(0), n)
	n, err = rdb.LLen(ctx, "jobs:machinist:standard").Result()
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func TestDLQPurgeDiscardsEntries(t *testing.T) {
	s, rdb := newTestServer(t)
	router := s.NewRouter()
	ctx := context.Background()
	require.NoError(t, rdb.LPush(ctx, "dlq:archivist", "entry-1", "entry-2", "entry-3").Err())

	reqBody, err := json.Marshal(dlqPurgeRequest{Key: "dlq:archivist", Count: 2})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodDelete, "/queues/dlq", bytes.NewReader(reqBody))
	req.Header.Set("Authorization", "Bearer admin-secret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp dlqPurgeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Purged)

	n, err := rdb.LLen(ctx, "dlq:archivist").Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestPM2StubsAreNotImplemented(t *testing.T) {
	s, _ := newTestServer(t)
	router := s.NewRouter()

	req := httptest.NewRequest(http.MethodPost, "/admin/pm2", nil)
	req.Header.Set("Authorization", "Bearer admin-secret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotImplemented, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin/pm2/list", nil)
	req.Header.Set("Authorization", "Bearer admin-secret")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
