// Copyright 2025 James Ross
package archivist

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/archivault/workers/internal/apperrors"
	"github.com/archivault/workers/internal/blob"
	"github.com/archivault/workers/internal/config"
	"github.com/archivault/workers/internal/job"
	"github.com/archivault/workers/internal/modelapi"
	"github.com/archivault/workers/internal/store"
)

type fakeBlob struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeBlob() *fakeBlob { return &fakeBlob{data: map[string][]byte{}} }

func (f *fakeBlob) Exists(_ context.Context, _ blob.Label, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[key]
	return ok, nil
}

func (f *fakeBlob) Get(_ context.Context, _ blob.Label, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data[key], nil
}

func (f *fakeBlob) seed(key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = data
}

type fakeDelegate struct {
	mu  sync.Mutex
	got *job.Job
}

func (d *fakeDelegate) Submit(_ context.Context, j job.Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.got = &j
	return nil
}

func modelServerReturning(t *testing.T, content string) *modelapi.Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]interface{}{"role": "assistant", "content": content}},
			},
			"usage": map[string]int{"prompt_tokens": 100, "completion_tokens": 40, "total_tokens": 140},
		})
	}))
	t.Cleanup(server.Close)
	return modelapi.New(server.URL, "test-key", 5*time.Second, 1, zap.NewNop())
}

func testArchivistConfig() config.ArchivistConfig {
	return config.ArchivistConfig{
		Model:           "vision-model",
		MaxEncodedBytes: 10 << 20,
		QualitySteps:    []int{85, 60, 40},
		MaxJSONBytes:    500 << 10,
		MaxKeywords:     30,
		AllowedTags:     []string{"portrait", "landscape", "manuscript"},
		RequestTimeout:  5 * time.Second,
	}
}

func TestProcessUsesAIDerivativeWhenPresent(t *testing.T) {
	fb := newFakeBlob()
	fb.seed(aiVersionKey("t1", "b1", "a1"), solidTestImage(t, 400, 400))
	st, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	p := &Pipeline{
		Blob: fb, Store: st,
		Model: modelServerReturning(t, `{"description":"a portrait","tags":["portrait","spaceship"],"keywords":["face","sepia"]}`),
		Cfg:   testArchivistConfig(), Log: zap.NewNop(),
	}

	j := job.Job{TenantID: "t1", AssetID: "a1", BatchID: "b1", ProcessingType: "instant"}
	require.NoError(t, p.Process(context.Background(), j))

	desc, err := st.GetAIDescription(context.Background(), "t1", "a1")
	require.NoError(t, err)
	require.NotNil(t, desc)

	var content normalizedContent
	require.NoError(t, json.Unmarshal(desc.Content, &content))
	require.Equal(t, "a portrait", content.Description)
	require.Equal(t, []string{"portrait"}, content.Tags)
}

func TestProcessFallsBackToViewingWhenNoAIDerivative(t *testing.T) {
	fb := newFakeBlob()
	fb.seed(viewingKey("t1", "b1", "a2"), solidTestImage(t, 400, 400))
	st, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	p := &Pipeline{
		Blob: fb, Store: st,
		Model: modelServerReturning(t, `{"description":"fallback source"}`),
		Cfg:   testArchivistConfig(), Log: zap.NewNop(),
	}

	j := job.Job{TenantID: "t1", AssetID: "a2", BatchID: "b1", ProcessingType: "instant"}
	require.NoError(t, p.Process(context.Background(), j))

	desc, err := st.GetAIDescription(context.Background(), "t1", "a2")
	require.NoError(t, err)
	require.NotNil(t, desc)
}

func TestProcessReturnsErrorWhenNoSourceImageExists(t *testing.T) {
	fb := newFakeBlob()
	st, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	p := &Pipeline{Blob: fb, Store: st, Cfg: testArchivistConfig(), Log: zap.NewNop()}
	j := job.Job{TenantID: "t1", AssetID: "missing", BatchID: "b1", ProcessingType: "instant"}

	err = p.Process(context.Background(), j)
	require.Error(t, err)
}

func TestProcessHandlesMalformedModelJSONAsEmptyObject(t *testing.T) {
	fb := newFakeBlob()
	fb.seed(aiVersionKey("t1", "b1", "a3"), solidTestImage(t, 300, 300))
	st, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	p := &Pipeline{
		Blob: fb, Store: st,
		Model: modelServerReturning(t, "I'm not able to produce JSON for this image."),
		Cfg:   testArchivistConfig(), Log: zap.NewNop(),
	}

	j := job.Job{TenantID: "t1", AssetID: "a3", BatchID: "b1", ProcessingType: "instant"}
	require.NoError(t, p.Process(context.Background(), j))

	desc, err := st.GetAIDescription(context.Background(), "t1", "a3")
	require.NoError(t, err)
	require.NotNil(t, desc)

	var content normalizedContent
	require.NoError(t, json.Unmarshal(desc.Content, &content))
	require.Empty(t, content.Description)
	require.Empty(t, content.Tags)
}

func TestProcessDelegatesJobgroupProcessingType(t *testing.T) {
	fd := &fakeDelegate{}
	p := &Pipeline{Jobgroup: fd, Log: zap.NewNop()}

	j := job.Job{TenantID: "t1", AssetID: "a4", ProcessingType: "jobgroup"}
	require.NoError(t, p.Process(context.Background(), j))

	require.NotNil(t, fd.got)
	require.Equal(t, "a4", fd.got.AssetID)
}

func TestProcessReturnsRoutingErrorWhenJobgroupDelegateMissing(t *testing.T) {
	p := &Pipeline{Log: zap.NewNop()}
	j := job.Job{TenantID: "t1", AssetID: "a5", ProcessingType: "jobgroup"}

	err := p.Process(context.Background(), j)
	require.Error(t, err)
	var re *apperrors.RoutingError
	require.ErrorAs(t, err, &re)
}
