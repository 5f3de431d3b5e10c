// Copyright 2025 James Ross
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/archivault/workers/internal/config"
	"github.com/archivault/workers/internal/queue"
)

func TestNotifyDLQSignsPayloadWithSecret(t *testing.T) {
	var gotSignature, gotEvent string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get("X-Webhook-Signature")
		gotEvent = r.Header.Get("X-Webhook-Event")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := New(config.Webhook{DLQURL: server.URL, Secret: "shh", Timeout: 2 * time.Second}, zap.NewNop())
	entry := queue.DLQEntry{ID: "dlq-1", Reason: "validation_failed", TenantID: "tenant-a"}
	require.NoError(t, n.NotifyDLQ(context.Background(), entry))

	require.Equal(t, "dlq.entry", gotEvent)
	require.NotEmpty(t, gotSignature)

	mac := hmac.New(sha256.New, []byte("shh"))
	mac.Write(gotBody)
	require.Equal(t, fmt.Sprintf("sha256=%x", mac.Sum(nil)), gotSignature)
}

func TestNotifyDLQNoopsWithoutConfiguredURL(t *testing.T) {
	n := New(config.Webhook{}, zap.NewNop())
	require.NoError(t, n.NotifyDLQ(context.Background(), queue.DLQEntry{ID: "dlq-1"}))
}

func TestNotifyJobgroupPostsLifecycleEvent(t *testing.T) {
	var decoded JobgroupEvent
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&decoded))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := New(config.Webhook{JobgroupURL: server.URL, Timeout: 2 * time.Second}, zap.NewNop())
	err := n.NotifyJobgroup(context.Background(), JobgroupEvent{
		Event: "jobgroup.completed", JobgroupID: "jg-1", TenantID: "tenant-a",
		Status: "completed", Processed: 10, Failed: 1,
	})
	require.NoError(t, err)
	require.Equal(t, "jg-1", decoded.JobgroupID)
	require.Equal(t, 10, decoded.Processed)
}

func TestNotifyReturnsErrorOnNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	n := New(config.Webhook{DLQURL: server.URL, Timeout: 2 * time.Second}, zap.NewNop())
	err := n.NotifyDLQ(context.Background(), queue.DLQEntry{ID: "dlq-1"})
	require.Error(t, err)
}

func TestNotifyRespectsRateLimit(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := New(config.Webhook{DLQURL: server.URL, Timeout: 2 * time.Second, RateLimitRPS: 1000, RateLimitBurst: 2}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	for i := 0; i < 3; i++ {
		_ = n.NotifyDLQ(ctx, queue.DLQEntry{ID: fmt.Sprintf("dlq-%d", i)})
	}
	require.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}
