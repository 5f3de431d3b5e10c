// Copyright 2025 James Ross
package controlplane

import (
	"context"
	"net/http"
	"time"

	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type healthResponse struct {
	Status    string           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	UptimeSec float64          `json:"uptime_seconds"`
	Queues    map[string]int64 `json:"queues"`
}

// handleHealth returns a computed snapshot of process uptime and every
// known queue's current depth.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		UptimeSec: time.Since(s.startedAt).Seconds(),
		Queues:    map[string]int64{},
	}

	for _, key := range allQueueKeys(s.queues) {
		if key == "" {
			continue
		}
		n, err := s.queue.Length(ctx, key)
		if err != nil {
			s.log.Warn("control plane: health snapshot failed to read queue length", zap.String("queue", key), zap.Error(err))
			resp.Status = "degraded"
			continue
		}
		resp.Queues[key] = n
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleMetrics delegates to the shared Prometheus registry.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// handlePM2Stub acknowledges a supervising process-manager action without
// performing it. The real pm2 integration is out of scope for reimplementation.
func (s *Server) handlePM2Stub(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotImplemented, map[string]string{
		"status":  "not_implemented",
		"message": "pm2 process-manager integration is not reimplemented",
	})
}

// handlePM2ListStub reports an empty process list for the same reason.
func (s *Server) handlePM2ListStub(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"processes": []interface{}{},
		"message":   "pm2 process-manager integration is not reimplemented",
	})
}
