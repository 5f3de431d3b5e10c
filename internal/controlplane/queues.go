// Copyright 2025 James Ross
package controlplane

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

type queuesOverviewResponse struct {
	Queues map[string]int64 `json:"queues"`
}

// handleQueuesOverview reports the current depth of every known queue and DLQ.
func (s *Server) handleQueuesOverview(w http.ResponseWriter, r *http.Request) {
	resp := queuesOverviewResponse{Queues: map[string]int64{}}
	for _, key := range allQueueKeys(s.queues) {
		if key == "" {
			continue
		}
		n, err := s.queue.Length(r.Context(), key)
		if err != nil {
			s.log.Error("control plane: queue overview failed", zap.String("queue", key), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "QUEUE_READ_FAILED", "failed to read queue length")
			return
		}
		resp.Queues[key] = n
	}
	writeJSON(w, http.StatusOK, resp)
}

type dlqPageResponse struct {
	Key     string   `json:"key"`
	Offset  int64    `json:"offset"`
	Limit   int64    `json:"limit"`
	Entries []string `json:"entries"`
}

// handleDLQPage pages through a DLQ list, capping limit at
// config.ControlPlane.DLQPageSizeCap per spec.md §4.9.
func (s *Server) handleDLQPage(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "MISSING_KEY", "key query parameter is required")
		return
	}

	offset, err := parseNonNegativeInt(r.URL.Query().Get("offset"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_OFFSET", "offset must be a non-negative integer")
		return
	}
	limit, err := parseNonNegativeInt(r.URL.Query().Get("limit"), int64(s.cfg.DLQPageSizeCap))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a non-negative integer")
		return
	}
	if pageCap := int64(s.cfg.DLQPageSizeCap); pageCap > 0 && limit > pageCap {
		limit = pageCap
	}

	entries, err := s.queue.Range(r.Context(), key, offset, limit)
	if err != nil {
		s.log.Error("control plane: dlq page failed", zap.String("dlq", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "DLQ_READ_FAILED", "failed to read dlq entries")
		return
	}

	writeJSON(w, http.StatusOK, dlqPageResponse{Key: key, Offset: offset, Limit: limit, Entries: entries})
}

type dlqRequeueRequest struct {
	SrcKey string `json:"srcKey"`
	DstKey string `json:"dstKey"`
	Count  int    `json:"count"`
}

type dlqRequeueResponse struct {
	Requeued int `json:"requeued"`
}

// handleDLQRequeue right-pops up to count raw entries from srcKey and
// left-pushes each verbatim onto dstKey, capped at RequeueCountCap.
func (s *Server) handleDLQRequeue(w http.ResponseWriter, r *http.Request) {
	var req dlqRequeueRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "MALFORMED_BODY", "request body is not valid JSON")
		return
	}
	if req.SrcKey == "" || req.DstKey == "" {
		writeError(w, http.StatusBadRequest, "MISSING_KEY", "srcKey and dstKey are both required")
		return
	}
	count := effectiveCount(req.Count, s.cfg.RequeueCountCap)

	ctx := r.Context()
	requeued := 0
	for i := 0; i < count; i++ {
		raw, ok, err := s.queue.PopRaw(ctx, req.SrcKey)
		if err != nil {
			s.log.Error("control plane: dlq requeue read failed", zap.String("dlq", req.SrcKey), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "DLQ_REQUEUE_FAILED", "failed to read dlq entries")
			return
		}
		if !ok {
			break
		}
		if err := s.queue.PushRaw(ctx, req.DstKey, raw); err != nil {
			s.log.Error("control plane: dlq requeue push failed", zap.String("dlq", req.DstKey), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "DLQ_REQUEUE_FAILED", "failed to requeue entry")
			return
		}
		requeued++
	}

	writeJSON(w, http.StatusOK, dlqRequeueResponse{Requeued: requeued})
}

type dlqPurgeRequest struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type dlqPurgeResponse struct {
	Purged int `json:"purged"`
}

// handleDLQPurge right-pops and discards up to count entries from key.
func (s *Server) handleDLQPurge(w http.ResponseWriter, r *http.Request) {
	var req dlqPurgeRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "MALFORMED_BODY", "request body is not valid JSON")
		return
	}
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, "MISSING_KEY", "key is required")
		return
	}
	count := effectiveCount(req.Count, s.cfg.RequeueCountCap)

	purged := 0
	for i := 0; i < count; i++ {
		_, ok, err := s.queue.PopRaw(r.Context(), req.Key)
		if err != nil {
			s.log.Error("control plane: dlq purge failed", zap.String("dlq", req.Key), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "DLQ_PURGE_FAILED", "failed to purge dlq entries")
			return
		}
		if !ok {
			break
		}
		purged++
	}

	writeJSON(w, http.StatusOK, dlqPurgeResponse{Purged: purged})
}

func parseNonNegativeInt(raw string, fallback int64) (int64, error) {
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, &strconv.NumError{Func: "ParseInt", Num: raw, Err: strconv.ErrRange}
	}
	return n, nil
}

func effectiveCount(requested, cap int) int {
	if requested <= 0 || requested > cap {
		return cap
	}
	return requested
}

func decodeJSONBody(r *http.Request, v interface{}) error {
	defer func() { _ = r.Body.Close() }()
	return json.NewDecoder(r.Body).Decode(v)
}
