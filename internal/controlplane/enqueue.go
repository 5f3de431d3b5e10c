// Copyright 2025 James Ross
package controlplane

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/archivault/workers/internal/apperrors"
	"github.com/archivault/workers/internal/job"
	"github.com/archivault/workers/internal/router"
)

type enqueueResponse struct {
	Queue  string `json:"queue"`
	Status string `json:"status"`
}

// handleEnqueue implements spec.md §4.9's POST /enqueue: default
// job_type=machinist, normalize the deprecated batch synonym, reject
// machinist+jobgroup, resolve the destination queue, and left-push.
func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var j job.Job
	if err := json.NewDecoder(r.Body).Decode(&j); err != nil {
		writeError(w, http.StatusBadRequest, "MALFORMED_BODY", "request body is not a valid job object")
		return
	}

	if j.JobType == "" {
		j.JobType = string(job.Machinist)
	}
	j.ProcessingType = job.NormalizeProcessingType(j.ProcessingType)

	if err := job.Validate(j); err != nil {
		writeValidationError(w, err)
		return
	}

	queueKey, err := router.ResolveQueue(s.queues, j)
	if err != nil {
		writeValidationError(w, err)
		return
	}

	if err := s.queue.Push(r.Context(), queueKey, j); err != nil {
		s.log.Error("control plane: enqueue push failed", zap.String("queue", queueKey), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "ENQUEUE_FAILED", "failed to enqueue job")
		return
	}

	writeJSON(w, http.StatusAccepted, enqueueResponse{Queue: queueKey, Status: "enqueued"})
}

// writeValidationError maps the typed apperrors taxonomy onto HTTP status
// codes and error bodies.
func writeValidationError(w http.ResponseWriter, err error) {
	switch e := err.(type) {
	case *apperrors.ValidationError:
		writeError(w, http.StatusBadRequest, e.Code, e.Message)
	case *apperrors.RoutingError:
		writeError(w, http.StatusBadRequest, e.Code, e.Reason)
	default:
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	}
}
