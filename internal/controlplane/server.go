// Copyright 2025 James Ross
// Package controlplane implements the HTTP control surface: job submission,
// queue introspection, dead-letter management, and health/metrics exposition.
package controlplane

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/archivault/workers/internal/config"
	"github.com/archivault/workers/internal/queue"
)

// Server holds the control plane's HTTP dependencies.
type Server struct {
	cfg       config.ControlPlane
	queues    config.Queues
	queue     *queue.Queue
	log       *zap.Logger
	startedAt time.Time
}

// New builds a Server ready to have its routes registered.
func New(cfg config.ControlPlane, queues config.Queues, q *queue.Queue, log *zap.Logger) *Server {
	return &Server{cfg: cfg, queues: queues, queue: q, log: log, startedAt: time.Now().UTC()}
}

// NewRouter builds the full mux.Router for the control plane, with
// bearer-token auth applied to every route marked (auth) in spec.md §4.9.
func (s *Server) NewRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(requestIDMiddleware(), recoveryMiddleware(s.log))

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)

	enqueueAuth := bearerAuthMiddleware(s.log, s.cfg.EnqueueToken, s.cfg.WorkerToken)
	r.Handle("/enqueue", enqueueAuth(http.HandlerFunc(s.handleEnqueue))).Methods(http.MethodPost)

	adminAuth := bearerAuthMiddleware(s.log, s.cfg.AdminToken)
	r.Handle("/queues/overview", adminAuth(http.HandlerFunc(s.handleQueuesOverview))).Methods(http.MethodGet)
	r.Handle("/queues/dlq", adminAuth(http.HandlerFunc(s.handleDLQPage))).Methods(http.MethodGet)
	r.Handle("/queues/dlq/requeue", adminAuth(http.HandlerFunc(s.handleDLQRequeue))).Methods(http.MethodPost)
	r.Handle("/queues/dlq", adminAuth(http.HandlerFunc(s.handleDLQPurge))).Methods(http.MethodDelete)

	r.Handle("/admin/pm2", adminAuth(http.HandlerFunc(s.handlePM2Stub))).Methods(http.MethodPost)
	r.Handle("/admin/pm2/list", adminAuth(http.HandlerFunc(s.handlePM2ListStub))).Methods(http.MethodGet)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

func allQueueKeys(q config.Queues) []string {
	return []string{
		q.MachinistInstant, q.MachinistStandard,
		q.ArchivistInstant, q.ArchivistStandard, q.ArchivistJobgroup,
		q.DLQMachinist, q.DLQArchivist,
	}
}
