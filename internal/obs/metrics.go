// Copyright 2025 James Ross
package obs

import (
	"fmt"
	"net/http"

	"github.com/archivault/workers/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsConsumed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_consumed_total",
		Help: "Total number of jobs consumed by workers",
	}, []string{"worker", "priority"})
	JobsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_completed_total",
		Help: "Total number of successfully completed jobs",
	}, []string{"worker", "priority"})
	JobsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_failed_total",
		Help: "Total number of failed jobs",
	}, []string{"worker", "priority"})
	JobsRetried = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_retried_total",
		Help: "Total number of job retries",
	}, []string{"worker"})
	JobsDeadLetter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_dead_letter_total",
		Help: "Total number of jobs moved to dead letter queue",
	}, []string{"worker"})
	JobProcessingDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "job_processing_duration_seconds",
		Help:    "Histogram of job processing durations",
		Buckets: prometheus.DefBuckets,
	}, []string{"worker"})
	QueueLength = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "queue_length",
		Help: "Current length of a namespaced job queue",
	}, []string{"queue"})
	CircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "0 Closed, 1 HalfOpen, 2 Open",
	}, []string{"worker"})
	CircuitBreakerTrips = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_breaker_trips_total",
		Help: "Count of times the circuit breaker transitioned to Open",
	}, []string{"worker"})
	WorkerActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "worker_active",
		Help: "1 while a worker's run loop is active",
	})
	JobgroupsSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobgroups_submitted_total",
		Help: "Total number of jobgroups submitted to the batch endpoint",
	})
	JobgroupsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobgroups_completed_total",
		Help: "Total number of jobgroups reaching a terminal state, by status",
	}, []string{"status"})
	JobgroupResultsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobgroup_results_processed_total",
		Help: "Total number of per-asset jobgroup results processed, by outcome",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(
		JobsConsumed, JobsCompleted, JobsFailed, JobsRetried, JobsDeadLetter,
		JobProcessingDuration, QueueLength, CircuitBreakerState, CircuitBreakerTrips,
		WorkerActive, JobgroupsSubmitted, JobgroupsCompleted, JobgroupResultsProcessed,
	)
}

// StartMetricsServer exposes /metrics and returns a server for controlled shutdown.
func StartMetricsServer(cfg *config.Config) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Observability.MetricsPort), Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
