// Copyright 2025 James Ross
package obs

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quaydock/jobqueue/internal/config"
)

var (
	JobsEnqueued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_enqueued_total",
		Help: "Total number of jobs published",
	})
	JobsReserved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_reserved_total",
		Help: "Total number of jobs reserved by a consumer",
	})
	JobsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_completed_total",
		Help: "Total number of successfully completed jobs",
	})
	JobsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_failed_total",
		Help: "Total number of jobs moved to the failed lane",
	})
	JobsRetried = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_retried_total",
		Help: "Total number of jobs rescheduled into the delayed set after a failed attempt",
	})
	JobsReaped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_reaped_total",
		Help: "Total number of jobs recovered by reap_expired from a stale lease",
	})
	JobProcessingDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "job_processing_duration_seconds",
		Help:    "Histogram of handler execution durations",
		Buckets: prometheus.DefBuckets,
	})
	QueueLength = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "queue_lane_length",
		Help: "Current length of a queue's lane",
	}, []string{"queue", "lane"})
	CircuitBreakerState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "0 Closed, 1 HalfOpen, 2 Open",
	})
	CircuitBreakerTrips = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "circuit_breaker_trips_total",
		Help: "Count of times the circuit breaker transitioned to Open",
	})
	LeaseLost = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lease_lost_total",
		Help: "Total number of times a consumer detected it no longer held a job's lease",
	})
	ConsumersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "consumers_active",
		Help: "Number of active consumer loop goroutines",
	})
)

func init() {
	prometheus.MustRegister(JobsEnqueued, JobsReserved, JobsCompleted, JobsFailed, JobsRetried, JobsReaped,
		JobProcessingDuration, QueueLength, CircuitBreakerState, CircuitBreakerTrips, LeaseLost, ConsumersActive)
}

// StartMetricsServer exposes /metrics and returns a server for controlled
// shutdown. Retained for compatibility; StartHTTPServer also registers
// health endpoints and is preferred for new callers.
func StartMetricsServer(cfg *config.Config) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Observability.MetricsPort), Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
