// Package metrics exposes Prometheus instrumentation for the job engine.
// Collectors are registered on the default registry and served by the
// router's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_enqueued_total",
		Help: "Jobs accepted by the enqueue path, by job type.",
	}, []string{"job_type"})

	JobsDeduplicated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_deduplicated_total",
		Help: "Enqueue requests resolved to an existing live job, by job type.",
	}, []string{"job_type"})

	JobsClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobs_claimed_total",
		Help: "Jobs claimed by this instance's dispatch pool.",
	})

	JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_completed_total",
		Help: "Execution attempts settled, by job type and resulting status.",
	}, []string{"job_type", "status"})

	JobsDeferred = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_deferred_total",
		Help: "High-risk jobs deferred by an open circuit breaker, by job type.",
	}, []string{"job_type"})

	HandlerPanics = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "handler_panics_total",
		Help: "Panics caught at the dispatch boundary, by job type.",
	}, []string{"job_type"})

	HandlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "handler_duration_seconds",
		Help:    "Wall time of handler executions, by job type.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	}, []string{"job_type"})

	LeasesReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leases_reaped_total",
		Help: "Expired leases released by the reaper.",
	})

	RetriesPromoted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "retries_promoted_total",
		Help: "Retrying jobs promoted to queued after their backoff elapsed.",
	})

	BacklogDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "backlog_depth",
		Help: "Queued plus retrying jobs, by job type.",
	}, []string{"job_type"})

	BacklogP95AgeSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "backlog_p95_age_seconds",
		Help: "95th percentile age of waiting jobs, by job type.",
	}, []string{"job_type"})

	SuccessRate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "job_success_rate",
		Help: "Share of terminal outcomes that succeeded over the reporting window, by job type.",
	}, []string{"job_type"})

	BreakerOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "breaker_open",
		Help: "1 when the risk-class breaker scope is open or half open.",
	}, []string{"scope"})

	buildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "jobserver_build_info",
		Help: "Build metadata; the value is always 1.",
	}, []string{"version"})
)

// Init records build metadata. Call once at startup.
func Init(version string) {
	buildInfo.WithLabelValues(version).Set(1)
}
