package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PipelinesSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sketchmotion_pipelines_submitted_total",
			Help: "Total number of pipeline requests accepted",
		},
		[]string{"kind"},
	)

	PipelinesFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sketchmotion_pipelines_finished_total",
			Help: "Total number of pipelines that reached a terminal state",
		},
		[]string{"outcome"},
	)

	JobsDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sketchmotion_jobs_dispatched_total",
			Help: "Total number of stage executions started",
		},
		[]string{"priority", "kind"},
	)

	// result: succeeded, transient_infra, transient_content, permanent
	JobResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sketchmotion_job_results_total",
			Help: "Total number of stage executions by result",
		},
		[]string{"kind", "result"},
	)

	CreditTransactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sketchmotion_credit_transactions_total",
			Help: "Total number of ledger transactions written",
		},
		[]string{"kind"},
	)

	ResourceBlacklistsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sketchmotion_resource_blacklists_total",
			Help: "Total number of times a resource was blacklisted",
		},
		[]string{"resource"},
	)

	ResourceInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sketchmotion_resource_in_flight",
			Help: "Current number of stages running on each resource",
		},
		[]string{"resource"},
	)

	// Buckets: 100ms to ~27min
	StageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sketchmotion_stage_duration_seconds",
			Help:    "Stage execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 15),
		},
		[]string{"kind", "capacity_class"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sketchmotion_http_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "route", "code"},
	)

	AuthFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sketchmotion_auth_failures_total",
			Help: "Total number of rejected API tokens",
		},
	)
)
