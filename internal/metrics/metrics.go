package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsEnqueuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "statement_jobs_enqueued_total",
		Help: "Total number of jobs enqueued",
	})

	JobsClaimedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "statement_jobs_claimed_total",
		Help: "Total number of jobs claimed by the worker",
	})

	JobsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "statement_jobs_completed_total",
		Help: "Total number of jobs completed successfully",
	})

	JobsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "statement_jobs_failed_total",
		Help: "Total number of jobs that failed permanently",
	})

	JobsRetriedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "statement_jobs_retried_total",
		Help: "Total number of jobs scheduled for retry",
	})

	ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "statement_active_jobs",
		Help: "Number of jobs currently executing",
	})

	MembersProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "statement_members_processed_total",
		Help: "Total number of members rendered successfully",
	})

	MembersFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "statement_members_failed_total",
		Help: "Total number of members that failed to render",
	})

	RenderDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "statement_render_duration_seconds",
		Help:    "Time taken to render a single member document",
		Buckets: prometheus.DefBuckets,
	})
)
