package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AttemptsStarted tracks recovery attempts started per workspace and trigger
	AttemptsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mender_recovery_attempts_total",
			Help: "Total number of recovery attempts started",
		},
		[]string{"workspace", "strategy", "trigger"},
	)

	// AttemptOutcomes tracks terminal attempt outcomes
	AttemptOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mender_recovery_outcomes_total",
			Help: "Total number of terminal recovery outcomes",
		},
		[]string{"workspace", "outcome"},
	)

	// RecoveryDuration tracks wall time from attempt start to terminal state
	RecoveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mender_recovery_duration_seconds",
			Help:    "Recovery attempt duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
		[]string{"strategy"},
	)

	// PatternMatches tracks classified failures per workspace and type
	PatternMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mender_pattern_matches_total",
			Help: "Total number of failures matched against patterns",
		},
		[]string{"workspace", "failure_type", "new_pattern"},
	)

	// ActiveAttempts tracks in-flight recovery attempts
	ActiveAttempts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mender_active_attempts",
			Help: "Number of in-flight recovery attempts",
		},
	)

	// BatchEligible tracks how many parked tasks were eligible at the last tick
	BatchEligible = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mender_batch_eligible_tasks",
			Help: "Tasks eligible for retry at the last batch tick",
		},
	)

	// BatchProcessed tracks tasks re-entered by the batch scheduler
	BatchProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mender_batch_processed_total",
			Help: "Total tasks re-entered by the batch scheduler",
		},
	)

	// BatchTicksSkipped tracks ticks skipped by the single-flight guard
	BatchTicksSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mender_batch_ticks_skipped_total",
			Help: "Batch ticks skipped because the previous run was still going",
		},
	)

	// WatchdogExpirations tracks attempts force-failed by the execution watchdog
	WatchdogExpirations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mender_watchdog_expirations_total",
			Help: "Attempts force-failed after exceeding the execution timeout",
		},
	)

	// DBConnectionPoolUsage tracks database connection pool utilization
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mender_db_connection_pool_usage",
			Help: "Database connection pool usage percentage",
		},
	)
)
