package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/mender/internal/core/domain"
	"github.com/vietddude/mender/internal/infra/storage"
)

// Aggregator rolls attempt outcomes up into workspace-level counters and the
// process-level Prometheus series. It is invoked by the orchestrator's
// post-transition hook, never by hidden storage triggers.
type Aggregator struct {
	metrics storage.WorkspaceMetricsRepository
}

// NewAggregator creates a new metrics aggregator.
func NewAggregator(repo storage.WorkspaceMetricsRepository) *Aggregator {
	return &Aggregator{metrics: repo}
}

// RecordStart records an attempt entering the pipeline.
func (a *Aggregator) RecordStart(attempt *domain.RecoveryAttempt) {
	AttemptsStarted.WithLabelValues(
		attempt.WorkspaceID,
		string(attempt.Strategy),
		string(attempt.TriggeredBy),
	).Inc()
	ActiveAttempts.Inc()
}

// RecordTerminal records a terminal outcome. The durable workspace rollup is
// written by the storage terminal writer in the same transaction as the
// attempt row; this method only maintains the Prometheus series, so it never
// returns an error to the orchestrator.
func (a *Aggregator) RecordTerminal(attempt *domain.RecoveryAttempt) {
	AttemptOutcomes.WithLabelValues(attempt.WorkspaceID, string(attempt.Status)).Inc()
	ActiveAttempts.Dec()
	if attempt.CompletedAt != nil {
		RecoveryDuration.WithLabelValues(string(attempt.Strategy)).
			Observe(attempt.CompletedAt.Sub(attempt.StartedAt).Seconds())
	}
}

// RecordParked records an attempt leaving the in-flight set for the retry queue.
func (a *Aggregator) RecordParked(attempt *domain.RecoveryAttempt) {
	ActiveAttempts.Dec()
}

// TouchWorkspace stamps the last scheduler pass over a workspace.
func (a *Aggregator) TouchWorkspace(ctx context.Context, workspaceID string, at time.Time) {
	if err := a.metrics.TouchLastCheck(ctx, workspaceID, at); err != nil {
		slog.Warn("Failed to stamp workspace recovery check", "workspace", workspaceID, "error", err)
	}
}
