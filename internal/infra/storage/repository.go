package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/mender/internal/core/domain"
)

var (
	// ErrDuplicateSignature is returned when inserting a pattern whose
	// (workspace_id, pattern_signature) already exists.
	ErrDuplicateSignature = errors.New("pattern signature already exists")

	// ErrDuplicateAttempt is returned when inserting an attempt whose
	// (task_id, attempt_number) already exists.
	ErrDuplicateAttempt = errors.New("attempt number already exists")

	// ErrAttemptNotFound is returned when an attempt doesn't exist
	ErrAttemptNotFound = errors.New("recovery attempt not found")

	// ErrPatternNotFound is returned when a pattern doesn't exist
	ErrPatternNotFound = errors.New("failure pattern not found")
)

// PatternRepository stores failure patterns keyed by signature.
// Only the pattern matcher writes patterns.
type PatternRepository interface {
	// Create inserts a new pattern. Returns ErrDuplicateSignature if the
	// (workspace_id, signature) pair already exists.
	Create(ctx context.Context, p *domain.FailurePattern) error

	// GetBySignature retrieves a pattern by its dedup key.
	// Returns ErrPatternNotFound if absent.
	GetBySignature(ctx context.Context, workspaceID, signature string) (*domain.FailurePattern, error)

	// GetByID retrieves a pattern by primary key.
	// Returns ErrPatternNotFound if absent.
	GetByID(ctx context.Context, id string) (*domain.FailurePattern, error)

	// RecordMatch increments occurrence_count, stamps last_detected_at and
	// stores the recomputed confidence and transient hint in one atomic
	// update.
	RecordMatch(ctx context.Context, id string, lastDetectedAt time.Time, confidence float64, isTransient bool) error

	// ResetConfidence clears the confidence floor for a pattern.
	ResetConfidence(ctx context.Context, id string, confidence float64) error

	// ListByWorkspace returns all patterns for a workspace, most recent first.
	ListByWorkspace(ctx context.Context, workspaceID string) ([]*domain.FailurePattern, error)

	// Count returns the number of known patterns for a workspace.
	Count(ctx context.Context, workspaceID string) (int, error)
}

// AttemptRepository stores recovery attempts. Only the orchestrator
// writes attempts.
type AttemptRepository interface {
	// Create inserts a new attempt. Returns ErrDuplicateAttempt if the
	// (task_id, attempt_number) pair already exists.
	Create(ctx context.Context, a *domain.RecoveryAttempt) error

	// Update persists attempt mutations. Returns ErrAttemptNotFound if
	// absent.
	Update(ctx context.Context, a *domain.RecoveryAttempt) error

	// GetByID retrieves one attempt.
	GetByID(ctx context.Context, id string) (*domain.RecoveryAttempt, error)

	// GetLatestByTask retrieves the attempt with the highest attempt_number
	// for a task, or nil if the task has none.
	GetLatestByTask(ctx context.Context, taskID string) (*domain.RecoveryAttempt, error)

	// ListByTask returns all attempts for a task ordered by attempt_number.
	ListByTask(ctx context.Context, taskID string) ([]*domain.RecoveryAttempt, error)

	// ListEligibleRetrying returns parked attempts whose backoff delay has
	// elapsed at now, oldest-eligible-first, at most limit rows.
	ListEligibleRetrying(ctx context.Context, now time.Time, limit int) ([]*domain.RecoveryAttempt, error)

	// ListStuckInFlight returns attempts that started before the cutoff and
	// are still pending, analyzing or executing.
	ListStuckInFlight(ctx context.Context, cutoff time.Time) ([]*domain.RecoveryAttempt, error)

	// CountActive returns the number of in-flight attempts across all tasks.
	CountActive(ctx context.Context) (int, error)
}

// TerminalWriter persists a terminal attempt transition, its explanation and
// the workspace rollup increments as one atomic write, so the audit trail and
// counters can never drift from the attempt row.
type TerminalWriter interface {
	RecordTerminal(ctx context.Context, a *domain.RecoveryAttempt, e *domain.RecoveryExplanation, at time.Time) error
}

// ExplanationRepository stores the append-only audit trail
type ExplanationRepository interface {
	// Create inserts an explanation. Explanations are never updated.
	Create(ctx context.Context, e *domain.RecoveryExplanation) error

	// GetByAttempt retrieves the explanation for an attempt, or nil.
	GetByAttempt(ctx context.Context, attemptID string) (*domain.RecoveryExplanation, error)

	// ListByTask returns all explanations for a task, newest first.
	ListByTask(ctx context.Context, taskID string) ([]*domain.RecoveryExplanation, error)
}

// WorkspaceMetricsRepository stores per-workspace rollups
type WorkspaceMetricsRepository interface {
	// RecordAttempt applies commutative increments for one terminal attempt.
	RecordAttempt(ctx context.Context, workspaceID string, success bool, at time.Time) error

	// TouchLastCheck stamps last_recovery_check_at for a workspace.
	TouchLastCheck(ctx context.Context, workspaceID string, at time.Time) error

	// Get retrieves the rollup for a workspace (zero value if absent).
	Get(ctx context.Context, workspaceID string) (*domain.WorkspaceRecoveryMetrics, error)
}
