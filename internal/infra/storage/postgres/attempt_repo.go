package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/mender/internal/core/domain"
	"github.com/vietddude/mender/internal/infra/storage"
)

// AttemptRepo implements storage.AttemptRepository using PostgreSQL.
type AttemptRepo struct {
	db *DB
}

// NewAttemptRepo creates a new PostgreSQL attempt repository.
func NewAttemptRepo(db *DB) *AttemptRepo {
	return &AttemptRepo{db: db}
}

type attemptRow struct {
	ID             string         `db:"id"`
	TaskID         string         `db:"task_id"`
	WorkspaceID    string         `db:"workspace_id"`
	PatternID      sql.NullString `db:"failure_pattern_id"`
	Strategy       string         `db:"recovery_strategy"`
	AttemptNumber  int            `db:"attempt_number"`
	TriggeredBy    string         `db:"triggered_by"`
	StartedAt      time.Time      `db:"started_at"`
	CompletedAt    sql.NullTime   `db:"completed_at"`
	Status         string         `db:"status"`
	Success        sql.NullBool   `db:"success"`
	Outcome        string         `db:"recovery_outcome"`
	ErrorMessage   string         `db:"error_message"`
	Confidence     float64        `db:"confidence_score"`
	Reasoning      string         `db:"ai_reasoning"`
	EstimatedMS    int64          `db:"estimated_resolution_ms"`
	ActualMS       int64          `db:"actual_resolution_ms"`
	NextRetryAt    sql.NullTime   `db:"next_retry_at"`
	ExecutionStage string         `db:"execution_stage"`
}

func (r attemptRow) toDomain() *domain.RecoveryAttempt {
	a := &domain.RecoveryAttempt{
		ID:             r.ID,
		TaskID:         r.TaskID,
		WorkspaceID:    r.WorkspaceID,
		Strategy:       domain.Strategy(r.Strategy),
		AttemptNumber:  r.AttemptNumber,
		TriggeredBy:    domain.Trigger(r.TriggeredBy),
		StartedAt:      r.StartedAt,
		Status:         domain.AttemptStatus(r.Status),
		Outcome:        r.Outcome,
		ErrorMessage:   r.ErrorMessage,
		Confidence:     r.Confidence,
		Reasoning:      r.Reasoning,
		EstimatedTime:  time.Duration(r.EstimatedMS) * time.Millisecond,
		ActualTime:     time.Duration(r.ActualMS) * time.Millisecond,
		ExecutionStage: domain.ExecutionStage(r.ExecutionStage),
	}
	if r.PatternID.Valid {
		a.PatternID = r.PatternID.String
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		a.CompletedAt = &t
	}
	if r.Success.Valid {
		s := r.Success.Bool
		a.Success = &s
	}
	if r.NextRetryAt.Valid {
		t := r.NextRetryAt.Time
		a.NextRetryAt = &t
	}
	return a
}

func attemptArgs(a *domain.RecoveryAttempt) []any {
	var patternID sql.NullString
	if a.PatternID != "" {
		patternID = sql.NullString{String: a.PatternID, Valid: true}
	}
	var completedAt, nextRetryAt sql.NullTime
	if a.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *a.CompletedAt, Valid: true}
	}
	if a.NextRetryAt != nil {
		nextRetryAt = sql.NullTime{Time: *a.NextRetryAt, Valid: true}
	}
	var success sql.NullBool
	if a.Success != nil {
		success = sql.NullBool{Bool: *a.Success, Valid: true}
	}
	return []any{
		a.ID, a.TaskID, a.WorkspaceID, patternID, string(a.Strategy),
		a.AttemptNumber, string(a.TriggeredBy), a.StartedAt, completedAt,
		string(a.Status), success, a.Outcome, a.ErrorMessage, a.Confidence,
		a.Reasoning, a.EstimatedTime.Milliseconds(), a.ActualTime.Milliseconds(),
		nextRetryAt, string(a.ExecutionStage),
	}
}

const attemptColumns = `id, task_id, workspace_id, failure_pattern_id, recovery_strategy,
		attempt_number, triggered_by, started_at, completed_at, status, success,
		recovery_outcome, error_message, confidence_score, ai_reasoning,
		estimated_resolution_ms, actual_resolution_ms, next_retry_at, execution_stage`

// Create inserts a new attempt. The (task_id, attempt_number) unique
// constraint keeps the sequence gapless under concurrent creation.
func (r *AttemptRepo) Create(ctx context.Context, a *domain.RecoveryAttempt) error {
	query := `
		INSERT INTO recovery_attempts (` + attemptColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`
	_, err := r.db.ExecContext(ctx, query, attemptArgs(a)...)
	if isUniqueViolation(err) {
		return storage.ErrDuplicateAttempt
	}
	if err != nil {
		return fmt.Errorf("failed to create attempt: %w", err)
	}
	return nil
}

// Update persists attempt mutations.
func (r *AttemptRepo) Update(ctx context.Context, a *domain.RecoveryAttempt) error {
	return updateAttempt(ctx, r.db, a)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func updateAttempt(ctx context.Context, ex execer, a *domain.RecoveryAttempt) error {
	query := `
		UPDATE recovery_attempts
		SET failure_pattern_id = $4, recovery_strategy = $5, attempt_number = $6,
		    triggered_by = $7, started_at = $8, completed_at = $9, status = $10,
		    success = $11, recovery_outcome = $12, error_message = $13,
		    confidence_score = $14, ai_reasoning = $15, estimated_resolution_ms = $16,
		    actual_resolution_ms = $17, next_retry_at = $18, execution_stage = $19
		WHERE id = $1 AND task_id = $2 AND workspace_id = $3
	`
	res, err := ex.ExecContext(ctx, query, attemptArgs(a)...)
	if err != nil {
		return fmt.Errorf("failed to update attempt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrAttemptNotFound
	}
	return nil
}

// GetByID retrieves one attempt.
func (r *AttemptRepo) GetByID(ctx context.Context, id string) (*domain.RecoveryAttempt, error) {
	query := `
		SELECT ` + attemptColumns + `
		FROM recovery_attempts
		WHERE id = $1
	`
	var row attemptRow
	err := r.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	return row.toDomain(), nil
}

// GetLatestByTask retrieves the highest-numbered attempt for a task.
func (r *AttemptRepo) GetLatestByTask(ctx context.Context, taskID string) (*domain.RecoveryAttempt, error) {
	query := `
		SELECT ` + attemptColumns + `
		FROM recovery_attempts
		WHERE task_id = $1
		ORDER BY attempt_number DESC
		LIMIT 1
	`
	var row attemptRow
	err := r.db.GetContext(ctx, &row, query, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest attempt: %w", err)
	}
	return row.toDomain(), nil
}

// ListByTask returns all attempts for a task ordered by attempt_number.
func (r *AttemptRepo) ListByTask(ctx context.Context, taskID string) ([]*domain.RecoveryAttempt, error) {
	query := `
		SELECT ` + attemptColumns + `
		FROM recovery_attempts
		WHERE task_id = $1
		ORDER BY attempt_number ASC
	`
	var rows []attemptRow
	if err := r.db.SelectContext(ctx, &rows, query, taskID); err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}

	attempts := make([]*domain.RecoveryAttempt, 0, len(rows))
	for _, row := range rows {
		attempts = append(attempts, row.toDomain())
	}
	return attempts, nil
}

// ListEligibleRetrying returns parked attempts whose cooldown has elapsed,
// oldest-eligible-first. Only the latest attempt per task qualifies; earlier
// retrying rows are history that already has a successor.
func (r *AttemptRepo) ListEligibleRetrying(ctx context.Context, now time.Time, limit int) ([]*domain.RecoveryAttempt, error) {
	query := `
		SELECT ` + attemptColumns + `
		FROM recovery_attempts ra
		WHERE status = 'retrying'
		  AND completed_at IS NULL
		  AND next_retry_at IS NOT NULL
		  AND next_retry_at <= $1
		  AND attempt_number = (
		      SELECT MAX(attempt_number) FROM recovery_attempts WHERE task_id = ra.task_id
		  )
		ORDER BY next_retry_at ASC
		LIMIT $2
	`
	var rows []attemptRow
	if err := r.db.SelectContext(ctx, &rows, query, now, limit); err != nil {
		return nil, fmt.Errorf("failed to list eligible attempts: %w", err)
	}

	attempts := make([]*domain.RecoveryAttempt, 0, len(rows))
	for _, row := range rows {
		attempts = append(attempts, row.toDomain())
	}
	return attempts, nil
}

// ListStuckInFlight returns attempts stuck in flight since before cutoff.
func (r *AttemptRepo) ListStuckInFlight(ctx context.Context, cutoff time.Time) ([]*domain.RecoveryAttempt, error) {
	query := `
		SELECT ` + attemptColumns + `
		FROM recovery_attempts
		WHERE status IN ('pending', 'analyzing', 'executing')
		  AND completed_at IS NULL
		  AND started_at < $1
		ORDER BY started_at ASC
	`
	var rows []attemptRow
	if err := r.db.SelectContext(ctx, &rows, query, cutoff); err != nil {
		return nil, fmt.Errorf("failed to list stuck attempts: %w", err)
	}

	attempts := make([]*domain.RecoveryAttempt, 0, len(rows))
	for _, row := range rows {
		attempts = append(attempts, row.toDomain())
	}
	return attempts, nil
}

// CountActive returns the number of in-flight attempts.
func (r *AttemptRepo) CountActive(ctx context.Context) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM recovery_attempts
		WHERE status IN ('pending', 'analyzing', 'executing')
	`
	var count int
	if err := r.db.GetContext(ctx, &count, query); err != nil {
		return 0, fmt.Errorf("failed to count active attempts: %w", err)
	}
	return count, nil
}
