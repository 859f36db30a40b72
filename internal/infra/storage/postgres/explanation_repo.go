package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/mender/internal/core/domain"
)

// ExplanationRepo implements storage.ExplanationRepository using PostgreSQL.
// The table is append-only; there is no update path.
type ExplanationRepo struct {
	db *DB
}

// NewExplanationRepo creates a new PostgreSQL explanation repository.
func NewExplanationRepo(db *DB) *ExplanationRepo {
	return &ExplanationRepo{db: db}
}

type explanationRow struct {
	ID                    string         `db:"id"`
	TaskID                string         `db:"task_id"`
	AttemptID             string         `db:"recovery_attempt_id"`
	FailureSummary        string         `db:"failure_summary"`
	RootCause             string         `db:"root_cause"`
	RetryDecision         string         `db:"retry_decision"`
	ConfidenceExplanation string         `db:"confidence_explanation"`
	UserActionRequired    sql.NullString `db:"user_action_required"`
	Severity              string         `db:"severity_level"`
	DisplayCategory       string         `db:"display_category"`
	TechnicalDetails      string         `db:"technical_details"`
	AIAnalysisUsed        bool           `db:"ai_analysis_used"`
	GenerationConfidence  float64        `db:"generation_confidence"`
	CreatedAt             time.Time      `db:"created_at"`
}

func (r explanationRow) toDomain() *domain.RecoveryExplanation {
	e := &domain.RecoveryExplanation{
		ID:                    r.ID,
		TaskID:                r.TaskID,
		AttemptID:             r.AttemptID,
		FailureSummary:        r.FailureSummary,
		RootCause:             r.RootCause,
		RetryDecision:         r.RetryDecision,
		ConfidenceExplanation: r.ConfidenceExplanation,
		Severity:              domain.Severity(r.Severity),
		DisplayCategory:       r.DisplayCategory,
		TechnicalDetails:      r.TechnicalDetails,
		AIAnalysisUsed:        r.AIAnalysisUsed,
		GenerationConfidence:  r.GenerationConfidence,
		CreatedAt:             r.CreatedAt,
	}
	if r.UserActionRequired.Valid {
		e.UserActionRequired = r.UserActionRequired.String
	}
	return e
}

const explanationColumns = `id, task_id, recovery_attempt_id, failure_summary, root_cause,
		retry_decision, confidence_explanation, user_action_required, severity_level,
		display_category, technical_details, ai_analysis_used, generation_confidence, created_at`

// Create inserts an explanation.
func (r *ExplanationRepo) Create(ctx context.Context, e *domain.RecoveryExplanation) error {
	return createExplanation(ctx, r.db, e)
}

func createExplanation(ctx context.Context, ex execer, e *domain.RecoveryExplanation) error {
	var userAction sql.NullString
	if e.UserActionRequired != "" {
		userAction = sql.NullString{String: e.UserActionRequired, Valid: true}
	}

	query := `
		INSERT INTO recovery_explanations (` + explanationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := ex.ExecContext(ctx, query,
		e.ID, e.TaskID, e.AttemptID, e.FailureSummary, e.RootCause,
		e.RetryDecision, e.ConfidenceExplanation, userAction, string(e.Severity),
		e.DisplayCategory, e.TechnicalDetails, e.AIAnalysisUsed, e.GenerationConfidence, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create explanation: %w", err)
	}
	return nil
}

// GetByAttempt retrieves the explanation for an attempt, or nil.
func (r *ExplanationRepo) GetByAttempt(ctx context.Context, attemptID string) (*domain.RecoveryExplanation, error) {
	query := `
		SELECT ` + explanationColumns + `
		FROM recovery_explanations
		WHERE recovery_attempt_id = $1
	`
	var row explanationRow
	err := r.db.GetContext(ctx, &row, query, attemptID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get explanation: %w", err)
	}
	return row.toDomain(), nil
}

// ListByTask returns all explanations for a task, newest first.
func (r *ExplanationRepo) ListByTask(ctx context.Context, taskID string) ([]*domain.RecoveryExplanation, error) {
	query := `
		SELECT ` + explanationColumns + `
		FROM recovery_explanations
		WHERE task_id = $1
		ORDER BY created_at DESC
	`
	var rows []explanationRow
	if err := r.db.SelectContext(ctx, &rows, query, taskID); err != nil {
		return nil, fmt.Errorf("failed to list explanations: %w", err)
	}

	explanations := make([]*domain.RecoveryExplanation, 0, len(rows))
	for _, row := range rows {
		explanations = append(explanations, row.toDomain())
	}
	return explanations, nil
}
