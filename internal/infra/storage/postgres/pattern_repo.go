package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/mender/internal/core/domain"
	"github.com/vietddude/mender/internal/infra/storage"
)

// PatternRepo implements storage.PatternRepository using PostgreSQL.
type PatternRepo struct {
	db *DB
}

// NewPatternRepo creates a new PostgreSQL pattern repository.
func NewPatternRepo(db *DB) *PatternRepo {
	return &PatternRepo{db: db}
}

type patternRow struct {
	ID               string         `db:"id"`
	WorkspaceID      string         `db:"workspace_id"`
	Signature        string         `db:"pattern_signature"`
	FailureType      string         `db:"failure_type"`
	ErrorMessageHash string         `db:"error_message_hash"`
	OccurrenceCount  int            `db:"occurrence_count"`
	FirstDetectedAt  time.Time      `db:"first_detected_at"`
	LastDetectedAt   time.Time      `db:"last_detected_at"`
	IsTransient      bool           `db:"is_transient"`
	ConfidenceScore  float64        `db:"confidence_score"`
	Source           string         `db:"pattern_source"`
	ExecutionStage   string         `db:"execution_stage"`
	ContextMetadata  sql.NullString `db:"context_metadata"`
}

func (r patternRow) toDomain() *domain.FailurePattern {
	p := &domain.FailurePattern{
		ID:               r.ID,
		WorkspaceID:      r.WorkspaceID,
		Signature:        r.Signature,
		FailureType:      domain.FailureType(r.FailureType),
		ErrorMessageHash: r.ErrorMessageHash,
		OccurrenceCount:  r.OccurrenceCount,
		FirstDetectedAt:  r.FirstDetectedAt,
		LastDetectedAt:   r.LastDetectedAt,
		IsTransient:      r.IsTransient,
		ConfidenceScore:  r.ConfidenceScore,
		Source:           domain.PatternSource(r.Source),
		ExecutionStage:   domain.ExecutionStage(r.ExecutionStage),
	}
	if r.ContextMetadata.Valid && r.ContextMetadata.String != "" {
		_ = json.Unmarshal([]byte(r.ContextMetadata.String), &p.ContextMetadata)
	}
	return p
}

const patternColumns = `id, workspace_id, pattern_signature, failure_type, error_message_hash,
		occurrence_count, first_detected_at, last_detected_at, is_transient,
		confidence_score, pattern_source, execution_stage, context_metadata`

// Create inserts a new pattern. The (workspace_id, pattern_signature) unique
// constraint is how concurrent classifications of the same new pattern are
// collapsed; callers retry the lookup on ErrDuplicateSignature.
func (r *PatternRepo) Create(ctx context.Context, p *domain.FailurePattern) error {
	metadata, err := json.Marshal(p.ContextMetadata)
	if err != nil {
		return fmt.Errorf("failed to marshal context metadata: %w", err)
	}

	query := `
		INSERT INTO failure_patterns (` + patternColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = r.db.ExecContext(ctx, query,
		p.ID, p.WorkspaceID, p.Signature, string(p.FailureType), p.ErrorMessageHash,
		p.OccurrenceCount, p.FirstDetectedAt, p.LastDetectedAt, p.IsTransient,
		p.ConfidenceScore, string(p.Source), string(p.ExecutionStage), string(metadata),
	)
	if isUniqueViolation(err) {
		return storage.ErrDuplicateSignature
	}
	if err != nil {
		return fmt.Errorf("failed to create pattern: %w", err)
	}
	return nil
}

// GetByID retrieves a pattern by primary key.
func (r *PatternRepo) GetByID(ctx context.Context, id string) (*domain.FailurePattern, error) {
	query := `
		SELECT ` + patternColumns + `
		FROM failure_patterns
		WHERE id = $1
	`
	var row patternRow
	err := r.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrPatternNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pattern: %w", err)
	}
	return row.toDomain(), nil
}

// GetBySignature retrieves a pattern by its dedup key.
func (r *PatternRepo) GetBySignature(ctx context.Context, workspaceID, signature string) (*domain.FailurePattern, error) {
	query := `
		SELECT ` + patternColumns + `
		FROM failure_patterns
		WHERE workspace_id = $1 AND pattern_signature = $2
	`
	var row patternRow
	err := r.db.GetContext(ctx, &row, query, workspaceID, signature)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrPatternNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pattern: %w", err)
	}
	return row.toDomain(), nil
}

// RecordMatch increments the occurrence counter and stores the recomputed
// confidence in one atomic update.
func (r *PatternRepo) RecordMatch(ctx context.Context, id string, lastDetectedAt time.Time, confidence float64, isTransient bool) error {
	query := `
		UPDATE failure_patterns
		SET occurrence_count = occurrence_count + 1,
		    last_detected_at = $2,
		    confidence_score = $3,
		    is_transient = $4
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, lastDetectedAt, confidence, isTransient)
	if err != nil {
		return fmt.Errorf("failed to record pattern match: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrPatternNotFound
	}
	return nil
}

// ResetConfidence overrides the stored confidence (explicit reset path).
func (r *PatternRepo) ResetConfidence(ctx context.Context, id string, confidence float64) error {
	query := `
		UPDATE failure_patterns
		SET confidence_score = $2
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, confidence)
	if err != nil {
		return fmt.Errorf("failed to reset confidence: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrPatternNotFound
	}
	return nil
}

// ListByWorkspace returns all patterns for a workspace, most recent first.
func (r *PatternRepo) ListByWorkspace(ctx context.Context, workspaceID string) ([]*domain.FailurePattern, error) {
	query := `
		SELECT ` + patternColumns + `
		FROM failure_patterns
		WHERE workspace_id = $1
		ORDER BY last_detected_at DESC
	`
	var rows []patternRow
	if err := r.db.SelectContext(ctx, &rows, query, workspaceID); err != nil {
		return nil, fmt.Errorf("failed to list patterns: %w", err)
	}

	patterns := make([]*domain.FailurePattern, 0, len(rows))
	for _, row := range rows {
		patterns = append(patterns, row.toDomain())
	}
	return patterns, nil
}

// Count returns the number of known patterns for a workspace.
func (r *PatternRepo) Count(ctx context.Context, workspaceID string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM failure_patterns
		WHERE workspace_id = $1
	`
	var count int
	if err := r.db.GetContext(ctx, &count, query, workspaceID); err != nil {
		return 0, fmt.Errorf("failed to count patterns: %w", err)
	}
	return count, nil
}
