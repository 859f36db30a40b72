package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/mender/internal/core/domain"
)

// MetricsRepo implements storage.WorkspaceMetricsRepository using PostgreSQL.
// All writes are upsert-increments so concurrent terminal transitions from
// different tasks in the same workspace commute.
type MetricsRepo struct {
	db *DB
}

// NewMetricsRepo creates a new PostgreSQL workspace metrics repository.
func NewMetricsRepo(db *DB) *MetricsRepo {
	return &MetricsRepo{db: db}
}

// RecordAttempt applies the increments for one terminal attempt.
func (r *MetricsRepo) RecordAttempt(ctx context.Context, workspaceID string, success bool, at time.Time) error {
	return recordWorkspaceAttempt(ctx, r.db, workspaceID, success, at)
}

func recordWorkspaceAttempt(ctx context.Context, ex execer, workspaceID string, success bool, at time.Time) error {
	successInc := 0
	if success {
		successInc = 1
	}
	query := `
		INSERT INTO workspace_recovery_metrics (workspace_id, total_recovery_attempts, successful_recoveries, last_recovery_check_at)
		VALUES ($1, 1, $2, $3)
		ON CONFLICT (workspace_id) DO UPDATE
		SET total_recovery_attempts = workspace_recovery_metrics.total_recovery_attempts + 1,
		    successful_recoveries = workspace_recovery_metrics.successful_recoveries + $2,
		    last_recovery_check_at = $3
	`
	if _, err := ex.ExecContext(ctx, query, workspaceID, successInc, at); err != nil {
		return fmt.Errorf("failed to record workspace attempt: %w", err)
	}
	return nil
}

// TouchLastCheck stamps last_recovery_check_at for a workspace.
func (r *MetricsRepo) TouchLastCheck(ctx context.Context, workspaceID string, at time.Time) error {
	query := `
		INSERT INTO workspace_recovery_metrics (workspace_id, total_recovery_attempts, successful_recoveries, last_recovery_check_at)
		VALUES ($1, 0, 0, $2)
		ON CONFLICT (workspace_id) DO UPDATE
		SET last_recovery_check_at = $2
	`
	if _, err := r.db.ExecContext(ctx, query, workspaceID, at); err != nil {
		return fmt.Errorf("failed to touch workspace metrics: %w", err)
	}
	return nil
}

// Get retrieves the rollup for a workspace.
func (r *MetricsRepo) Get(ctx context.Context, workspaceID string) (*domain.WorkspaceRecoveryMetrics, error) {
	query := `
		SELECT workspace_id, total_recovery_attempts, successful_recoveries, last_recovery_check_at
		FROM workspace_recovery_metrics
		WHERE workspace_id = $1
	`
	var row struct {
		WorkspaceID          string    `db:"workspace_id"`
		TotalAttempts        int64     `db:"total_recovery_attempts"`
		SuccessfulRecoveries int64     `db:"successful_recoveries"`
		LastRecoveryCheckAt  time.Time `db:"last_recovery_check_at"`
	}
	err := r.db.GetContext(ctx, &row, query, workspaceID)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.WorkspaceRecoveryMetrics{WorkspaceID: workspaceID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace metrics: %w", err)
	}
	return &domain.WorkspaceRecoveryMetrics{
		WorkspaceID:          row.WorkspaceID,
		TotalAttempts:        row.TotalAttempts,
		SuccessfulRecoveries: row.SuccessfulRecoveries,
		LastRecoveryCheckAt:  row.LastRecoveryCheckAt,
	}, nil
}
