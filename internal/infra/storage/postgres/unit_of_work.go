package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vietddude/mender/internal/core/domain"
)

// TerminalWriter implements storage.TerminalWriter: the attempt's terminal
// state, its explanation and the workspace rollup land in one transaction, so
// a crash between writes can never leave a terminal attempt without its audit
// record.
type TerminalWriter struct {
	db *DB
}

// NewTerminalWriter creates a transactional terminal-transition writer.
func NewTerminalWriter(db *DB) *TerminalWriter {
	return &TerminalWriter{db: db}
}

// RecordTerminal persists a terminal transition atomically.
func (w *TerminalWriter) RecordTerminal(ctx context.Context, a *domain.RecoveryAttempt, e *domain.RecoveryExplanation, at time.Time) error {
	tx, err := w.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := updateAttempt(ctx, tx, a); err != nil {
		return err
	}
	if e != nil {
		if err := createExplanation(ctx, tx, e); err != nil {
			return err
		}
	}
	success := a.Success != nil && *a.Success
	if err := recordWorkspaceAttempt(ctx, tx, a.WorkspaceID, success, at); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit terminal transition: %w", err)
	}
	return nil
}
