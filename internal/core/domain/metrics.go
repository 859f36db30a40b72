package domain

import "time"

// WorkspaceRecoveryMetrics is the per-workspace rollup updated on every
// terminal attempt transition. Increments are commutative so concurrent
// terminal transitions from different tasks are safe.
type WorkspaceRecoveryMetrics struct {
	WorkspaceID          string    `json:"workspace_id"`
	TotalAttempts        int64     `json:"total_recovery_attempts"`
	SuccessfulRecoveries int64     `json:"successful_recoveries"`
	LastRecoveryCheckAt  time.Time `json:"last_recovery_check_at"`
}
