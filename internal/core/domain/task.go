package domain

import "time"

// OperationalStatus is the closed status set for tasks and workspaces.
// There is deliberately no "needs_intervention" value: exhausted recovery
// degrades a workspace, it never strands it.
type OperationalStatus string

const (
	StatusActive         OperationalStatus = "active"
	StatusAutoRecovering OperationalStatus = "auto_recovering"
	StatusDegradedMode   OperationalStatus = "degraded_mode"
)

// TaskContext is the task snapshot served by the execution runtime
type TaskContext struct {
	TaskID              string            `json:"task_id"`
	Status              OperationalStatus `json:"status"`
	RecoveryCount       int               `json:"recovery_count"`
	AutoRecoveryEnabled bool              `json:"auto_recovery_enabled"`
	LastFailureType     FailureType       `json:"last_failure_type"`
	HighComplexity      bool              `json:"high_complexity"`
	ContextLost         bool              `json:"context_lost"`
}

// TaskStatusUpdate is pushed back to the execution runtime after a transition
type TaskStatusUpdate struct {
	TaskID                string            `json:"task_id"`
	Status                OperationalStatus `json:"status"`
	RecoveryCount         int               `json:"recovery_count"`
	LastFailureType       FailureType       `json:"last_failure_type"`
	LastRecoveryAttemptAt time.Time         `json:"last_recovery_attempt_at"`
}

// StrategyOutcome is the runtime's report for one strategy execution
type StrategyOutcome struct {
	Success      bool        `json:"success"`
	Outcome      string      `json:"outcome,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	FailureType  FailureType `json:"failure_type,omitempty"`
}
