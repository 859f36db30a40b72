package domain

import "time"

// FailureEvent is pushed by the execution runtime when a task fails
type FailureEvent struct {
	WorkspaceID    string         `json:"workspace_id"`
	TaskID         string         `json:"task_id"`
	AgentID        string         `json:"agent_id,omitempty"`
	ErrorMessage   string         `json:"error_message"`
	FailureType    FailureType    `json:"failure_type"`
	ExecutionStage ExecutionStage `json:"execution_stage"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

type FailureType string

const (
	FailureTypeTimeout               FailureType = "timeout"
	FailureTypeValidationError       FailureType = "validation_error"
	FailureTypeDependencyUnavailable FailureType = "dependency_unavailable"
	FailureTypeAgentError            FailureType = "agent_error"
	FailureTypeUnknown               FailureType = "unknown"
)

// Transient reports whether this failure type is retryable by nature.
// Deduplication alone never implies permanence; the matcher combines this
// with the occurrence ceiling.
func (t FailureType) Transient() bool {
	return t == FailureTypeTimeout || t == FailureTypeDependencyUnavailable
}

// Valid reports whether t is one of the known failure types.
func (t FailureType) Valid() bool {
	switch t {
	case FailureTypeTimeout, FailureTypeValidationError,
		FailureTypeDependencyUnavailable, FailureTypeAgentError, FailureTypeUnknown:
		return true
	}
	return false
}

// ExecutionStage identifies where in the task pipeline the failure happened
// (e.g. "planning", "tool_call", "validation").
type ExecutionStage string
