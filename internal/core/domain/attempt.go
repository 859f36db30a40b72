package domain

import "time"

// RecoveryAttempt is one execution of a recovery strategy against one task
type RecoveryAttempt struct {
	ID             string         `json:"id"`
	TaskID         string         `json:"task_id"`
	WorkspaceID    string         `json:"workspace_id"`
	PatternID      string         `json:"failure_pattern_id,omitempty"`
	Strategy       Strategy       `json:"recovery_strategy"`
	AttemptNumber  int            `json:"attempt_number"`
	TriggeredBy    Trigger        `json:"triggered_by"`
	StartedAt      time.Time      `json:"started_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	Status         AttemptStatus  `json:"status"`
	Success        *bool          `json:"success,omitempty"`
	Outcome        string         `json:"recovery_outcome,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	Confidence     float64        `json:"confidence_score"`
	Reasoning      string         `json:"ai_reasoning,omitempty"`
	EstimatedTime  time.Duration  `json:"estimated_resolution_time,omitempty"`
	ActualTime     time.Duration  `json:"actual_resolution_time,omitempty"`
	NextRetryAt    *time.Time     `json:"next_retry_at,omitempty"`
	ExecutionStage ExecutionStage `json:"execution_stage,omitempty"`
}

type AttemptStatus string

const (
	AttemptStatusPending   AttemptStatus = "pending"
	AttemptStatusAnalyzing AttemptStatus = "analyzing"
	AttemptStatusExecuting AttemptStatus = "executing"
	AttemptStatusSucceeded AttemptStatus = "succeeded"
	AttemptStatusRetrying  AttemptStatus = "retrying"
	AttemptStatusExhausted AttemptStatus = "exhausted"
	AttemptStatusAbandoned AttemptStatus = "abandoned"
)

// Terminal reports whether the attempt is immutable. Terminal attempts get
// exactly one explanation and are never touched again.
func (s AttemptStatus) Terminal() bool {
	return s == AttemptStatusSucceeded || s == AttemptStatusExhausted || s == AttemptStatusAbandoned
}

// InFlight reports whether the attempt currently owns the task (a strategy
// is being decided on or executed).
func (s AttemptStatus) InFlight() bool {
	return s == AttemptStatusPending || s == AttemptStatusAnalyzing || s == AttemptStatusExecuting
}

// Strategy is one of a closed set of remediation actions. The engine invokes
// strategies through the runtime collaborator and never knows how they are
// implemented.
type Strategy string

const (
	StrategyRetryDifferentAgent   Strategy = "retry_different_agent"
	StrategyDecomposeIntoSubtasks Strategy = "decompose_into_subtasks"
	StrategyAlternativeApproach   Strategy = "alternative_approach"
	StrategyContextReconstruction Strategy = "context_reconstruction"
	StrategySkipWithFallback      Strategy = "skip_with_fallback"
)

type Trigger string

const (
	TriggerImmediate Trigger = "immediate"
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)
