package domain

import "time"

// FailurePattern represents a recurring class of failure within a workspace
type FailurePattern struct {
	ID               string            `json:"id"`
	WorkspaceID      string            `json:"workspace_id"`
	Signature        string            `json:"pattern_signature"`
	FailureType      FailureType       `json:"failure_type"`
	ErrorMessageHash string            `json:"error_message_hash"`
	OccurrenceCount  int               `json:"occurrence_count"`
	FirstDetectedAt  time.Time         `json:"first_detected_at"`
	LastDetectedAt   time.Time         `json:"last_detected_at"`
	IsTransient      bool              `json:"is_transient"`
	ConfidenceScore  float64           `json:"confidence_score"`
	Source           PatternSource     `json:"pattern_source"`
	ExecutionStage   ExecutionStage    `json:"execution_stage"`
	ContextMetadata  map[string]string `json:"context_metadata,omitempty"`
}

type PatternSource string

const (
	PatternSourceDirectMatch PatternSource = "direct_match"
	PatternSourceAIInferred  PatternSource = "ai_inferred"
)
