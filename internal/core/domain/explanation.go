package domain

import "time"

// RecoveryExplanation is the immutable audit projection of one terminal
// attempt. Created exactly once, never edited.
type RecoveryExplanation struct {
	ID                    string    `json:"id"`
	TaskID                string    `json:"task_id"`
	AttemptID             string    `json:"recovery_attempt_id"`
	FailureSummary        string    `json:"failure_summary"`
	RootCause             string    `json:"root_cause"`
	RetryDecision         string    `json:"retry_decision"`
	ConfidenceExplanation string    `json:"confidence_explanation"`
	UserActionRequired    string    `json:"user_action_required,omitempty"`
	Severity              Severity  `json:"severity_level"`
	DisplayCategory       string    `json:"display_category"`
	TechnicalDetails      string    `json:"technical_details"`
	AIAnalysisUsed        bool      `json:"ai_analysis_used"`
	GenerationConfidence  float64   `json:"generation_confidence"`
	CreatedAt             time.Time `json:"created_at"`
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)
