package explain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/mender/internal/core/domain"
)

// Generator turns terminal recovery attempts into human-readable audit
// records. Explain is a pure projection of the attempt plus its matched
// pattern; it must never fail or block the orchestrator.
type Generator struct {
	now func() time.Time
}

// NewGenerator creates an explanation generator.
func NewGenerator() *Generator {
	return &Generator{now: time.Now}
}

// Explain builds the explanation for a terminal attempt. If full generation
// panics it degrades to a template of guaranteed-present fields rather than
// surfacing an error.
func (g *Generator) Explain(attempt *domain.RecoveryAttempt, pattern *domain.FailurePattern) (e *domain.RecoveryExplanation) {
	defer func() {
		if r := recover(); r != nil {
			e = g.fallback(attempt)
		}
	}()
	return g.build(attempt, pattern)
}

func (g *Generator) build(attempt *domain.RecoveryAttempt, pattern *domain.FailurePattern) *domain.RecoveryExplanation {
	succeeded := attempt.Success != nil && *attempt.Success

	explanation := &domain.RecoveryExplanation{
		ID:                    uuid.New().String(),
		TaskID:                attempt.TaskID,
		AttemptID:             attempt.ID,
		FailureSummary:        failureSummary(attempt, pattern),
		RootCause:             rootCause(pattern),
		RetryDecision:         retryDecision(attempt),
		ConfidenceExplanation: confidenceExplanation(attempt, pattern),
		Severity:              severity(attempt, pattern),
		DisplayCategory:       displayCategory(pattern),
		TechnicalDetails:      technicalDetails(attempt, pattern),
		AIAnalysisUsed:        false,
		GenerationConfidence:  0.9,
		CreatedAt:             g.now(),
	}

	if attempt.Status == domain.AttemptStatusExhausted {
		explanation.UserActionRequired = fmt.Sprintf(
			"Automatic recovery for task %s is exhausted after %d attempts; the workspace continues in degraded mode. Review the task and re-enable it manually.",
			attempt.TaskID, attempt.AttemptNumber)
	}
	if !succeeded && attempt.Status == domain.AttemptStatusAbandoned {
		explanation.UserActionRequired = fmt.Sprintf(
			"Recovery for task %s was cancelled externally before completion.", attempt.TaskID)
	}

	return explanation
}

// fallback uses only fields every attempt is guaranteed to carry.
func (g *Generator) fallback(attempt *domain.RecoveryAttempt) *domain.RecoveryExplanation {
	succeeded := attempt.Success != nil && *attempt.Success
	outcome := "did not succeed"
	if succeeded {
		outcome = "succeeded"
	}
	return &domain.RecoveryExplanation{
		ID:                    uuid.New().String(),
		TaskID:                attempt.TaskID,
		AttemptID:             attempt.ID,
		FailureSummary:        fmt.Sprintf("Recovery attempt %d for task %s %s.", attempt.AttemptNumber, attempt.TaskID, outcome),
		RootCause:             "Root cause analysis unavailable.",
		RetryDecision:         fmt.Sprintf("Strategy %s was applied.", attempt.Strategy),
		ConfidenceExplanation: "Confidence details unavailable.",
		Severity:              domain.SeverityMedium,
		DisplayCategory:       "Other",
		TechnicalDetails:      fmt.Sprintf("attempt=%d status=%s strategy=%s", attempt.AttemptNumber, attempt.Status, attempt.Strategy),
		AIAnalysisUsed:        false,
		GenerationConfidence:  0.4,
		CreatedAt:             g.now(),
	}
}

func failureSummary(attempt *domain.RecoveryAttempt, pattern *domain.FailurePattern) string {
	if pattern == nil {
		return fmt.Sprintf("Task %s failed and was handled by strategy %s on attempt %d.",
			attempt.TaskID, attempt.Strategy, attempt.AttemptNumber)
	}
	stage := string(pattern.ExecutionStage)
	if stage == "" {
		stage = "an unknown stage"
	}
	return fmt.Sprintf("Task %s hit a %s failure during %s; attempt %d applied strategy %s.",
		attempt.TaskID, pattern.FailureType, stage, attempt.AttemptNumber, attempt.Strategy)
}

func rootCause(pattern *domain.FailurePattern) string {
	if pattern == nil {
		return "The failure could not be matched against any known pattern."
	}
	if pattern.OccurrenceCount <= 1 {
		return fmt.Sprintf("First observation of a %s failure; no recurrence history exists yet.", pattern.FailureType)
	}
	kind := "persistent"
	if pattern.IsTransient {
		kind = "transient"
	}
	return fmt.Sprintf("Recurring %s %s failure, observed %d times since %s.",
		kind, pattern.FailureType, pattern.OccurrenceCount,
		pattern.FirstDetectedAt.Format(time.RFC3339))
}

func retryDecision(attempt *domain.RecoveryAttempt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Strategy %s was selected", attempt.Strategy)
	if attempt.Reasoning != "" {
		fmt.Fprintf(&b, ": %s", attempt.Reasoning)
	}
	switch attempt.Status {
	case domain.AttemptStatusSucceeded:
		b.WriteString(". The recovery succeeded.")
	case domain.AttemptStatusExhausted:
		b.WriteString(". The attempt budget is now exhausted; no further automatic retries will run.")
	case domain.AttemptStatusAbandoned:
		b.WriteString(". The recovery was cancelled before completion.")
	}
	return b.String()
}

func confidenceExplanation(attempt *domain.RecoveryAttempt, pattern *domain.FailurePattern) string {
	if pattern == nil {
		return fmt.Sprintf("Decision confidence was %.2f with no pattern history to draw on.", attempt.Confidence)
	}
	return fmt.Sprintf("Decision confidence was %.2f; the matched pattern has been seen %d times with pattern confidence %.2f.",
		attempt.Confidence, pattern.OccurrenceCount, pattern.ConfidenceScore)
}

func severity(attempt *domain.RecoveryAttempt, pattern *domain.FailurePattern) domain.Severity {
	switch attempt.Status {
	case domain.AttemptStatusSucceeded:
		return domain.SeverityLow
	case domain.AttemptStatusAbandoned:
		return domain.SeverityMedium
	case domain.AttemptStatusExhausted:
		if pattern != nil && !pattern.IsTransient && pattern.OccurrenceCount >= 5 {
			return domain.SeverityCritical
		}
		return domain.SeverityHigh
	}
	return domain.SeverityMedium
}

func displayCategory(pattern *domain.FailurePattern) string {
	if pattern == nil {
		return "Other"
	}
	switch pattern.FailureType {
	case domain.FailureTypeTimeout:
		return "Timeouts"
	case domain.FailureTypeValidationError:
		return "Validation"
	case domain.FailureTypeDependencyUnavailable:
		return "Dependencies"
	case domain.FailureTypeAgentError:
		return "Agent errors"
	}
	return "Other"
}

func technicalDetails(attempt *domain.RecoveryAttempt, pattern *domain.FailurePattern) string {
	var b strings.Builder
	fmt.Fprintf(&b, "attempt=%d status=%s strategy=%s trigger=%s",
		attempt.AttemptNumber, attempt.Status, attempt.Strategy, attempt.TriggeredBy)
	if attempt.ErrorMessage != "" {
		fmt.Fprintf(&b, " error=%q", attempt.ErrorMessage)
	}
	if pattern != nil {
		fmt.Fprintf(&b, " signature=%s occurrences=%d", pattern.Signature, pattern.OccurrenceCount)
	}
	return b.String()
}
