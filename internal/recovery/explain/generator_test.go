package explain

import (
	"strings"
	"testing"
	"time"

	"github.com/vietddude/mender/internal/core/domain"
)

func terminalAttempt(status domain.AttemptStatus, success bool) *domain.RecoveryAttempt {
	completed := time.Now()
	return &domain.RecoveryAttempt{
		ID:            "attempt-1",
		TaskID:        "task-1",
		WorkspaceID:   "ws-1",
		AttemptNumber: 3,
		Strategy:      domain.StrategyRetryDifferentAgent,
		TriggeredBy:   domain.TriggerImmediate,
		StartedAt:     completed.Add(-time.Minute),
		CompletedAt:   &completed,
		Status:        status,
		Success:       &success,
		Confidence:    0.85,
		Reasoning:     "transient timeout pattern",
	}
}

func timeoutPattern(count int, transient bool) *domain.FailurePattern {
	return &domain.FailurePattern{
		ID:              "pat-1",
		Signature:       "sig-1",
		FailureType:     domain.FailureTypeTimeout,
		OccurrenceCount: count,
		FirstDetectedAt: time.Now().Add(-time.Hour),
		LastDetectedAt:  time.Now(),
		IsTransient:     transient,
		ConfidenceScore: 0.6,
		ExecutionStage:  "tool_call",
	}
}

// =============================================================================
// Explanation Content Tests
// =============================================================================

func TestExplain_SucceededAttempt(t *testing.T) {
	g := NewGenerator()
	e := g.Explain(terminalAttempt(domain.AttemptStatusSucceeded, true), timeoutPattern(4, true))

	if e.TaskID != "task-1" || e.AttemptID != "attempt-1" {
		t.Errorf("wrong linkage: %+v", e)
	}
	if e.Severity != domain.SeverityLow {
		t.Errorf("success is low severity, got %s", e.Severity)
	}
	if e.UserActionRequired != "" {
		t.Error("successful recovery needs no user action")
	}
	if e.DisplayCategory != "Timeouts" {
		t.Errorf("expected Timeouts category, got %s", e.DisplayCategory)
	}
	if !strings.Contains(e.RetryDecision, "transient timeout pattern") {
		t.Error("retry decision must surface the selection reasoning")
	}
}

func TestExplain_ExhaustedSeverity(t *testing.T) {
	g := NewGenerator()

	e := g.Explain(terminalAttempt(domain.AttemptStatusExhausted, false), timeoutPattern(2, true))
	if e.Severity != domain.SeverityHigh {
		t.Errorf("exhaustion is high severity, got %s", e.Severity)
	}
	if e.UserActionRequired == "" {
		t.Error("exhaustion must name the required user action")
	}

	e = g.Explain(terminalAttempt(domain.AttemptStatusExhausted, false), &domain.FailurePattern{
		FailureType:     domain.FailureTypeValidationError,
		OccurrenceCount: 7,
		IsTransient:     false,
	})
	if e.Severity != domain.SeverityCritical {
		t.Errorf("persistent heavily-repeated exhaustion is critical, got %s", e.Severity)
	}
}

func TestExplain_AbandonedAttempt(t *testing.T) {
	g := NewGenerator()
	e := g.Explain(terminalAttempt(domain.AttemptStatusAbandoned, false), nil)

	if e.Severity != domain.SeverityMedium {
		t.Errorf("abandonment is medium severity, got %s", e.Severity)
	}
	if e.UserActionRequired == "" {
		t.Error("abandonment must be surfaced to the user")
	}
	if e.DisplayCategory != "Other" {
		t.Errorf("no pattern means Other, got %s", e.DisplayCategory)
	}
}

func TestExplain_NilPattern(t *testing.T) {
	g := NewGenerator()
	e := g.Explain(terminalAttempt(domain.AttemptStatusSucceeded, true), nil)

	if e.RootCause == "" || e.FailureSummary == "" || e.ConfidenceExplanation == "" {
		t.Error("all narrative fields must be populated without a pattern")
	}
}

// =============================================================================
// Fallback Tests
// =============================================================================

func TestExplain_PanicFallsBackToTemplate(t *testing.T) {
	g := NewGenerator()
	calls := 0
	g.now = func() time.Time {
		calls++
		if calls == 1 {
			panic("clock unavailable")
		}
		return time.Now()
	}

	e := g.Explain(terminalAttempt(domain.AttemptStatusSucceeded, true), timeoutPattern(2, true))
	if e == nil {
		t.Fatal("fallback explanation missing")
	}
	if e.GenerationConfidence >= 0.9 {
		t.Error("fallback must report reduced generation confidence")
	}
	if e.FailureSummary == "" || e.RetryDecision == "" {
		t.Error("fallback must still populate guaranteed fields")
	}
}
