package pattern

import (
	"testing"

	"github.com/vietddude/mender/internal/core/domain"
)

// =============================================================================
// Normalize Tests
// =============================================================================

func TestNormalize_VolatileTokens(t *testing.T) {
	a := Normalize("Timeout calling agent 550e8400-e29b-41d4-a716-446655440000 after 30s")
	b := Normalize("Timeout calling agent 123e4567-e89b-12d3-a456-426614174000 after 45s")
	if a != b {
		t.Errorf("expected identical normalization, got %q vs %q", a, b)
	}
}

func TestNormalize_UnitSuffixedNumbers(t *testing.T) {
	a := Normalize("upstream returned code500x after 2 retries")
	b := Normalize("upstream returned code404x after 9 retries")
	if a != b {
		t.Errorf("expected identical normalization, got %q vs %q", a, b)
	}
}

func TestNormalize_Timestamps(t *testing.T) {
	a := Normalize("deadline exceeded at 2026-08-30T10:15:00Z")
	b := Normalize("deadline exceeded at 2026-08-30 23:59:59.123+07:00")
	if a != b {
		t.Errorf("expected identical normalization, got %q vs %q", a, b)
	}
}

func TestNormalize_QuotedAndNumbers(t *testing.T) {
	a := Normalize(`validation failed for field "user_email" (code 422)`)
	b := Normalize(`validation failed for field "billing_address" (code 400)`)
	if a != b {
		t.Errorf("expected identical normalization, got %q vs %q", a, b)
	}
}

func TestNormalize_CaseAndWhitespace(t *testing.T) {
	a := Normalize("Connection   Refused")
	b := Normalize("connection refused")
	if a != b {
		t.Errorf("expected identical normalization, got %q vs %q", a, b)
	}
}

func TestNormalize_Empty(t *testing.T) {
	if got := Normalize("   "); got != "unknown" {
		t.Errorf("expected unknown bucket, got %q", got)
	}
}

// =============================================================================
// Signature Tests
// =============================================================================

func TestSignature_Deterministic(t *testing.T) {
	s1 := Signature("connection refused", domain.FailureTypeTimeout, "tool_call")
	s2 := Signature("connection refused", domain.FailureTypeTimeout, "tool_call")
	if s1 != s2 {
		t.Error("same inputs must produce the same signature")
	}
}

func TestSignature_DiscriminatesTypeAndStage(t *testing.T) {
	base := Signature("connection refused", domain.FailureTypeTimeout, "tool_call")
	if Signature("connection refused", domain.FailureTypeAgentError, "tool_call") == base {
		t.Error("failure type must contribute to the signature")
	}
	if Signature("connection refused", domain.FailureTypeTimeout, "planning") == base {
		t.Error("execution stage must contribute to the signature")
	}
}
