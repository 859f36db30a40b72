package pattern

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/vietddude/mender/internal/core/domain"
	"github.com/vietddude/mender/internal/infra/storage"
	"github.com/vietddude/mender/internal/recovery/metrics"
)

const (
	// confidenceFloor is never undercut once a pattern has been seen three
	// times, unless explicitly reset.
	confidenceFloor = 0.5

	initialConfidence = 0.3
	smoothingAlpha    = 0.3
)

// Matcher normalizes incoming failures into signatures and owns all
// FailurePattern mutation.
type Matcher struct {
	patterns storage.PatternRepository

	// transientCeiling is the occurrence count above which a transient
	// failure type is no longer treated as transient.
	transientCeiling int

	now func() time.Time
}

// NewMatcher creates a new pattern matcher.
func NewMatcher(patterns storage.PatternRepository, transientCeiling int) *Matcher {
	return &Matcher{
		patterns:         patterns,
		transientCeiling: transientCeiling,
		now:              time.Now,
	}
}

// Classify resolves a failure event to its pattern, creating one on first
// sight. The returned bool is true when the pattern is new. Malformed input
// falls into the "unknown" bucket instead of failing; only storage errors
// propagate.
func (m *Matcher) Classify(ctx context.Context, event *domain.FailureEvent) (*domain.FailurePattern, bool, error) {
	failureType := event.FailureType
	if !failureType.Valid() {
		failureType = domain.FailureTypeUnknown
	}

	normalized := Normalize(event.ErrorMessage)
	signature := Signature(normalized, failureType, event.ExecutionStage)

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = m.now()
	}

	var (
		matched *domain.FailurePattern
		created bool
	)

	// Lookup-or-create is atomic per (workspace_id, signature): the unique
	// constraint rejects the losing insert and we re-read the winner.
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(50*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		existing, err := m.patterns.GetBySignature(ctx, event.WorkspaceID, signature)
		if err == nil {
			matched, created = m.recordMatch(ctx, existing, occurredAt)
			return nil
		}
		if !errors.Is(err, storage.ErrPatternNotFound) {
			return fmt.Errorf("failed to look up pattern: %w", err)
		}

		candidate := m.newPattern(event, failureType, signature, occurredAt)
		if err := m.patterns.Create(ctx, candidate); err != nil {
			if errors.Is(err, storage.ErrDuplicateSignature) {
				// Lost the race, re-read the winner
				return retry.RetryableError(err)
			}
			return fmt.Errorf("failed to create pattern: %w", err)
		}
		matched, created = candidate, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	metrics.PatternMatches.WithLabelValues(
		event.WorkspaceID, string(failureType), fmt.Sprintf("%t", created),
	).Inc()
	return matched, created, nil
}

// ResetConfidence clears the confidence floor for a pattern.
func (m *Matcher) ResetConfidence(ctx context.Context, patternID string) error {
	return m.patterns.ResetConfidence(ctx, patternID, initialConfidence)
}

func (m *Matcher) newPattern(event *domain.FailureEvent, failureType domain.FailureType, signature string, occurredAt time.Time) *domain.FailurePattern {
	metadata := map[string]string{
		"execution_stage": string(event.ExecutionStage),
	}
	if event.AgentID != "" {
		metadata["agent_id"] = event.AgentID
	}
	return &domain.FailurePattern{
		ID:               uuid.New().String(),
		WorkspaceID:      event.WorkspaceID,
		Signature:        signature,
		FailureType:      failureType,
		ErrorMessageHash: HashMessage(event.ErrorMessage),
		OccurrenceCount:  1,
		FirstDetectedAt:  occurredAt,
		LastDetectedAt:   occurredAt,
		IsTransient:      m.transient(failureType, 1),
		ConfidenceScore:  initialConfidence,
		Source:           domain.PatternSourceDirectMatch,
		ExecutionStage:   event.ExecutionStage,
		ContextMetadata:  metadata,
	}
}

// recordMatch applies the side effects of a repeat observation. A failed
// counter update degrades to returning the stale pattern rather than blocking
// the recovery attempt.
func (m *Matcher) recordMatch(ctx context.Context, p *domain.FailurePattern, occurredAt time.Time) (*domain.FailurePattern, bool) {
	count := p.OccurrenceCount + 1
	confidence := m.nextConfidence(p.ConfidenceScore, count, occurredAt.Sub(p.LastDetectedAt))
	transient := m.transient(p.FailureType, count)

	if err := m.patterns.RecordMatch(ctx, p.ID, occurredAt, confidence, transient); err == nil {
		p.OccurrenceCount = count
		p.LastDetectedAt = occurredAt
		p.ConfidenceScore = confidence
		p.IsTransient = transient
	}
	return p, false
}

// transient: retryable failure type AND not yet past the occurrence ceiling.
// Deduplication by itself does not imply permanence.
func (m *Matcher) transient(failureType domain.FailureType, count int) bool {
	return failureType.Transient() && count <= m.transientCeiling
}

// nextConfidence smooths confidence toward a target built from occurrence
// saturation and recency. More and fresher observations mean the pattern is
// better understood, not that it is transient.
func (m *Matcher) nextConfidence(prev float64, count int, sinceLast time.Duration) float64 {
	if sinceLast < 0 {
		sinceLast = 0
	}
	saturation := float64(count) / float64(count+3)
	recency := math.Exp(-sinceLast.Hours() / 24)
	target := 0.7*saturation + 0.3*recency

	confidence := prev + smoothingAlpha*(target-prev)
	if count >= 3 && confidence < confidenceFloor {
		confidence = confidenceFloor
	}
	return math.Min(1, math.Max(0, confidence))
}
