package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/vietddude/mender/internal/core/domain"
)

// Decision is a ranked recovery choice: one strategy, a confidence score and
// rationale naming the rule that produced it.
type Decision struct {
	Strategy      domain.Strategy
	Confidence    float64
	Rationale     string
	EstimatedTime time.Duration
}

// Scorer produces recovery decisions. AI-backed predictors plug in behind
// this interface; RuleSelector is the deterministic fallback so the
// orchestrator never depends on an external model being available.
type Scorer interface {
	Score(ctx context.Context, task *domain.TaskContext, pattern *domain.FailurePattern, history []*domain.RecoveryAttempt) (Decision, error)
}

// Per-strategy resolution estimates surfaced on the attempt record.
var estimatedTimes = map[domain.Strategy]time.Duration{
	domain.StrategyRetryDifferentAgent:   2 * time.Minute,
	domain.StrategyDecomposeIntoSubtasks: 10 * time.Minute,
	domain.StrategyAlternativeApproach:   5 * time.Minute,
	domain.StrategyContextReconstruction: 3 * time.Minute,
	domain.StrategySkipWithFallback:      30 * time.Second,
}

// RuleSelector implements the deterministic selection skeleton.
type RuleSelector struct {
	maxAttempts int
}

// NewRuleSelector creates the rule-based scorer.
func NewRuleSelector(maxAttempts int) *RuleSelector {
	return &RuleSelector{maxAttempts: maxAttempts}
}

func decision(s domain.Strategy, confidence float64, rationale string) Decision {
	return Decision{
		Strategy:      s,
		Confidence:    confidence,
		Rationale:     rationale,
		EstimatedTime: estimatedTimes[s],
	}
}

// Score walks the rules in order, first match wins. The budget rule is
// checked before everything else so the last permitted attempt is always the
// terminal-safe strategy.
func (s *RuleSelector) Score(ctx context.Context, task *domain.TaskContext, pattern *domain.FailurePattern, history []*domain.RecoveryAttempt) (Decision, error) {
	attempts := len(history)

	if attempts >= s.maxAttempts-1 {
		return decision(domain.StrategySkipWithFallback, 0.9,
			fmt.Sprintf("attempt budget nearly exhausted (%d of %d used); forcing terminal-safe skip with fallback", attempts, s.maxAttempts)), nil
	}

	if attempts == 0 && pattern != nil && pattern.IsTransient {
		return decision(domain.StrategyRetryDifferentAgent, 0.85,
			"first attempt on a transient failure pattern; retrying with a different agent is the cheapest recovery"), nil
	}

	if prior := lastAttempt(history); prior != nil &&
		prior.Strategy == domain.StrategyRetryDifferentAgent && failed(prior) &&
		task != nil && task.HighComplexity {
		return decision(domain.StrategyDecomposeIntoSubtasks, 0.8,
			"retry with a different agent already failed and the task complexity signal is high; decomposing into subtasks"), nil
	}

	if consecutiveSameSignatureFailures(history) >= 2 && (pattern == nil || !pattern.IsTransient) {
		return decision(domain.StrategyAlternativeApproach, 0.75,
			"two consecutive attempts failed with the same failure signature; avoiding the known-bad path with an alternative approach"), nil
	}

	if task != nil && task.ContextLost {
		return decision(domain.StrategyContextReconstruction, 0.75,
			"task context appears lost or incomplete; reconstructing context before further retries"), nil
	}

	if pattern != nil && pattern.IsTransient {
		return decision(domain.StrategyRetryDifferentAgent, 0.75,
			"failure pattern is still considered transient; retrying with a different agent"), nil
	}

	return decision(domain.StrategyAlternativeApproach, 0.7,
		"no specific rule matched a persistent failure; trying an alternative approach"), nil
}

// Gate rewrites a low-confidence decision to the terminal-safe strategy
// before it can reach execution.
func Gate(d Decision, threshold float64) Decision {
	if d.Strategy == domain.StrategySkipWithFallback || d.Confidence >= threshold {
		return d
	}
	gated := decision(domain.StrategySkipWithFallback, d.Confidence,
		fmt.Sprintf("decision confidence %.2f below threshold %.2f; downgraded from %s to skip with fallback", d.Confidence, threshold, d.Strategy))
	return gated
}

// Fallback is the decision used when a scorer errors or returns an invalid
// strategy: skip with fallback at zero confidence.
func Fallback(reason string) Decision {
	return decision(domain.StrategySkipWithFallback, 0,
		fmt.Sprintf("strategy selection failed (%s); defaulting to skip with fallback", reason))
}

// Valid reports whether the decision names a known strategy.
func (d Decision) Valid() bool {
	switch d.Strategy {
	case domain.StrategyRetryDifferentAgent, domain.StrategyDecomposeIntoSubtasks,
		domain.StrategyAlternativeApproach, domain.StrategyContextReconstruction,
		domain.StrategySkipWithFallback:
		return d.Confidence >= 0 && d.Confidence <= 1
	}
	return false
}

func lastAttempt(history []*domain.RecoveryAttempt) *domain.RecoveryAttempt {
	if len(history) == 0 {
		return nil
	}
	return history[len(history)-1]
}

func failed(a *domain.RecoveryAttempt) bool {
	return a.Success != nil && !*a.Success
}

// consecutiveSameSignatureFailures counts the failed attempts at the tail of
// the history that share the latest attempt's failure pattern.
func consecutiveSameSignatureFailures(history []*domain.RecoveryAttempt) int {
	last := lastAttempt(history)
	if last == nil || last.PatternID == "" || !failed(last) {
		return 0
	}
	count := 0
	for i := len(history) - 1; i >= 0; i-- {
		a := history[i]
		if !failed(a) || a.PatternID != last.PatternID {
			break
		}
		count++
	}
	return count
}
