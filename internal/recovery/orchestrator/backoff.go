package orchestrator

import (
	"math"
	"time"
)

// Backoff computes the park delay between recovery attempts.
type Backoff struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultBackoff returns the standard schedule: 30s, 60s, 120s, 240s
// (max 10m).
func DefaultBackoff() *Backoff {
	return &Backoff{
		BaseDelay: 30 * time.Second,
		MaxDelay:  10 * time.Minute,
	}
}

// Delay calculates the wait after the given attempt number (1-indexed):
// BaseDelay * 2^(attemptNumber-1), capped at MaxDelay.
func (b *Backoff) Delay(attemptNumber int) time.Duration {
	if attemptNumber < 1 {
		attemptNumber = 1
	}
	delay := float64(b.BaseDelay) * math.Pow(2, float64(attemptNumber-1))
	if delay > float64(b.MaxDelay) {
		return b.MaxDelay
	}
	return time.Duration(delay)
}
