package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vietddude/mender/internal/core/domain"
	"github.com/vietddude/mender/internal/infra/storage"
	"github.com/vietddude/mender/internal/recovery/metrics"
	"github.com/vietddude/mender/internal/recovery/orchestrator"
)

// Config controls the scheduled retry loop.
type Config struct {
	CheckInterval   time.Duration
	BatchSize       int
	WatchdogTimeout time.Duration
}

// Scheduler is the engine's front door. NotifyFailure feeds fresh events
// straight to the orchestrator; Run sweeps the parked retry queue on a fixed
// interval and expires attempts stuck past the watchdog cutoff.
type Scheduler struct {
	cfg      Config
	orch     *orchestrator.Orchestrator
	attempts storage.AttemptRepository
	agg      *metrics.Aggregator

	// ticking guards against overlapping passes when a batch outruns the
	// interval.
	ticking atomic.Bool

	mu       sync.RWMutex
	lastTick time.Time

	now func() time.Time
}

// NewScheduler creates the retry scheduler.
func NewScheduler(cfg Config, orch *orchestrator.Orchestrator, attempts storage.AttemptRepository, agg *metrics.Aggregator) *Scheduler {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 60 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.WatchdogTimeout <= 0 {
		cfg.WatchdogTimeout = 15 * time.Minute
	}
	return &Scheduler{
		cfg:      cfg,
		orch:     orch,
		attempts: attempts,
		agg:      agg,
		now:      time.Now,
	}
}

// NotifyFailure is the immediate path for a fresh failure event.
func (s *Scheduler) NotifyFailure(ctx context.Context, event *domain.FailureEvent) (*domain.RecoveryAttempt, error) {
	return s.orch.HandleFailure(ctx, event)
}

// Run drives the scheduled loop until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	slog.Info("Retry scheduler started",
		"interval", s.cfg.CheckInterval, "batch_size", s.cfg.BatchSize)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Retry scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one scheduler pass: expire stuck executions, then resume due
// parked attempts oldest first. A pass still running when the next tick
// fires skips the tick instead of stacking.
func (s *Scheduler) Tick(ctx context.Context) {
	if !s.ticking.CompareAndSwap(false, true) {
		metrics.BatchTicksSkipped.Inc()
		slog.Warn("Scheduler pass still running, skipping tick")
		return
	}
	defer s.ticking.Store(false)

	now := s.now()
	s.mu.Lock()
	s.lastTick = now
	s.mu.Unlock()

	s.expireStuck(ctx, now)

	eligible, err := s.attempts.ListEligibleRetrying(ctx, now, s.cfg.BatchSize)
	if err != nil {
		slog.Error("Failed to list eligible retries", "error", err)
		return
	}
	metrics.BatchEligible.Set(float64(len(eligible)))
	if len(eligible) == 0 {
		return
	}

	touched := make(map[string]struct{})
	for _, parked := range eligible {
		if ctx.Err() != nil {
			return
		}
		if err := s.orch.Resume(ctx, parked.ID); err != nil {
			slog.Error("Failed to resume parked attempt",
				"task", parked.TaskID, "attempt", parked.AttemptNumber, "error", err)
			continue
		}
		metrics.BatchProcessed.Inc()
		touched[parked.WorkspaceID] = struct{}{}
	}

	for workspaceID := range touched {
		s.agg.TouchWorkspace(ctx, workspaceID, now)
	}
}

// LastTick reports when the scheduler last completed starting a pass.
func (s *Scheduler) LastTick() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastTick
}

func (s *Scheduler) expireStuck(ctx context.Context, now time.Time) {
	cutoff := now.Add(-s.cfg.WatchdogTimeout)
	stuck, err := s.attempts.ListStuckInFlight(ctx, cutoff)
	if err != nil {
		slog.Error("Failed to list stuck executions", "error", err)
		return
	}
	for _, attempt := range stuck {
		if err := s.orch.ForceExpire(ctx, attempt.ID); err != nil {
			slog.Error("Failed to expire stuck attempt",
				"task", attempt.TaskID, "attempt", attempt.AttemptNumber, "error", err)
		}
	}
}
