package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/vietddude/mender/internal/core/domain"
	"github.com/vietddude/mender/internal/infra/storage"
	"github.com/vietddude/mender/internal/recovery/explain"
	"github.com/vietddude/mender/internal/recovery/metrics"
	"github.com/vietddude/mender/internal/recovery/pattern"
	"github.com/vietddude/mender/internal/recovery/strategy"
	"github.com/vietddude/mender/internal/runtime"
)

var (
	// ErrRecoveryDisabled is returned when auto recovery is switched off.
	ErrRecoveryDisabled = errors.New("auto recovery is disabled")

	// ErrRecoveryExhausted is returned when a task's attempt budget is spent
	// and it requires manual intervention before recovery can restart.
	ErrRecoveryExhausted = errors.New("recovery attempts exhausted for task")

	// ErrNoActiveRecovery is returned by Abandon when the task has no
	// non-terminal attempt.
	ErrNoActiveRecovery = errors.New("no active recovery for task")

	// ErrRecoveryBusy is returned when the task lock is held by a running
	// execution.
	ErrRecoveryBusy = errors.New("recovery execution in progress for task")
)

// Config controls the orchestrator's attempt budget and gating.
type Config struct {
	Enabled             bool
	MaxAttempts         int
	ConfidenceThreshold float64
	ExecutionTimeout    time.Duration
}

// Orchestrator owns the recovery attempt state machine. It is the only
// writer of attempt rows: it creates one row per strategy execution, drives
// it through pending -> analyzing -> executing, and either parks it for the
// scheduler or closes it through the terminal writer.
type Orchestrator struct {
	cfg Config

	attempts storage.AttemptRepository
	patterns storage.PatternRepository
	terminal storage.TerminalWriter

	matcher    *pattern.Matcher
	scorer     strategy.Scorer
	generator  *explain.Generator
	aggregator *metrics.Aggregator
	rt         runtime.Runtime
	locker     TaskLocker
	backoff    *Backoff

	wg  sync.WaitGroup
	now func() time.Time
}

// NewOrchestrator wires the recovery state machine.
func NewOrchestrator(
	cfg Config,
	attempts storage.AttemptRepository,
	patterns storage.PatternRepository,
	terminal storage.TerminalWriter,
	matcher *pattern.Matcher,
	scorer strategy.Scorer,
	generator *explain.Generator,
	aggregator *metrics.Aggregator,
	rt runtime.Runtime,
	locker TaskLocker,
	backoff *Backoff,
) *Orchestrator {
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = 5 * time.Minute
	}
	return &Orchestrator{
		cfg:        cfg,
		attempts:   attempts,
		patterns:   patterns,
		terminal:   terminal,
		matcher:    matcher,
		scorer:     scorer,
		generator:  generator,
		aggregator: aggregator,
		rt:         rt,
		locker:     locker,
		backoff:    backoff,
		now:        time.Now,
	}
}

// HandleFailure is the immediate entry point for a fresh failure event.
// Replays are idempotent: while the task has any non-terminal attempt the
// existing attempt is returned and no new row is created. After exhaustion
// new events are refused until the task is reset manually.
func (o *Orchestrator) HandleFailure(ctx context.Context, event *domain.FailureEvent) (*domain.RecoveryAttempt, error) {
	if !o.cfg.Enabled {
		return nil, ErrRecoveryDisabled
	}

	latest, err := o.attempts.GetLatestByTask(ctx, event.TaskID)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest attempt: %w", err)
	}
	if latest != nil {
		if !latest.Status.Terminal() {
			slog.Info("Recovery already in progress, replay ignored",
				"task", event.TaskID, "attempt", latest.AttemptNumber, "status", latest.Status)
			return latest, nil
		}
		if latest.Status == domain.AttemptStatusExhausted {
			return nil, ErrRecoveryExhausted
		}
	}

	pat, _, err := o.matcher.Classify(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("failed to classify failure: %w", err)
	}

	attemptNumber := 1
	if latest != nil {
		attemptNumber = latest.AttemptNumber + 1
	}

	acquired, err := o.locker.TryAcquire(ctx, event.TaskID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire task lock: %w", err)
	}
	if !acquired {
		return nil, ErrRecoveryBusy
	}

	attempt, err := o.begin(ctx, event.TaskID, event.WorkspaceID, pat, attemptNumber, domain.TriggerImmediate)
	if err != nil {
		o.releaseLock(event.TaskID)
		return nil, err
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.releaseLock(attempt.TaskID)
		runCtx, cancel := context.WithTimeout(context.Background(), o.cfg.ExecutionTimeout)
		defer cancel()
		o.run(runCtx, attempt, pat)
	}()

	return attempt, nil
}

// Resume picks a parked attempt back up on the scheduled path. The parked
// row stays as history; a fresh row with the next attempt number carries the
// execution. Stale rows (superseded or not yet due) are skipped silently.
func (o *Orchestrator) Resume(ctx context.Context, parkedID string) error {
	if !o.cfg.Enabled {
		return ErrRecoveryDisabled
	}

	parked, err := o.attempts.GetByID(ctx, parkedID)
	if err != nil {
		return fmt.Errorf("failed to load parked attempt: %w", err)
	}

	acquired, err := o.locker.TryAcquire(ctx, parked.TaskID)
	if err != nil {
		return fmt.Errorf("failed to acquire task lock: %w", err)
	}
	if !acquired {
		return nil
	}
	defer o.releaseLock(parked.TaskID)

	// Re-check under the lock: the row must still be the task's latest,
	// still parked and due.
	parked, err = o.attempts.GetByID(ctx, parkedID)
	if err != nil {
		return fmt.Errorf("failed to reload parked attempt: %w", err)
	}
	if parked.Status != domain.AttemptStatusRetrying || parked.CompletedAt != nil {
		return nil
	}
	if parked.NextRetryAt == nil || o.now().Before(*parked.NextRetryAt) {
		return nil
	}
	latest, err := o.attempts.GetLatestByTask(ctx, parked.TaskID)
	if err != nil {
		return fmt.Errorf("failed to load latest attempt: %w", err)
	}
	if latest == nil || latest.ID != parked.ID {
		return nil
	}

	var pat *domain.FailurePattern
	if parked.PatternID != "" {
		pat, err = o.patterns.GetByID(ctx, parked.PatternID)
		if err != nil && !errors.Is(err, storage.ErrPatternNotFound) {
			return fmt.Errorf("failed to load pattern: %w", err)
		}
	}

	// Create the successor before touching the parked row: a failed create
	// leaves the row untouched and still eligible next tick.
	next, err := o.begin(ctx, parked.TaskID, parked.WorkspaceID, pat, parked.AttemptNumber+1, domain.TriggerScheduled)
	if err != nil {
		return err
	}

	// Stamp the parked row as superseded history. The successor already
	// excludes it from the retry queue, so a failed stamp only delays the
	// history mark.
	completedAt := o.now()
	failed := false
	parked.CompletedAt = &completedAt
	parked.Success = &failed
	if err := o.persist(ctx, parked); err != nil {
		slog.Warn("Failed to stamp superseded attempt",
			"task", parked.TaskID, "attempt", parked.AttemptNumber, "error", err)
	}

	o.run(ctx, next, pat)
	return nil
}

// Abandon terminates a task's recovery manually. Always permitted, even
// mid-execution: the terminal close is first-wins, so whichever of the
// abandon and the racing executor writes first sticks.
func (o *Orchestrator) Abandon(ctx context.Context, taskID, reason string) (*domain.RecoveryAttempt, error) {
	latest, err := o.attempts.GetLatestByTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest attempt: %w", err)
	}
	if latest == nil || latest.Status.Terminal() {
		return nil, ErrNoActiveRecovery
	}

	var pat *domain.FailurePattern
	if latest.PatternID != "" {
		pat, _ = o.patterns.GetByID(ctx, latest.PatternID)
	}

	latest.Outcome = "abandoned by operator"
	if reason != "" {
		latest.ErrorMessage = reason
	}
	if err := o.finish(ctx, latest, pat, domain.AttemptStatusAbandoned, false); err != nil {
		return nil, err
	}
	return latest, nil
}

// ForceExpire closes out an attempt stuck in flight past the watchdog
// cutoff, parking it for another try when budget remains and exhausting it
// otherwise.
func (o *Orchestrator) ForceExpire(ctx context.Context, attemptID string) error {
	attempt, err := o.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return fmt.Errorf("failed to load stuck attempt: %w", err)
	}

	acquired, err := o.locker.TryAcquire(ctx, attempt.TaskID)
	if err != nil {
		return fmt.Errorf("failed to acquire task lock: %w", err)
	}
	if !acquired {
		return nil
	}
	defer o.releaseLock(attempt.TaskID)

	attempt, err = o.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return fmt.Errorf("failed to reload stuck attempt: %w", err)
	}
	if !attempt.Status.InFlight() {
		return nil
	}

	metrics.WatchdogExpirations.Inc()
	slog.Warn("Recovery execution watchdog expired",
		"task", attempt.TaskID, "attempt", attempt.AttemptNumber, "strategy", attempt.Strategy)

	var pat *domain.FailurePattern
	if attempt.PatternID != "" {
		pat, _ = o.patterns.GetByID(ctx, attempt.PatternID)
	}

	attempt.ErrorMessage = "watchdog expired before the attempt reached an outcome"
	if attempt.AttemptNumber >= o.cfg.MaxAttempts || attempt.Strategy == domain.StrategySkipWithFallback {
		return o.finish(ctx, attempt, pat, domain.AttemptStatusExhausted, false)
	}
	return o.park(ctx, attempt)
}

// Drain blocks until all in-flight immediate executions complete.
func (o *Orchestrator) Drain() {
	o.wg.Wait()
}

// begin creates the attempt row and records the start. The caller holds the
// task lock.
func (o *Orchestrator) begin(ctx context.Context, taskID, workspaceID string, pat *domain.FailurePattern, attemptNumber int, trigger domain.Trigger) (*domain.RecoveryAttempt, error) {
	attempt := &domain.RecoveryAttempt{
		ID:            uuid.New().String(),
		TaskID:        taskID,
		WorkspaceID:   workspaceID,
		AttemptNumber: attemptNumber,
		TriggeredBy:   trigger,
		StartedAt:     o.now(),
		Status:        domain.AttemptStatusPending,
	}
	if pat != nil {
		attempt.PatternID = pat.ID
		attempt.ExecutionStage = pat.ExecutionStage
	}

	if err := o.attempts.Create(ctx, attempt); err != nil {
		if errors.Is(err, storage.ErrDuplicateAttempt) {
			existing, getErr := o.attempts.GetLatestByTask(ctx, taskID)
			if getErr == nil && existing != nil && !existing.Status.Terminal() {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("failed to create attempt: %w", err)
	}

	o.aggregator.RecordStart(attempt)
	o.pushTaskStatus(ctx, attempt, pat, domain.StatusAutoRecovering)

	slog.Info("Recovery attempt started",
		"task", taskID, "attempt", attemptNumber, "trigger", trigger)
	return attempt, nil
}

// run drives one attempt through analysis and execution. The caller holds
// the task lock.
func (o *Orchestrator) run(ctx context.Context, attempt *domain.RecoveryAttempt, pat *domain.FailurePattern) {
	attempt.Status = domain.AttemptStatusAnalyzing
	if err := o.persist(ctx, attempt); err != nil {
		if errors.Is(err, errAttemptClosed) {
			return
		}
		slog.Error("Failed to persist analyzing transition", "task", attempt.TaskID, "error", err)
		return
	}

	history, err := o.history(ctx, attempt)
	if err != nil {
		slog.Error("Failed to load attempt history", "task", attempt.TaskID, "error", err)
		return
	}

	task, err := o.rt.GetTaskContext(ctx, attempt.TaskID)
	if err != nil {
		slog.Warn("Task context unavailable, selecting without it", "task", attempt.TaskID, "error", err)
		task = nil
	}

	decision, err := o.scorer.Score(ctx, task, pat, history)
	if err != nil {
		slog.Warn("Strategy scorer failed", "task", attempt.TaskID, "error", err)
		decision = strategy.Fallback(err.Error())
	} else if !decision.Valid() {
		decision = strategy.Fallback(fmt.Sprintf("invalid decision %q", decision.Strategy))
	}
	decision = strategy.Gate(decision, o.cfg.ConfidenceThreshold)

	attempt.Strategy = decision.Strategy
	attempt.Confidence = decision.Confidence
	attempt.Reasoning = decision.Rationale
	attempt.EstimatedTime = decision.EstimatedTime
	attempt.Status = domain.AttemptStatusExecuting
	if err := o.persist(ctx, attempt); err != nil {
		if errors.Is(err, errAttemptClosed) {
			return
		}
		slog.Error("Failed to persist executing transition", "task", attempt.TaskID, "error", err)
		return
	}

	slog.Info("Executing recovery strategy",
		"task", attempt.TaskID, "attempt", attempt.AttemptNumber,
		"strategy", decision.Strategy, "confidence", decision.Confidence)

	outcome, err := o.rt.ExecuteStrategy(ctx, attempt.TaskID, attempt.Strategy, attempt.ID)
	if err != nil {
		outcome = &domain.StrategyOutcome{
			Success:      false,
			ErrorMessage: err.Error(),
			FailureType:  domain.FailureTypeDependencyUnavailable,
		}
	}

	attempt.Outcome = outcome.Outcome
	attempt.ErrorMessage = outcome.ErrorMessage

	if outcome.Success {
		if err := o.finish(ctx, attempt, pat, domain.AttemptStatusSucceeded, true); err != nil {
			slog.Error("Failed to close succeeded attempt", "task", attempt.TaskID, "error", err)
		}
		return
	}

	// A failed execution is itself a failure observation: fold it back into
	// the pattern store so occurrence counts and transience stay current.
	pat = o.reclassify(ctx, attempt, pat, outcome)

	if attempt.AttemptNumber >= o.cfg.MaxAttempts || attempt.Strategy == domain.StrategySkipWithFallback {
		if err := o.finish(ctx, attempt, pat, domain.AttemptStatusExhausted, false); err != nil {
			slog.Error("Failed to close exhausted attempt", "task", attempt.TaskID, "error", err)
		}
		return
	}

	if err := o.park(ctx, attempt); err != nil {
		slog.Error("Failed to park attempt", "task", attempt.TaskID, "error", err)
	}
}

// park moves a failed attempt into the retry queue with exponential backoff.
func (o *Orchestrator) park(ctx context.Context, attempt *domain.RecoveryAttempt) error {
	delay := o.backoff.Delay(attempt.AttemptNumber)
	nextRetry := o.now().Add(delay)
	attempt.Status = domain.AttemptStatusRetrying
	attempt.NextRetryAt = &nextRetry
	if err := o.persist(ctx, attempt); err != nil {
		if errors.Is(err, errAttemptClosed) {
			return nil
		}
		return err
	}

	o.aggregator.RecordParked(attempt)
	slog.Info("Recovery attempt parked for retry",
		"task", attempt.TaskID, "attempt", attempt.AttemptNumber,
		"delay", delay, "next_retry_at", nextRetry)
	return nil
}

// finish closes an attempt with a terminal status. The transition, its
// explanation and the workspace rollup are one atomic write; first writer
// wins, so a racing watchdog or abandon can never double-close.
func (o *Orchestrator) finish(ctx context.Context, attempt *domain.RecoveryAttempt, pat *domain.FailurePattern, status domain.AttemptStatus, success bool) error {
	current, err := o.attempts.GetByID(ctx, attempt.ID)
	if err != nil {
		return fmt.Errorf("failed to reload attempt: %w", err)
	}
	if current.Status.Terminal() {
		slog.Debug("Attempt already terminal, skipping close",
			"task", attempt.TaskID, "attempt", attempt.AttemptNumber, "status", current.Status)
		return nil
	}

	completedAt := o.now()
	attempt.Status = status
	attempt.Success = &success
	attempt.CompletedAt = &completedAt
	attempt.ActualTime = completedAt.Sub(attempt.StartedAt)

	explanation := o.generator.Explain(attempt, pat)

	b := retry.WithMaxRetries(3, retry.NewExponential(100*time.Millisecond))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		if err := o.terminal.RecordTerminal(ctx, attempt, explanation, completedAt); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record terminal attempt: %w", err)
	}

	o.aggregator.RecordTerminal(attempt)

	taskStatus := domain.StatusActive
	if status != domain.AttemptStatusSucceeded {
		taskStatus = domain.StatusDegradedMode
	}
	o.pushTaskStatus(ctx, attempt, pat, taskStatus)

	if status == domain.AttemptStatusExhausted {
		if err := o.rt.UpdateWorkspaceStatus(ctx, attempt.WorkspaceID, domain.StatusDegradedMode); err != nil {
			slog.Warn("Failed to degrade workspace", "workspace", attempt.WorkspaceID, "error", err)
		}
	}

	slog.Info("Recovery attempt closed",
		"task", attempt.TaskID, "attempt", attempt.AttemptNumber,
		"status", status, "strategy", attempt.Strategy, "duration", attempt.ActualTime)
	return nil
}

// history returns the attempts that preceded this one, oldest first.
func (o *Orchestrator) history(ctx context.Context, attempt *domain.RecoveryAttempt) ([]*domain.RecoveryAttempt, error) {
	all, err := o.attempts.ListByTask(ctx, attempt.TaskID)
	if err != nil {
		return nil, err
	}
	prior := make([]*domain.RecoveryAttempt, 0, len(all))
	for _, a := range all {
		if a.AttemptNumber < attempt.AttemptNumber {
			prior = append(prior, a)
		}
	}
	return prior, nil
}

// reclassify folds a failed execution back through the matcher and rebinds
// the attempt to the resulting pattern. Degrades to the prior pattern when
// classification fails.
func (o *Orchestrator) reclassify(ctx context.Context, attempt *domain.RecoveryAttempt, pat *domain.FailurePattern, outcome *domain.StrategyOutcome) *domain.FailurePattern {
	if outcome.ErrorMessage == "" {
		return pat
	}
	failureType := outcome.FailureType
	if !failureType.Valid() && pat != nil {
		failureType = pat.FailureType
	}
	event := &domain.FailureEvent{
		WorkspaceID:    attempt.WorkspaceID,
		TaskID:         attempt.TaskID,
		ErrorMessage:   outcome.ErrorMessage,
		FailureType:    failureType,
		ExecutionStage: attempt.ExecutionStage,
		OccurredAt:     o.now(),
	}
	next, _, err := o.matcher.Classify(ctx, event)
	if err != nil {
		slog.Warn("Failed to reclassify execution failure", "task", attempt.TaskID, "error", err)
		return pat
	}
	attempt.PatternID = next.ID
	return next
}

// errAttemptClosed signals that another writer already closed the attempt;
// the caller's transition is void and must not overwrite the terminal row.
var errAttemptClosed = errors.New("attempt already closed")

func (o *Orchestrator) persist(ctx context.Context, a *domain.RecoveryAttempt) error {
	b := retry.WithMaxRetries(3, retry.NewExponential(100*time.Millisecond))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		current, err := o.attempts.GetByID(ctx, a.ID)
		if err != nil {
			if errors.Is(err, storage.ErrAttemptNotFound) {
				return err
			}
			return retry.RetryableError(err)
		}
		if current.Status.Terminal() {
			return errAttemptClosed
		}
		if err := o.attempts.Update(ctx, a); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

func (o *Orchestrator) pushTaskStatus(ctx context.Context, attempt *domain.RecoveryAttempt, pat *domain.FailurePattern, status domain.OperationalStatus) {
	failureType := domain.FailureTypeUnknown
	if pat != nil {
		failureType = pat.FailureType
	}
	update := &domain.TaskStatusUpdate{
		TaskID:                attempt.TaskID,
		Status:                status,
		RecoveryCount:         attempt.AttemptNumber,
		LastFailureType:       failureType,
		LastRecoveryAttemptAt: o.now(),
	}
	if err := o.rt.UpdateTaskStatus(ctx, update); err != nil {
		slog.Warn("Failed to push task status", "task", attempt.TaskID, "status", status, "error", err)
	}
}

func (o *Orchestrator) releaseLock(taskID string) {
	if err := o.locker.Release(context.Background(), taskID); err != nil {
		slog.Warn("Failed to release task lock", "task", taskID, "error", err)
	}
}
