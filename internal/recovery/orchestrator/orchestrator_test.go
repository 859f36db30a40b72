package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/mender/internal/core/domain"
	"github.com/vietddude/mender/internal/infra/storage"
	"github.com/vietddude/mender/internal/infra/storage/memory"
	"github.com/vietddude/mender/internal/recovery/explain"
	"github.com/vietddude/mender/internal/recovery/metrics"
	"github.com/vietddude/mender/internal/recovery/pattern"
	"github.com/vietddude/mender/internal/recovery/strategy"
	"github.com/vietddude/mender/internal/runtime"
)

// =============================================================================
// Mock Runtime
// =============================================================================

type mockRuntime struct {
	mu       sync.Mutex
	outcomes []*domain.StrategyOutcome
	execErr  error
	taskCtx  *domain.TaskContext

	executed     []domain.Strategy
	taskStatuses []domain.OperationalStatus
	wsStatuses   []domain.OperationalStatus
}

func (m *mockRuntime) GetTaskContext(ctx context.Context, taskID string) (*domain.TaskContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.taskCtx != nil {
		return m.taskCtx, nil
	}
	return &domain.TaskContext{TaskID: taskID, AutoRecoveryEnabled: true}, nil
}

func (m *mockRuntime) ExecuteStrategy(ctx context.Context, taskID string, s domain.Strategy, attemptID string) (*domain.StrategyOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executed = append(m.executed, s)
	if m.execErr != nil {
		return nil, m.execErr
	}
	if len(m.outcomes) == 0 {
		return &domain.StrategyOutcome{Success: false, ErrorMessage: "strategy failed"}, nil
	}
	out := m.outcomes[0]
	m.outcomes = m.outcomes[1:]
	return out, nil
}

func (m *mockRuntime) UpdateTaskStatus(ctx context.Context, update *domain.TaskStatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.taskStatuses = append(m.taskStatuses, update.Status)
	return nil
}

func (m *mockRuntime) UpdateWorkspaceStatus(ctx context.Context, workspaceID string, status domain.OperationalStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wsStatuses = append(m.wsStatuses, status)
	return nil
}

func (m *mockRuntime) lastTaskStatus() domain.OperationalStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.taskStatuses) == 0 {
		return ""
	}
	return m.taskStatuses[len(m.taskStatuses)-1]
}

func (m *mockRuntime) workspaceDegraded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.wsStatuses {
		if s == domain.StatusDegradedMode {
			return true
		}
	}
	return false
}

// =============================================================================
// Harness
// =============================================================================

type harness struct {
	orch  *Orchestrator
	store *memory.MemoryStorage
	rt    *mockRuntime
}

func buildOrchestrator(t *testing.T, store *memory.MemoryStorage, maxAttempts int, rt runtime.Runtime, attempts storage.AttemptRepository) *Orchestrator {
	t.Helper()
	patterns := memory.NewPatternRepo(store)
	if attempts == nil {
		attempts = memory.NewAttemptRepo(store)
	}
	workspaces := memory.NewMetricsRepo(store)

	cfg := Config{
		Enabled:             true,
		MaxAttempts:         maxAttempts,
		ConfidenceThreshold: 0.7,
		ExecutionTimeout:    5 * time.Second,
	}
	return NewOrchestrator(
		cfg,
		attempts, patterns,
		memory.NewTerminalWriter(store),
		pattern.NewMatcher(patterns, 10),
		strategy.NewRuleSelector(maxAttempts),
		explain.NewGenerator(),
		metrics.NewAggregator(workspaces),
		rt,
		NewMemoryLocker(),
		&Backoff{BaseDelay: time.Second, MaxDelay: time.Minute},
	)
}

func newHarness(t *testing.T, maxAttempts int, rt *mockRuntime) *harness {
	t.Helper()
	store := memory.NewMemoryStorage()
	orch := buildOrchestrator(t, store, maxAttempts, rt, nil)
	return &harness{orch: orch, store: store, rt: rt}
}

func timeoutEvent(taskID string) *domain.FailureEvent {
	return &domain.FailureEvent{
		WorkspaceID:    "ws-1",
		TaskID:         taskID,
		ErrorMessage:   "timeout calling agent after 30s",
		FailureType:    domain.FailureTypeTimeout,
		ExecutionStage: "tool_call",
		OccurredAt:     time.Now(),
	}
}

func (h *harness) latest(t *testing.T, taskID string) *domain.RecoveryAttempt {
	t.Helper()
	a, err := memory.NewAttemptRepo(h.store).GetLatestByTask(context.Background(), taskID)
	if err != nil {
		t.Fatalf("GetLatestByTask failed: %v", err)
	}
	return a
}

// =============================================================================
// Immediate Path Tests
// =============================================================================

func TestHandleFailure_SuccessfulRecovery(t *testing.T) {
	rt := &mockRuntime{outcomes: []*domain.StrategyOutcome{{Success: true, Outcome: "reassigned"}}}
	h := newHarness(t, 5, rt)
	ctx := context.Background()

	attempt, err := h.orch.HandleFailure(ctx, timeoutEvent("task-1"))
	if err != nil {
		t.Fatalf("HandleFailure failed: %v", err)
	}
	if attempt.AttemptNumber != 1 || attempt.TriggeredBy != domain.TriggerImmediate {
		t.Errorf("unexpected attempt %+v", attempt)
	}
	h.orch.Drain()

	final := h.latest(t, "task-1")
	if final.Status != domain.AttemptStatusSucceeded {
		t.Fatalf("expected succeeded, got %s", final.Status)
	}
	if final.Success == nil || !*final.Success {
		t.Error("success flag not set")
	}
	if final.CompletedAt == nil {
		t.Error("completed_at not stamped")
	}
	if final.Strategy != domain.StrategyRetryDifferentAgent {
		t.Errorf("first transient failure should retry with a different agent, got %s", final.Strategy)
	}

	// Terminal attempts get exactly one explanation.
	e, err := memory.NewExplanationRepo(h.store).GetByAttempt(context.Background(), final.ID)
	if err != nil || e == nil {
		t.Fatalf("expected an explanation, got %v, %v", e, err)
	}
	if e.Severity != domain.SeverityLow {
		t.Errorf("successful recovery is low severity, got %s", e.Severity)
	}

	// Workspace rollup written in the same transition.
	m, err := memory.NewMetricsRepo(h.store).Get(context.Background(), "ws-1")
	if err != nil {
		t.Fatalf("metrics Get failed: %v", err)
	}
	if m.TotalAttempts != 1 || m.SuccessfulRecoveries != 1 {
		t.Errorf("unexpected rollup %+v", m)
	}

	if rt.lastTaskStatus() != domain.StatusActive {
		t.Errorf("recovered task must return to active, got %s", rt.lastTaskStatus())
	}
}

func TestHandleFailure_FailureParksWithBackoff(t *testing.T) {
	rt := &mockRuntime{}
	h := newHarness(t, 5, rt)

	before := time.Now()
	if _, err := h.orch.HandleFailure(context.Background(), timeoutEvent("task-1")); err != nil {
		t.Fatalf("HandleFailure failed: %v", err)
	}
	h.orch.Drain()

	parked := h.latest(t, "task-1")
	if parked.Status != domain.AttemptStatusRetrying {
		t.Fatalf("expected retrying, got %s", parked.Status)
	}
	if parked.NextRetryAt == nil {
		t.Fatal("next_retry_at not set")
	}
	delay := parked.NextRetryAt.Sub(before)
	if delay < time.Second || delay > 3*time.Second {
		t.Errorf("expected roughly 1s backoff for attempt 1, got %v", delay)
	}
	if parked.CompletedAt != nil {
		t.Error("parked attempt is not terminal")
	}
}

func TestHandleFailure_IdempotentReplay(t *testing.T) {
	rt := &mockRuntime{}
	h := newHarness(t, 5, rt)
	ctx := context.Background()

	first, err := h.orch.HandleFailure(ctx, timeoutEvent("task-1"))
	if err != nil {
		t.Fatalf("HandleFailure failed: %v", err)
	}
	h.orch.Drain()

	// The attempt is parked now; a replayed event must not open a new one.
	replay, err := h.orch.HandleFailure(ctx, timeoutEvent("task-1"))
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if replay.ID != first.ID {
		t.Error("replay must return the existing attempt")
	}

	all, _ := memory.NewAttemptRepo(h.store).ListByTask(ctx, "task-1")
	if len(all) != 1 {
		t.Errorf("expected a single attempt row, got %d", len(all))
	}
}

func TestHandleFailure_Disabled(t *testing.T) {
	rt := &mockRuntime{}
	h := newHarness(t, 5, rt)
	h.orch.cfg.Enabled = false

	if _, err := h.orch.HandleFailure(context.Background(), timeoutEvent("task-1")); !errors.Is(err, ErrRecoveryDisabled) {
		t.Errorf("expected ErrRecoveryDisabled, got %v", err)
	}
}

// =============================================================================
// Scheduled Path Tests
// =============================================================================

func forceDue(t *testing.T, h *harness, attemptID string) {
	t.Helper()
	repo := memory.NewAttemptRepo(h.store)
	a, err := repo.GetByID(context.Background(), attemptID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	due := time.Now().Add(-time.Second)
	a.NextRetryAt = &due
	if err := repo.Update(context.Background(), a); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
}

func TestResume_CreatesSuccessorAndSupersedesParked(t *testing.T) {
	rt := &mockRuntime{}
	h := newHarness(t, 5, rt)
	ctx := context.Background()

	first, _ := h.orch.HandleFailure(ctx, timeoutEvent("task-1"))
	h.orch.Drain()
	forceDue(t, h, first.ID)

	if err := h.orch.Resume(ctx, first.ID); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}

	repo := memory.NewAttemptRepo(h.store)
	all, _ := repo.ListByTask(ctx, "task-1")
	if len(all) != 2 {
		t.Fatalf("expected 2 attempt rows, got %d", len(all))
	}
	if all[0].AttemptNumber != 1 || all[1].AttemptNumber != 2 {
		t.Error("attempt numbers must be gapless")
	}

	superseded, _ := repo.GetByID(ctx, first.ID)
	if superseded.CompletedAt == nil || superseded.Success == nil || *superseded.Success {
		t.Error("superseded parked row must be stamped completed and unsuccessful")
	}

	second := h.latest(t, "task-1")
	if second.TriggeredBy != domain.TriggerScheduled {
		t.Errorf("resumed attempt is scheduled, got %s", second.TriggeredBy)
	}
	if second.Status != domain.AttemptStatusRetrying {
		t.Fatalf("second failure should park again, got %s", second.Status)
	}
	if second.NextRetryAt.Sub(*superseded.CompletedAt) < 2*time.Second {
		t.Error("backoff must grow between attempts")
	}
}

func TestResume_SkipsNotDueAndSuperseded(t *testing.T) {
	rt := &mockRuntime{}
	h := newHarness(t, 5, rt)
	ctx := context.Background()

	first, _ := h.orch.HandleFailure(ctx, timeoutEvent("task-1"))
	h.orch.Drain()

	// Not due yet: nothing happens.
	if err := h.orch.Resume(ctx, first.ID); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	all, _ := memory.NewAttemptRepo(h.store).ListByTask(ctx, "task-1")
	if len(all) != 1 {
		t.Fatalf("not-due resume must be a no-op, got %d rows", len(all))
	}

	// Resume it properly, then replay the stale ID.
	forceDue(t, h, first.ID)
	if err := h.orch.Resume(ctx, first.ID); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if err := h.orch.Resume(ctx, first.ID); err != nil {
		t.Fatalf("stale Resume failed: %v", err)
	}
	all, _ = memory.NewAttemptRepo(h.store).ListByTask(ctx, "task-1")
	if len(all) != 2 {
		t.Errorf("superseded row resumed twice, got %d rows", len(all))
	}
}

// flakyAttemptRepo fails a set number of Create calls before delegating.
type flakyAttemptRepo struct {
	storage.AttemptRepository
	mu          sync.Mutex
	failCreates int
}

func (r *flakyAttemptRepo) Create(ctx context.Context, a *domain.RecoveryAttempt) error {
	r.mu.Lock()
	fail := r.failCreates > 0
	if fail {
		r.failCreates--
	}
	r.mu.Unlock()
	if fail {
		return errors.New("storage write failed")
	}
	return r.AttemptRepository.Create(ctx, a)
}

func TestResume_SuccessorCreateFailureKeepsParkedEligible(t *testing.T) {
	store := memory.NewMemoryStorage()
	flaky := &flakyAttemptRepo{AttemptRepository: memory.NewAttemptRepo(store)}
	rt := &mockRuntime{}
	h := &harness{orch: buildOrchestrator(t, store, 5, rt, flaky), store: store, rt: rt}
	ctx := context.Background()

	first, err := h.orch.HandleFailure(ctx, timeoutEvent("task-1"))
	if err != nil {
		t.Fatalf("HandleFailure failed: %v", err)
	}
	h.orch.Drain()
	forceDue(t, h, first.ID)

	flaky.mu.Lock()
	flaky.failCreates = 1
	flaky.mu.Unlock()
	if err := h.orch.Resume(ctx, first.ID); err == nil {
		t.Fatal("Resume must surface the failed successor create")
	}

	// The parked row is untouched and stays in the retry queue.
	repo := memory.NewAttemptRepo(h.store)
	parked, _ := repo.GetByID(ctx, first.ID)
	if parked.Status != domain.AttemptStatusRetrying || parked.CompletedAt != nil {
		t.Fatalf("failed resume must not stamp the parked row, got %+v", parked)
	}
	eligible, err := repo.ListEligibleRetrying(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("ListEligibleRetrying failed: %v", err)
	}
	if len(eligible) != 1 || eligible[0].ID != first.ID {
		t.Fatalf("parked row must stay eligible after a failed resume, got %+v", eligible)
	}

	// The next sweep picks it up normally.
	if err := h.orch.Resume(ctx, first.ID); err != nil {
		t.Fatalf("retried Resume failed: %v", err)
	}
	all, _ := repo.ListByTask(ctx, "task-1")
	if len(all) != 2 {
		t.Errorf("expected successor after retried resume, got %d rows", len(all))
	}
}

func TestResume_ExhaustsBudget(t *testing.T) {
	rt := &mockRuntime{}
	h := newHarness(t, 2, rt)
	ctx := context.Background()

	first, _ := h.orch.HandleFailure(ctx, timeoutEvent("task-1"))
	h.orch.Drain()
	forceDue(t, h, first.ID)

	if err := h.orch.Resume(ctx, first.ID); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}

	final := h.latest(t, "task-1")
	if final.Status != domain.AttemptStatusExhausted {
		t.Fatalf("expected exhausted, got %s", final.Status)
	}
	if final.Strategy != domain.StrategySkipWithFallback {
		t.Errorf("last permitted attempt must run skip_with_fallback, got %s", final.Strategy)
	}
	if !rt.workspaceDegraded() {
		t.Error("exhaustion must degrade the workspace")
	}
	if rt.lastTaskStatus() != domain.StatusDegradedMode {
		t.Errorf("exhausted task goes to degraded_mode, got %s", rt.lastTaskStatus())
	}

	e, _ := memory.NewExplanationRepo(h.store).GetByAttempt(ctx, final.ID)
	if e == nil {
		t.Fatal("exhausted attempt needs an explanation")
	}
	if e.UserActionRequired == "" {
		t.Error("exhaustion must tell the user what to do")
	}

	// New failures are refused until the task is reset.
	if _, err := h.orch.HandleFailure(ctx, timeoutEvent("task-1")); !errors.Is(err, ErrRecoveryExhausted) {
		t.Errorf("expected ErrRecoveryExhausted, got %v", err)
	}
}

// =============================================================================
// Abandon / Watchdog Tests
// =============================================================================

func TestAbandon_ParkedAttempt(t *testing.T) {
	rt := &mockRuntime{}
	h := newHarness(t, 5, rt)
	ctx := context.Background()

	_, _ = h.orch.HandleFailure(ctx, timeoutEvent("task-1"))
	h.orch.Drain()

	attempt, err := h.orch.Abandon(ctx, "task-1", "operator requested")
	if err != nil {
		t.Fatalf("Abandon failed: %v", err)
	}
	if attempt.Status != domain.AttemptStatusAbandoned {
		t.Errorf("expected abandoned, got %s", attempt.Status)
	}

	e, _ := memory.NewExplanationRepo(h.store).GetByAttempt(ctx, attempt.ID)
	if e == nil {
		t.Fatal("abandoned attempt needs an explanation")
	}

	if _, err := h.orch.Abandon(ctx, "task-1", ""); !errors.Is(err, ErrNoActiveRecovery) {
		t.Errorf("expected ErrNoActiveRecovery, got %v", err)
	}
}

// blockingRuntime holds strategy executions until released.
type blockingRuntime struct {
	mockRuntime
	entered chan struct{}
	release chan struct{}
}

func (b *blockingRuntime) ExecuteStrategy(ctx context.Context, taskID string, s domain.Strategy, attemptID string) (*domain.StrategyOutcome, error) {
	b.entered <- struct{}{}
	<-b.release
	return &domain.StrategyOutcome{Success: true, Outcome: "recovered"}, nil
}

func TestAbandon_MidExecution(t *testing.T) {
	rt := &blockingRuntime{entered: make(chan struct{}), release: make(chan struct{})}
	store := memory.NewMemoryStorage()
	h := &harness{orch: buildOrchestrator(t, store, 5, rt, nil), store: store}
	ctx := context.Background()

	if _, err := h.orch.HandleFailure(ctx, timeoutEvent("task-1")); err != nil {
		t.Fatalf("HandleFailure failed: %v", err)
	}
	<-rt.entered

	// The executor is mid-strategy and holds the task lock; abandoning is
	// still permitted.
	attempt, err := h.orch.Abandon(ctx, "task-1", "workspace archived")
	if err != nil {
		t.Fatalf("Abandon must always be permitted, got %v", err)
	}
	if attempt.Status != domain.AttemptStatusAbandoned {
		t.Errorf("expected abandoned, got %s", attempt.Status)
	}

	close(rt.release)
	h.orch.Drain()

	// The racing executor's success report must not overwrite the close.
	final := h.latest(t, "task-1")
	if final.Status != domain.AttemptStatusAbandoned {
		t.Errorf("terminal close must be first-wins, got %s", final.Status)
	}
}

func TestForceExpire_ParksStuckExecution(t *testing.T) {
	rt := &mockRuntime{}
	h := newHarness(t, 5, rt)
	ctx := context.Background()
	repo := memory.NewAttemptRepo(h.store)

	stuck := &domain.RecoveryAttempt{
		ID:            "stuck-1",
		TaskID:        "task-1",
		WorkspaceID:   "ws-1",
		AttemptNumber: 1,
		TriggeredBy:   domain.TriggerImmediate,
		StartedAt:     time.Now().Add(-time.Hour),
		Status:        domain.AttemptStatusExecuting,
		Strategy:      domain.StrategyRetryDifferentAgent,
	}
	if err := repo.Create(ctx, stuck); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := h.orch.ForceExpire(ctx, stuck.ID); err != nil {
		t.Fatalf("ForceExpire failed: %v", err)
	}

	got, _ := repo.GetByID(ctx, stuck.ID)
	if got.Status != domain.AttemptStatusRetrying {
		t.Errorf("stuck attempt with budget left should park, got %s", got.Status)
	}
	if got.NextRetryAt == nil {
		t.Error("parked attempt needs next_retry_at")
	}

	// Expiring again is a no-op.
	if err := h.orch.ForceExpire(ctx, stuck.ID); err != nil {
		t.Fatalf("second ForceExpire failed: %v", err)
	}
}

func TestForceExpire_ExpiresStuckAnalyzing(t *testing.T) {
	rt := &mockRuntime{}
	h := newHarness(t, 5, rt)
	ctx := context.Background()
	repo := memory.NewAttemptRepo(h.store)

	// A row wedged before reaching executing, e.g. a persist failure after
	// the analyzing transition.
	stuck := &domain.RecoveryAttempt{
		ID:            "stuck-2",
		TaskID:        "task-2",
		WorkspaceID:   "ws-1",
		AttemptNumber: 1,
		TriggeredBy:   domain.TriggerImmediate,
		StartedAt:     time.Now().Add(-time.Hour),
		Status:        domain.AttemptStatusAnalyzing,
	}
	if err := repo.Create(ctx, stuck); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := h.orch.ForceExpire(ctx, stuck.ID); err != nil {
		t.Fatalf("ForceExpire failed: %v", err)
	}

	got, _ := repo.GetByID(ctx, stuck.ID)
	if got.Status != domain.AttemptStatusRetrying {
		t.Errorf("stuck analyzing attempt should park, got %s", got.Status)
	}
}

// =============================================================================
// Fallback Tests
// =============================================================================

type failingScorer struct{}

func (failingScorer) Score(ctx context.Context, task *domain.TaskContext, pat *domain.FailurePattern, history []*domain.RecoveryAttempt) (strategy.Decision, error) {
	return strategy.Decision{}, errors.New("model unavailable")
}

func TestRun_ScorerErrorFallsBackToSkip(t *testing.T) {
	rt := &mockRuntime{outcomes: []*domain.StrategyOutcome{{Success: true, Outcome: "skipped"}}}
	h := newHarness(t, 5, rt)
	h.orch.scorer = failingScorer{}
	ctx := context.Background()

	_, err := h.orch.HandleFailure(ctx, timeoutEvent("task-1"))
	if err != nil {
		t.Fatalf("HandleFailure failed: %v", err)
	}
	h.orch.Drain()

	final := h.latest(t, "task-1")
	if final.Strategy != domain.StrategySkipWithFallback {
		t.Errorf("scorer failure must fall back to skip_with_fallback, got %s", final.Strategy)
	}
	if final.Status != domain.AttemptStatusSucceeded {
		t.Errorf("expected succeeded, got %s", final.Status)
	}
}

func TestRun_RuntimeErrorParks(t *testing.T) {
	rt := &mockRuntime{execErr: errors.New("runtime unreachable")}
	h := newHarness(t, 5, rt)

	if _, err := h.orch.HandleFailure(context.Background(), timeoutEvent("task-1")); err != nil {
		t.Fatalf("HandleFailure failed: %v", err)
	}
	h.orch.Drain()

	final := h.latest(t, "task-1")
	if final.Status != domain.AttemptStatusRetrying {
		t.Errorf("unreachable runtime counts as a failed execution, got %s", final.Status)
	}
	if final.ErrorMessage == "" {
		t.Error("runtime error must be recorded on the attempt")
	}
}

// =============================================================================
// Backoff Tests
// =============================================================================

func TestBackoff_Delay(t *testing.T) {
	b := &Backoff{BaseDelay: 30 * time.Second, MaxDelay: 4 * time.Minute}

	if d := b.Delay(1); d != 30*time.Second {
		t.Errorf("expected 30s, got %v", d)
	}
	if d := b.Delay(2); d != 60*time.Second {
		t.Errorf("expected 60s, got %v", d)
	}
	if d := b.Delay(3); d != 120*time.Second {
		t.Errorf("expected 120s, got %v", d)
	}
	// Attempt 10: cap at MaxDelay
	if d := b.Delay(10); d != 4*time.Minute {
		t.Errorf("expected cap at 4m, got %v", d)
	}
}

func TestBackoff_Monotonic(t *testing.T) {
	b := DefaultBackoff()
	prev := time.Duration(0)
	for n := 1; n <= 8; n++ {
		d := b.Delay(n)
		if d < prev {
			t.Fatalf("delay shrank at attempt %d: %v < %v", n, d, prev)
		}
		prev = d
	}
}

// =============================================================================
// Lock Tests
// =============================================================================

func TestMemoryLocker(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	ok, err := l.TryAcquire(ctx, "task-1")
	if err != nil || !ok {
		t.Fatalf("first acquire should succeed: %v %v", ok, err)
	}
	ok, _ = l.TryAcquire(ctx, "task-1")
	if ok {
		t.Error("second acquire must fail while held")
	}
	ok, _ = l.TryAcquire(ctx, "task-2")
	if !ok {
		t.Error("locks are per task")
	}
	if err := l.Release(ctx, "task-1"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	ok, _ = l.TryAcquire(ctx, "task-1")
	if !ok {
		t.Error("acquire after release must succeed")
	}
}
