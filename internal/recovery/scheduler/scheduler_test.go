package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/mender/internal/core/domain"
	"github.com/vietddude/mender/internal/infra/storage/memory"
	"github.com/vietddude/mender/internal/recovery/explain"
	"github.com/vietddude/mender/internal/recovery/metrics"
	"github.com/vietddude/mender/internal/recovery/orchestrator"
	"github.com/vietddude/mender/internal/recovery/pattern"
	"github.com/vietddude/mender/internal/recovery/strategy"
)

// =============================================================================
// Mock Runtime
// =============================================================================

type stubRuntime struct {
	mu      sync.Mutex
	succeed bool
}

func (r *stubRuntime) GetTaskContext(ctx context.Context, taskID string) (*domain.TaskContext, error) {
	return &domain.TaskContext{TaskID: taskID, AutoRecoveryEnabled: true}, nil
}

func (r *stubRuntime) ExecuteStrategy(ctx context.Context, taskID string, s domain.Strategy, attemptID string) (*domain.StrategyOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.succeed {
		return &domain.StrategyOutcome{Success: true, Outcome: "recovered"}, nil
	}
	return &domain.StrategyOutcome{Success: false, ErrorMessage: "still failing"}, nil
}

func (r *stubRuntime) UpdateTaskStatus(ctx context.Context, update *domain.TaskStatusUpdate) error {
	return nil
}

func (r *stubRuntime) UpdateWorkspaceStatus(ctx context.Context, workspaceID string, status domain.OperationalStatus) error {
	return nil
}

// =============================================================================
// Harness
// =============================================================================

type harness struct {
	sched *Scheduler
	orch  *orchestrator.Orchestrator
	store *memory.MemoryStorage
	rt    *stubRuntime
}

func newHarness(t *testing.T, batchSize int) *harness {
	t.Helper()
	store := memory.NewMemoryStorage()
	patterns := memory.NewPatternRepo(store)
	attempts := memory.NewAttemptRepo(store)
	workspaces := memory.NewMetricsRepo(store)
	rt := &stubRuntime{}

	agg := metrics.NewAggregator(workspaces)
	orch := orchestrator.NewOrchestrator(
		orchestrator.Config{
			Enabled:             true,
			MaxAttempts:         5,
			ConfidenceThreshold: 0.7,
			ExecutionTimeout:    5 * time.Second,
		},
		attempts, patterns,
		memory.NewTerminalWriter(store),
		pattern.NewMatcher(patterns, 10),
		strategy.NewRuleSelector(5),
		explain.NewGenerator(),
		agg,
		rt,
		orchestrator.NewMemoryLocker(),
		&orchestrator.Backoff{BaseDelay: time.Millisecond, MaxDelay: time.Second},
	)
	sched := NewScheduler(
		Config{CheckInterval: time.Minute, BatchSize: batchSize, WatchdogTimeout: 15 * time.Minute},
		orch, attempts, agg,
	)
	return &harness{sched: sched, orch: orch, store: store, rt: rt}
}

// park creates a due parked attempt for taskID through the immediate path.
func (h *harness) park(t *testing.T, taskID string) {
	t.Helper()
	_, err := h.orch.HandleFailure(context.Background(), &domain.FailureEvent{
		WorkspaceID:    "ws-1",
		TaskID:         taskID,
		ErrorMessage:   "timeout after 30s",
		FailureType:    domain.FailureTypeTimeout,
		ExecutionStage: "tool_call",
		OccurredAt:     time.Now(),
	})
	if err != nil {
		t.Fatalf("HandleFailure failed: %v", err)
	}
	h.orch.Drain()
	// 1ms backoff elapses immediately.
	time.Sleep(5 * time.Millisecond)
}

func (h *harness) attemptCount(t *testing.T, taskID string) int {
	t.Helper()
	all, err := memory.NewAttemptRepo(h.store).ListByTask(context.Background(), taskID)
	if err != nil {
		t.Fatalf("ListByTask failed: %v", err)
	}
	return len(all)
}

// =============================================================================
// Tick Tests
// =============================================================================

func TestTick_ResumesDueParkedAttempt(t *testing.T) {
	h := newHarness(t, 5)
	h.park(t, "task-1")

	h.rt.mu.Lock()
	h.rt.succeed = true
	h.rt.mu.Unlock()

	h.sched.Tick(context.Background())

	if n := h.attemptCount(t, "task-1"); n != 2 {
		t.Fatalf("expected a resumed attempt, got %d rows", n)
	}
	latest, _ := memory.NewAttemptRepo(h.store).GetLatestByTask(context.Background(), "task-1")
	if latest.Status != domain.AttemptStatusSucceeded {
		t.Errorf("expected succeeded, got %s", latest.Status)
	}
	if latest.TriggeredBy != domain.TriggerScheduled {
		t.Errorf("batch resume is a scheduled trigger, got %s", latest.TriggeredBy)
	}
}

func TestTick_RespectsBatchSize(t *testing.T) {
	h := newHarness(t, 2)
	for i := 0; i < 3; i++ {
		h.park(t, fmt.Sprintf("task-%d", i))
	}

	h.sched.Tick(context.Background())

	resumed := 0
	for i := 0; i < 3; i++ {
		if h.attemptCount(t, fmt.Sprintf("task-%d", i)) == 2 {
			resumed++
		}
	}
	if resumed != 2 {
		t.Errorf("expected exactly 2 tasks resumed, got %d", resumed)
	}
}

func TestTick_SingleFlight(t *testing.T) {
	h := newHarness(t, 5)
	h.park(t, "task-1")

	h.sched.ticking.Store(true)
	h.sched.Tick(context.Background())
	h.sched.ticking.Store(false)

	if n := h.attemptCount(t, "task-1"); n != 1 {
		t.Errorf("overlapping tick must be skipped, got %d rows", n)
	}
}

func TestTick_StampsLastTick(t *testing.T) {
	h := newHarness(t, 5)
	if !h.sched.LastTick().IsZero() {
		t.Fatal("expected zero last tick before first pass")
	}
	h.sched.Tick(context.Background())
	if h.sched.LastTick().IsZero() {
		t.Error("tick must stamp last tick")
	}
}

// =============================================================================
// Watchdog Tests
// =============================================================================

func TestTick_ExpiresStuckExecution(t *testing.T) {
	h := newHarness(t, 5)
	repo := memory.NewAttemptRepo(h.store)

	stuck := &domain.RecoveryAttempt{
		ID:            "stuck-1",
		TaskID:        "task-9",
		WorkspaceID:   "ws-1",
		AttemptNumber: 1,
		TriggeredBy:   domain.TriggerImmediate,
		StartedAt:     time.Now().Add(-time.Hour),
		Status:        domain.AttemptStatusExecuting,
		Strategy:      domain.StrategyRetryDifferentAgent,
	}
	if err := repo.Create(context.Background(), stuck); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	h.sched.Tick(context.Background())

	got, _ := repo.GetByID(context.Background(), stuck.ID)
	if got.Status == domain.AttemptStatusExecuting {
		t.Error("stuck execution must be expired by the watchdog")
	}
}

func TestTick_ExpiresStuckAnalyzing(t *testing.T) {
	h := newHarness(t, 5)
	repo := memory.NewAttemptRepo(h.store)

	stuck := &domain.RecoveryAttempt{
		ID:            "stuck-2",
		TaskID:        "task-10",
		WorkspaceID:   "ws-1",
		AttemptNumber: 1,
		TriggeredBy:   domain.TriggerImmediate,
		StartedAt:     time.Now().Add(-time.Hour),
		Status:        domain.AttemptStatusAnalyzing,
	}
	if err := repo.Create(context.Background(), stuck); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	h.sched.Tick(context.Background())

	got, _ := repo.GetByID(context.Background(), stuck.ID)
	if got.Status != domain.AttemptStatusRetrying {
		t.Errorf("stuck analyzing attempt must be parked by the watchdog, got %s", got.Status)
	}
}
