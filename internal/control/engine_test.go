package control

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/mender/internal/core/config"
	"github.com/vietddude/mender/internal/core/domain"
)

// =============================================================================
// Mock Runtime
// =============================================================================

type fakeRuntime struct {
	mu       sync.Mutex
	executed []domain.Strategy
	statuses []domain.OperationalStatus
}

func (r *fakeRuntime) GetTaskContext(ctx context.Context, taskID string) (*domain.TaskContext, error) {
	return &domain.TaskContext{TaskID: taskID, AutoRecoveryEnabled: true}, nil
}

func (r *fakeRuntime) ExecuteStrategy(ctx context.Context, taskID string, s domain.Strategy, attemptID string) (*domain.StrategyOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executed = append(r.executed, s)
	return &domain.StrategyOutcome{Success: true, Outcome: "recovered"}, nil
}

func (r *fakeRuntime) UpdateTaskStatus(ctx context.Context, update *domain.TaskStatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, update.Status)
	return nil
}

func (r *fakeRuntime) UpdateWorkspaceStatus(ctx context.Context, workspaceID string, status domain.OperationalStatus) error {
	return nil
}

func (r *fakeRuntime) executedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.executed)
}

// =============================================================================
// Tests
// =============================================================================

func memoryConfig() *config.AppConfig {
	cfg := config.Default()
	cfg.Database.URL = ""
	cfg.Redis.URL = ""
	cfg.Recovery.RetryDelay = time.Millisecond
	cfg.Recovery.MaxRetryDelay = time.Second
	return cfg
}

func TestNewEngine_MemoryBackend(t *testing.T) {
	eng, err := NewEngine(memoryConfig(), &fakeRuntime{})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if eng.Scheduler() == nil || eng.Orchestrator() == nil {
		t.Fatal("pipeline components missing")
	}
	if eng.Attempts() == nil || eng.Patterns() == nil || eng.Explanations() == nil {
		t.Fatal("repository accessors missing")
	}
	if eng.db != nil {
		t.Error("no database URL configured, db must be nil")
	}
	if eng.redisClient != nil {
		t.Error("no redis URL configured, redis client must be nil")
	}
}

func TestEngine_NotifyFailureEndToEnd(t *testing.T) {
	rt := &fakeRuntime{}
	eng, err := NewEngine(memoryConfig(), rt)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	ctx := context.Background()
	attempt, err := eng.Scheduler().NotifyFailure(ctx, &domain.FailureEvent{
		WorkspaceID:    "ws-1",
		TaskID:         "task-1",
		ErrorMessage:   "connection timed out after 30s",
		FailureType:    domain.FailureTypeTimeout,
		ExecutionStage: "tool_call",
		OccurredAt:     time.Now(),
	})
	if err != nil {
		t.Fatalf("NotifyFailure failed: %v", err)
	}
	if attempt.AttemptNumber != 1 {
		t.Errorf("expected first attempt, got %d", attempt.AttemptNumber)
	}
	eng.Orchestrator().Drain()

	final, err := eng.Attempts().GetByID(ctx, attempt.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if final.Status != domain.AttemptStatusSucceeded {
		t.Fatalf("expected succeeded, got %s", final.Status)
	}
	if rt.executedCount() != 1 {
		t.Errorf("expected 1 strategy execution, got %d", rt.executedCount())
	}

	// The audit trail is written in the same terminal transition.
	e, err := eng.Explanations().GetByAttempt(ctx, attempt.ID)
	if err != nil {
		t.Fatalf("GetByAttempt failed: %v", err)
	}
	if e == nil {
		t.Fatal("terminal attempt must carry an explanation")
	}

	// The pattern registry saw the failure exactly once.
	patterns, err := eng.Patterns().ListByWorkspace(ctx, "ws-1")
	if err != nil {
		t.Fatalf("ListByWorkspace failed: %v", err)
	}
	if len(patterns) != 1 || patterns[0].OccurrenceCount != 1 {
		t.Errorf("expected one pattern with a single occurrence, got %+v", patterns)
	}
}

func TestEngine_StopDrainsInFlight(t *testing.T) {
	rt := &fakeRuntime{}
	eng, err := NewEngine(memoryConfig(), rt)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	ctx := context.Background()
	if _, err := eng.Scheduler().NotifyFailure(ctx, &domain.FailureEvent{
		WorkspaceID:    "ws-1",
		TaskID:         "task-stop",
		ErrorMessage:   "agent crashed",
		FailureType:    domain.FailureTypeAgentError,
		ExecutionStage: "planning",
		OccurredAt:     time.Now(),
	}); err != nil {
		t.Fatalf("NotifyFailure failed: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := eng.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	latest, err := eng.Attempts().GetLatestByTask(ctx, "task-stop")
	if err != nil {
		t.Fatalf("GetLatestByTask failed: %v", err)
	}
	if latest.Status.InFlight() {
		t.Errorf("Stop must wait for in-flight executions, got %s", latest.Status)
	}
}
