package runtime

import (
	"context"
	"time"

	"github.com/vietddude/mender/internal/core/domain"
)

// Runtime is the execution environment the engine recovers tasks for. The
// engine never executes strategies itself; it asks the runtime to and reports
// status transitions back.
type Runtime interface {
	// GetTaskContext fetches the current task snapshot used for strategy
	// selection.
	GetTaskContext(ctx context.Context, taskID string) (*domain.TaskContext, error)

	// ExecuteStrategy runs one recovery strategy against a task and reports
	// the outcome. A returned error means the runtime could not be reached;
	// a failed strategy is a successful call with Success=false.
	ExecuteStrategy(ctx context.Context, taskID string, strategy domain.Strategy, attemptID string) (*domain.StrategyOutcome, error)

	// UpdateTaskStatus pushes a task status transition to the runtime.
	UpdateTaskStatus(ctx context.Context, update *domain.TaskStatusUpdate) error

	// UpdateWorkspaceStatus pushes a workspace status transition to the
	// runtime.
	UpdateWorkspaceStatus(ctx context.Context, workspaceID string, status domain.OperationalStatus) error
}

// Config holds the runtime endpoint settings.
type Config struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}
