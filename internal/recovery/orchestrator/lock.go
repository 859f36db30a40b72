package orchestrator

import (
	"context"
	"sync"
)

// TaskLocker serializes recovery per task. The immediate and scheduled paths
// both acquire the task lock before touching attempt state, so one task never
// has two concurrent executions even across engine replicas.
type TaskLocker interface {
	// TryAcquire attempts to take the lock for a task without blocking.
	// Returns false when another holder owns it.
	TryAcquire(ctx context.Context, taskID string) (bool, error)

	// Release frees the lock for a task. Releasing an unheld lock is a no-op.
	Release(ctx context.Context, taskID string) error
}

// MemoryLocker is the in-process TaskLocker used in single-replica and test
// deployments.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemoryLocker creates an in-process task locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

func (l *MemoryLocker) TryAcquire(ctx context.Context, taskID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[taskID]; ok {
		return false, nil
	}
	l.held[taskID] = struct{}{}
	return true, nil
}

func (l *MemoryLocker) Release(ctx context.Context, taskID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, taskID)
	return nil
}
