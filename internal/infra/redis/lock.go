package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only when the caller still owns it, so a
// lock that expired and was re-acquired elsewhere is never released by the
// old holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// TaskLock is the Redis-backed task locker for multi-replica deployments.
// Locks carry a TTL so a crashed holder cannot strand a task forever.
type TaskLock struct {
	rdb   *redis.Client
	ttl   time.Duration
	owner string
}

// NewTaskLock creates a TTL-based distributed task locker.
func NewTaskLock(client *Client, ttl time.Duration) *TaskLock {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &TaskLock{
		rdb:   client.rdb,
		ttl:   ttl,
		owner: uuid.New().String(),
	}
}

func (l *TaskLock) key(taskID string) string {
	return fmt.Sprintf("recovery_lock:%s", taskID)
}

// TryAcquire attempts to take the lock for a task without blocking.
func (l *TaskLock) TryAcquire(ctx context.Context, taskID string) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, l.key(taskID), l.owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	return ok, nil
}

// Release frees the lock if this replica still owns it.
func (l *TaskLock) Release(ctx context.Context, taskID string) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{l.key(taskID)}, l.owner).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release failed: %w", err)
	}
	return nil
}

// Refresh extends the TTL of a held lock during long executions.
func (l *TaskLock) Refresh(ctx context.Context, taskID string) error {
	return l.rdb.Expire(ctx, l.key(taskID), l.ttl).Err()
}
