package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/mender/internal/infra/storage"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Health(ctx context.Context) error
}

// Monitor aggregates health status from the engine's components.
type Monitor struct {
	db       Pinger
	redis    Pinger
	attempts storage.AttemptRepository
	lastTick func() time.Time

	checkInterval time.Duration

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport Report
}

// NewMonitor creates a health monitor. redis and lastTick may be nil when
// the deployment runs without them.
func NewMonitor(db Pinger, redis Pinger, attempts storage.AttemptRepository, lastTick func() time.Time, checkInterval time.Duration) *Monitor {
	return &Monitor{
		db:            db,
		redis:         redis,
		attempts:      attempts,
		lastTick:      lastTick,
		checkInterval: checkInterval,
	}
}

// CheckHealth performs a health check, rate limited to once per 10s.
func (m *Monitor) CheckHealth(ctx context.Context) Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastCheck) < 10*time.Second && m.lastReport.Status != "" {
		return m.lastReport
	}

	report := Report{Status: StatusHealthy, Database: "ok"}

	if m.db != nil {
		if err := m.db.Health(ctx); err != nil {
			report.Database = err.Error()
			report.Status = StatusCritical
		}
	}

	if m.redis != nil {
		report.Redis = "ok"
		if err := m.redis.Health(ctx); err != nil {
			report.Redis = err.Error()
			if report.Status == StatusHealthy {
				report.Status = StatusDegraded
			}
		}
	}

	if active, err := m.attempts.CountActive(ctx); err == nil {
		report.ActiveAttempts = active
	}
	if due, err := m.attempts.ListEligibleRetrying(ctx, time.Now(), 1000); err == nil {
		report.RetryQueueDepth = len(due)
	}

	if m.lastTick != nil {
		if tick := m.lastTick(); !tick.IsZero() {
			ago := time.Since(tick)
			report.LastTickAgo = ago.Round(time.Second).String()
			if m.checkInterval > 0 && ago > 3*m.checkInterval && report.Status == StatusHealthy {
				report.Status = StatusDegraded
			}
		}
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}
