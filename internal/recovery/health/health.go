// Package health provides system health monitoring and status reporting.
package health

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// Report contains the full engine health report.
type Report struct {
	Status          SystemStatus `json:"status"`
	Database        string       `json:"database"`
	Redis           string       `json:"redis,omitempty"`
	ActiveAttempts  int          `json:"active_attempts"`
	RetryQueueDepth int          `json:"retry_queue_depth"`
	LastTickAgo     string       `json:"last_scheduler_tick_ago,omitempty"`
}
