package config

import (
	"time"

	redisclient "github.com/vietddude/mender/internal/infra/redis"
	"github.com/vietddude/mender/internal/infra/storage/postgres"
	"github.com/vietddude/mender/internal/runtime"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Recovery RecoveryConfig     `yaml:"recovery"`
	Runtime  runtime.Config     `yaml:"runtime"`
	Redis    redisclient.Config `yaml:"redis"`
	Logging  LoggingConfig      `yaml:"logging"`
	Database postgres.Config    `yaml:"database"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// RecoveryConfig holds the recovery engine settings.
type RecoveryConfig struct {
	Enabled bool `yaml:"enabled"`

	// MaxAttempts is the total attempt budget per task.
	MaxAttempts int `yaml:"max_attempts"`

	// RetryDelay seeds the exponential backoff between attempts.
	RetryDelay    time.Duration `yaml:"retry_delay"`
	MaxRetryDelay time.Duration `yaml:"max_retry_delay"`

	// CheckInterval is the scheduled retry sweep period.
	CheckInterval time.Duration `yaml:"check_interval"`

	// BatchSize caps how many parked tasks one sweep resumes.
	BatchSize int `yaml:"batch_size"`

	// ConfidenceThreshold gates strategy decisions; below it the engine
	// downgrades to skip with fallback.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// ExecutionTimeout bounds a single strategy execution.
	ExecutionTimeout time.Duration `yaml:"execution_timeout"`

	// WatchdogTimeout is how long an attempt may sit in executing before
	// the scheduler force-expires it.
	WatchdogTimeout time.Duration `yaml:"watchdog_timeout"`

	// TransientCeiling is the occurrence count above which a transient
	// failure type stops being treated as transient.
	TransientCeiling int `yaml:"transient_ceiling"`
}
