package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Defaults go in first; unmarshalling only overwrites keys present in
	// the file, so absent keys keep their defaults.
	var cfg AppConfig
	applyDefaults(&cfg)

	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *AppConfig {
	cfg := &AppConfig{}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	r := &cfg.Recovery
	r.Enabled = true
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 5
	}
	if r.RetryDelay == 0 {
		r.RetryDelay = 30 * time.Second
	}
	if r.MaxRetryDelay == 0 {
		r.MaxRetryDelay = 10 * time.Minute
	}
	if r.CheckInterval == 0 {
		r.CheckInterval = 60 * time.Second
	}
	if r.BatchSize == 0 {
		r.BatchSize = 5
	}
	if r.ConfidenceThreshold == 0 {
		r.ConfidenceThreshold = 0.7
	}
	if r.ExecutionTimeout == 0 {
		r.ExecutionTimeout = 5 * time.Minute
	}
	if r.WatchdogTimeout == 0 {
		r.WatchdogTimeout = 15 * time.Minute
	}
	if r.TransientCeiling == 0 {
		r.TransientCeiling = 10
	}
	if cfg.Runtime.Timeout == 0 {
		cfg.Runtime.Timeout = 30 * time.Second
	}
}

// applyEnvOverrides maps the flat operational environment variables onto the
// config. They win over both defaults and the YAML file.
func applyEnvOverrides(cfg *AppConfig) {
	r := &cfg.Recovery
	if v, ok := envBool("ENABLE_AUTO_TASK_RECOVERY"); ok {
		r.Enabled = v
	}
	if v, ok := envInt("MAX_AUTO_RECOVERY_ATTEMPTS"); ok && v > 0 {
		r.MaxAttempts = v
	}
	if v, ok := envInt("RECOVERY_DELAY_SECONDS"); ok && v > 0 {
		r.RetryDelay = time.Duration(v) * time.Second
	}
	if v, ok := envInt("RECOVERY_CHECK_INTERVAL_SECONDS"); ok && v > 0 {
		r.CheckInterval = time.Duration(v) * time.Second
	}
	if v, ok := envInt("RECOVERY_BATCH_SIZE"); ok && v > 0 {
		r.BatchSize = v
	}
	if v, ok := envFloat("AI_RECOVERY_CONFIDENCE_THRESHOLD"); ok && v >= 0 && v <= 1 {
		r.ConfidenceThreshold = v
	}
}

func validate(cfg *AppConfig) error {
	r := cfg.Recovery
	if r.MaxAttempts < 1 {
		return fmt.Errorf("recovery.max_attempts must be at least 1, got %d", r.MaxAttempts)
	}
	if r.ConfidenceThreshold < 0 || r.ConfidenceThreshold > 1 {
		return fmt.Errorf("recovery.confidence_threshold must be in [0,1], got %f", r.ConfidenceThreshold)
	}
	return nil
}

func envBool(key string) (bool, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

func envInt(key string) (int, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envFloat(key string) (float64, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
