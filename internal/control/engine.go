package control

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"

	"github.com/vietddude/mender/internal/core/config"
	"github.com/vietddude/mender/internal/infra/redis"
	"github.com/vietddude/mender/internal/infra/storage"
	"github.com/vietddude/mender/internal/infra/storage/memory"
	"github.com/vietddude/mender/internal/infra/storage/postgres"
	"github.com/vietddude/mender/internal/recovery/explain"
	"github.com/vietddude/mender/internal/recovery/health"
	"github.com/vietddude/mender/internal/recovery/metrics"
	"github.com/vietddude/mender/internal/recovery/orchestrator"
	"github.com/vietddude/mender/internal/recovery/pattern"
	"github.com/vietddude/mender/internal/recovery/scheduler"
	"github.com/vietddude/mender/internal/recovery/strategy"
	"github.com/vietddude/mender/internal/runtime"
)

// Engine is the main application struct that wires the recovery pipeline and
// manages its lifecycle.
type Engine struct {
	cfg *config.AppConfig

	db          *postgres.DB
	store       *memory.MemoryStorage
	redisClient *redis.Client

	patterns     storage.PatternRepository
	attempts     storage.AttemptRepository
	explanations storage.ExplanationRepository
	workspaces   storage.WorkspaceMetricsRepository

	matcher      *pattern.Matcher
	orch         *orchestrator.Orchestrator
	sched        *scheduler.Scheduler
	healthServer *health.Server

	log *slog.Logger
}

// NewEngine creates an Engine with all dependencies initialized. rt may be
// nil, in which case the JSON-over-HTTP runtime client from the config is
// used.
func NewEngine(cfg *config.AppConfig, rt runtime.Runtime) (*Engine, error) {
	e := &Engine{cfg: cfg, log: slog.Default()}

	// 1. Storage
	var terminal storage.TerminalWriter
	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(db.DB.DB, "migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		e.db = db
		e.patterns = postgres.NewPatternRepo(db)
		e.attempts = postgres.NewAttemptRepo(db)
		e.explanations = postgres.NewExplanationRepo(db)
		e.workspaces = postgres.NewMetricsRepo(db)
		terminal = postgres.NewTerminalWriter(db)
		slog.Info("Using PostgreSQL storage")
	} else {
		store := memory.NewMemoryStorage()
		e.store = store
		e.patterns = memory.NewPatternRepo(store)
		e.attempts = memory.NewAttemptRepo(store)
		e.explanations = memory.NewExplanationRepo(store)
		e.workspaces = memory.NewMetricsRepo(store)
		terminal = memory.NewTerminalWriter(store)
		slog.Info("Using Memory storage")
	}

	// 2. Task locking: distributed when Redis is configured, in-process
	// otherwise.
	var locker orchestrator.TaskLocker
	if cfg.Redis.URL != "" {
		redisClient, err := redis.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		e.redisClient = redisClient
		locker = redis.NewTaskLock(redisClient, cfg.Redis.LockTTL)
		slog.Info("Using Redis task locks")
	} else {
		locker = orchestrator.NewMemoryLocker()
	}

	// 3. Runtime collaborator
	if rt == nil {
		rt = runtime.NewHTTPRuntime(cfg.Runtime)
	}

	// 4. Recovery pipeline
	rc := cfg.Recovery
	e.matcher = pattern.NewMatcher(e.patterns, rc.TransientCeiling)
	scorer := strategy.NewRuleSelector(rc.MaxAttempts)
	generator := explain.NewGenerator()
	aggregator := metrics.NewAggregator(e.workspaces)
	backoff := &orchestrator.Backoff{BaseDelay: rc.RetryDelay, MaxDelay: rc.MaxRetryDelay}

	e.orch = orchestrator.NewOrchestrator(
		orchestrator.Config{
			Enabled:             rc.Enabled,
			MaxAttempts:         rc.MaxAttempts,
			ConfidenceThreshold: rc.ConfidenceThreshold,
			ExecutionTimeout:    rc.ExecutionTimeout,
		},
		e.attempts, e.patterns, terminal,
		e.matcher, scorer, generator, aggregator, rt, locker, backoff,
	)

	e.sched = scheduler.NewScheduler(
		scheduler.Config{
			CheckInterval:   rc.CheckInterval,
			BatchSize:       rc.BatchSize,
			WatchdogTimeout: rc.WatchdogTimeout,
		},
		e.orch, e.attempts, aggregator,
	)

	// 5. Health
	var dbPinger, redisPinger health.Pinger
	if e.db != nil {
		dbPinger = e.db
	}
	if e.redisClient != nil {
		redisPinger = e.redisClient
	}
	monitor := health.NewMonitor(dbPinger, redisPinger, e.attempts, e.sched.LastTick, rc.CheckInterval)
	e.healthServer = health.NewServer(monitor, cfg.Server.Port)

	return e, nil
}

// Scheduler returns the engine's front door for failure events.
func (e *Engine) Scheduler() *scheduler.Scheduler { return e.sched }

// Orchestrator returns the attempt state machine.
func (e *Engine) Orchestrator() *orchestrator.Orchestrator { return e.orch }

// Attempts exposes the attempt store for read-only tooling.
func (e *Engine) Attempts() storage.AttemptRepository { return e.attempts }

// Patterns exposes the pattern store for read-only tooling.
func (e *Engine) Patterns() storage.PatternRepository { return e.patterns }

// Explanations exposes the audit trail for read-only tooling.
func (e *Engine) Explanations() storage.ExplanationRepository { return e.explanations }

// Start starts the engine and all its components.
func (e *Engine) Start(ctx context.Context) error {
	go func() {
		if err := e.healthServer.Start(); err != nil {
			e.log.Error("Health server failed", "error", err)
		}
	}()

	if e.db != nil {
		e.db.StartMetricsCollector(ctx)
	}

	go e.sched.Run(ctx)

	e.log.Info("Engine started",
		"port", e.cfg.Server.Port,
		"recovery_enabled", e.cfg.Recovery.Enabled,
		"max_attempts", e.cfg.Recovery.MaxAttempts)
	return nil
}

// Stop stops the engine, waiting for in-flight executions to finish.
func (e *Engine) Stop(ctx context.Context) error {
	e.log.Info("Stopping engine...")

	e.orch.Drain()

	if e.redisClient != nil {
		if err := e.redisClient.Close(); err != nil {
			e.log.Warn("Failed to close Redis", "error", err)
		}
	}

	err := e.healthServer.Stop(ctx)

	if e.db != nil {
		if dbErr := e.db.Close(); dbErr != nil {
			e.log.Warn("Failed to close database", "error", dbErr)
		}
	}
	return err
}
