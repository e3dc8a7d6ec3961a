package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jkaninda/fundi/internal/config"
	"github.com/jkaninda/fundi/internal/engine"
	"github.com/jkaninda/fundi/internal/executor"
	"github.com/jkaninda/fundi/internal/feedback"
	"github.com/jkaninda/fundi/internal/observability"
	"github.com/jkaninda/fundi/internal/report"
	"github.com/jkaninda/fundi/internal/sandbox"
	"github.com/jkaninda/fundi/internal/tester"
	"github.com/jkaninda/fundi/internal/workspace"
)

// SharedComponents holds all initialized subsystems for a run.
// Built once by initShared, torn down by Cleanup.
type SharedComponents struct {
	Config    *config.Config
	Logger    *slog.Logger
	Workspace *workspace.Workspace

	Obs    *observability.Observability
	Env    *sandbox.Environment
	Store  *report.Store
	Engine *engine.Engine

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// initShared wires the full pipeline: sandbox environment, executor,
// discipline orchestrator, feedback controller, and engine.
// Callers must call sc.Cleanup() when done.
func initShared(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
	}

	// Workspace.
	ws, err := initWorkspace(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing workspace: %w", err)
	}
	sc.Workspace = ws
	logger.Debug("workspace initialized", slog.String("root", ws.Root))
	if err := ws.CleanExec(); err != nil {
		logger.Warn("failed to clean leftover exec dirs", slog.String("error", err.Error()))
	}

	// Ensure data directory exists.
	dataDir := cfg.ResolvedDataDir()
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}
	logger.Debug("data directory initialized", slog.String("path", dataDir))

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	sc.addCleanup(func() {
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}
	})
	if obs != nil {
		logger.Debug("observability initialized",
			slog.Bool("metrics", obs.Metrics != nil),
			slog.Bool("tracing", obs.Tracer != nil),
		)
	}

	// Sandbox environment: probed once, immutable for the run.
	env := sandbox.NewEnvironment(ctx, sandboxConfig(cfg), logger)
	sc.Env = env

	// Storage.
	store, err := report.OpenStore(storeConfig(cfg), logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	sc.Store = store
	sc.addCleanup(func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", slog.String("error", err.Error()))
		}
	})

	// Health check for the storage dependency.
	if obs != nil && obs.Health != nil {
		obs.Health.AddCheck("storage", store.Ping)
	}

	// Execution pipeline.
	testerCfg, err := testerConfig(cfg)
	if err != nil {
		sc.Cleanup()
		return nil, err
	}

	var runner executor.Runner = executor.New(env, executor.Options{
		Timeout:      cfg.Sandbox.ExecutionTimeout(),
		WorkspaceDir: ws.ExecDir(),
	}, logger, obs.TracerOrNil().Tracer())
	if obs != nil && obs.Metrics != nil {
		runner = observability.NewInstrumentedRunner(runner, obs.Metrics)
	}

	orch := tester.New(runner, testerCfg, logger, obs.TracerOrNil().Tracer())

	// No developer collaborator is wired in CLI mode: failing subtasks get a
	// single attempt. Embedders supply a feedback.Developer for revisions.
	controller := feedback.NewController(orch, nil, cfg.Engine.Retries(), logger)

	sc.Engine = engine.New(controller, engine.Options{
		Concurrency: cfg.Engine.Concurrency(),
		Degraded:    env.Degraded(),
		Metrics:     obs.MetricsOrNil(),
		Store:       store,
		Logger:      logger,
	})

	return sc, nil
}

func initWorkspace(cfg *config.Config) (*workspace.Workspace, error) {
	var (
		ws  *workspace.Workspace
		err error
	)
	if cfg.Workspace != "" {
		ws, err = workspace.New(cfg.Workspace)
	} else {
		ws, err = workspace.Default()
	}
	if err != nil {
		return nil, err
	}
	return ws, ws.EnsureAll()
}

func sandboxConfig(cfg *config.Config) sandbox.Config {
	backend := cfg.Sandbox.Backend
	if backend == "auto" {
		backend = ""
	}
	limits := sandbox.ResourceLimits{
		MaxCPUSeconds:  cfg.Sandbox.MaxCPUSeconds,
		MaxMemoryMB:    cfg.Sandbox.MaxMemoryMB,
		MaxOpenFiles:   cfg.Sandbox.MaxOpenFiles,
		MaxOutputBytes: cfg.Sandbox.MaxOutputBytes,
		NetworkEnabled: cfg.Sandbox.NetworkEnabled,
	}
	return sandbox.Config{
		Backend: backend,
		Docker: sandbox.DockerConfig{
			Image:          cfg.Sandbox.Image,
			DefaultTimeout: cfg.Sandbox.ExecutionTimeout(),
			MemoryMB:       cfg.Sandbox.MaxMemoryMB,
			CPUCores:       cfg.Sandbox.CPUCores,
			PIDsLimit:      cfg.Sandbox.PIDsLimit,
		},
		Process: sandbox.ProcessConfig{
			DefaultTimeout: cfg.Sandbox.ExecutionTimeout(),
			DefaultLimits:  limits,
		},
	}
}

func storeConfig(cfg *config.Config) report.StoreConfig {
	sc := report.StoreConfig{Driver: cfg.StorageDriverName()}
	switch sc.Driver {
	case "postgres":
		sc.DSN = cfg.Storage.Postgres.DSN
	default:
		sc.Path = cfg.DatabasePath()
	}
	return sc
}

func testerConfig(cfg *config.Config) (tester.Config, error) {
	tc := tester.Config{
		Timeout: cfg.Sandbox.ExecutionTimeout(),
		Limits: sandbox.ResourceLimits{
			MaxCPUSeconds:  cfg.Sandbox.MaxCPUSeconds,
			MaxMemoryMB:    cfg.Sandbox.MaxMemoryMB,
			MaxOpenFiles:   cfg.Sandbox.MaxOpenFiles,
			MaxOutputBytes: cfg.Sandbox.MaxOutputBytes,
			NetworkEnabled: cfg.Sandbox.NetworkEnabled,
		},
		MaxDurationMS:  cfg.Tester.MaxDurationMS,
		MaxMemoryKB:    cfg.Tester.MaxMemoryKB,
		CoverageMinPct: cfg.Tester.CoverageMinPct,
	}
	if cfg.Tester.SeverityFloor != "" {
		floor, err := tester.ParseSeverity(cfg.Tester.SeverityFloor)
		if err != nil {
			return tester.Config{}, fmt.Errorf("invalid tester.severity_floor: %w", err)
		}
		tc.SeverityFloor = floor
	}
	return tc, nil
}
