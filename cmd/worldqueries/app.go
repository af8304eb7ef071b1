package main

import (
	"context"
	"log/slog"

	"github.com/StuartCAlexander88/World-Queries/internal/clients"
	"github.com/StuartCAlexander88/World-Queries/internal/config"
	"github.com/StuartCAlexander88/World-Queries/internal/launcher"
	"github.com/StuartCAlexander88/World-Queries/internal/pipeline"
	"github.com/StuartCAlexander88/World-Queries/internal/telemetry"
	"github.com/StuartCAlexander88/World-Queries/internal/waiter"
)

// AppContext holds all constructed application dependencies shared across
// subcommands. It is built once in PersistentPreRunE.
type AppContext struct {
	cfg          *config.Config
	otelProvider *telemetry.Provider
	locator      *launcher.Locator
	launcher     *launcher.Launcher
	db           *clients.DatabaseClient
	gates        []pipeline.Gate
	waiter       *waiter.Waiter
}

// buildAppContext constructs all application dependencies from cfg:
//  1. Initialises the OTEL provider (best-effort, non-fatal)
//  2. Creates the descriptor locator and the compose launcher
//  3. Creates the database client and any configured readiness gates
//  4. Creates the waiter, counting attempts on the OTEL meter
func buildAppContext(ctx context.Context, cfg *config.Config) (*AppContext, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	app := &AppContext{cfg: cfg}

	// OTEL is best-effort: a missing collector must never block startup.
	tp, err := telemetry.Init(ctx, cfg.Telemetry)
	switch {
	case err != nil:
		slog.Warn("OTEL provider init failed, telemetry disabled", "err", err)
	case tp == nil:
		slog.Debug("OTEL telemetry disabled (no endpoint configured)")
	default:
		app.otelProvider = tp
	}

	app.locator = launcher.NewLocator(cfg.Launch.Descriptors)
	app.launcher = launcher.New(launcher.NewExecRunner(), cfg.Launch.Primary, cfg.Launch.Fallback)

	app.db = clients.NewDatabaseClient(cfg.Deployment)
	if cfg.Gates.RedisAddr != "" {
		app.gates = append(app.gates, clients.NewRedisGate(cfg.Gates.RedisAddr))
	}
	if cfg.Gates.NATSURL != "" {
		app.gates = append(app.gates, clients.NewNATSGate(cfg.Gates.NATSURL))
	}

	counter, err := telemetry.NewAttemptCounter()
	if err != nil {
		return nil, err
	}
	app.waiter = &waiter.Waiter{
		OnAttempt: func(ctx context.Context, target string, a waiter.Attempt) {
			counter.Record(ctx, target, a.Succeeded)
		},
	}

	return app, nil
}

// newPipeline assembles a pipeline from the app context. skipLaunch leaves
// the launcher out so only the wait and verification stages run.
func (a *AppContext) newPipeline(skipLaunch bool) *pipeline.Pipeline {
	deps := pipeline.Deps{
		Locator: a.locator,
		Open:    a.openDatabase,
		Gates:   a.gates,
		Waiter:  a.waiter,
	}
	if a.cfg.Launch.Enabled && !skipLaunch {
		deps.Launcher = a.launcher
	}
	return pipeline.New(a.cfg, deps)
}

func (a *AppContext) openDatabase(ctx context.Context) (pipeline.Handle, error) {
	db, err := a.db.Open(ctx)
	if err != nil {
		return nil, err
	}
	return db, nil
}
