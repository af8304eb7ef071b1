// Package pipeline runs the startup sequence: locate the compose descriptor,
// launch the stack, wait for the database (and any extra gates), run the
// verification query and release the connection.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/StuartCAlexander88/World-Queries/internal/clients"
	"github.com/StuartCAlexander88/World-Queries/internal/config"
	"github.com/StuartCAlexander88/World-Queries/internal/launcher"
	"github.com/StuartCAlexander88/World-Queries/internal/telemetry"
	"github.com/StuartCAlexander88/World-Queries/internal/waiter"
)

// Locator is satisfied by *launcher.Locator.
type Locator interface {
	Locate(start string) string
}

// StackLauncher is satisfied by *launcher.Launcher.
type StackLauncher interface {
	EnsureRunning(ctx context.Context, dir string) launcher.Outcome
}

// Gate is satisfied by *clients.RedisGate and *clients.NATSGate.
type Gate interface {
	Name() string
	Ping(ctx context.Context) error
}

// Handle is satisfied by *clients.Database.
type Handle interface {
	FirstColumn(ctx context.Context, table string, maxRows int) ([]string, error)
	Close() error
}

// Deps are the collaborators of a Pipeline. Launcher may be nil, which skips
// the locate and launch stages.
type Deps struct {
	Locator  Locator
	Launcher StackLauncher
	Open     waiter.OpenFunc[Handle]
	Gates    []Gate
	Waiter   *waiter.Waiter
	Getwd    func() (string, error)
}

// Pipeline runs the stages strictly one after another.
type Pipeline struct {
	deployment config.DeploymentConfig
	wait       config.WaitConfig
	verify     config.VerifyConfig
	deps       Deps
}

// New constructs a Pipeline for cfg.
func New(cfg *config.Config, deps Deps) *Pipeline {
	if deps.Getwd == nil {
		deps.Getwd = os.Getwd
	}
	return &Pipeline{
		deployment: cfg.Deployment,
		wait:       cfg.Wait,
		verify:     cfg.Verify,
		deps:       deps,
	}
}

// Run executes the pipeline. A failed launch is recorded but not returned.
// Gate or database exhaustion, cancellation and query failures are returned
// alongside a Result describing how far the run got. Any database handle
// acquired is closed before Run returns.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	result := &Result{Status: StatusError}

	ctx, span := otel.Tracer(telemetry.InstrumentationName).Start(ctx, "worldqueries.run")
	defer span.End()

	wd, err := p.deps.Getwd()
	if err != nil {
		return p.fail(ctx, span, result, StageWorkdir, fmt.Errorf("resolving working directory: %w", err))
	}
	result.WorkingDir = wd
	slog.InfoContext(ctx, "working directory", "dir", wd)

	if p.deps.Launcher != nil {
		p.launch(ctx, result)
	} else {
		slog.InfoContext(ctx, "stack launch skipped")
	}

	for _, g := range p.deps.Gates {
		if err := p.waitGate(ctx, g, result); err != nil {
			return p.fail(ctx, span, result, StageGate, err)
		}
	}

	// The URL carries no credentials.
	slog.InfoContext(ctx, "connecting to database", "url", clients.ConnectionURL(p.deployment))

	h, attempts, err := waiter.Wait(ctx, p.deps.Waiter, p.deps.Open, p.waitOptions("database"))
	result.Attempts = attempts
	span.SetAttributes(attribute.Int("db.connect_attempts", attempts))
	if err != nil {
		return p.fail(ctx, span, result, StageConnect, err)
	}

	rows, err := p.query(ctx, h, result)
	if err != nil {
		return p.fail(ctx, span, result, StageQuery, err)
	}

	result.Rows = rows
	result.Status = StatusOK
	span.SetStatus(codes.Ok, "")
	slog.InfoContext(ctx, "verification complete", "rows", len(rows))
	return result, nil
}

func (p *Pipeline) launch(ctx context.Context, result *Result) {
	dir := p.deps.Locator.Locate(result.WorkingDir)
	result.ComposeDir = dir
	slog.InfoContext(ctx, "using compose dir", "dir", dir)

	out := p.deps.Launcher.EnsureRunning(ctx, dir)
	result.Launch = &LaunchResult{
		AttemptedPrimary:  out.AttemptedPrimary,
		AttemptedFallback: out.AttemptedFallback,
		Succeeded:         out.Succeeded,
	}
	if out.Err != nil {
		result.Launch.Error = out.Err.Error()
	}
}

func (p *Pipeline) waitGate(ctx context.Context, g Gate, result *Result) error {
	ping := func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.Ping(ctx)
	}

	_, attempts, err := waiter.Wait(ctx, p.deps.Waiter, ping, p.waitOptions(g.Name()))

	gr := GateResult{Name: g.Name(), Status: StatusOK, Attempts: attempts}
	if err != nil {
		gr.Status = StatusError
		gr.Error = err.Error()
	}
	result.Gates = append(result.Gates, gr)
	return err
}

// query owns h from here on: it is closed on every return path.
func (p *Pipeline) query(ctx context.Context, h Handle, result *Result) (rows []string, err error) {
	defer func() {
		if cerr := h.Close(); cerr != nil {
			slog.WarnContext(ctx, "closing database connection", "err", cerr)
		}
		result.Released = true
	}()

	rows, err = h.FirstColumn(ctx, p.verify.Table, p.verify.MaxRows)
	if err != nil {
		return nil, err
	}

	for _, r := range rows {
		slog.InfoContext(ctx, "row", "table", p.verify.Table, "value", r)
	}
	return rows, nil
}

func (p *Pipeline) waitOptions(target string) waiter.Options {
	return waiter.Options{
		Target:         target,
		MaxAttempts:    p.wait.MaxAttempts,
		Interval:       p.wait.Interval,
		AttemptTimeout: p.wait.AttemptTimeout,
	}
}

func (p *Pipeline) fail(ctx context.Context, span trace.Span, result *Result, stage string, err error) (*Result, error) {
	result.Status = StatusError
	result.FailedStage = stage
	result.Error = err.Error()

	span.RecordError(err)
	span.SetStatus(codes.Error, stage+" failed")
	slog.ErrorContext(ctx, "pipeline failed", "stage", stage, "error", err.Error())
	return result, err
}
