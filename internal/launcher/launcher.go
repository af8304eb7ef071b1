// Package launcher brings the compose stack up. It locates the compose
// descriptor and runs the primary launch command, falling back to the legacy
// command form when the primary one does not exit cleanly.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

var (
	// ErrLaunchFailed is matched by every *LaunchError.
	ErrLaunchFailed = errors.New("compose launch failed")

	// ErrLaunchAborted is reported when the context ends during the primary
	// command. The fallback is not tried.
	ErrLaunchAborted = errors.New("compose launch aborted")
)

// LaunchError describes one failed launch command: either it could not be
// spawned (Err set, ExitCode -1) or it exited non-zero.
type LaunchError struct {
	Command  []string
	ExitCode int
	Err      error
}

func (e *LaunchError) Error() string {
	cmd := strings.Join(e.Command, " ")
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", cmd, e.Err)
	}
	return fmt.Sprintf("%s: exit status %d", cmd, e.ExitCode)
}

func (e *LaunchError) Unwrap() error { return e.Err }

func (e *LaunchError) Is(target error) bool { return target == ErrLaunchFailed }

// Outcome reports what EnsureRunning did. Err holds the last launch failure
// and is nil when Succeeded is true.
type Outcome struct {
	AttemptedPrimary  bool  `json:"attempted_primary"`
	AttemptedFallback bool  `json:"attempted_fallback"`
	Succeeded         bool  `json:"succeeded"`
	Err               error `json:"-"`
}

// Runner runs argv in dir and waits for it to exit. A spawn failure is
// returned as an error; a process that ran returns its exit code and nil.
type Runner interface {
	Run(ctx context.Context, dir string, argv []string) (int, error)
}

// ExecRunner runs commands with os/exec, wiring the child's standard streams
// to the configured writers so compose progress stays visible.
type ExecRunner struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// NewExecRunner returns an ExecRunner attached to the parent's stdin and
// stderr. The child's stdout also goes to stderr, leaving the parent's stdout
// for the run summary.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{Stdin: os.Stdin, Stdout: os.Stderr, Stderr: os.Stderr}
}

func (r *ExecRunner) Run(ctx context.Context, dir string, argv []string) (int, error) {
	if len(argv) == 0 {
		return -1, errors.New("empty command")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdin = r.Stdin
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

// Launcher starts the compose stack with a primary command and a fallback.
type Launcher struct {
	runner   Runner
	primary  []string
	fallback []string
}

// New constructs a Launcher. primary is tried first; fallback runs only when
// primary could not be spawned or exited non-zero.
func New(runner Runner, primary, fallback []string) *Launcher {
	return &Launcher{
		runner:   runner,
		primary:  primary,
		fallback: fallback,
	}
}

// EnsureRunning launches the stack from dir. It never returns an error: a
// failed launch is logged and reported in the Outcome, and the caller carries
// on because the stack may already be up from an earlier run.
func (l *Launcher) EnsureRunning(ctx context.Context, dir string) Outcome {
	var out Outcome

	out.AttemptedPrimary = true
	slog.InfoContext(ctx, "launching compose stack", "command", strings.Join(l.primary, " "), "dir", dir)
	err := l.run(ctx, dir, l.primary)

	if err != nil && ctx.Err() != nil {
		out.Err = fmt.Errorf("%w: %w", ErrLaunchAborted, ctx.Err())
		slog.WarnContext(ctx, "compose launch aborted", "err", err)
		return out
	}

	if err != nil {
		slog.WarnContext(ctx, "primary launch failed, falling back",
			"err", err, "fallback", strings.Join(l.fallback, " "))

		out.AttemptedFallback = true
		err = l.run(ctx, dir, l.fallback)
	}

	if err != nil {
		out.Err = err
		slog.ErrorContext(ctx, "could not start compose stack; ensure the Docker engine is running and docker is on PATH",
			"err", err)
		return out
	}

	out.Succeeded = true
	slog.InfoContext(ctx, "compose stack started (or already running)")
	return out
}

func (l *Launcher) run(ctx context.Context, dir string, argv []string) error {
	code, err := l.runner.Run(ctx, dir, argv)
	if err != nil {
		return &LaunchError{Command: argv, ExitCode: -1, Err: err}
	}
	if code != 0 {
		return &LaunchError{Command: argv, ExitCode: code}
	}
	return nil
}
