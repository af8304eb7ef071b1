// Package waiter polls a dependency until it accepts a connection or a fixed
// attempt budget runs out.
package waiter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var (
	// ErrConnectionExhausted is matched by *ExhaustedError.
	ErrConnectionExhausted = errors.New("connection attempts exhausted")

	// ErrAborted is returned when the context is cancelled before a
	// connection was confirmed. It is terminal and never retried.
	ErrAborted = errors.New("wait aborted")
)

// ExhaustedError is returned after every permitted attempt failed. Last is the
// error from the final attempt.
type ExhaustedError struct {
	Target   string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s not ready after %d attempts: %v", e.Target, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

func (e *ExhaustedError) Is(target error) bool { return target == ErrConnectionExhausted }

// Options controls a wait. MaxAttempts must be at least 1 and Interval must
// not be negative.
type Options struct {
	// Target names the dependency in log lines and errors.
	Target      string
	MaxAttempts int
	Interval    time.Duration
	// AttemptTimeout bounds a single open call. Zero leaves it to the
	// underlying client.
	AttemptTimeout time.Duration
}

// Attempt describes one polling iteration.
type Attempt struct {
	Number    int
	Succeeded bool
	Err       error
}

// OpenFunc opens a connection. It must return a confirmed-live handle or an
// error, never both.
type OpenFunc[H any] func(ctx context.Context) (H, error)

// Waiter runs the polling loop. OnAttempt, when set, is called after every
// attempt and is meant for metrics.
type Waiter struct {
	OnAttempt func(ctx context.Context, target string, a Attempt)
}

// Wait calls open until it succeeds or opts.MaxAttempts attempts have failed,
// sleeping opts.Interval between failures. Attempts never overlap. On success
// the handle is returned immediately with the number of attempts used.
func Wait[H any](ctx context.Context, w *Waiter, open OpenFunc[H], opts Options) (H, int, error) {
	var zero H

	if opts.MaxAttempts < 1 {
		return zero, 0, fmt.Errorf("max attempts must be at least 1, got %d", opts.MaxAttempts)
	}
	if opts.Interval < 0 {
		return zero, 0, fmt.Errorf("interval must not be negative, got %s", opts.Interval)
	}

	retry := newBackoff(opts.Interval, opts.MaxAttempts)

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, attempt - 1, fmt.Errorf("%w: %s: %w", ErrAborted, opts.Target, err)
		}

		h, err := openOnce(ctx, open, opts.AttemptTimeout)
		if err == nil {
			slog.InfoContext(ctx, "connected", "target", opts.Target, "attempt", attempt)
			w.observe(ctx, opts.Target, Attempt{Number: attempt, Succeeded: true})
			return h, attempt, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, attempt, fmt.Errorf("%w: %s: %w", ErrAborted, opts.Target, ctxErr)
		}

		lastErr = err
		slog.WarnContext(ctx, "not ready",
			"target", opts.Target,
			"attempt", attempt,
			"max_attempts", opts.MaxAttempts,
			"error", err.Error(),
		)
		w.observe(ctx, opts.Target, Attempt{Number: attempt, Err: err})

		delay := retry.NextBackOff()
		if delay == backoff.Stop {
			slog.ErrorContext(ctx, "still not ready after retries",
				"target", opts.Target, "attempts", attempt, "error", lastErr.Error())
			return zero, attempt, &ExhaustedError{Target: opts.Target, Attempts: attempt, Last: lastErr}
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, attempt, fmt.Errorf("%w: %s: %w", ErrAborted, opts.Target, ctx.Err())
		case <-timer.C:
			// continue, try again
		}
	}
}

func (w *Waiter) observe(ctx context.Context, target string, a Attempt) {
	if w != nil && w.OnAttempt != nil {
		w.OnAttempt(ctx, target, a)
	}
}

func openOnce[H any](ctx context.Context, open OpenFunc[H], timeout time.Duration) (H, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return open(ctx)
}

// newBackoff yields interval exactly maxAttempts-1 times, then backoff.Stop.
func newBackoff(interval time.Duration, maxAttempts int) backoff.BackOff {
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), uint64(maxAttempts-1))
	b.Reset()
	return b
}
