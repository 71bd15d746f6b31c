package cloud

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chiquitav2/ddcloud/pkg/errors"
	"github.com/chiquitav2/ddcloud/pkg/logger"
)

// PollFunc is one polling attempt. It returns a non-nil result when done,
// (nil, nil) to be called again, or an error to record a failure.
type PollFunc[T any] func(ctx context.Context, attempt int) (*T, error)

// WaitOptions tune WaitForIP
type WaitOptions struct {
	Timeout            time.Duration
	Interval           time.Duration
	IntervalMultiplier float64
	MaxFailures        int
	Logger             *logger.Logger
}

// DefaultWaitOptions matches the driver defaults: 25 minutes, every 30 seconds, 60 failures
func DefaultWaitOptions() WaitOptions {
	return WaitOptions{
		Timeout:            25 * time.Minute,
		Interval:           30 * time.Second,
		IntervalMultiplier: 1,
		MaxFailures:        60,
	}
}

// WaitResult carries polling statistics alongside the value
type WaitResult[T any] struct {
	Value    *T
	Attempts int
	Elapsed  time.Duration
}

// WaitForIP calls fn until it produces a result. Failures count against
// MaxFailures and exhausting them is an execution failure; running past
// Timeout is an execution timeout. The returned WaitResult is never nil:
// on error it has no Value but still reports attempts and elapsed time.
func WaitForIP[T any](ctx context.Context, fn PollFunc[T], opts WaitOptions) (*WaitResult[T], error) {
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.IntervalMultiplier < 1 {
		opts.IntervalMultiplier = 1
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = 1
	}

	start := time.Now()
	deadline := start.Add(opts.Timeout)
	interval := opts.Interval
	remainingFailures := opts.MaxFailures
	attempt := 0
	stats := func(value *T) *WaitResult[T] {
		return &WaitResult[T]{Value: value, Attempts: attempt, Elapsed: time.Since(start)}
	}

	for {
		attempt++
		result, err := fn(ctx, attempt)
		switch {
		case err != nil:
			remainingFailures--
			log.WarnErrCtx(ctx, "polling attempt failed", err,
				slog.Int("attempt", attempt),
				slog.Int("failures_left", remainingFailures))
			if remainingFailures <= 0 {
				return stats(nil), errors.NewExecutionFailure(
					fmt.Sprintf("too many failures while waiting for ip (%d)", opts.MaxFailures), err)
			}
		case result != nil:
			return stats(result), nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return stats(nil), errors.NewExecutionTimeout(
				fmt.Sprintf("unable to get ip after %s", opts.Timeout), nil)
		}

		sleep := interval
		if sleep > remaining {
			sleep = remaining
		}
		log.DebugContext(ctx, "waiting for ip",
			slog.Int("attempt", attempt),
			slog.Duration("sleep", sleep),
			slog.Duration("remaining", remaining))

		select {
		case <-ctx.Done():
			return stats(nil), errors.NewExecutionTimeout("waiting for ip cancelled", ctx.Err())
		case <-time.After(sleep):
		}

		interval = time.Duration(float64(interval) * opts.IntervalMultiplier)
	}
}
