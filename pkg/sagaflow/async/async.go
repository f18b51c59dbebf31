// Package async carries the small concurrency helpers the engine and its
// collaborators share: a cancellable sleep and a deadline race.
package async

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNonPositiveTimeout is returned by WithTimeout for a zero or negative
// deadline.
var ErrNonPositiveTimeout = errors.New("timeout must be positive")

// TimeoutError indicates an operation exceeded its deadline.
type TimeoutError struct {
	Operation string
	Duration  time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %s: %s", e.Duration, e.Operation)
}

// Delay sleeps for d, returning early with the context error when ctx is
// cancelled. A zero or negative d returns immediately.
func Delay(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// WithTimeout races fn against a deadline. On deadline the sub-context
// passed to fn is cancelled and a TimeoutError is returned; on success the
// timer is released.
func WithTimeout[T any](ctx context.Context, operation string, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if d <= 0 {
		return zero, ErrNonPositiveTimeout
	}

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		v, err := fn(subCtx)
		done <- outcome{value: v, err: err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.value, out.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-timer.C:
		return zero, &TimeoutError{Operation: operation, Duration: d}
	}
}
