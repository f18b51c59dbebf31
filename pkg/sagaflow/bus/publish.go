package bus

import (
	"context"
	"time"

	"github.com/gedeondt/reatilerworkflow-charla-sub001/pkg/sagaflow/envelope"
)

// RetryOptions configures PublishWithRetry.
type RetryOptions struct {
	// Retries is the number of retry attempts after the first try.
	// Total attempts = Retries + 1. Default: 3.
	Retries int

	// Base is the first backoff delay; each subsequent delay doubles.
	// Default: 100ms.
	Base time.Duration
}

// DefaultRetryOptions is the standard publication retry policy.
var DefaultRetryOptions = RetryOptions{
	Retries: 3,
	Base:    100 * time.Millisecond,
}

// PublishWithRetry pushes an envelope, retrying transport errors with
// exponential backoff (base, 2*base, 4*base, ...). Validation errors are
// caller bugs and are never retried. On exhaustion the final transport
// error is returned.
func PublishWithRetry(ctx context.Context, b Bus, queue string, env *envelope.Envelope, opts RetryOptions) error {
	if opts.Retries <= 0 {
		opts.Retries = DefaultRetryOptions.Retries
	}
	if opts.Base <= 0 {
		opts.Base = DefaultRetryOptions.Base
	}

	backoff := opts.Base
	var lastErr error

	for attempt := 0; attempt <= opts.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := b.Push(ctx, queue, env)
		if err == nil {
			return nil
		}
		if !IsRetriable(err) {
			return err
		}
		lastErr = err

		// No sleep after the final attempt.
		if attempt < opts.Retries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	return lastErr
}
