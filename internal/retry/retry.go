// Package retry re-invokes fallible operations a bounded number of times.
// Retries are immediate; callers that need spacing between attempts own
// their own timers.
package retry

import (
	"context"
	"fmt"
)

// DefaultMaxRetries is the number of re-invocations after the first attempt.
const DefaultMaxRetries = 3

// Option configures a retried call.
type Option func(*options)

type options struct {
	maxRetries int
}

// WithMaxRetries sets the number of re-invocations after the first attempt.
func WithMaxRetries(n int) Option {
	return func(o *options) {
		o.maxRetries = n
	}
}

// Do invokes fn, re-invoking it on failure up to the configured bound.
// The final error is propagated when all attempts fail. Context
// cancellation is checked between attempts and aborts with ctx.Err().
func Do(ctx context.Context, fn func(ctx context.Context) error, opts ...Option) error {
	o := options{maxRetries: DefaultMaxRetries}
	for _, opt := range opts {
		opt(&o)
	}

	var lastErr error
	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		if attempt > 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("after %d attempts: %w", o.maxRetries+1, lastErr)
}
