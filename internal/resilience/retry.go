package resilience

import (
	"context"
	"fmt"
	"time"
)

// Default retry policy for vector store operations: the original call plus
// one retry after a short fixed backoff.
const (
	DefaultRetryAttempts = 2
	DefaultRetryBackoff  = 500 * time.Millisecond
)

// RetryPolicy describes a bounded retry loop with a fixed backoff.
// The zero value is not usable; start from [DefaultRetryPolicy].
type RetryPolicy struct {
	// Attempts is the total number of tries, the first call included.
	Attempts int

	// Backoff is the fixed delay between consecutive tries.
	Backoff time.Duration
}

// DefaultRetryPolicy returns the store retry policy: two attempts, 500ms
// apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: DefaultRetryAttempts, Backoff: DefaultRetryBackoff}
}

// Retry runs fn until it succeeds or the policy's attempts are spent.
// Context cancellation aborts the backoff wait and returns ctx's error.
// The returned error is the last error fn produced.
func (p RetryPolicy) Retry(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := fn(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("resilience: retry aborted: %w", ctx.Err())
		case <-time.After(p.Backoff):
		}
	}
	return lastErr
}

// RetryWithResult is the value-returning variant of [RetryPolicy.Retry].
// A package-level function because Go does not support method-level type
// parameters.
func RetryWithResult[R any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context) (R, error)) (R, error) {
	var result R
	err := p.Retry(ctx, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = fn(ctx)
		return innerErr
	})
	if err != nil {
		var zero R
		return zero, err
	}
	return result, nil
}
