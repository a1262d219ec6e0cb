package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
)

// RetryConfig configures bounded exponential-backoff retry.
type RetryConfig struct {
	MaxAttempts int           // default 3
	BackoffMS   int           // default 1000; delay = BackoffMS * 2^(attempt-1)
}

// DefaultRetryConfig returns the agreed-upon defaults: 3 attempts, 1s base backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BackoffMS: 1000}
}

// Retrier wraps one generic call with bounded exponential-backoff retry.
type Retrier[T any] struct {
	r retry.Retry[T]
}

// NewRetrier builds a Retrier for result type T.
func NewRetrier[T any](cfg RetryConfig) *Retrier[T] {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffMS <= 0 {
		cfg.BackoffMS = 1000
	}
	return &Retrier[T]{
		r: retry.New[T](retry.Config{
			MaxAttempts:        cfg.MaxAttempts,
			InitialDelay:       time.Duration(cfg.BackoffMS) * time.Millisecond,
			BackoffPolicy:      retry.BackoffExponential,
			Multiplier:         2.0,
			NonRetryableErrors: []error{ErrNonRetryable},
		}),
	}
}

// Do runs fn, retrying transient failures. fn returns its errors as they
// are: Do classifies each one and wraps a non-retryable error with
// ErrNonRetryable itself, which stops the retry loop.
func (r *Retrier[T]) Do(ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	return r.r.Do(ctx, func(ctx context.Context) (T, error) {
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		retryable, _ := classify(err)
		if !retryable {
			return out, fmt.Errorf("%w: %w", ErrNonRetryable, err)
		}
		return out, err
	})
}
