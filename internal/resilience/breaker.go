package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/felixgeelhaar/fortify/circuitbreaker"
)

// BreakerConfig configures the three-state circuit breaker.
type BreakerConfig struct {
	FailureThreshold uint32        // default 5
	SuccessThreshold uint32        // default 2, applied as fortify's half-open MaxRequests
	RecoveryTimeout  time.Duration // default 30s
	CallTimeout      time.Duration // default 30s, belt-and-suspenders in case the inner timeout is misconfigured
}

// DefaultBreakerConfig returns the agreed-upon defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RecoveryTimeout:  30 * time.Second,
		CallTimeout:      30 * time.Second,
	}
}

// ErrCircuitOpen is returned when the breaker refuses a call without
// invoking the inner callable.
var ErrCircuitOpen = errors.New("circuit open")

// Breaker wraps one generic call with a three-state circuit breaker. Only
// failures that classify() marks as counting toward the breaker (>=500,
// timeout, or no-status transport errors) move it toward OPEN; 4xx errors
// pass through untouched.
type Breaker[T any] struct {
	cb      circuitbreaker.CircuitBreaker[T]
	timeout time.Duration
}

// NewBreaker builds a Breaker for result type T.
func NewBreaker[T any](cfg BreakerConfig) *Breaker[T] {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}

	threshold := cfg.FailureThreshold
	return &Breaker[T]{
		timeout: cfg.CallTimeout,
		cb: circuitbreaker.New[T](circuitbreaker.Config{
			MaxRequests: cfg.SuccessThreshold,
			Interval:    cfg.RecoveryTimeout,
			Timeout:     cfg.RecoveryTimeout,
			ReadyToTrip: func(counts circuitbreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
		}),
	}
}

// Do runs fn through the breaker. Errors that must not count toward the
// breaker's failure tally (client errors) are smuggled past
// fortify as a successful call and re-surfaced to the caller afterward, so
// the breaker's internal counters never see them.
func (b *Breaker[T]) Do(ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	var nonCounting error
	out, err := b.cb.Execute(ctx, func(ctx context.Context) (T, error) {
		res, callErr := fn(ctx)
		if callErr == nil {
			return res, nil
		}
		_, counts := classify(callErr)
		if !counts {
			nonCounting = callErr
			return res, nil
		}
		return res, callErr
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrOpenState) {
			return out, ErrCircuitOpen
		}
		return out, err
	}
	if nonCounting != nil {
		return out, nonCounting
	}
	return out, nil
}

// State returns the breaker's current state for logging/observability.
func (b *Breaker[T]) State() circuitbreaker.State {
	return b.cb.State()
}
