// Package resilience wraps the control-plane client's outbound calls with
// bounded exponential-backoff retry and a three-state circuit breaker, both
// built on github.com/felixgeelhaar/fortify.
package resilience

import (
	"errors"

	"github.com/adno-labs/agent-runtime/internal/transport"
)

// ErrNonRetryable marks an error the retry layer must not retry (a status in
// [400,500) other than 429). fortify's retry.Config.NonRetryableErrors is
// matched with errors.Is, so wrapping an error with this sentinel (via
// fmt.Errorf("%w: %w", ErrNonRetryable, err)) is enough to stop the retry
// loop without losing the original error for the caller.
var ErrNonRetryable = errors.New("non-retryable client error")

// classify inspects the result of one attempt and reports whether it should
// be retried and whether it should count toward the circuit breaker.
func classify(err error) (retryable, countsTowardBreaker bool) {
	if err == nil {
		return false, false
	}
	if transport.IsTimeout(err) {
		return true, true
	}
	var he *transport.HttpError
	if errors.As(err, &he) {
		return he.Retryable(), he.CountsTowardBreaker()
	}
	// Network-level failures with no status (DNS, connection refused, ...)
	// are transient by definition ("Transient" meaning status >=500, 429,
	// timeout, or network error").
	return true, true
}
