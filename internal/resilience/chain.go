package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/adno-labs/agent-runtime/internal/logging"
	"github.com/adno-labs/agent-runtime/internal/transport"
	"github.com/felixgeelhaar/fortify/circuitbreaker"
)

// Chain composes a Transport inside a Retrier inside a Breaker: the breaker
// decides whether to attempt the call at all, the retrier re-attempts
// transient failures underneath it, and the transport performs the actual
// round trip. This ordering means an open breaker short-circuits an entire
// retry sequence in one step, rather than letting the retrier exhaust its
// attempts against a dependency already known to be down.
type Chain struct {
	transport *transport.Transport
	retry     *Retrier[[]byte]
	breaker   *Breaker[[]byte]
}

// NewChain builds a Chain from a Transport and the retry/breaker
// configuration governing calls through it.
func NewChain(t *transport.Transport, rc RetryConfig, bc BreakerConfig) *Chain {
	return &Chain{
		transport: t,
		retry:     NewRetrier[[]byte](rc),
		breaker:   NewBreaker[[]byte](bc),
	}
}

// Do issues req through the full chain and returns the raw response body.
func (c *Chain) Do(ctx context.Context, req transport.Request) ([]byte, error) {
	return c.breaker.Do(ctx, func(ctx context.Context) ([]byte, error) {
		return c.retry.Do(ctx, func(ctx context.Context) ([]byte, error) {
			out, err := c.transport.Do(ctx, req)
			logAttempt(req, err)
			return out, err
		})
	})
}

// State reports the breaker's current state, for heartbeat/health reporting.
func (c *Chain) State() circuitbreaker.State {
	return c.breaker.State()
}

// DoJSON issues req through c and decodes a successful response into a T.
func DoJSON[T any](ctx context.Context, c *Chain, req transport.Request) (T, error) {
	var out T
	body, err := c.Do(ctx, req)
	if err != nil {
		return out, err
	}
	if len(body) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

// logAttempt logs one transport attempt at error level, but only when the
// failure indicates the dependency itself is unhealthy: a 5xx status, a
// timeout, or a connection-level failure with no status at all. A 4xx
// failure is the caller's fault, not the control plane's, and stays silent
// here to avoid drowning real incidents in routine client errors.
func logAttempt(req transport.Request, err error) {
	if err == nil {
		return
	}
	var he *transport.HttpError
	switch {
	case errors.As(err, &he):
		if he.Status >= 500 {
			logging.Error().
				Add(logging.Str("method", req.Method)).
				Add(logging.Str("path", req.Path)).
				Add(logging.Int("status", he.Status)).
				Add(logging.ErrField(err)).
				Msg("control plane request failed")
		}
	case transport.IsTimeout(err):
		logging.Error().
			Add(logging.Str("method", req.Method)).
			Add(logging.Str("path", req.Path)).
			Add(logging.ErrField(err)).
			Msg("control plane request timed out")
	default:
		logging.Error().
			Add(logging.Str("method", req.Method)).
			Add(logging.Str("path", req.Path)).
			Add(logging.ErrField(err)).
			Msg("control plane request failed")
	}
}
