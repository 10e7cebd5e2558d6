// Package clients implements the ledger contracts over HTTP. Every call runs
// behind a per-service circuit breaker and a bounded timeout.
package clients

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/congo-pay/cards/internal/apperr"
)

const (
	defaultTimeout             = 2 * time.Second
	defaultConsecutiveFailures = 5
	defaultOpenTimeout         = 30 * time.Second
)

// BreakerConfig tunes a Guard.
type BreakerConfig struct {
	Timeout             time.Duration
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.ConsecutiveFailures == 0 {
		c.ConsecutiveFailures = defaultConsecutiveFailures
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = defaultOpenTimeout
	}
	return c
}

// Guard bounds calls to one downstream service.
type Guard struct {
	name    string
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
}

// NewGuard creates a guard whose breaker opens after cfg.ConsecutiveFailures
// infrastructure failures. Client errors (4xx) never trip it.
func NewGuard(name string, cfg BreakerConfig, logger *slog.Logger) *Guard {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isInfrastructureFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("service", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	}
	return &Guard{name: name, timeout: cfg.Timeout, breaker: gobreaker.NewCircuitBreaker(settings)}
}

// Name returns the guarded service name.
func (g *Guard) Name() string { return g.name }

// State reports the breaker state.
func (g *Guard) State() gobreaker.State { return g.breaker.State() }

// Do runs fn under the breaker with a timeout. An open breaker or an expired
// timeout is reported as apperr.ErrDownstreamUnavailable.
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return apperr.Newf(apperr.ErrDownstreamUnavailable, "%s is unavailable (circuit breaker open)", g.name)
	case errors.Is(err, context.DeadlineExceeded):
		return apperr.Newf(apperr.ErrDownstreamUnavailable, "%s did not respond within %s", g.name, g.timeout)
	}
	return err
}

func isInfrastructureFailure(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status >= 500
	}
	return !errors.Is(err, context.Canceled)
}
