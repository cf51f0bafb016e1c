package balance

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"topup/internal/core"
)

// BreakerConfig holds circuit breaker configuration.
type BreakerConfig struct {
	ConsecutiveFailures uint32        // unavailable responses in a row that open the circuit
	OpenTimeout         time.Duration // how long the circuit stays open before probing
	HalfOpenRequests    uint32        // probes allowed while half-open
}

// DefaultBreakerConfig is tuned for a single external HTTP dependency.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    1,
	}
}

// Breaker guards a Service with a circuit breaker. Only ErrRemoteUnavailable
// counts as a failure; a rejection proves the service is up. While the
// circuit is open calls fail immediately with ErrRemoteUnavailable. The
// breaker never retries a call.
type Breaker struct {
	next Service
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker wraps next.
func NewBreaker(name string, next Service, cfg BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = def.ConsecutiveFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = def.HalfOpenRequests
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, core.ErrRemoteUnavailable)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("Balance circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String())
		},
	}
	return &Breaker{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

// State returns "closed", "half-open" or "open".
func (b *Breaker) State() string {
	return b.cb.State().String()
}

func (b *Breaker) Fetch(ctx context.Context) (decimal.Decimal, error) {
	return b.execute(OpFetch, func() (decimal.Decimal, error) { return b.next.Fetch(ctx) })
}

func (b *Breaker) Credit(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	return b.execute(OpCredit, func() (decimal.Decimal, error) { return b.next.Credit(ctx, amount) })
}

func (b *Breaker) Debit(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	return b.execute(OpDebit, func() (decimal.Decimal, error) { return b.next.Debit(ctx, amount) })
}

func (b *Breaker) execute(op string, fn func() (decimal.Decimal, error)) (decimal.Decimal, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		v, err := fn()
		return v, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return decimal.Zero, &RemoteError{Op: op, Detail: "circuit breaker " + b.cb.State().String(), Err: core.ErrRemoteUnavailable}
	}
	if err != nil {
		return decimal.Zero, err
	}
	return out.(decimal.Decimal), nil
}
