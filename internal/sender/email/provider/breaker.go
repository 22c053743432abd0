package provider

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// NameCircuitOpen is reported while the breaker rejects sends. It is not in the
// default retryable set, so a sustained outage fails fast instead of sleeping
// through every retry.
const NameCircuitOpen = "circuit_open"

// BreakerConfig holds circuit breaker settings for a transport.
type BreakerConfig struct {
	MaxRequests         uint32        // Probe requests allowed while half-open
	Interval            time.Duration // Closed-state window after which counts reset
	Timeout             time.Duration // Open-state duration before half-open
	ConsecutiveFailures uint32        // Consecutive failures that trip the breaker
}

// DefaultBreakerConfig returns settings tuned for an external HTTP API.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         3,
		Interval:            2 * time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 10,
	}
}

// Breaker wraps a Transport with a circuit breaker. Only transport exceptions
// and server-side provider errors count as failures; a rejected message says
// nothing about the provider's health.
type Breaker struct {
	next Transport
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker wraps next with a circuit breaker.
func NewBreaker(next Transport, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	settings := gobreaker.Settings{
		Name:        next.Name(),
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Email transport circuit breaker state changed",
				"transport", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: countsAsHealthy,
	}
	return &Breaker{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Name returns the wrapped transport's name.
func (b *Breaker) Name() string {
	return b.next.Name()
}

// State reports the breaker state ("closed", "half-open", "open").
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// Send delivers msg through the wrapped transport unless the breaker is open.
func (b *Breaker) Send(ctx context.Context, msg *Message) (string, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Send(ctx, msg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", &Error{Name: NameCircuitOpen, Message: "email transport " + b.next.Name() + " is unavailable: " + err.Error()}
	}
	if err != nil {
		return "", err
	}
	id, _ := out.(string)
	return id, nil
}

func countsAsHealthy(err error) bool {
	if err == nil {
		return true
	}
	pe, ok := AsError(err)
	if !ok {
		return false
	}
	switch pe.Name {
	case NameInternal, NameUnavailable:
		return false
	default:
		return true
	}
}
