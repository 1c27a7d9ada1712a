// Package circuitbreaker wraps sony/gobreaker for calls to external
// directory services.
package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/kubeauth/internal/observability"
)

var tracer = otel.Tracer("kubeauth/circuitbreaker")

// ErrOpen is returned while the breaker rejects calls.
var ErrOpen = errors.New("circuit breaker is open")

// State values reported to StateFunc, matching gobreaker's ordering.
const (
	StateClosed   = int(gobreaker.StateClosed)
	StateHalfOpen = int(gobreaker.StateHalfOpen)
	StateOpen     = int(gobreaker.StateOpen)
)

// StateFunc is called on every state transition.
type StateFunc func(name string, state int)

// Config holds breaker settings.
type Config struct {
	// MinRequests is the number of calls in the current interval before the
	// failure ratio is evaluated.
	MinRequests uint32
	// FailureRatio opens the breaker once reached.
	FailureRatio float64
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// Interval resets the closed-state counters. Zero never resets.
	Interval time.Duration
	// HalfOpenRequests is the number of probes allowed while half-open.
	HalfOpenRequests uint32
	// IsSuccessful decides whether an error counts against the backend.
	// Nil counts every error.
	IsSuccessful func(err error) bool
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		MinRequests:      5,
		FailureRatio:     0.5,
		Timeout:          30 * time.Second,
		Interval:         time.Minute,
		HalfOpenRequests: 1,
	}
}

// Breaker guards calls to one backend.
type Breaker struct {
	cb       *gobreaker.CircuitBreaker
	logger   observability.Logger
	onChange StateFunc
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithLogger sets the logger used for transitions.
func WithLogger(logger observability.Logger) Option {
	return func(b *Breaker) {
		b.logger = logger
	}
}

// WithStateFunc registers a transition callback.
func WithStateFunc(fn StateFunc) Option {
	return func(b *Breaker) {
		b.onChange = fn
	}
}

// New creates a breaker named name.
func New(name string, cfg Config, opts ...Option) *Breaker {
	b := &Breaker{logger: observability.NopLogger()}
	for _, opt := range opts {
		opt(b)
	}

	def := DefaultConfig()
	if cfg.MinRequests == 0 {
		cfg.MinRequests = def.MinRequests
	}
	if cfg.FailureRatio <= 0 || cfg.FailureRatio > 1 {
		cfg.FailureRatio = def.FailureRatio
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = def.HalfOpenRequests
	}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:         name,
		MaxRequests:  cfg.HalfOpenRequests,
		Interval:     cfg.Interval,
		Timeout:      cfg.Timeout,
		IsSuccessful: cfg.IsSuccessful,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: b.stateChanged,
	})
	return b
}

func (b *Breaker) stateChanged(name string, from, to gobreaker.State) {
	b.logger.Warn("circuit breaker state change",
		observability.String("name", name),
		observability.String("from", from.String()),
		observability.String("to", to.String()),
	)

	_, span := tracer.Start(context.Background(), "circuitbreaker.state_change",
		trace.WithSpanKind(trace.SpanKindInternal))
	span.AddEvent("state_change", trace.WithAttributes(
		attribute.String("circuitbreaker.name", name),
		attribute.String("circuitbreaker.from", from.String()),
		attribute.String("circuitbreaker.to", to.String()),
	))
	span.End()

	if b.onChange != nil {
		b.onChange(name, int(to))
	}
}

// Execute runs fn unless the breaker is open. Rejections are reported
// as ErrOpen.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

// State returns the current state as one of the State constants.
func (b *Breaker) State() int {
	return int(b.cb.State())
}
