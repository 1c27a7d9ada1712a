package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/vyrodovalexey/kubeauth/internal/observability"
)

// Pipeline runs a token through an ordered chain of authenticators.
// The first authenticator that accepts wins; later ones are not called.
type Pipeline struct {
	chain     []string
	instances map[string]Authenticator
	logger    observability.Logger
	metrics   *Metrics
	tracer    *observability.Tracer
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics *Metrics) PipelineOption {
	return func(p *Pipeline) {
		p.metrics = metrics
	}
}

// WithTracer sets the tracer used for per-authenticator spans.
func WithTracer(tracer *observability.Tracer) PipelineOption {
	return func(p *Pipeline) {
		p.tracer = tracer
	}
}

// NewPipeline creates a pipeline over chain. instances holds one
// authenticator per kind; chain entries missing from it deny at run time.
func NewPipeline(chain []string, instances map[string]Authenticator, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		chain:     append([]string(nil), chain...),
		instances: instances,
		logger:    observability.NopLogger(),
		tracer:    observability.NopTracer(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Chain returns the configured order.
func (p *Pipeline) Chain() []string {
	return append([]string(nil), p.chain...)
}

// Run authenticates token. It never returns an error: every failure
// collapses into the canonical deny result.
func (p *Pipeline) Run(ctx context.Context, token string) Result {
	logger := p.logger.WithContext(ctx)

	for _, name := range p.chain {
		a, ok := p.instances[name]
		if !ok {
			logger.Error("authenticator not registered, denying",
				observability.String("authenticator", name))
			p.recordAttempt(name, false, ReasonUnknownAuthenticator, 0)
			return p.finish(Deny())
		}

		res, err := p.invoke(ctx, a, token)
		if err == nil && res.Authenticated {
			logger.Info("token accepted",
				observability.String("authenticator", name),
				observability.String("username", res.Username),
				observability.Strings("groups", res.Groups),
			)
			return p.finish(res)
		}

		logger.Debug("token denied",
			observability.String("authenticator", name),
			observability.String("reason", Reason(err)),
			observability.Error(err),
		)
	}

	return p.finish(Deny())
}

func (p *Pipeline) invoke(ctx context.Context, a Authenticator, token string) (res Result, err error) {
	name := a.Name()
	ctx, span := p.tracer.StartSpan(ctx, "auth."+name)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			p.logger.WithContext(ctx).Error("authenticator panicked",
				observability.String("authenticator", name),
				observability.Any("panic", r),
			)
			res, err = Deny(), fmt.Errorf("%w: panic: %v", ErrInternal, r)
		}
		if err == nil && !res.Authenticated {
			err = ErrInvalidCredentials
		}
		if err != nil {
			res = Deny()
		}

		reason := Reason(err)
		p.recordAttempt(name, err == nil, reason, time.Since(start))

		span.SetAttributes(
			attribute.String("auth.authenticator", name),
			attribute.Bool("auth.authenticated", err == nil),
			attribute.String("auth.reason", reason),
		)
		if err != nil && !isDenial(err) {
			span.SetStatus(codes.Error, reason)
		}
		span.End()
	}()

	return a.Authenticate(ctx, token)
}

func (p *Pipeline) recordAttempt(name string, allowed bool, reason string, d time.Duration) {
	if p.metrics != nil {
		p.metrics.RecordAttempt(name, allowed, reason, d)
	}
}

func (p *Pipeline) finish(res Result) Result {
	if p.metrics != nil {
		p.metrics.RecordReview(res.Authenticated)
	}
	return res
}

// isDenial reports whether err is an ordinary credential rejection rather
// than a backend fault.
func isDenial(err error) bool {
	return errors.Is(err, ErrMalformedToken) ||
		errors.Is(err, ErrUnknownPrincipal) ||
		errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrInvalidPrincipal) ||
		errors.Is(err, ErrNoEntry)
}
