package auth

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/vyrodovalexey/kubeauth/internal/observability"
)

// stubAuthenticator accepts exactly one token.
type stubAuthenticator struct {
	name   string
	token  string
	user   string
	groups []string
	err    error
	panics bool
	calls  atomic.Int32
}

func (s *stubAuthenticator) Name() string { return s.name }

func (s *stubAuthenticator) Authenticate(_ context.Context, token string) (Result, error) {
	s.calls.Add(1)
	if s.panics {
		panic("backend exploded")
	}
	if s.err != nil {
		return Denied(s.name, s.err)
	}
	if token != s.token {
		return Denied(s.name, ErrInvalidCredentials)
	}
	return Allow(s.user, s.groups), nil
}

// lyingAuthenticator reports success together with an error.
type lyingAuthenticator struct{}

func (lyingAuthenticator) Name() string { return "liar" }
func (lyingAuthenticator) Authenticate(context.Context, string) (Result, error) {
	return Result{Authenticated: true, Username: "root"}, errors.New("half failed")
}

func TestPipeline_OrderMatters(t *testing.T) {
	t.Parallel()

	denier := &stubAuthenticator{name: "a", token: "other:pw"}
	accepter := &stubAuthenticator{name: "b", token: "alice:pw", user: "alice", groups: []string{"dev"}}
	instances := map[string]Authenticator{"a": denier, "b": accepter}

	res := NewPipeline([]string{"a", "b"}, instances).Run(context.Background(), "alice:pw")

	assert.True(t, res.Authenticated)
	assert.Equal(t, "alice", res.Username)
	assert.Equal(t, []string{"dev"}, res.Groups)
	assert.EqualValues(t, 1, denier.calls.Load())
	assert.EqualValues(t, 1, accepter.calls.Load())
}

func TestPipeline_FirstMatchShortCircuits(t *testing.T) {
	t.Parallel()

	first := &stubAuthenticator{name: "b", token: "alice:pw", user: "alice", groups: []string{"b-group"}}
	second := &stubAuthenticator{name: "a", token: "alice:pw", user: "alice", groups: []string{"a-group"}}

	res := NewPipeline([]string{"b", "a"}, map[string]Authenticator{"a": second, "b": first}).
		Run(context.Background(), "alice:pw")

	assert.Equal(t, []string{"b-group"}, res.Groups)
	assert.EqualValues(t, 1, first.calls.Load())
	assert.EqualValues(t, 0, second.calls.Load(), "later authenticators must not be invoked")
}

func TestPipeline_AllDeny(t *testing.T) {
	t.Parallel()

	a := &stubAuthenticator{name: "a", token: "x:y"}
	b := &stubAuthenticator{name: "b", err: ErrDirectoryUnavailable}

	res := NewPipeline([]string{"a", "b"}, map[string]Authenticator{"a": a, "b": b}).
		Run(context.Background(), "alice:pw")

	assert.Equal(t, Deny(), res)
	assert.EqualValues(t, 1, a.calls.Load())
	assert.EqualValues(t, 1, b.calls.Load(), "no retry")
}

func TestPipeline_UnknownAuthenticatorStops(t *testing.T) {
	t.Parallel()

	after := &stubAuthenticator{name: "b", token: "alice:pw", user: "alice"}

	res := NewPipeline([]string{"missing", "b"}, map[string]Authenticator{"b": after}).
		Run(context.Background(), "alice:pw")

	assert.Equal(t, Deny(), res)
	assert.EqualValues(t, 0, after.calls.Load())
}

func TestPipeline_PanicDenies(t *testing.T) {
	t.Parallel()

	boom := &stubAuthenticator{name: "boom", panics: true}
	next := &stubAuthenticator{name: "next", token: "alice:pw", user: "alice"}

	res := NewPipeline([]string{"boom", "next"}, map[string]Authenticator{"boom": boom, "next": next}).
		Run(context.Background(), "alice:pw")

	assert.True(t, res.Authenticated, "a panicking backend counts as a denial and the chain continues")
	assert.EqualValues(t, 1, next.calls.Load())
}

func TestPipeline_SuccessWithErrorIsDenied(t *testing.T) {
	t.Parallel()

	res := NewPipeline([]string{"liar"}, map[string]Authenticator{"liar": lyingAuthenticator{}}).
		Run(context.Background(), "root:pw")

	assert.Equal(t, Deny(), res)
}

func TestPipeline_EmptyChain(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Deny(), NewPipeline(nil, nil).Run(context.Background(), "a:b"))
}

func TestPipeline_Chain(t *testing.T) {
	t.Parallel()

	chain := []string{"a", "b"}
	p := NewPipeline(chain, nil)
	chain[0] = "z"

	got := p.Chain()
	assert.Equal(t, []string{"a", "b"}, got)
	got[1] = "z"
	assert.Equal(t, []string{"a", "b"}, p.Chain())
}

func TestPipeline_Metrics(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics("test")
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)
	metrics.MustRegister(reg)

	a := &stubAuthenticator{name: "a", token: "alice:pw", user: "alice"}
	p := NewPipeline([]string{"a"}, map[string]Authenticator{"a": a}, WithMetrics(metrics))

	p.Run(context.Background(), "alice:pw")
	p.Run(context.Background(), "alice:nope")
	p.Run(context.Background(), "garbage")

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.attemptsTotal.WithLabelValues("a", ResultAllow, ReasonNone)))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.attemptsTotal.WithLabelValues("a", ResultDeny, ReasonInvalidCredentials)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.reviewsTotal.WithLabelValues(ResultAllow)))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.reviewsTotal.WithLabelValues(ResultDeny)))
}

func TestPipeline_Tracing(t *testing.T) {
	t.Parallel()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	a := &stubAuthenticator{name: "a", err: ErrDirectoryUnavailable}
	b := &stubAuthenticator{name: "b", token: "alice:pw", user: "alice"}
	p := NewPipeline([]string{"a", "b"}, map[string]Authenticator{"a": a, "b": b},
		WithTracer(observability.TracerFromProvider(tp)),
		WithLogger(observability.NopLogger()),
	)

	p.Run(context.Background(), "alice:pw")

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "auth.a", spans[0].Name)
	assert.Equal(t, "Error", spans[0].Status.Code.String())
	assert.Equal(t, "auth.b", spans[1].Name)
}

func TestMetrics_Init(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics("")
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)
	metrics.Init([]string{"json_auth"})
	metrics.SetBreakerState("ldap_auth", 2)

	count, err := testutil.GatherAndCount(reg, "kubeauth_auth_attempts_total")
	require.NoError(t, err)
	assert.Equal(t, 1+len(Reasons()), count)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.breakerState.WithLabelValues("ldap_auth")))
}
