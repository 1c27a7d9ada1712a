package auth

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Decision labels.
const (
	ResultAllow = "allow"
	ResultDeny  = "deny"
)

// Metrics holds Prometheus metrics for authentication decisions.
type Metrics struct {
	attemptsTotal   *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	reviewsTotal    *prometheus.CounterVec
	breakerState    *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance. Collectors are not
// registered until MustRegister is called.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "kubeauth"
	}

	return &Metrics{
		attemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "attempts_total",
				Help:      "Authentication attempts by authenticator, result and reason",
			},
			[]string{"authenticator", "result", "reason"},
		),
		attemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "attempt_duration_seconds",
				Help:      "Authentication attempt duration in seconds",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"authenticator"},
		),
		reviewsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "reviews_total",
				Help:      "Token reviews decided by the pipeline",
			},
			[]string{"result"},
		),
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"authenticator"},
		),
	}
}

// Init pre-populates label combinations for the given kinds so the series
// are exported before the first request.
func (m *Metrics) Init(kinds []string) {
	for _, kind := range kinds {
		m.attemptsTotal.WithLabelValues(kind, ResultAllow, ReasonNone)
		for _, reason := range Reasons() {
			m.attemptsTotal.WithLabelValues(kind, ResultDeny, reason)
		}
		m.attemptDuration.WithLabelValues(kind)
	}
	m.reviewsTotal.WithLabelValues(ResultAllow)
	m.reviewsTotal.WithLabelValues(ResultDeny)
}

// RecordAttempt records one authenticator invocation.
func (m *Metrics) RecordAttempt(authenticator string, allowed bool, reason string, duration time.Duration) {
	result := ResultDeny
	if allowed {
		result = ResultAllow
	}
	m.attemptsTotal.WithLabelValues(authenticator, result, reason).Inc()
	m.attemptDuration.WithLabelValues(authenticator).Observe(duration.Seconds())
}

// RecordReview records the final pipeline decision.
func (m *Metrics) RecordReview(allowed bool) {
	if allowed {
		m.reviewsTotal.WithLabelValues(ResultAllow).Inc()
		return
	}
	m.reviewsTotal.WithLabelValues(ResultDeny).Inc()
}

// SetBreakerState records a circuit breaker state for an authenticator.
func (m *Metrics) SetBreakerState(authenticator string, state int) {
	m.breakerState.WithLabelValues(authenticator).Set(float64(state))
}

// MustRegister registers the metrics with registry. Collectors that are
// already registered are tolerated.
func (m *Metrics) MustRegister(registry prometheus.Registerer) {
	for _, c := range []prometheus.Collector{
		m.attemptsTotal,
		m.attemptDuration,
		m.reviewsTotal,
		m.breakerState,
	} {
		if err := registry.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			panic(err)
		}
	}
}
