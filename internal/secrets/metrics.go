package secrets

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for secret lookups.
type Metrics struct {
	lookupsTotal   *prometheus.CounterVec
	lookupDuration *prometheus.HistogramVec
}

// NewMetrics creates unregistered secret lookup metrics.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "kubeauth"
	}
	return &Metrics{
		lookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "secrets",
				Name:      "lookups_total",
				Help:      "Secret reference lookups by provider and result",
			},
			[]string{"provider", "result"},
		),
		lookupDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "secrets",
				Name:      "lookup_duration_seconds",
				Help:      "Secret lookup duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
	}
}

// RecordLookup records one provider lookup.
func (m *Metrics) RecordLookup(provider string, err error, duration time.Duration) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.lookupsTotal.WithLabelValues(provider, result).Inc()
	m.lookupDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// MustRegister registers the metrics with registry, tolerating collectors
// that are already registered.
func (m *Metrics) MustRegister(registry prometheus.Registerer) {
	for _, c := range []prometheus.Collector{m.lookupsTotal, m.lookupDuration} {
		if err := registry.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			panic(err)
		}
	}
}
