package tls

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds certificate reload metrics.
type Metrics struct {
	reloadsTotal *prometheus.CounterVec
	expiry       prometheus.Gauge
}

// NewMetrics creates unregistered certificate metrics.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "kubeauth"
	}
	return &Metrics{
		reloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tls",
				Name:      "certificate_reloads_total",
				Help:      "Certificate reloads by result",
			},
			[]string{"result"},
		),
		expiry: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tls",
			Name:      "certificate_expiry_timestamp_seconds",
			Help:      "NotAfter of the serving certificate as a Unix timestamp",
		}),
	}
}

func (m *Metrics) recordReload(err error) {
	if err != nil {
		m.reloadsTotal.WithLabelValues("error").Inc()
		return
	}
	m.reloadsTotal.WithLabelValues("success").Inc()
}

// MustRegister registers the metrics with registry, tolerating collectors
// that are already registered.
func (m *Metrics) MustRegister(registry prometheus.Registerer) {
	for _, c := range []prometheus.Collector{m.reloadsTotal, m.expiry} {
		if err := registry.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			panic(err)
		}
	}
}
