package server

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/vyrodovalexey/kubeauth/internal/health"
	"github.com/vyrodovalexey/kubeauth/internal/observability"
)

// NewMetricsServer returns the plain HTTP server for Prometheus scrapes
// and kubelet probes.
func NewMetricsServer(
	address string,
	port int,
	path string,
	metrics *observability.Metrics,
	checker *health.Checker,
) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, metrics.Handler())
	if checker != nil {
		mux.HandleFunc(PathHealthz, checker.HealthHandler())
		mux.HandleFunc(PathReadyz, checker.ReadinessHandler())
	}

	return &http.Server{
		Addr:              net.JoinHostPort(address, strconv.Itoa(port)),
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}
