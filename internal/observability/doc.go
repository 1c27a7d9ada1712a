// Package observability provides logging, metrics, and tracing for the
// KubeAuth webhook.
//
// # Logging
//
// The Logger interface wraps zap:
//
//	logger, err := observability.NewLogger(observability.DefaultLogConfig())
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	logger.Info("token review",
//	    observability.String("authenticator", "ldap_auth"),
//	    observability.Bool("authenticated", true),
//	)
//
// # Metrics
//
// Metrics owns a private Prometheus registry. Other packages register
// their collectors against Registry() so everything is served from a
// single /metrics endpoint.
//
// # Tracing
//
// Tracer exports spans over OTLP/gRPC when enabled and degrades to a
// no-op tracer otherwise.
package observability
