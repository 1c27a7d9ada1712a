// Package secrets resolves secret references used in authenticator
// options.
//
// A reference has the form <scheme>:<path>. Supported schemes:
//
//	env:NAME                  value of environment variable NAME
//	file:/path/to/secret      file contents without the trailing newline
//	vault:<mount>/<path>#key  field key of a KV v2 secret
//
// Any string whose prefix is not a registered scheme resolves to itself,
// so plain passwords keep working.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vyrodovalexey/kubeauth/internal/observability"
)

// Common errors for secret providers.
var (
	// ErrSecretNotFound is returned when the referenced secret does not exist.
	ErrSecretNotFound = errors.New("secret not found")
	// ErrInvalidPath is returned when the reference path is malformed.
	ErrInvalidPath = errors.New("invalid secret path")
	// ErrProviderNotConfigured is returned when a provider lacks settings.
	ErrProviderNotConfigured = errors.New("provider not configured")
)

// Provider resolves the path part of a reference for one scheme.
type Provider interface {
	// Scheme returns the reference prefix handled by the provider.
	Scheme() string
	// Lookup returns the secret stored at path.
	Lookup(ctx context.Context, path string) (string, error)
}

// Resolver dispatches references to providers by scheme.
type Resolver struct {
	providers map[string]Provider
	logger    observability.Logger
	metrics   *Metrics
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithProvider registers p, replacing any provider for the same scheme.
func WithProvider(p Provider) Option {
	return func(r *Resolver) {
		r.providers[p.Scheme()] = p
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithMetrics records lookups in m.
func WithMetrics(m *Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// NewResolver returns a Resolver with the given providers.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		providers: make(map[string]Provider),
		logger:    observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewDefaultResolver returns a Resolver with the env, file and vault
// providers. The vault client is created on first use from the standard
// VAULT_* environment.
func NewDefaultResolver(logger observability.Logger, metrics *Metrics) *Resolver {
	return NewResolver(
		WithLogger(logger),
		WithMetrics(metrics),
		WithProvider(NewEnvProvider(nil)),
		WithProvider(NewFileProvider()),
		WithProvider(NewVaultProvider(VaultConfig{}, logger)),
	)
}

// Resolve returns the secret ref points to, or ref itself when it carries
// no known scheme.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	scheme, path, ok := strings.Cut(ref, ":")
	if !ok {
		return ref, nil
	}
	p, ok := r.providers[scheme]
	if !ok {
		return ref, nil
	}

	start := time.Now()
	value, err := p.Lookup(ctx, path)
	if r.metrics != nil {
		r.metrics.RecordLookup(scheme, err, time.Since(start))
	}
	if err != nil {
		return "", fmt.Errorf("%s secret %q: %w", scheme, path, err)
	}

	r.logger.Debug("secret resolved",
		observability.String("scheme", scheme),
		observability.String("path", path),
	)
	return value, nil
}
