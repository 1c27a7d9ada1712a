package auth

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vyrodovalexey/kubeauth/internal/config"
	"github.com/vyrodovalexey/kubeauth/internal/observability"
)

// SecretResolver turns a secret reference such as env:NAME or
// vault:kv/path#key into its value. Plain strings resolve to themselves.
type SecretResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

type literalResolver struct{}

func (literalResolver) Resolve(_ context.Context, ref string) (string, error) {
	return ref, nil
}

// Environment carries the shared dependencies handed to every factory.
type Environment struct {
	Logger  observability.Logger
	Secrets SecretResolver
	Metrics *Metrics
}

func (e Environment) withDefaults() Environment {
	if e.Logger == nil {
		e.Logger = observability.NopLogger()
	}
	if e.Secrets == nil {
		e.Secrets = literalResolver{}
	}
	return e
}

// Factory builds an authenticator from the shared option map. A returned
// error is fatal to startup.
type Factory func(ctx context.Context, opts config.Options, env Environment) (Authenticator, error)

// OptionSpec describes one option key a backend understands.
type OptionSpec struct {
	Key        string
	Usage      string
	Default    string
	Required   bool
	EnvAliases []string
}

// Backend is a registered authenticator kind.
type Backend struct {
	Kind        string
	Description string
	Options     []OptionSpec
	Factory     Factory
}

// Registry maps authenticator kinds to their factories.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register adds a backend. Kinds must be unique.
func (r *Registry) Register(b Backend) error {
	if b.Kind == "" {
		return fmt.Errorf("backend kind is required")
	}
	if b.Factory == nil {
		return fmt.Errorf("backend %s: factory is required", b.Kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[b.Kind]; exists {
		return fmt.Errorf("backend %s already registered", b.Kind)
	}
	r.backends[b.Kind] = b
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(b Backend) {
	if err := r.Register(b); err != nil {
		panic(err)
	}
}

// Lookup returns the backend registered for kind.
func (r *Registry) Lookup(kind string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[kind]
	return b, ok
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.backends))
	for k := range r.backends {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// OptionSpecs returns the option keys of every backend sorted by key.
// A key declared by two backends is reported once.
func (r *Registry) OptionSpecs() []OptionSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var specs []OptionSpec
	for _, b := range r.backends {
		for _, o := range b.Options {
			if seen[o.Key] {
				continue
			}
			seen[o.Key] = true
			specs = append(specs, o)
		}
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Key < specs[j].Key })
	return specs
}

// EnvBindings returns option key to legacy environment variable names,
// suitable for config.Config.ApplyEnv.
func (r *Registry) EnvBindings() map[string][]string {
	specs := r.OptionSpecs()
	out := make(map[string][]string, len(specs))
	for _, s := range specs {
		out[s.Key] = s.EnvAliases
	}
	return out
}

// Build constructs one instance per distinct kind in chain. Unknown kinds
// and factory failures are returned as errors.
func (r *Registry) Build(
	ctx context.Context,
	chain []string,
	opts config.Options,
	env Environment,
) (map[string]Authenticator, error) {
	env = env.withDefaults()
	instances := make(map[string]Authenticator, len(chain))

	for _, kind := range chain {
		if _, built := instances[kind]; built {
			continue
		}
		b, ok := r.Lookup(kind)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAuthenticator, kind)
		}
		a, err := b.Factory(ctx, opts, env)
		if err != nil {
			return nil, fmt.Errorf("building %s: %w", kind, err)
		}
		env.Logger.Info("authenticator ready", observability.String("authenticator", kind))
		instances[kind] = a
	}
	return instances, nil
}
