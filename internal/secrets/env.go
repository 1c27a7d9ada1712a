package secrets

import (
	"context"
	"fmt"
	"os"
)

// EnvProvider reads secrets from environment variables.
type EnvProvider struct {
	lookup func(string) (string, bool)
}

// NewEnvProvider returns an EnvProvider. A nil lookup uses os.LookupEnv.
func NewEnvProvider(lookup func(string) (string, bool)) *EnvProvider {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &EnvProvider{lookup: lookup}
}

// Scheme implements Provider.
func (p *EnvProvider) Scheme() string {
	return "env"
}

// Lookup implements Provider.
func (p *EnvProvider) Lookup(_ context.Context, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty variable name", ErrInvalidPath)
	}
	v, ok := p.lookup(name)
	if !ok {
		return "", ErrSecretNotFound
	}
	return v, nil
}
