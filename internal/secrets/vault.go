package secrets

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/vyrodovalexey/kubeauth/internal/observability"
)

// DefaultVaultTimeout bounds a single KV read.
const DefaultVaultTimeout = 10 * time.Second

// VaultConfig holds Vault connection settings. Empty fields fall back to
// the VAULT_ADDR, VAULT_TOKEN and VAULT_NAMESPACE environment variables.
type VaultConfig struct {
	Address   string
	Token     string
	Namespace string
	Timeout   time.Duration
}

// VaultProvider reads fields of KV v2 secrets.
type VaultProvider struct {
	cfg    VaultConfig
	logger observability.Logger

	mu     sync.Mutex
	client *vaultapi.Client
}

// NewVaultProvider returns a VaultProvider. No connection is made until
// the first lookup.
func NewVaultProvider(cfg VaultConfig, logger observability.Logger) *VaultProvider {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultVaultTimeout
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &VaultProvider{cfg: cfg, logger: logger}
}

// Scheme implements Provider.
func (p *VaultProvider) Scheme() string {
	return "vault"
}

// Lookup implements Provider. path has the form <mount>/<secret path>#<field>.
func (p *VaultProvider) Lookup(ctx context.Context, path string) (string, error) {
	mount, secretPath, field, err := parseVaultPath(path)
	if err != nil {
		return "", err
	}

	client, err := p.getClient()
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	fullPath := fmt.Sprintf("%s/data/%s", mount, secretPath)
	p.logger.Debug("reading vault secret", observability.String("path", fullPath))

	secret, err := client.Logical().ReadWithContext(ctx, fullPath)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", fullPath, err)
	}
	if secret == nil || secret.Data == nil {
		return "", ErrSecretNotFound
	}

	// KV v2 nests the payload under "data"; it is null for deleted versions.
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", ErrSecretNotFound
	}
	raw, ok := data[field]
	if !ok {
		return "", fmt.Errorf("%w: field %q", ErrSecretNotFound, field)
	}
	value, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("field %q is not a string", field)
	}
	return value, nil
}

func (p *VaultProvider) getClient() (*vaultapi.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}

	apiCfg := vaultapi.DefaultConfig()
	if apiCfg.Error != nil {
		return nil, fmt.Errorf("vault config: %w", apiCfg.Error)
	}
	if p.cfg.Address != "" {
		apiCfg.Address = p.cfg.Address
	}
	apiCfg.Timeout = p.cfg.Timeout
	// Lookups are attempted once.
	apiCfg.MaxRetries = 0

	client, err := vaultapi.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("creating vault client: %w", err)
	}
	if p.cfg.Token != "" {
		client.SetToken(p.cfg.Token)
	}
	if p.cfg.Namespace != "" {
		client.SetNamespace(p.cfg.Namespace)
	}
	if client.Token() == "" {
		return nil, fmt.Errorf("%w: no vault token, set VAULT_TOKEN", ErrProviderNotConfigured)
	}

	p.logger.Info("vault client created", observability.String("address", client.Address()))
	p.client = client
	return client, nil
}

func parseVaultPath(path string) (mount, secretPath, field string, err error) {
	location, field, ok := strings.Cut(path, "#")
	if !ok || field == "" {
		return "", "", "", fmt.Errorf("%w: %q has no #field", ErrInvalidPath, path)
	}
	mount, secretPath, ok = strings.Cut(strings.Trim(location, "/"), "/")
	if !ok || mount == "" || secretPath == "" {
		return "", "", "", fmt.Errorf("%w: %q must be <mount>/<path>#<field>", ErrInvalidPath, path)
	}
	return mount, secretPath, field, nil
}
