package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/vyrodovalexey/kubeauth/internal/observability"
)

// Defaults.
const (
	DefaultAddress         = "0.0.0.0"
	DefaultPort            = 8000
	DefaultMetricsPort     = 9090
	DefaultMetricsPath     = "/metrics"
	DefaultMaxBodyBytes    = 1 << 20
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
)

// Config is the process configuration of the webhook.
type Config struct {
	Server         ServerConfig               `yaml:"server"`
	Logging        observability.LogConfig    `yaml:"logging"`
	Metrics        MetricsConfig              `yaml:"metrics"`
	Tracing        observability.TracerConfig `yaml:"tracing"`
	Authenticators []string                   `yaml:"authenticators"`
	Options        Options                    `yaml:"options"`
}

// ServerConfig configures the token review listener.
type ServerConfig struct {
	Address         string    `yaml:"address"`
	Port            int       `yaml:"port"`
	TLS             TLSConfig `yaml:"tls"`
	ReadTimeout     Duration  `yaml:"readTimeout"`
	WriteTimeout    Duration  `yaml:"writeTimeout"`
	IdleTimeout     Duration  `yaml:"idleTimeout"`
	ShutdownTimeout Duration  `yaml:"shutdownTimeout"`
	MaxBodyBytes    int64     `yaml:"maxBodyBytes"`
}

// TLSConfig holds the serving certificate. TLS is disabled when both
// paths are empty.
type TLSConfig struct {
	CertFile   string `yaml:"certFile"`
	KeyFile    string `yaml:"keyFile"`
	MinVersion string `yaml:"minVersion"`
}

// Enabled reports whether a certificate pair is configured.
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" || t.KeyFile != ""
}

// MetricsConfig configures the separate metrics and probe listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns the configuration used when nothing is supplied.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         DefaultAddress,
			Port:            DefaultPort,
			ReadTimeout:     Duration(DefaultReadTimeout),
			WriteTimeout:    Duration(DefaultWriteTimeout),
			IdleTimeout:     Duration(DefaultIdleTimeout),
			ShutdownTimeout: Duration(DefaultShutdownTimeout),
			MaxBodyBytes:    DefaultMaxBodyBytes,
		},
		Logging: observability.DefaultLogConfig(),
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    DefaultMetricsPort,
			Path:    DefaultMetricsPath,
		},
		Tracing: observability.TracerConfig{
			ServiceName:  observability.DefaultNamespace,
			SamplingRate: 1.0,
		},
		Options: Options{},
	}
}

// ListenAddr returns the host:port the webhook binds to.
func (s ServerConfig) ListenAddr() string {
	return net.JoinHostPort(s.Address, fmt.Sprintf("%d", s.Port))
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:", len(e))
	for i := range e {
		fmt.Fprintf(&sb, "\n  %d. %s", i+1, e[i].Error())
	}
	return sb.String()
}

// Validate checks the configuration. known lists the authenticator kinds
// the registry can build.
func (c *Config) Validate(known []string) error {
	var errs ValidationErrors
	add := func(path, format string, args ...any) {
		errs = append(errs, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", "must be between 1 and 65535, got %d", c.Server.Port)
	}
	if net.ParseIP(c.Server.Address) == nil {
		add("server.address", "%q is not a valid IP address", c.Server.Address)
	}
	if c.Server.TLS.Enabled() && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		add("server.tls", "certFile and keyFile must be set together")
	}
	switch c.Server.TLS.MinVersion {
	case "", "1.2", "1.3":
	default:
		add("server.tls.minVersion", "must be 1.2 or 1.3, got %q", c.Server.TLS.MinVersion)
	}
	if c.Server.MaxBodyBytes <= 0 {
		add("server.maxBodyBytes", "must be positive")
	}
	if c.Metrics.Enabled {
		if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
			add("metrics.port", "must be between 1 and 65535, got %d", c.Metrics.Port)
		} else if c.Metrics.Port == c.Server.Port {
			add("metrics.port", "must differ from server.port")
		}
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		add("tracing.samplingRate", "must be within [0, 1]")
	}

	if len(c.Authenticators) == 0 {
		add("authenticators", "at least one authenticator is required")
	}
	knownSet := make(map[string]struct{}, len(known))
	for _, k := range known {
		knownSet[k] = struct{}{}
	}
	for i, name := range c.Authenticators {
		if _, ok := knownSet[name]; !ok {
			add(fmt.Sprintf("authenticators[%d]", i), "unknown authenticator %q (known: %s)",
				name, strings.Join(known, ", "))
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
