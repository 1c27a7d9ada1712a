package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "KUBEAUTH_"

// LookupFunc resolves an environment variable.
type LookupFunc func(key string) (string, bool)

// OSLookup reads the process environment.
func OSLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// OptionEnvName returns the environment variable bound to an option key,
// e.g. json_user_file_path becomes KUBEAUTH_JSON_USER_FILE_PATH.
func OptionEnvName(key string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// ApplyEnv overlays environment variables on c. bindings maps every
// option key to additional variable names accepted for it; the
// KUBEAUTH_ name takes precedence over those aliases.
func (c *Config) ApplyEnv(lookup LookupFunc, bindings map[string][]string) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(name)
		return v, ok && v != ""
	}

	if v, ok := get(EnvPrefix + "ADDRESS"); ok {
		c.Server.Address = v
	}
	if v, ok := get(EnvPrefix + "PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sPORT: invalid port %q", EnvPrefix, v)
		}
		c.Server.Port = port
	}
	if v, ok := get(EnvPrefix + "TLS_CERT"); ok {
		c.Server.TLS.CertFile = v
	}
	if v, ok := get(EnvPrefix + "TLS_KEY"); ok {
		c.Server.TLS.KeyFile = v
	}
	if v, ok := get(EnvPrefix + "LOG_LEVEL"); ok {
		c.Logging.Level = v
	}
	if v, ok := get(EnvPrefix + "LOG_FORMAT"); ok {
		c.Logging.Format = v
	}
	if v, ok := get(EnvPrefix + "METRICS_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sMETRICS_PORT: invalid port %q", EnvPrefix, v)
		}
		c.Metrics.Port = port
	}
	if v, ok := get(EnvPrefix + "AUTHENTICATORS"); ok {
		c.Authenticators = splitList(v)
	}

	if c.Options == nil {
		c.Options = Options{}
	}
	for key, aliases := range bindings {
		names := append([]string{OptionEnvName(key)}, aliases...)
		for _, name := range names {
			if v, ok := get(name); ok {
				c.Options.Set(key, v)
				break
			}
		}
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
