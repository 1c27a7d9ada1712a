package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Options is the flat authenticator option map. Every key may carry
// several values; most backends only look at the first one.
type Options map[string][]string

// MissingOptionError reports required option keys that were not supplied.
type MissingOptionError struct {
	Authenticator string
	Keys          []string
}

// Error implements the error interface.
func (e *MissingOptionError) Error() string {
	return fmt.Sprintf("authenticator %s: missing required option(s): %s",
		e.Authenticator, strings.Join(e.Keys, ", "))
}

// Values returns every value recorded for key.
func (o Options) Values(key string) []string {
	return o[key]
}

// First returns the first value of key.
func (o Options) First(key string) (string, bool) {
	v := o[key]
	if len(v) == 0 {
		return "", false
	}
	return v[0], true
}

// String returns the first value of key or def when unset or empty.
func (o Options) String(key, def string) string {
	if v, ok := o.First(key); ok && v != "" {
		return v
	}
	return def
}

// Bool parses the first value of key as a boolean.
func (o Options) Bool(key string, def bool) (bool, error) {
	v, ok := o.First(key)
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def, fmt.Errorf("option %s: invalid boolean %q", key, v)
	}
	return b, nil
}

// Duration parses the first value of key as a time.Duration.
func (o Options) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := o.First(key)
	if !ok || v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return def, fmt.Errorf("option %s: invalid duration %q", key, v)
	}
	if d < 0 {
		return def, fmt.Errorf("option %s: negative duration %q", key, v)
	}
	return d, nil
}

// Require returns a *MissingOptionError naming every key without a
// non-empty first value.
func (o Options) Require(authenticator string, keys ...string) error {
	var missing []string
	for _, k := range keys {
		if v, ok := o.First(k); !ok || v == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingOptionError{Authenticator: authenticator, Keys: missing}
}

// Set replaces the values of key.
func (o Options) Set(key string, values ...string) {
	o[key] = append([]string(nil), values...)
}

// Keys returns the option keys in sorted order.
func (o Options) Keys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy.
func (o Options) Clone() Options {
	out := make(Options, len(o))
	for k, v := range o {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Merge returns a copy of o where every key present in override replaces
// the corresponding entry.
func (o Options) Merge(override Options) Options {
	out := o.Clone()
	for k, v := range override {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// UnmarshalYAML accepts either a scalar or a sequence of scalars per key.
func (o *Options) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: options must be a mapping", node.Line)
	}
	out := make(Options, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		switch val.Kind {
		case yaml.ScalarNode:
			out[key.Value] = []string{val.Value}
		case yaml.SequenceNode:
			values := make([]string, 0, len(val.Content))
			for _, item := range val.Content {
				if item.Kind != yaml.ScalarNode {
					return fmt.Errorf("line %d: option %s: values must be scalars", item.Line, key.Value)
				}
				values = append(values, item.Value)
			}
			out[key.Value] = values
		default:
			return fmt.Errorf("line %d: option %s: unsupported value", val.Line, key.Value)
		}
	}
	*o = out
	return nil
}
