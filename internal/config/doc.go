// Package config holds the KubeAuth process configuration.
//
// Configuration is assembled in layers: DefaultConfig, then an optional
// YAML file (Load), then environment variables (ApplyEnv), and finally
// command line flags applied by the caller. Validate is run on the result.
//
// # Options
//
// Authenticator settings live in a flat Options map of key to list of
// values. Each backend reads only the keys it knows about:
//
//	options:
//	  json_user_file_path: /etc/kubeauth/users.json
//	  json_hashed_pw: "true"
//	  ldap_filter: "(uid=${username})"
//
// # Environment substitution
//
// ${VAR} and ${VAR:-default} are expanded in the YAML file for upper-case
// variable names only. Lower-case placeholders are left for the consumer.
package config
