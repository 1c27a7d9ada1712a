// Package builtin registers the authenticators shipped with kubeauth.
package builtin

import (
	"github.com/vyrodovalexey/kubeauth/internal/auth"
	"github.com/vyrodovalexey/kubeauth/internal/auth/ldap"
	"github.com/vyrodovalexey/kubeauth/internal/auth/local"
)

// NewRegistry returns a registry holding json_auth and ldap_auth.
func NewRegistry() *auth.Registry {
	r := auth.NewRegistry()
	r.MustRegister(local.Backend())
	r.MustRegister(ldap.Backend())
	return r
}
