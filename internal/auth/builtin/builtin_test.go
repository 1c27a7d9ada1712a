package builtin

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vyrodovalexey/kubeauth/internal/auth/ldap"
	"github.com/vyrodovalexey/kubeauth/internal/auth/local"
)

func TestNewRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	assert.Equal(t, []string{local.Kind, ldap.Kind}, r.Kinds())

	bindings := r.EnvBindings()
	assert.Equal(t, []string{"LDAP_SERVER_URL"}, bindings[ldap.OptURL])
	assert.Equal(t, []string{"LDAP_SERVICE_ACCOUNT_PW"}, bindings[ldap.OptServicePassword])
	assert.Empty(t, bindings[local.OptUserFilePath])
}
