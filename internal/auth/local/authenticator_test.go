package local

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/kubeauth/internal/auth"
	"github.com/vyrodovalexey/kubeauth/internal/config"
	"github.com/vyrodovalexey/kubeauth/internal/observability"
)

func writeStore(t *testing.T, users []User) string {
	t.Helper()

	data, err := json.Marshal(usersFile{Users: users})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "users.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func newFromOptions(t *testing.T, opts config.Options) (auth.Authenticator, error) {
	t.Helper()
	return New(context.Background(), opts, auth.Environment{Logger: observability.NopLogger()})
}

func TestAuthenticator_Plaintext(t *testing.T) {
	t.Parallel()

	path := writeStore(t, []User{
		{Username: "alice", Password: "correcthorse", Groups: []string{"dev", "ops"}},
		{Username: "nogroups", Password: "pw", Groups: []string{}},
	})
	a, err := newFromOptions(t, config.Options{OptUserFilePath: {path}})
	require.NoError(t, err)
	assert.Equal(t, Kind, a.Name())

	tests := []struct {
		name       string
		token      string
		wantUser   string
		wantGroups []string
		wantErr    error
	}{
		{name: "correct secret", token: "alice:correcthorse", wantUser: "alice", wantGroups: []string{"dev", "ops"}},
		{name: "empty groups", token: "nogroups:pw", wantUser: "nogroups", wantGroups: []string{}},
		{name: "wrong secret", token: "alice:wrongpass", wantErr: auth.ErrInvalidCredentials},
		{name: "one byte differs", token: "alice:correcthorsf", wantErr: auth.ErrInvalidCredentials},
		{name: "prefix of secret", token: "alice:correcthors", wantErr: auth.ErrInvalidCredentials},
		{name: "case differs", token: "alice:CorrectHorse", wantErr: auth.ErrInvalidCredentials},
		{name: "unknown principal", token: "bob:pw", wantErr: auth.ErrUnknownPrincipal},
		{name: "no colon", token: "alicecorrecthorse", wantErr: auth.ErrMalformedToken},
		{name: "empty principal", token: ":correcthorse", wantErr: auth.ErrMalformedToken},
		{name: "empty token", token: "", wantErr: auth.ErrMalformedToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res, err := a.Authenticate(context.Background(), tt.token)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, auth.Deny(), res)
				return
			}
			require.NoError(t, err)
			assert.True(t, res.Authenticated)
			assert.Equal(t, tt.wantUser, res.Username)
			assert.Equal(t, tt.wantGroups, res.Groups)
		})
	}
}

func TestAuthenticator_SecretWithColon(t *testing.T) {
	t.Parallel()

	a := NewAuthenticator(mustParse(t, `{"users":[{"username":"carol","password":"a:b","groups":[]}]}`), false)

	res, err := a.Authenticate(context.Background(), "carol:a:b")
	require.NoError(t, err)
	assert.True(t, res.Authenticated)
}

func TestAuthenticator_Hashed(t *testing.T) {
	t.Parallel()

	digest, err := HashPassword("correcthorse", cheapParams)
	require.NoError(t, err)

	path := writeStore(t, []User{
		{Username: "alice", Password: digest, Groups: []string{"dev"}},
		{Username: "legacy", Password: "plaintext-not-a-digest", Groups: []string{}},
	})
	a, err := newFromOptions(t, config.Options{OptUserFilePath: {path}, OptHashed: {"true"}})
	require.NoError(t, err)

	// Verifying the same secret twice must give the same answer.
	for i := 0; i < 2; i++ {
		res, err := a.Authenticate(context.Background(), "alice:correcthorse")
		require.NoError(t, err)
		assert.True(t, res.Authenticated)
		assert.Equal(t, []string{"dev"}, res.Groups)
	}

	res, err := a.Authenticate(context.Background(), "alice:wrong")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	assert.Equal(t, auth.Deny(), res)

	_, err = a.Authenticate(context.Background(), "alice:"+digest)
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials, "the digest itself is not a valid secret")

	res, err = a.Authenticate(context.Background(), "legacy:plaintext-not-a-digest")
	assert.ErrorIs(t, err, auth.ErrInternal)
	assert.Equal(t, auth.Deny(), res)
}

func TestAuthenticator_PlaintextModeDoesNotHash(t *testing.T) {
	t.Parallel()

	digest, err := HashPassword("correcthorse", cheapParams)
	require.NoError(t, err)

	a := NewAuthenticator(mustParse(t, `{"users":[{"username":"alice","password":"`+digest+`","groups":[]}]}`), false)

	_, err = a.Authenticate(context.Background(), "alice:correcthorse")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	res, err := a.Authenticate(context.Background(), "alice:"+digest)
	require.NoError(t, err)
	assert.True(t, res.Authenticated)
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	valid := writeStore(t, []User{{Username: "a", Password: "b", Groups: []string{}}})
	dup := writeStore(t, []User{
		{Username: "a", Password: "1", Groups: []string{}},
		{Username: "a", Password: "2", Groups: []string{}},
	})

	tests := []struct {
		name string
		opts config.Options
	}{
		{name: "path unset", opts: config.Options{}},
		{name: "path empty", opts: config.Options{OptUserFilePath: {""}}},
		{name: "path missing", opts: config.Options{OptUserFilePath: {filepath.Join(t.TempDir(), "nope.json")}}},
		{name: "bad hashed flag", opts: config.Options{OptUserFilePath: {valid}, OptHashed: {"sometimes"}}},
		{name: "bad strict flag", opts: config.Options{OptUserFilePath: {valid}, OptStrictUnique: {"x"}}},
		{name: "strict duplicates", opts: config.Options{OptUserFilePath: {dup}, OptStrictUnique: {"true"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			a, err := newFromOptions(t, tt.opts)
			assert.Error(t, err)
			assert.Nil(t, a)
		})
	}
}

func TestNew_DuplicatesLastWins(t *testing.T) {
	t.Parallel()

	path := writeStore(t, []User{
		{Username: "a", Password: "first", Groups: []string{"g1"}},
		{Username: "a", Password: "second", Groups: []string{"g2"}},
	})

	a, err := New(context.Background(), config.Options{OptUserFilePath: {path}}, auth.Environment{})
	require.NoError(t, err)

	_, err = a.Authenticate(context.Background(), "a:first")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	res, err := a.Authenticate(context.Background(), "a:second")
	require.NoError(t, err)
	assert.Equal(t, []string{"g2"}, res.Groups)
}

func TestBackend(t *testing.T) {
	t.Parallel()

	b := Backend()
	assert.Equal(t, Kind, b.Kind)
	assert.NotNil(t, b.Factory)

	keys := make([]string, 0, len(b.Options))
	for _, o := range b.Options {
		keys = append(keys, o.Key)
	}
	assert.ElementsMatch(t, []string{OptUserFilePath, OptHashed, OptStrictUnique}, keys)
}

func mustParse(t *testing.T, data string) *Store {
	t.Helper()
	s, err := ParseStore([]byte(data))
	require.NoError(t, err)
	return s
}
