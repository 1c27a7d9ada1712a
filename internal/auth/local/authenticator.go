package local

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/vyrodovalexey/kubeauth/internal/auth"
	"github.com/vyrodovalexey/kubeauth/internal/config"
	"github.com/vyrodovalexey/kubeauth/internal/observability"
)

// Kind is the registry name of the local authenticator.
const Kind = "json_auth"

// Option keys.
const (
	OptUserFilePath = "json_user_file_path"
	OptHashed       = "json_hashed_pw"
	OptStrictUnique = "json_strict_unique"
)

// Backend returns the registry entry for the local authenticator.
func Backend() auth.Backend {
	return auth.Backend{
		Kind:        Kind,
		Description: "principals from a local JSON credential store",
		Factory:     New,
		Options: []auth.OptionSpec{
			{Key: OptUserFilePath, Usage: "path to the JSON credential store", Required: true},
			{Key: OptHashed, Usage: "stored passwords are argon2/bcrypt digests", Default: "false"},
			{Key: OptStrictUnique, Usage: "fail startup on duplicate usernames", Default: "false"},
		},
	}
}

// Authenticator checks tokens against an in-memory Store.
type Authenticator struct {
	store  *Store
	hashed bool
}

var _ auth.Authenticator = (*Authenticator)(nil)

// New is the registry factory for json_auth.
func New(_ context.Context, opts config.Options, env auth.Environment) (auth.Authenticator, error) {
	if err := opts.Require(Kind, OptUserFilePath); err != nil {
		return nil, err
	}
	hashed, err := opts.Bool(OptHashed, false)
	if err != nil {
		return nil, err
	}
	strict, err := opts.Bool(OptStrictUnique, false)
	if err != nil {
		return nil, err
	}

	path, _ := opts.First(OptUserFilePath)
	store, err := LoadStore(path)
	if err != nil {
		return nil, err
	}

	logger := env.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	logger = logger.With(observability.String("authenticator", Kind))

	if dups := store.Duplicates(); len(dups) > 0 {
		if strict {
			return nil, fmt.Errorf("%w: duplicate usernames: %s", ErrInvalidStore, strings.Join(dups, ", "))
		}
		logger.Warn("duplicate usernames in credential store, last entry wins",
			observability.Strings("usernames", dups))
	}

	if hashed {
		for name, u := range store.users {
			if _, err := Algorithm(u.Password); err != nil {
				logger.Warn("stored password is not a supported digest, user can never authenticate",
					observability.String("username", name))
			}
		}
	}

	logger.Info("credential store loaded",
		observability.String("path", path),
		observability.Int("users", store.Len()),
		observability.Bool("hashed", hashed),
	)

	return NewAuthenticator(store, hashed), nil
}

// NewAuthenticator wraps an already loaded store.
func NewAuthenticator(store *Store, hashed bool) *Authenticator {
	return &Authenticator{store: store, hashed: hashed}
}

// Name implements auth.Authenticator.
func (a *Authenticator) Name() string {
	return Kind
}

// Authenticate implements auth.Authenticator.
func (a *Authenticator) Authenticate(_ context.Context, token string) (auth.Result, error) {
	principal, secret, err := auth.ParseToken(token)
	if err != nil {
		return auth.Denied(Kind, err)
	}

	user, ok := a.store.Lookup(principal)
	if !ok {
		return auth.Denied(Kind, auth.ErrUnknownPrincipal)
	}

	match, err := a.compare(secret, user.Password)
	if err != nil {
		return auth.Denied(Kind, fmt.Errorf("%w: %v", auth.ErrInternal, err))
	}
	if !match {
		return auth.Denied(Kind, auth.ErrInvalidCredentials)
	}

	return auth.Allow(principal, user.Groups), nil
}

func (a *Authenticator) compare(secret, stored string) (bool, error) {
	if a.hashed {
		return VerifyPassword(secret, stored)
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(stored)) == 1, nil
}
