package auth

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors describing why a token was denied.
var (
	// ErrMalformedToken indicates the token is not of the form principal:secret.
	ErrMalformedToken = errors.New("malformed token")

	// ErrUnknownPrincipal indicates the principal is not known to the backend.
	ErrUnknownPrincipal = errors.New("unknown principal")

	// ErrInvalidCredentials indicates the secret does not match.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidPrincipal indicates the principal contains forbidden characters.
	ErrInvalidPrincipal = errors.New("invalid principal")

	// ErrDirectoryUnavailable indicates the directory service could not be reached.
	ErrDirectoryUnavailable = errors.New("directory unavailable")

	// ErrServiceBindFailed indicates the service account bind was rejected.
	ErrServiceBindFailed = errors.New("service account bind failed")

	// ErrNoEntry indicates the directory search returned no entry.
	ErrNoEntry = errors.New("no directory entry")

	// ErrUnknownAuthenticator indicates a chain entry has no registered backend.
	ErrUnknownAuthenticator = errors.New("unknown authenticator")

	// ErrInternal indicates an unexpected failure inside an authenticator.
	ErrInternal = errors.New("internal authenticator failure")
)

// Denial reasons used as metric labels.
const (
	ReasonNone                 = "none"
	ReasonMalformedToken       = "malformed_token"
	ReasonUnknownPrincipal     = "unknown_principal"
	ReasonInvalidCredentials   = "invalid_credentials"
	ReasonInvalidPrincipal     = "invalid_principal"
	ReasonDirectoryUnavailable = "directory_unavailable"
	ReasonServiceBindFailed    = "service_bind_failed"
	ReasonNoEntry              = "no_entry"
	ReasonUnknownAuthenticator = "unknown_authenticator"
	ReasonCanceled             = "canceled"
	ReasonInternal             = "internal"
)

var reasons = []struct {
	err    error
	reason string
}{
	{ErrMalformedToken, ReasonMalformedToken},
	{ErrUnknownPrincipal, ReasonUnknownPrincipal},
	{ErrInvalidCredentials, ReasonInvalidCredentials},
	{ErrInvalidPrincipal, ReasonInvalidPrincipal},
	{ErrServiceBindFailed, ReasonServiceBindFailed},
	{ErrNoEntry, ReasonNoEntry},
	{ErrUnknownAuthenticator, ReasonUnknownAuthenticator},
	{context.Canceled, ReasonCanceled},
	{context.DeadlineExceeded, ReasonDirectoryUnavailable},
	{ErrDirectoryUnavailable, ReasonDirectoryUnavailable},
}

// Reasons returns every denial reason label.
func Reasons() []string {
	out := make([]string, 0, len(reasons)+1)
	seen := make(map[string]bool, len(reasons))
	for _, r := range reasons {
		if !seen[r.reason] {
			seen[r.reason] = true
			out = append(out, r.reason)
		}
	}
	return append(out, ReasonInternal)
}

// Reason maps err to a bounded metric label.
func Reason(err error) string {
	if err == nil {
		return ReasonNone
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return ReasonInternal
}

// Error attaches the authenticator name to a denial cause.
type Error struct {
	Authenticator string
	Err           error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Authenticator, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Denied returns the canonical deny result and err wrapped with the
// authenticator name.
func Denied(authenticator string, err error) (Result, error) {
	return Deny(), &Error{Authenticator: authenticator, Err: err}
}
