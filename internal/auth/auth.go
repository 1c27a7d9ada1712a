package auth

import (
	"context"
	"strings"
)

// Authenticator checks a principal:secret token.
//
// Implementations return the canonical deny result together with an error
// describing the reason whenever the token is not accepted. The error is
// for logs and metrics only and never reaches the client.
type Authenticator interface {
	Name() string
	Authenticate(ctx context.Context, token string) (Result, error)
}

// HealthChecker is implemented by authenticators that depend on an
// external service and can probe it.
type HealthChecker interface {
	Check(ctx context.Context) error
}

// Result is the outcome of one authentication attempt.
type Result struct {
	Authenticated bool
	Username      string
	Groups        []string
}

// Deny returns the canonical deny result. Groups is an empty, non-nil slice.
func Deny() Result {
	return Result{Groups: []string{}}
}

// Allow returns a successful result for username. groups is copied.
func Allow(username string, groups []string) Result {
	g := make([]string, len(groups))
	copy(g, groups)
	return Result{Authenticated: true, Username: username, Groups: g}
}

// ParseToken splits token on its first colon. Both halves must be non-empty.
func ParseToken(token string) (principal, secret string, err error) {
	principal, secret, ok := strings.Cut(token, ":")
	if !ok || principal == "" || secret == "" {
		return "", "", ErrMalformedToken
	}
	return principal, secret, nil
}
