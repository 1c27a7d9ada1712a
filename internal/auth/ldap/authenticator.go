package ldap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	goldap "github.com/go-ldap/ldap/v3"

	"github.com/vyrodovalexey/kubeauth/internal/auth"
	"github.com/vyrodovalexey/kubeauth/internal/circuitbreaker"
	"github.com/vyrodovalexey/kubeauth/internal/config"
	"github.com/vyrodovalexey/kubeauth/internal/observability"
)

// Kind is the registry name of the directory authenticator.
const Kind = "ldap_auth"

// Option keys.
const (
	OptURL                = "ldap_url"
	OptServiceAccount     = "ldap_service_account"
	OptServicePassword    = "ldap_service_account_password"
	OptBaseDN             = "ldap_base_dn"
	OptFilter             = "ldap_filter"
	OptTimeout            = "ldap_timeout"
	OptStartTLS           = "ldap_start_tls"
	OptInsecureSkipVerify = "ldap_insecure_skip_verify"
	OptBreaker            = "ldap_breaker"
)

// Defaults.
const (
	DefaultURL     = "ldap://localhost:3893"
	DefaultTimeout = 10 * time.Second
)

// principalPattern guards the principal before it is placed in a DN or filter.
var principalPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// Backend returns the registry entry for the directory authenticator.
func Backend() auth.Backend {
	return auth.Backend{
		Kind:        Kind,
		Description: "double bind and subtree search against an LDAP directory",
		Factory:     New,
		Options: []auth.OptionSpec{
			{Key: OptURL, Usage: "directory URL (ldap:// or ldaps://)", Default: DefaultURL,
				EnvAliases: []string{"LDAP_SERVER_URL"}},
			{Key: OptServiceAccount, Usage: "service account cn or full DN", Required: true,
				EnvAliases: []string{"LDAP_SERVICE_ACCOUNT"}},
			{Key: OptServicePassword, Usage: "service account password or secret reference", Required: true,
				EnvAliases: []string{"LDAP_SERVICE_ACCOUNT_PW"}},
			{Key: OptBaseDN, Usage: "base DN for binds and searches", Required: true,
				EnvAliases: []string{"LDAP_BASE_DN"}},
			{Key: OptFilter, Usage: "search filter template, ${username} is substituted", Default: DefaultFilter,
				EnvAliases: []string{"LDAP_FILTER"}},
			{Key: OptTimeout, Usage: "timeout for one authentication round trip", Default: DefaultTimeout.String()},
			{Key: OptStartTLS, Usage: "upgrade ldap:// connections with StartTLS", Default: "false"},
			{Key: OptInsecureSkipVerify, Usage: "skip directory certificate verification", Default: "false"},
			{Key: OptBreaker, Usage: "guard the directory with a circuit breaker", Default: "false"},
		},
	}
}

// Config is the resolved directory configuration.
type Config struct {
	URL                string
	BaseDN             string
	ServiceDN          string
	ServicePassword    string
	Filter             string
	Timeout            time.Duration
	StartTLS           bool
	InsecureSkipVerify bool
}

// ConfigFromOptions reads Config from the option map, resolving the
// service account password through secrets.
func ConfigFromOptions(ctx context.Context, opts config.Options, secrets auth.SecretResolver) (Config, error) {
	if err := opts.Require(Kind, OptServiceAccount, OptServicePassword, OptBaseDN); err != nil {
		return Config{}, err
	}

	cfg := Config{
		URL:    opts.String(OptURL, DefaultURL),
		BaseDN: opts.String(OptBaseDN, ""),
		Filter: opts.String(OptFilter, DefaultFilter),
	}
	cfg.ServiceDN = ServiceDN(opts.String(OptServiceAccount, ""), cfg.BaseDN)

	var err error
	if cfg.Timeout, err = opts.Duration(OptTimeout, DefaultTimeout); err != nil {
		return Config{}, err
	}
	if cfg.StartTLS, err = opts.Bool(OptStartTLS, false); err != nil {
		return Config{}, err
	}
	if cfg.InsecureSkipVerify, err = opts.Bool(OptInsecureSkipVerify, false); err != nil {
		return Config{}, err
	}

	ref := opts.String(OptServicePassword, "")
	if secrets == nil {
		cfg.ServicePassword = ref
		return cfg, nil
	}
	if cfg.ServicePassword, err = secrets.Resolve(ctx, ref); err != nil {
		return Config{}, fmt.Errorf("resolving %s: %w", OptServicePassword, err)
	}
	return cfg, nil
}

// ServiceDN expands a bare service account name to cn=<name>,<baseDN>.
// Values that already look like a DN are returned unchanged.
func ServiceDN(account, baseDN string) string {
	if strings.Contains(account, "=") {
		return account
	}
	return "cn=" + account + "," + baseDN
}

// UserDN returns the bind DN for principal.
func UserDN(principal, baseDN string) string {
	return "cn=" + principal + "," + baseDN
}

// Authenticator validates tokens by binding to a directory.
type Authenticator struct {
	cfg     Config
	dialer  Dialer
	breaker *circuitbreaker.Breaker
	logger  observability.Logger
}

var (
	_ auth.Authenticator = (*Authenticator)(nil)
	_ auth.HealthChecker = (*Authenticator)(nil)
)

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithDialer replaces the go-ldap dialer.
func WithDialer(d Dialer) Option {
	return func(a *Authenticator) {
		a.dialer = d
	}
}

// WithBreaker guards directory round trips with b.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(a *Authenticator) {
		a.breaker = b
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(a *Authenticator) {
		a.logger = logger
	}
}

// New is the registry factory for ldap_auth.
func New(ctx context.Context, opts config.Options, env auth.Environment) (auth.Authenticator, error) {
	cfg, err := ConfigFromOptions(ctx, opts, env.Secrets)
	if err != nil {
		return nil, err
	}
	useBreaker, err := opts.Bool(OptBreaker, false)
	if err != nil {
		return nil, err
	}

	logger := env.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	logger = logger.With(observability.String("authenticator", Kind))

	options := []Option{WithLogger(logger)}
	if useBreaker {
		bopts := []circuitbreaker.Option{circuitbreaker.WithLogger(logger)}
		if env.Metrics != nil {
			env.Metrics.SetBreakerState(Kind, circuitbreaker.StateClosed)
			bopts = append(bopts, circuitbreaker.WithStateFunc(func(_ string, state int) {
				env.Metrics.SetBreakerState(Kind, state)
			}))
		}
		bcfg := circuitbreaker.DefaultConfig()
		bcfg.IsSuccessful = isBackendHealthy
		options = append(options, WithBreaker(circuitbreaker.New(Kind, bcfg, bopts...)))
	}

	a, err := NewAuthenticator(cfg, options...)
	if err != nil {
		return nil, err
	}

	logger.Info("directory authenticator configured",
		observability.String("url", cfg.URL),
		observability.String("base_dn", cfg.BaseDN),
		observability.String("service_dn", cfg.ServiceDN),
		observability.String("filter", cfg.Filter),
		observability.Bool("start_tls", cfg.StartTLS),
		observability.Bool("breaker", useBreaker),
	)
	return a, nil
}

// NewAuthenticator validates cfg and builds an Authenticator.
func NewAuthenticator(cfg Config, opts ...Option) (*Authenticator, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", OptURL, cfg.URL, err)
	}
	switch u.Scheme {
	case "ldap", "ldaps":
	default:
		return nil, fmt.Errorf("invalid %s %q: scheme must be ldap or ldaps", OptURL, cfg.URL)
	}
	if cfg.StartTLS && u.Scheme == "ldaps" {
		return nil, fmt.Errorf("%s cannot be combined with an ldaps URL", OptStartTLS)
	}
	if cfg.BaseDN == "" {
		return nil, fmt.Errorf("%s is required", OptBaseDN)
	}
	if _, err := goldap.ParseDN(cfg.BaseDN); err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", OptBaseDN, cfg.BaseDN, err)
	}
	if _, err := BuildFilter(cfg.Filter, "probe"); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", OptFilter, err)
	}

	a := &Authenticator{
		cfg:    cfg,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.dialer == nil {
		d := &urlDialer{url: cfg.URL, timeout: cfg.Timeout, startTLS: cfg.StartTLS}
		if u.Scheme == "ldaps" || cfg.StartTLS {
			d.tlsConfig = &tls.Config{
				ServerName:         u.Hostname(),
				MinVersion:         tls.VersionTLS12,
				InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // operator opt-in
			}
		}
		a.dialer = d
	}
	return a, nil
}

// Name implements auth.Authenticator.
func (a *Authenticator) Name() string {
	return Kind
}

// Authenticate implements auth.Authenticator.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (auth.Result, error) {
	principal, secret, err := auth.ParseToken(token)
	if err != nil {
		return auth.Denied(Kind, err)
	}
	if !principalPattern.MatchString(principal) {
		a.logger.WithContext(ctx).Warn("rejecting principal with non alphanumeric characters")
		return auth.Denied(Kind, auth.ErrInvalidPrincipal)
	}

	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	var groups []string
	err = a.guard(func() error {
		var lerr error
		groups, lerr = a.lookup(ctx, principal, secret)
		return lerr
	})
	if err != nil {
		return auth.Denied(Kind, err)
	}
	return auth.Allow(principal, groups), nil
}

// Check dials the directory and performs the service account bind. It
// bypasses the circuit breaker so probes neither trip nor reset it.
func (a *Authenticator) Check(ctx context.Context) error {
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}
	conn, release, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer release()
	return bindError(ctx, conn.Bind(a.cfg.ServiceDN, a.cfg.ServicePassword), auth.ErrServiceBindFailed)
}

func (a *Authenticator) guard(fn func() error) error {
	if a.breaker == nil {
		return fn()
	}
	err := a.breaker.Execute(fn)
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return fmt.Errorf("%w: %w", auth.ErrDirectoryUnavailable, err)
	}
	return err
}

// open dials and arranges for the connection to be closed when ctx ends.
func (a *Authenticator) open(ctx context.Context) (Conn, func(), error) {
	conn, err := a.dialer.Dial(ctx)
	if err != nil {
		return nil, nil, transportError(ctx, "dial", err)
	}
	stop := context.AfterFunc(ctx, conn.Close)
	release := func() {
		if stop() {
			conn.Close()
		}
	}
	return conn, release, nil
}

func (a *Authenticator) lookup(ctx context.Context, principal, secret string) ([]string, error) {
	conn, release, err := a.open(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := bindError(ctx, conn.Bind(UserDN(principal, a.cfg.BaseDN), secret), auth.ErrInvalidCredentials); err != nil {
		return nil, err
	}

	// The connection is now authorized as the user; searching must happen
	// as the service account, so this bind has to succeed.
	if err := bindError(ctx, conn.Bind(a.cfg.ServiceDN, a.cfg.ServicePassword), auth.ErrServiceBindFailed); err != nil {
		a.logger.WithContext(ctx).Error("service account bind failed",
			observability.String("service_dn", a.cfg.ServiceDN),
			observability.Error(err),
		)
		return nil, err
	}

	filter, err := BuildFilter(a.cfg.Filter, principal)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrInternal, err)
	}

	res, err := conn.Search(goldap.NewSearchRequest(
		a.cfg.BaseDN,
		goldap.ScopeWholeSubtree,
		goldap.NeverDerefAliases,
		1, 0, false,
		filter,
		[]string{"1.1"},
		nil,
	))
	switch {
	case err == nil:
	case goldap.IsErrorWithCode(err, goldap.LDAPResultSizeLimitExceeded) && res != nil && len(res.Entries) > 0:
	case goldap.IsErrorWithCode(err, goldap.LDAPResultNoSuchObject):
		return nil, fmt.Errorf("%w: %v", auth.ErrNoEntry, err)
	default:
		return nil, transportError(ctx, "search", err)
	}
	if len(res.Entries) == 0 {
		return nil, auth.ErrNoEntry
	}

	groups, err := GroupsFromDN(res.Entries[0].DN)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing entry DN: %v", auth.ErrInternal, err)
	}
	return groups, nil
}

// bindError classifies a bind result. Invalid credentials and other
// non-success result codes become denial; transport failures become
// ErrDirectoryUnavailable.
func bindError(ctx context.Context, err, denial error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || goldap.IsErrorWithCode(err, goldap.ErrorNetwork) {
		return transportError(ctx, "bind", err)
	}
	return fmt.Errorf("%w: %v", denial, err)
}

func transportError(ctx context.Context, op string, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return fmt.Errorf("%w: %s: %w", auth.ErrDirectoryUnavailable, op, cerr)
	}
	return fmt.Errorf("%w: %s: %v", auth.ErrDirectoryUnavailable, op, err)
}

// isBackendHealthy tells the breaker which errors say nothing about the
// directory's availability.
func isBackendHealthy(err error) bool {
	return err == nil || !errors.Is(err, auth.ErrDirectoryUnavailable)
}
