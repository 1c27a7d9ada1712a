package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/vyrodovalexey/kubeauth/internal/auth"
	"github.com/vyrodovalexey/kubeauth/internal/config"
	"github.com/vyrodovalexey/kubeauth/internal/health"
	"github.com/vyrodovalexey/kubeauth/internal/observability"
	"github.com/vyrodovalexey/kubeauth/internal/secrets"
	"github.com/vyrodovalexey/kubeauth/internal/server"
	kubetls "github.com/vyrodovalexey/kubeauth/internal/tls"
)

// Flag names shared by the root and serve commands.
const (
	flagConfig         = "config"
	flagAuthenticator  = "authenticator"
	flagAddress        = "address"
	flagPort           = "port"
	flagTLSCert        = "tls_cert"
	flagTLSKey         = "tls_key"
	flagTLSMinVersion  = "tls_min_version"
	flagLogLevel       = "log_level"
	flagLogFormat      = "log_format"
	flagMetrics        = "metrics"
	flagMetricsPort    = "metrics_port"
	flagTracing        = "tracing"
	flagOTLPEndpoint   = "otlp_endpoint"
	flagMaxBodyBytes   = "max_body_bytes"
	flagShutdownPeriod = "shutdown_timeout"
)

// serveOptions holds the raw flag values. Only flags the user set override
// the environment and the config file.
type serveOptions struct {
	configPath     string
	authenticators []string
	address        string
	port           int
	tlsCert        string
	tlsKey         string
	tlsMinVersion  string
	logLevel       string
	logFormat      string
	metrics        bool
	metricsPort    int
	tracing        bool
	otlpEndpoint   string
	maxBodyBytes   int64
	shutdown       config.Duration
	options        map[string]*[]string
}

func newServeOptions() *serveOptions {
	return &serveOptions{options: make(map[string]*[]string)}
}

// bind registers the server flags and one flag per backend option key.
func (o *serveOptions) bind(fs *pflag.FlagSet, registry *auth.Registry) {
	def := config.DefaultConfig()

	fs.StringVarP(&o.configPath, flagConfig, "c", "", "path to a YAML config file")
	fs.StringArrayVarP(&o.authenticators, flagAuthenticator, "a", nil,
		"authenticator kind to try, in order (repeatable): "+strings.Join(registry.Kinds(), ", "))
	fs.StringVar(&o.address, flagAddress, def.Server.Address, "IP address to listen on")
	fs.IntVar(&o.port, flagPort, def.Server.Port, "port to listen on")
	fs.StringVar(&o.tlsCert, flagTLSCert, "", "PEM certificate file; enables TLS")
	fs.StringVar(&o.tlsKey, flagTLSKey, "", "PEM private key file")
	fs.StringVar(&o.tlsMinVersion, flagTLSMinVersion, "", "minimum TLS version (1.2 or 1.3)")
	fs.StringVar(&o.logLevel, flagLogLevel, def.Logging.Level, "log level (debug, info, warn, error)")
	fs.StringVar(&o.logFormat, flagLogFormat, def.Logging.Format, "log format (json, console)")
	fs.BoolVar(&o.metrics, flagMetrics, def.Metrics.Enabled, "serve metrics and probes on a separate port")
	fs.IntVar(&o.metricsPort, flagMetricsPort, def.Metrics.Port, "metrics and probe port")
	fs.BoolVar(&o.tracing, flagTracing, def.Tracing.Enabled, "export OpenTelemetry traces")
	fs.StringVar(&o.otlpEndpoint, flagOTLPEndpoint, "", "OTLP gRPC collector endpoint")
	fs.Int64Var(&o.maxBodyBytes, flagMaxBodyBytes, def.Server.MaxBodyBytes, "maximum request body size")
	o.shutdown = def.Server.ShutdownTimeout
	fs.Var(&durationValue{&o.shutdown}, flagShutdownPeriod, "graceful shutdown timeout")

	for _, spec := range registry.OptionSpecs() {
		usage := spec.Usage
		if spec.Default != "" {
			usage += fmt.Sprintf(" (default %q)", spec.Default)
		}
		values, ok := o.options[spec.Key]
		if !ok {
			values = new([]string)
			o.options[spec.Key] = values
		}
		fs.StringArrayVar(values, spec.Key, nil, usage)
	}
}

// buildConfig layers flags over environment over file over defaults and
// validates the result.
func buildConfig(fs *pflag.FlagSet, o *serveOptions, lookup config.LookupFunc, registry *auth.Registry) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path := o.configPath; path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if err := cfg.ApplyEnv(lookup, registry.EnvBindings()); err != nil {
		return nil, err
	}
	o.apply(fs, cfg)

	if err := cfg.Validate(registry.Kinds()); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (o *serveOptions) apply(fs *pflag.FlagSet, cfg *config.Config) {
	if fs.Changed(flagAuthenticator) {
		var chain []string
		for _, v := range o.authenticators {
			for _, kind := range strings.Split(v, ",") {
				if kind = strings.TrimSpace(kind); kind != "" {
					chain = append(chain, kind)
				}
			}
		}
		cfg.Authenticators = chain
	}
	if fs.Changed(flagAddress) {
		cfg.Server.Address = o.address
	}
	if fs.Changed(flagPort) {
		cfg.Server.Port = o.port
	}
	if fs.Changed(flagTLSCert) {
		cfg.Server.TLS.CertFile = o.tlsCert
	}
	if fs.Changed(flagTLSKey) {
		cfg.Server.TLS.KeyFile = o.tlsKey
	}
	if fs.Changed(flagTLSMinVersion) {
		cfg.Server.TLS.MinVersion = o.tlsMinVersion
	}
	if fs.Changed(flagLogLevel) {
		cfg.Logging.Level = o.logLevel
	}
	if fs.Changed(flagLogFormat) {
		cfg.Logging.Format = o.logFormat
	}
	if fs.Changed(flagMetrics) {
		cfg.Metrics.Enabled = o.metrics
	}
	if fs.Changed(flagMetricsPort) {
		cfg.Metrics.Port = o.metricsPort
	}
	if fs.Changed(flagTracing) {
		cfg.Tracing.Enabled = o.tracing
	}
	if fs.Changed(flagOTLPEndpoint) {
		cfg.Tracing.OTLPEndpoint = o.otlpEndpoint
	}
	if fs.Changed(flagMaxBodyBytes) {
		cfg.Server.MaxBodyBytes = o.maxBodyBytes
	}
	if fs.Changed(flagShutdownPeriod) {
		cfg.Server.ShutdownTimeout = o.shutdown
	}

	if cfg.Options == nil {
		cfg.Options = config.Options{}
	}
	for key, values := range o.options {
		if fs.Changed(key) {
			cfg.Options.Set(key, *values...)
		}
	}
}

// runServe builds the configuration and serves until SIGINT or SIGTERM.
func runServe(ctx context.Context, fs *pflag.FlagSet, o *serveOptions, registry *auth.Registry) error {
	cfg, err := buildConfig(fs, o, config.OSLookup, registry)
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting kubeauth",
		observability.String("version", version),
		observability.String("commit", gitCommit),
		observability.String("build_time", buildTime),
		observability.Strings("authenticators", cfg.Authenticators),
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, cfg, registry, logger)
	if err != nil {
		logger.Error("failed to initialize", observability.Error(err))
		return err
	}
	return app.run(ctx)
}

// application wires the long-lived components of a serving process.
type application struct {
	config        *config.Config
	logger        observability.Logger
	tracer        *observability.Tracer
	metrics       *observability.Metrics
	health        *health.Checker
	reloader      *kubetls.CertReloader
	server        *server.Server
	metricsServer *http.Server
}

func newApplication(
	ctx context.Context,
	cfg *config.Config,
	registry *auth.Registry,
	logger observability.Logger,
) (*application, error) {
	app := &application{config: cfg, logger: logger}

	metrics := observability.NewMetrics(observability.DefaultNamespace)
	metrics.SetBuildInfo(version, gitCommit, buildTime)
	app.metrics = metrics

	authMetrics := auth.NewMetrics(observability.DefaultNamespace)
	authMetrics.Init(cfg.Authenticators)
	authMetrics.MustRegister(metrics.Registry())

	secretMetrics := secrets.NewMetrics(observability.DefaultNamespace)
	secretMetrics.MustRegister(metrics.Registry())

	healthMetrics := health.NewMetrics(observability.DefaultNamespace)
	healthMetrics.MustRegister(metrics.Registry())

	tracer, err := observability.NewTracer(cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	app.tracer = tracer

	resolver := secrets.NewDefaultResolver(logger, secretMetrics)
	instances, err := registry.Build(ctx, cfg.Authenticators, cfg.Options, auth.Environment{
		Logger:  logger,
		Secrets: resolver,
		Metrics: authMetrics,
	})
	if err != nil {
		app.closeEarly()
		return nil, err
	}

	pipeline := auth.NewPipeline(cfg.Authenticators, instances,
		auth.WithLogger(logger),
		auth.WithMetrics(authMetrics),
		auth.WithTracer(tracer),
	)
	logger.Info("authenticator chain ready", observability.Strings("chain", pipeline.Chain()))

	// Directory failures deny per request; they are reported on /readyz
	// but never take the pod out of rotation.
	app.health = health.NewChecker(version, health.WithMetrics(healthMetrics))
	for kind, instance := range instances {
		if hc, ok := instance.(auth.HealthChecker); ok {
			app.health.RegisterAdvisoryCheck(kind, hc.Check)
		}
	}

	srvCfg := server.Config{
		Address:      cfg.Server.Address,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration(),
		WriteTimeout: cfg.Server.WriteTimeout.Duration(),
		IdleTimeout:  cfg.Server.IdleTimeout.Duration(),
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	}
	if cfg.Server.TLS.Enabled() {
		tlsMetrics := kubetls.NewMetrics(observability.DefaultNamespace)
		tlsMetrics.MustRegister(metrics.Registry())

		reloader, err := kubetls.NewCertReloader(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile,
			kubetls.WithLogger(logger),
			kubetls.WithMetrics(tlsMetrics),
		)
		if err != nil {
			app.closeEarly()
			return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
		}
		app.reloader = reloader
		tlsCfg, err := kubetls.ServerConfig(reloader, cfg.Server.TLS.MinVersion)
		if err != nil {
			app.closeEarly()
			return nil, err
		}
		srvCfg.TLS = tlsCfg
	}

	app.server = server.New(srvCfg, pipeline,
		server.WithLogger(logger),
		server.WithMetrics(metrics),
		server.WithTracer(tracer),
		server.WithHealth(app.health),
	)

	if cfg.Metrics.Enabled {
		app.metricsServer = server.NewMetricsServer(
			cfg.Server.Address, cfg.Metrics.Port, cfg.Metrics.Path, metrics, app.health)
	}
	return app, nil
}

// closeEarly releases what newApplication acquired before failing.
func (a *application) closeEarly() {
	if a.reloader != nil {
		_ = a.reloader.Close()
	}
	if a.tracer != nil {
		_ = a.tracer.Shutdown(context.Background())
	}
}

// run serves until ctx is canceled or a listener fails, then shuts down.
func (a *application) run(ctx context.Context) error {
	if a.reloader != nil {
		if err := a.reloader.Start(ctx); err != nil {
			a.logger.Warn("certificate watch disabled", observability.Error(err))
		}
	}

	errCh := make(chan error, 2)
	go func() {
		if err := a.server.Start(ctx); err != nil {
			errCh <- err
		}
	}()

	if a.metricsServer != nil {
		go func() {
			a.logger.Info("starting metrics server",
				observability.String("address", a.metricsServer.Addr),
				observability.String("path", a.config.Metrics.Path),
			)
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("received shutdown signal")
	case runErr = <-errCh:
		a.logger.Error("listener failed", observability.Error(runErr))
	}

	a.shutdown()
	return runErr
}

func (a *application) shutdown() {
	timeout := a.config.Server.ShutdownTimeout.Duration()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a.health.SetDraining(true)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.server.Stop(ctx); err != nil {
			a.logger.Error("failed to stop webhook server", observability.Error(err))
		}
	}()
	if a.metricsServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.metricsServer.Shutdown(ctx); err != nil {
				a.logger.Error("failed to stop metrics server", observability.Error(err))
			}
		}()
	}
	wg.Wait()

	if a.reloader != nil {
		if err := a.reloader.Close(); err != nil {
			a.logger.Warn("failed to close certificate reloader", observability.Error(err))
		}
	}
	if err := a.tracer.Shutdown(ctx); err != nil {
		a.logger.Error("failed to shutdown tracer", observability.Error(err))
	}

	a.logger.Info("kubeauth stopped")
}

// durationValue adapts config.Duration to pflag.Value.
type durationValue struct {
	d *config.Duration
}

func (v *durationValue) String() string {
	if v.d == nil {
		return "0s"
	}
	return v.d.Duration().String()
}

func (v *durationValue) Set(s string) error {
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*v.d = config.Duration(parsed)
	return nil
}

func (v *durationValue) Type() string {
	return "duration"
}
