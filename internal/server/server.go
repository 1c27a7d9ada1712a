package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/kubeauth/internal/auth"
	"github.com/vyrodovalexey/kubeauth/internal/health"
	"github.com/vyrodovalexey/kubeauth/internal/observability"
)

// RunningMessage is the body of GET /.
const RunningMessage = "KubeAuth is running!"

// Route paths.
const (
	PathRoot      = "/"
	PathToken     = "/token"
	PathHealthz   = "/healthz"
	PathReadyz    = "/readyz"
	DefaultPort   = 8000
	maxHeaderSize = 1 << 20
)

// ginModeOnce ensures gin.SetMode is only called once.
var ginModeOnce sync.Once

// Reviewer decides a bearer token. auth.Pipeline implements it.
type Reviewer interface {
	Run(ctx context.Context, token string) auth.Result
}

// Config holds listener settings.
type Config struct {
	Address      string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	MaxBodyBytes int64
	// TLS enables HTTPS when set. Certificates come from its
	// GetCertificate callback.
	TLS *tls.Config
}

// Addr returns host:port.
func (c Config) Addr() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Address, strconv.Itoa(port))
}

// Server is the webhook HTTP server.
type Server struct {
	config   Config
	reviewer Reviewer
	engine   *gin.Engine
	logger   observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	health   *health.Checker

	mu         sync.Mutex
	httpServer *http.Server
	running    bool
	stopped    bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics records HTTP metrics in m.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithTracer creates a server span per request.
func WithTracer(t *observability.Tracer) Option {
	return func(s *Server) {
		s.tracer = t
	}
}

// WithHealth serves /healthz and /readyz from c.
func WithHealth(c *health.Checker) Option {
	return func(s *Server) {
		s.health = c
	}
}

// New builds the server and its routes.
func New(cfg Config, reviewer Reviewer, opts ...Option) *Server {
	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	s := &Server{
		config:   cfg,
		reviewer: reviewer,
		logger:   observability.NopLogger(),
		tracer:   observability.NopTracer(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.engine = gin.New()
	s.engine.Use(requestID(), tracing(s.tracer), accessLog(s.logger))
	if s.metrics != nil {
		s.engine.Use(httpMetrics(s.metrics))
	}
	s.engine.Use(recovery(s.logger), securityHeaders(cfg.TLS != nil))
	if cfg.MaxBodyBytes > 0 {
		s.engine.Use(bodyLimit(cfg.MaxBodyBytes))
	}

	s.engine.GET(PathRoot, s.handleRoot)
	s.engine.POST(PathToken, s.handleTokenReview)
	if s.health != nil {
		s.engine.GET(PathHealthz, gin.WrapF(s.health.HealthHandler()))
		s.engine.GET(PathReadyz, gin.WrapF(s.health.ReadinessHandler()))
	}
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens and serves until Stop is called. It returns nil after a
// graceful stop.
func (s *Server) Start(ctx context.Context) error {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", s.config.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.Addr(), err)
	}
	return s.Serve(ln)
}

// Serve serves on ln, wrapping it with TLS when configured. It returns
// nil at once if Stop was already called.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	if s.running {
		s.mu.Unlock()
		_ = ln.Close()
		return errors.New("server already running")
	}
	s.httpServer = &http.Server{
		Handler:           s.engine,
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       s.config.IdleTimeout,
		MaxHeaderBytes:    maxHeaderSize,
		TLSConfig:         s.config.TLS,
	}
	srv := s.httpServer
	s.running = true
	s.mu.Unlock()

	s.logger.Info("starting webhook server",
		observability.String("address", ln.Addr().String()),
		observability.Bool("tls", s.config.TLS != nil),
	)

	var err error
	if s.config.TLS != nil {
		err = srv.ServeTLS(ln, "", "")
	} else {
		err = srv.Serve(ln)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully. A server stopped before it
// started never serves.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("stopping webhook server")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.logger.Info("webhook server stopped")
	return nil
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
