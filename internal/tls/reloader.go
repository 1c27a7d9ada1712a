package tls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vyrodovalexey/kubeauth/internal/observability"
)

// DefaultDebounceDelay collapses the burst of events a rotation produces.
const DefaultDebounceDelay = 100 * time.Millisecond

// CertReloader holds the serving certificate and reloads it from disk.
type CertReloader struct {
	certFile string
	keyFile  string
	logger   observability.Logger
	metrics  *Metrics

	certificate atomic.Pointer[tls.Certificate]

	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
	stoppedCh chan struct{}

	mu      sync.Mutex
	closed  bool
	started bool

	debounceDelay time.Duration
	onReload      func(*tls.Certificate)
}

// Option configures a CertReloader.
type Option func(*CertReloader)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(r *CertReloader) {
		r.logger = logger
	}
}

// WithMetrics records reloads in m.
func WithMetrics(m *Metrics) Option {
	return func(r *CertReloader) {
		r.metrics = m
	}
}

// WithDebounceDelay sets the delay between the last file event and the
// reload.
func WithDebounceDelay(d time.Duration) Option {
	return func(r *CertReloader) {
		r.debounceDelay = d
	}
}

// WithReloadFunc registers a callback run after every successful reload.
func WithReloadFunc(fn func(*tls.Certificate)) Option {
	return func(r *CertReloader) {
		r.onReload = fn
	}
}

// NewCertReloader loads the key pair. Invalid material is returned as an
// error.
func NewCertReloader(certFile, keyFile string, opts ...Option) (*CertReloader, error) {
	if certFile == "" || keyFile == "" {
		return nil, fmt.Errorf("%w: certificate and key paths are required", ErrCertificateNotFound)
	}

	r := &CertReloader{
		certFile:      certFile,
		keyFile:       keyFile,
		logger:        observability.NopLogger(),
		stopCh:        make(chan struct{}),
		stoppedCh:     make(chan struct{}),
		debounceDelay: DefaultDebounceDelay,
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

// Start watches the certificate files until ctx ends or Close is called.
func (r *CertReloader) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrReloaderClosed
	}
	if r.started {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	dirs := []string{filepath.Dir(r.certFile)}
	if kd := filepath.Dir(r.keyFile); kd != dirs[0] {
		dirs = append(dirs, kd)
	}
	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}

	r.watcher = watcher
	r.started = true
	go r.watchLoop(ctx)

	r.logger.Info("watching certificate files",
		observability.String("cert", r.certFile),
		observability.String("key", r.keyFile),
	)
	return nil
}

// GetCertificate implements tls.Config.GetCertificate.
func (r *CertReloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	cert := r.certificate.Load()
	if cert == nil {
		return nil, ErrCertificateNotFound
	}
	return cert, nil
}

// Certificate returns the certificate currently served.
func (r *CertReloader) Certificate() *tls.Certificate {
	return r.certificate.Load()
}

// Close stops the watcher.
func (r *CertReloader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	started := r.started
	r.mu.Unlock()

	close(r.stopCh)
	if !started {
		return nil
	}
	<-r.stoppedCh
	return r.watcher.Close()
}

func (r *CertReloader) load() error {
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return fmt.Errorf("loading key pair %s: %w", r.certFile, err)
	}
	if len(cert.Certificate) > 0 {
		if leaf, err := x509.ParseCertificate(cert.Certificate[0]); err == nil {
			cert.Leaf = leaf
			r.logger.Info("certificate loaded",
				observability.String("subject", leaf.Subject.CommonName),
				observability.String("not_after", leaf.NotAfter.UTC().Format(time.RFC3339)),
			)
			if r.metrics != nil {
				r.metrics.expiry.Set(float64(leaf.NotAfter.Unix()))
			}
		}
	}
	r.certificate.Store(&cert)
	return nil
}

func (r *CertReloader) watchLoop(ctx context.Context) {
	defer close(r.stoppedCh)

	var (
		timer      *time.Timer
		debounceCh <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return

		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if !r.relevant(event) {
				continue
			}
			r.logger.Debug("certificate file changed",
				observability.String("path", event.Name),
				observability.String("op", event.Op.String()),
			)
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(r.debounceDelay)
			debounceCh = timer.C

		case <-debounceCh:
			debounceCh = nil
			r.reload()

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("file watcher error", observability.Error(err))
		}
	}
}

// relevant reports whether event may have changed the key pair. Events on
// other names in the directory count too because secret volumes rotate
// through a ..data symlink.
func (r *CertReloader) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return false
	}
	name := filepath.Clean(event.Name)
	if name == filepath.Clean(r.certFile) || name == filepath.Clean(r.keyFile) {
		return true
	}
	return filepath.Base(name) == "..data"
}

func (r *CertReloader) reload() {
	err := r.load()
	if r.metrics != nil {
		r.metrics.recordReload(err)
	}
	if err != nil {
		r.logger.Error("certificate reload failed, keeping previous certificate", observability.Error(err))
		return
	}
	r.logger.Info("certificate reloaded")
	if r.onReload != nil {
		r.onReload(r.certificate.Load())
	}
}
