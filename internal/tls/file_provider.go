package tls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/edgegw/edgegw/internal/observability"
)

// FileProvider loads the server certificate from PEM files and hot-reloads
// it when the files change. A reload that fails to parse keeps serving the
// previously loaded certificate.
type FileProvider struct {
	certFile string
	keyFile  string
	logger   observability.Logger
	metrics  *observability.Metrics

	certificate atomic.Pointer[tls.Certificate]

	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
	stoppedCh chan struct{}

	mu      sync.Mutex
	closed  bool
	started bool

	debounceDelay time.Duration
}

// FileProviderOption is a functional option for configuring FileProvider.
type FileProviderOption func(*FileProvider)

// WithFileProviderLogger sets the logger for the file provider.
func WithFileProviderLogger(logger observability.Logger) FileProviderOption {
	return func(p *FileProvider) {
		p.logger = logger
	}
}

// WithFileProviderMetrics sets the metrics sink for reload counts.
func WithFileProviderMetrics(metrics *observability.Metrics) FileProviderOption {
	return func(p *FileProvider) {
		p.metrics = metrics
	}
}

// WithDebounceDelay sets the debounce delay for file change events.
func WithDebounceDelay(delay time.Duration) FileProviderOption {
	return func(p *FileProvider) {
		p.debounceDelay = delay
	}
}

// NewFileProvider creates a provider and loads the initial certificate.
// Invalid initial material is a hard error so the listener never starts
// without a usable certificate.
func NewFileProvider(certFile, keyFile string, opts ...FileProviderOption) (*FileProvider, error) {
	p := &FileProvider{
		certFile:      certFile,
		keyFile:       keyFile,
		logger:        observability.NopLogger(),
		stopCh:        make(chan struct{}),
		stoppedCh:     make(chan struct{}),
		debounceDelay: 100 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(p)
	}

	if err := p.loadCertificate(); err != nil {
		return nil, err
	}

	return p, nil
}

// Start begins watching the certificate files for changes.
func (p *FileProvider) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	p.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return NewCertificateError(p.certFile, "creating file watcher", err)
	}
	p.watcher = watcher

	// Watch the directories, not the files. Renames during atomic
	// replacement (certbot, kubelet secret mounts) would drop a
	// file-level watch.
	certDir := filepath.Dir(p.certFile)
	if err := watcher.Add(certDir); err != nil {
		_ = watcher.Close()
		return NewCertificateError(p.certFile, "watching certificate directory", err)
	}

	if keyDir := filepath.Dir(p.keyFile); keyDir != certDir {
		if err := watcher.Add(keyDir); err != nil {
			_ = watcher.Close()
			return NewCertificateError(p.keyFile, "watching key directory", err)
		}
	}

	p.logger.Info("watching certificate files",
		observability.String("certFile", p.certFile),
		observability.String("keyFile", p.keyFile),
	)

	go p.watchLoop(ctx)

	return nil
}

// GetCertificate implements Provider.
func (p *FileProvider) GetCertificate(_ context.Context, _ *tls.ClientHelloInfo) (*tls.Certificate, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrProviderClosed
	}
	p.mu.Unlock()

	cert := p.certificate.Load()
	if cert == nil {
		return nil, ErrCertificateNotFound
	}

	return cert, nil
}

// Close implements Provider.
func (p *FileProvider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	started := p.started
	p.mu.Unlock()

	close(p.stopCh)

	if started {
		<-p.stoppedCh
	}

	if p.watcher != nil {
		return p.watcher.Close()
	}

	return nil
}

// loadCertificate loads and stores the key pair.
func (p *FileProvider) loadCertificate() error {
	cert, err := tls.LoadX509KeyPair(p.certFile, p.keyFile)
	if err != nil {
		return NewCertificateError(p.certFile, "loading certificate", err)
	}

	if len(cert.Certificate) > 0 {
		if leaf, err := x509.ParseCertificate(cert.Certificate[0]); err == nil {
			cert.Leaf = leaf
			p.logger.Info("certificate loaded",
				observability.String("subject", leaf.Subject.CommonName),
				observability.Time("notBefore", leaf.NotBefore),
				observability.Time("notAfter", leaf.NotAfter),
			)
		}
	}

	p.certificate.Store(&cert)
	return nil
}

// watchLoop handles file change events with debouncing, since atomic file
// replacement produces several events in quick succession.
func (p *FileProvider) watchLoop(ctx context.Context) {
	defer close(p.stoppedCh)

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case <-p.stopCh:
			return

		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if !p.relevant(event) {
				continue
			}
			p.logger.Debug("certificate file changed",
				observability.String("path", event.Name),
				observability.String("op", event.Op.String()),
			)
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(p.debounceDelay)
			debounceCh = debounceTimer.C

		case <-debounceCh:
			debounceCh = nil
			p.reload()

		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("certificate watcher error", observability.Error(err))
		}
	}
}

// relevant reports whether the event touches one of the watched files.
func (p *FileProvider) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	cleanPath := filepath.Clean(event.Name)
	return cleanPath == filepath.Clean(p.certFile) || cleanPath == filepath.Clean(p.keyFile)
}

// reload swaps in the new certificate. Connections already established
// keep their handshake; new handshakes pick up the new certificate.
func (p *FileProvider) reload() {
	if err := p.loadCertificate(); err != nil {
		p.logger.Error("certificate reload failed, keeping previous certificate",
			observability.Error(err),
		)
		return
	}

	if p.metrics != nil {
		p.metrics.TLSReloadsTotal.Inc()
	}

	p.logger.Info("certificate reloaded")
}
