package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/edgegw/edgegw/internal/config"
	"github.com/edgegw/edgegw/internal/observability"
	gwtls "github.com/edgegw/edgegw/internal/tls"
)

// startListeners brings up the configured plaintext and TLS listeners.
// Both serve the same handler; only transport security differs.
func (g *Gateway) startListeners(ctx context.Context, cfg *config.Config) error {
	if cfg.Listeners.HTTP != nil {
		g.httpServer = newServer(cfg.Listeners.HTTP.Address, g)
		go g.serve(g.httpServer, "http", func() error {
			return g.httpServer.ListenAndServe()
		})
	}

	if cfg.Listeners.HTTPS != nil {
		if err := g.startTLSListener(ctx, cfg.Listeners.HTTPS); err != nil {
			return err
		}
	}

	return nil
}

// startTLSListener builds the certificate provider and TLS server.
func (g *Gateway) startTLSListener(ctx context.Context, listener *config.Listener) error {
	tlsCfg := listener.TLS
	if tlsCfg == nil {
		return fmt.Errorf("listener %s: TLS settings are required", listener.Address)
	}

	provider, err := gwtls.NewFileProvider(tlsCfg.CertFile, tlsCfg.KeyFile,
		gwtls.WithFileProviderLogger(g.logger),
		gwtls.WithFileProviderMetrics(g.metrics),
	)
	if err != nil {
		return err
	}

	if err := provider.Start(ctx); err != nil {
		_ = provider.Close()
		return err
	}

	serverTLS, err := gwtls.BuildServerConfig(tlsCfg, provider)
	if err != nil {
		_ = provider.Close()
		return err
	}

	g.tlsProvider = provider
	g.httpsServer = newServer(listener.Address, g)
	g.httpsServer.TLSConfig = serverTLS

	go g.serve(g.httpsServer, "https", func() error {
		// Certificate material comes from TLSConfig.GetCertificate.
		return g.httpsServer.ListenAndServeTLS("", "")
	})

	return nil
}

// serve runs one listener until it stops, reporting unexpected exits.
func (g *Gateway) serve(srv *http.Server, name string, listen func() error) {
	g.logger.Info("listener started",
		observability.String("listener", name),
		observability.String("addr", srv.Addr),
	)

	if err := listen(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		g.logger.Error("listener failed",
			observability.String("listener", name),
			observability.Error(err),
		)
		select {
		case g.errCh <- fmt.Errorf("%s listener: %w", name, err):
		default:
		}
	}
}

// newServer builds an http.Server with the gateway's timeouts. Write
// timeouts stay unset so long streaming responses are not cut off; slow
// header reads are still bounded.
func newServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
