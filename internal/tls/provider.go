// Package tls provides certificate loading with hot reload and server
// TLS configuration for the HTTPS listener.
package tls

import (
	"context"
	"crypto/tls"
)

// Provider supplies the server certificate for TLS handshakes.
type Provider interface {
	// GetCertificate returns the current certificate. Called per handshake
	// via tls.Config.GetCertificate, so reloads take effect on new
	// connections without a listener restart.
	GetCertificate(ctx context.Context, hello *tls.ClientHelloInfo) (*tls.Certificate, error)

	// Start begins watching for certificate changes.
	Start(ctx context.Context) error

	// Close stops watching and releases resources.
	Close() error
}
