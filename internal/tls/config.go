package tls

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/edgegw/edgegw/internal/config"
)

// MinVersion maps a configured version string to the crypto/tls constant.
// The zero value defaults to TLS 1.2; handshakes below the minimum are
// rejected during negotiation.
func MinVersion(version string) (uint16, error) {
	switch version {
	case "", "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrTLSVersionInvalid, version)
	}
}

// BuildServerConfig builds the tls.Config for the HTTPS listener, wiring
// certificate lookups through the provider so hot reloads apply to new
// handshakes.
func BuildServerConfig(cfg *config.TLS, provider Provider) (*tls.Config, error) {
	minVersion, err := MinVersion(cfg.MinVersion)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		MinVersion: minVersion,
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			return provider.GetCertificate(context.Background(), hello)
		},
	}, nil
}
