package gateway

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/edgegw/edgegw/internal/config"
)

// writeCertPair writes a self-signed certificate and key with the given
// common name into dir.
func writeCertPair(t *testing.T, dir, commonName string) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile,
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyFile,
		pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certFile, keyFile
}

func certCommonName(t *testing.T, der [][]byte) string {
	t.Helper()

	require.NotEmpty(t, der)
	leaf, err := x509.ParseCertificate(der[0])
	require.NoError(t, err)
	return leaf.Subject.CommonName
}

func TestGateway_TLSListenerReloadsCertificates(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()

	dir := t.TempDir()
	certFile, keyFile := writeCertPair(t, dir, "old.example.com")

	cfg := gatewayConfig(t, "/api", backendAddr(upstream))
	cfg.Listeners.HTTPS = &config.Listener{
		Address: "127.0.0.1:0",
		TLS: &config.TLS{
			CertFile: certFile,
			KeyFile:  keyFile,
		},
	}
	require.NoError(t, config.ValidateConfig(cfg))

	gw := startGateway(t, cfg)

	// No reload setting exists: watching is on whenever TLS is configured.
	writeCertPair(t, dir, "new.example.com")

	require.Eventually(t, func() bool {
		cert, err := gw.tlsProvider.GetCertificate(context.Background(), nil)
		if err != nil {
			return false
		}
		return certCommonName(t, cert.Certificate) == "new.example.com"
	}, 3*time.Second, 20*time.Millisecond)
}
