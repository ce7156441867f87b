package run

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/segmentmapper/segmentmapper/internal/config"
	"github.com/segmentmapper/segmentmapper/pkg/logger"
	queuememory "github.com/segmentmapper/segmentmapper/pkg/queue/memory"
)

// writeSelfSignedCert writes a PEM encoded certificate for 127.0.0.1 and its key to a temporary
// directory and returns both paths.
func writeSelfSignedCert(t *testing.T) (string, string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(2025),
		Subject:      pkix.Name{Organization: []string{"segmentmapper"}},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1)},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	dir := t.TempDir()
	certPath := filepath.Join(dir, "server.crt")
	keyPath := filepath.Join(dir, "server.key")
	require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certPath, keyPath
}

func TestRunServesStatusAPIOverTLS(t *testing.T) {
	certPath, keyPath := writeSelfSignedCert(t)

	cfg := config.MustDefaultConfigWithRandomPorts()
	cfg.Metrics.Enabled = false
	cfg.HTTP.TLS = &config.TLSConfig{Enabled: true, CertPath: certPath, KeyPath: keyPath}

	s := &WorkerContext{Logger: logger.NewNoopLogger(), Receiver: queuememory.New(), Completed: queuememory.New()}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, cfg)
	}()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	client := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
		},
	}

	require.Eventually(t, func() bool {
		resp, err := client.Get("https://" + cfg.HTTP.Addr + "/healthz")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK && resp.TLS != nil
	}, 5*time.Second, 20*time.Millisecond)
}

func TestRunFailsOnMissingCertificate(t *testing.T) {
	cfg := config.MustDefaultConfigWithRandomPorts()
	cfg.Metrics.Enabled = false
	cfg.HTTP.TLS = &config.TLSConfig{
		Enabled:  true,
		CertPath: filepath.Join(t.TempDir(), "missing.crt"),
		KeyPath:  filepath.Join(t.TempDir(), "missing.key"),
	}

	s := &WorkerContext{Logger: logger.NewNoopLogger(), Receiver: queuememory.New(), Completed: queuememory.New()}
	require.ErrorContains(t, s.Run(context.Background(), cfg), "status API")
}
