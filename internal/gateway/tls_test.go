// ABOUTME: Tests for TLS listener configuration
// ABOUTME: Generates a throwaway self-signed certificate in a temp dir

package gateway

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maha0525/SAIVerse-sub002/internal/config"
)

// writeSelfSigned writes cert.pem and key.pem into dir and returns their paths.
func writeSelfSigned(t *testing.T, dir string) (certPath, keyPath string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "saiverse-test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certPath = filepath.Join(dir, "cert.pem")
	keyPath = filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0600))
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0600))
	return certPath, keyPath
}

func TestBuildTLSConfig_Disabled(t *testing.T) {
	cfg, err := buildTLSConfig(config.TLSConfig{Enabled: false, CertFile: "/missing"})
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestBuildTLSConfig_ServerOnly(t *testing.T) {
	certPath, keyPath := writeSelfSigned(t, t.TempDir())

	cfg, err := buildTLSConfig(config.TLSConfig{Enabled: true, CertFile: certPath, KeyFile: keyPath, ClientAuth: config.ClientAuthNone})
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Len(t, cfg.Certificates, 1)
	assert.Equal(t, tls.NoClientCert, cfg.ClientAuth)
}

func TestBuildTLSConfig_MutualTLS(t *testing.T) {
	certPath, keyPath := writeSelfSigned(t, t.TempDir())

	cfg, err := buildTLSConfig(config.TLSConfig{
		Enabled: true, CertFile: certPath, KeyFile: keyPath, CAFile: certPath, ClientAuth: config.ClientAuthRequired,
	})
	require.NoError(t, err)
	assert.Equal(t, tls.RequireAndVerifyClientCert, cfg.ClientAuth)
	assert.NotNil(t, cfg.ClientCAs)

	cfg, err = buildTLSConfig(config.TLSConfig{
		Enabled: true, CertFile: certPath, KeyFile: keyPath, CAFile: certPath, ClientAuth: config.ClientAuthOptional,
	})
	require.NoError(t, err)
	assert.Equal(t, tls.VerifyClientCertIfGiven, cfg.ClientAuth)
}

func TestBuildTLSConfig_Errors(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeSelfSigned(t, dir)
	junk := filepath.Join(dir, "junk.pem")
	require.NoError(t, os.WriteFile(junk, []byte("not a cert"), 0600))

	tests := []struct {
		name string
		cfg  config.TLSConfig
	}{
		{name: "missing key path", cfg: config.TLSConfig{Enabled: true, CertFile: certPath}},
		{name: "missing files", cfg: config.TLSConfig{Enabled: true, CertFile: filepath.Join(dir, "nope.pem"), KeyFile: keyPath}},
		{name: "client auth without ca", cfg: config.TLSConfig{Enabled: true, CertFile: certPath, KeyFile: keyPath, ClientAuth: config.ClientAuthRequired}},
		{name: "ca file missing", cfg: config.TLSConfig{Enabled: true, CertFile: certPath, KeyFile: keyPath, ClientAuth: config.ClientAuthOptional, CAFile: filepath.Join(dir, "ca.pem")}},
		{name: "ca file without certs", cfg: config.TLSConfig{Enabled: true, CertFile: certPath, KeyFile: keyPath, ClientAuth: config.ClientAuthOptional, CAFile: junk}},
		{name: "unknown mode", cfg: config.TLSConfig{Enabled: true, CertFile: certPath, KeyFile: keyPath, ClientAuth: "sometimes"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildTLSConfig(tt.cfg)
			assert.ErrorIs(t, err, ErrTLSConfig)
		})
	}
}
