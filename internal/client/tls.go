// ABOUTME: TLS client configuration for wss:// gateway connections
// ABOUTME: Loads an optional private CA and an optional client certificate

package client

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"github.com/maha0525/SAIVerse-sub002/internal/config"
)

// ErrTLSConfig indicates unusable TLS material in the host configuration.
var ErrTLSConfig = errors.New("invalid TLS configuration")

// LoadTLSConfig returns nil when no TLS material is configured, leaving the
// system defaults in place.
func LoadTLSConfig(g config.HostGatewayConfig) (*tls.Config, error) {
	if g.CAFile == "" && g.CertFile == "" {
		return nil, nil
	}

	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if g.CAFile != "" {
		pem, err := os.ReadFile(g.CAFile)
		if err != nil {
			return nil, fmt.Errorf("%w: reading ca_file: %v", ErrTLSConfig, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: no certificates in %s", ErrTLSConfig, g.CAFile)
		}
		cfg.RootCAs = pool
	}

	if g.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(g.CertFile, g.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("%w: loading client certificate: %v", ErrTLSConfig, err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}
