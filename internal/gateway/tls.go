// ABOUTME: TLS configuration for the gateway listener
// ABOUTME: Loads the server certificate and optional client CA for mutual TLS

package gateway

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"github.com/maha0525/SAIVerse-sub002/internal/config"
)

// ErrTLSConfig is returned when TLS is enabled but its material is unusable.
var ErrTLSConfig = errors.New("invalid tls configuration")

// buildTLSConfig returns nil when TLS is disabled.
func buildTLSConfig(cfg config.TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, fmt.Errorf("%w: cert_file and key_file are required", ErrTLSConfig)
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("%w: loading key pair: %v", ErrTLSConfig, err)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	switch cfg.ClientAuth {
	case "", config.ClientAuthNone:
		tlsCfg.ClientAuth = tls.NoClientCert
		return tlsCfg, nil
	case config.ClientAuthOptional:
		tlsCfg.ClientAuth = tls.VerifyClientCertIfGiven
	case config.ClientAuthRequired:
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	default:
		return nil, fmt.Errorf("%w: unknown client_auth %q", ErrTLSConfig, cfg.ClientAuth)
	}

	if cfg.CAFile == "" {
		return nil, fmt.Errorf("%w: ca_file is required when client_auth is %s", ErrTLSConfig, cfg.ClientAuth)
	}
	pem, err := os.ReadFile(cfg.CAFile)
	if err != nil {
		return nil, fmt.Errorf("%w: reading ca_file: %v", ErrTLSConfig, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("%w: ca_file contains no certificates", ErrTLSConfig)
	}
	tlsCfg.ClientCAs = pool

	return tlsCfg, nil
}
