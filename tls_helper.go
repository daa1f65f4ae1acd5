// ABOUTME: TLS configuration for the update listener.
// ABOUTME: Supports server-only TLS and mutual TLS with CA verification for admin clients.

package radd

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
)

// buildTLSConfig creates a *tls.Config from the plugin's tlsConfig.
// When a CA is provided, client certificates are requested and verified; the
// admin middleware matches their CN against allowed_cn. VerifyClientCertIfGiven
// keeps the host update path (basic auth) usable on the same listener.
func buildTLSConfig(cfg *tlsConfig) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.cert, cfg.key)
	if err != nil {
		return nil, fmt.Errorf("loading TLS keypair: %w", err)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if cfg.ca != "" {
		caPEM, err := os.ReadFile(cfg.ca)
		if err != nil {
			return nil, fmt.Errorf("reading CA file %s: %w", cfg.ca, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("CA file %s contains no valid certificates", cfg.ca)
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.VerifyClientCertIfGiven
	}

	return tlsCfg, nil
}

// tlsListener wraps a plain listener with TLS.
func tlsListener(ln net.Listener, cfg *tls.Config) net.Listener {
	return tls.NewListener(ln, cfg)
}
