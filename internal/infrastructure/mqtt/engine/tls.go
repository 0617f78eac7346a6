package engine

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"

	"github.com/nerrad567/mqttlink/internal/infrastructure/mqtt"
)

// newTLSConfig builds the client TLS configuration. It returns nil for
// insecure transports.
//
// TLS 1.2 is the minimum version. Without a CA certificate the system
// roots are used.
func newTLSConfig(cfg mqtt.EngineConfig, host string, secure bool) (*tls.Config, error) {
	if !secure {
		return nil, nil //nolint:nilnil // no TLS for plain transports
	}

	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         host,
		InsecureSkipVerify: cfg.Insecure, //nolint:gosec // explicit opt-in for test brokers
	}

	if len(cfg.CACert) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(cfg.CACert) {
			return nil, ErrInvalidCACert
		}
		tlsCfg.RootCAs = pool
	}

	hasCert, hasKey := len(cfg.ClientCert) > 0, len(cfg.ClientKey) > 0
	switch {
	case hasCert && hasKey:
		pair, err := tls.X509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidClientCert, err)
		}
		tlsCfg.Certificates = []tls.Certificate{pair}
	case hasCert || hasKey:
		return nil, fmt.Errorf("%w: certificate and key must both be set", ErrInvalidClientCert)
	}

	return tlsCfg, nil
}
