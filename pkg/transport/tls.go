package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TLSConfig holds the material for securing client connections.
type TLSConfig struct {
	// Certificate is an optional client certificate for mutual TLS.
	Certificate *tls.Certificate

	// RootCAs is the pool of trusted CA certificates.
	// If nil, the system pool is used.
	RootCAs *x509.CertPool

	// ServerName overrides the name used for certificate verification.
	ServerName string

	// InsecureSkipVerify disables certificate verification.
	// Only for testing - never use in production!
	InsecureSkipVerify bool
}

// NewClientTLSConfig builds a crypto/tls client configuration.
func NewClientTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("TLSConfig is required")
	}

	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		RootCAs:            cfg.RootCAs,
		ServerName:         cfg.ServerName,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
	if cfg.Certificate != nil {
		tlsConfig.Certificates = []tls.Certificate{*cfg.Certificate}
	}
	return tlsConfig, nil
}

// LoadTLSConfig reads PEM files from disk. Empty paths are skipped; certFile
// and keyFile must be given together.
func LoadTLSConfig(caFile, certFile, keyFile string, insecure bool) (*TLSConfig, error) {
	cfg := &TLSConfig{InsecureSkipVerify: insecure}

	if caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", caFile)
		}
		cfg.RootCAs = pool
	}

	if certFile != "" || keyFile != "" {
		if certFile == "" || keyFile == "" {
			return nil, fmt.Errorf("both cert and key file are required for client certificates")
		}
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		cfg.Certificate = &cert
	}

	return cfg, nil
}
