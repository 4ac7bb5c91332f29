package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

// Dialer opens byte-stream connections to server endpoints.
// Tests substitute their own implementation to inject failures.
type Dialer interface {
	Dial(ctx context.Context, address string) (net.Conn, error)
}

// TCPDialer dials plain TCP connections.
type TCPDialer struct {
	// KeepAlive is the TCP keep-alive period. Zero uses the OS default.
	KeepAlive time.Duration
}

// Dial connects to address ("host:port").
func (d *TCPDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	dialer := &net.Dialer{KeepAlive: d.KeepAlive}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	return conn, nil
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, address string) (net.Conn, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, address string) (net.Conn, error) {
	return f(ctx, address)
}

// UpgradeTLS performs a client TLS handshake over an established connection.
// The server name defaults to the host part of address when the config sets
// none.
func UpgradeTLS(ctx context.Context, conn net.Conn, config *tls.Config, address string) (*tls.Conn, error) {
	cfg := config
	if cfg == nil {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.ServerName == "" && !cfg.InsecureSkipVerify {
		cfg = cfg.Clone()
		if host, _, err := net.SplitHostPort(address); err == nil {
			cfg.ServerName = host
		}
	}

	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, fmt.Errorf("TLS handshake failed: %w", err)
	}
	return tlsConn, nil
}
