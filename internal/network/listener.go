// Package network holds the listener setup shared by craftkeeper's servers.
package network

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"syscall"
	"time"
)

// keepAlive is the TCP keep-alive period for accepted connections.
const keepAlive = 30 * time.Second

// ListenConfig returns a net.ListenConfig that sets SO_REUSEADDR before
// binding, so a restarted process can rebind while old sockets sit in
// TIME_WAIT.
func ListenConfig() net.ListenConfig {
	return net.ListenConfig{
		KeepAlive: keepAlive,
		Control: func(network, address string, rc syscall.RawConn) error {
			var sockErr error
			if err := rc.Control(func(fd uintptr) { sockErr = setReuseAddr(fd) }); err != nil {
				return err
			}
			if sockErr != nil {
				return fmt.Errorf("SO_REUSEADDR on %s: %w", address, sockErr)
			}
			return nil
		},
	}
}

// Listen opens a TCP listener on addr using ListenConfig.
func Listen(ctx context.Context, addr string) (net.Listener, error) {
	lc := ListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return ln, nil
}

// ServerTLSConfig returns TLS 1.2+ settings restricted to ECDHE AEAD
// suites. TLS 1.3 suites are not configurable and always allowed.
func ServerTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		},
	}
}

// WrapTLS loads the key pair and wraps ln in a TLS listener. ln is closed
// when the key pair cannot be loaded.
func WrapTLS(ln net.Listener, certFile, keyFile string) (net.Listener, *tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		ln.Close()
		return nil, nil, fmt.Errorf("failed to load TLS key pair: %w", err)
	}
	cfg := ServerTLSConfig()
	cfg.Certificates = []tls.Certificate{cert}
	return tls.NewListener(ln, cfg), cfg, nil
}
