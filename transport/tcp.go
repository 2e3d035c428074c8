// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Compile-time interface checks.
var (
	_ Listener = (*TCPListener)(nil)
	_ Dialer   = (*TCPDialer)(nil)
)

// handshakeTimeout bounds the TLS handshake of an accepted connection.
const handshakeTimeout = 15 * time.Second

// keepAlivePeriod is the TCP-level keepalive on accepted and dialed
// sockets. Protocol-level liveness is handled by the session.
const keepAlivePeriod = 30 * time.Second

// TCPListener accepts scanner connections over TCP, optionally
// wrapped in TLS. With TLS the handshake is completed before the
// handler runs, so a peer that fails certificate verification is
// dropped without affecting other connections.
type TCPListener struct {
	listener  net.Listener
	tlsConfig *tls.Config
	logger    *slog.Logger

	activeConnections sync.WaitGroup
}

// NewTCPListener listens on address (e.g. ":2583"; ":0" picks a free
// port). tlsConfig may be nil for plain TCP.
func NewTCPListener(address string, tlsConfig *tls.Config, logger *slog.Logger) (*TCPListener, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	listenConfig := net.ListenConfig{KeepAlive: keepAlivePeriod}
	listener, err := listenConfig.Listen(context.Background(), "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", address, err)
	}
	return &TCPListener{listener: listener, tlsConfig: tlsConfig, logger: logger}, nil
}

// Serve implements Listener.
func (l *TCPListener) Serve(ctx context.Context, handler Handler) error {
	// Unblock Accept when the context is cancelled.
	stop := context.AfterFunc(ctx, func() { l.listener.Close() })
	defer stop()

	l.logger.Info("listening for scanners", "address", l.Address(), "tls", l.tlsConfig != nil)

	var acceptErr error
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				l.logger.Warn("accept failed", "error", err)
				continue
			}
			acceptErr = fmt.Errorf("accepting connection: %w", err)
			break
		}

		l.activeConnections.Add(1)
		go func() {
			defer l.activeConnections.Done()
			l.serveConn(ctx, conn, handler)
		}()
	}

	l.activeConnections.Wait()
	return acceptErr
}

func (l *TCPListener) serveConn(ctx context.Context, conn net.Conn, handler Handler) {
	if l.tlsConfig == nil {
		handler.ServeConn(ctx, conn)
		return
	}

	tlsConn := tls.Server(conn, l.tlsConfig)
	handshakeCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	err := tlsConn.HandshakeContext(handshakeCtx)
	cancel()
	if err != nil {
		l.logger.Warn("tls handshake failed", "remote", conn.RemoteAddr().String(), "error", err)
		tlsConn.Close()
		return
	}
	handler.ServeConn(ctx, tlsConn)
}

// Address returns the TCP address in "host:port" format.
func (l *TCPListener) Address() string {
	return l.listener.Addr().String()
}

// Close shuts down the TCP listener.
func (l *TCPListener) Close() error {
	return l.listener.Close()
}

// TCPDialer opens TCP connections to upstream servers, wrapped in TLS
// when TLSConfig is set.
type TCPDialer struct {
	// Timeout is the maximum time to wait for a connection (and TLS
	// handshake) to complete. Zero means only the context deadline
	// applies.
	Timeout time.Duration

	// TLSConfig enables TLS when non-nil.
	TLSConfig *tls.Config
}

// DialContext opens a connection to address (host:port).
func (d *TCPDialer) DialContext(ctx context.Context, address string) (net.Conn, error) {
	netDialer := &net.Dialer{Timeout: d.Timeout, KeepAlive: keepAlivePeriod}
	if d.TLSConfig == nil {
		return netDialer.DialContext(ctx, "tcp", address)
	}
	tlsDialer := &tls.Dialer{NetDialer: netDialer, Config: d.TLSConfig}
	return tlsDialer.DialContext(ctx, "tcp", address)
}
