// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"net"
)

// Handler serves one accepted connection. ServeConn owns conn: it
// must close it before returning, and should return promptly once ctx
// is cancelled.
type Handler interface {
	ServeConn(ctx context.Context, conn net.Conn)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, conn net.Conn)

func (f HandlerFunc) ServeConn(ctx context.Context, conn net.Conn) { f(ctx, conn) }

// Listener accepts inbound connections from scanners.
type Listener interface {
	// Serve accepts connections and runs handler on each in its own
	// goroutine. Blocks until ctx is cancelled or Close is called,
	// then waits for running handlers to return. Returns nil on clean
	// shutdown.
	Serve(ctx context.Context, handler Handler) error

	// Address returns the bound address in "host:port" form.
	Address() string

	// Close stops accepting connections.
	Close() error
}

// Dialer opens connections to upstream servers.
type Dialer interface {
	DialContext(ctx context.Context, address string) (net.Conn, error)
}
