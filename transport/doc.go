// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport carries gyrid connections over TCP, optionally
// with mutual TLS.
//
// [TCPListener] accepts scanner connections and hands each one to a
// [Handler] on its own goroutine. When TLS is configured the listener
// completes the handshake (including client certificate verification)
// before the handler sees the connection; a failed handshake closes
// that connection only.
//
// [TCPDialer] is the client side, used by forwarding plugins to reach
// an upstream server.
//
// Framing is not this package's concern: see lib/protocol.
package transport
