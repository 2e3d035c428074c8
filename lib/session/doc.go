// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

// Package session implements the server side of a scanner connection.
//
// A [Session] sends the opening requests (hostname, uptime, state,
// caching, keepalive, an immediate keepalive, start data) and then
// reads frames until the connection ends. Until the scanner reports
// its hostname, everything it sends is buffered; on identification
// ConnectionMade is dispatched and the buffer is replayed in order.
// Messages that request acknowledgement are acknowledged as they
// arrive, buffered or not.
//
// Liveness: once the scanner confirms the keepalive request, a probe
// is sent every interval and the connection is dropped at the first
// tick that finds the scanner silent for longer than interval times
// the timeout factor.
//
// [Server] adapts sessions to transport.Listener.
package session
