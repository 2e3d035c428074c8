// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

// Package inserver forwards routed scanner events to an upstream
// InServer over a single long-lived TCP (optionally TLS) connection.
//
// Every event is re-encoded as a protocol message carrying the
// scanner's hostname and the IDs of the projects it was routed under,
// and handed to a [forward.Forwarder], which tracks it until upstream
// acknowledges it. The upstream end speaks the scanner protocol from
// the other side: it asks for our hostname and uptime and negotiates
// keepalives, and this package answers like a scanner would.
package inserver
