// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

// Gyrid-server accepts connections from Gyrid scanners, routes their
// detections and state changes to the configured consumers according
// to the project/location source, and forwards them upstream.
//
// Usage:
//
//	gyrid-server --config /etc/gyrid/server.yaml [--log-level debug]
//
// The config file can also be named by the GYRID_CONFIG environment
// variable. SIGINT and SIGTERM shut the server down; in-flight
// forwarded messages are spilled to disk first.
package main
