// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

// Package archive is the consumer that keeps a local SQLite record of
// everything scanners report: connections, sensor state changes,
// detections (with the original detection CBOR kept as an lz4 block)
// and info/uptime lines.
package archive
