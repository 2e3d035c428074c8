// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the single place the CBOR configuration lives.
//
// CBOR is used for every binary format the server owns: the payload
// of each wire frame exchanged with scanners and with the remote
// InServer, the records of the forwarder spill cache, and the
// persisted routing snapshot. All of them go through [Marshal] and
// [Unmarshal] so the encoding is identical everywhere.
//
// The encoder is deterministic. The checksum used to acknowledge a
// message is computed over its encoded bytes, so two encodings of the
// same logical message must never differ.
//
// Types serialized here carry `cbor` struct tags only.
package codec
