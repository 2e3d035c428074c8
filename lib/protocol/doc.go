// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol defines the wire protocol spoken between Gyrid
// daemons, this server and the upstream InServer.
//
// A connection carries a sequence of frames. Each frame is a 2-byte
// big-endian length followed by that many payload bytes:
//
//	+--------+--------+---------------------+
//	| len hi | len lo | payload (len bytes) |
//	+--------+--------+---------------------+
//
// The payload is one CBOR-encoded [Message] (see lib/codec). A
// message's [Type] selects which of its sub-structures is populated.
//
// Acknowledgements: a sender that needs delivery confirmation sets
// Success to false. The receiver answers with a [TypeAck] message
// whose Ack field is the [PayloadAckChecksum] of the bytes it
// received. The checksum is [Checksum] over the deterministic encoding
// with the Cached flag cleared, so resends are acknowledged under the
// same identity as the first attempt. Senders compute the same value
// from their own Message with [AckChecksum].
package protocol
