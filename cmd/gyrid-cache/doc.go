// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

// Gyrid-cache inspects the disk spill cache of a forwarding link.
//
//	gyrid-cache count <file>
//	gyrid-cache dump [--limit N] <file>
//
// count prints the number of messages waiting in the cache. dump
// prints them newest first, in the order they would be replayed, each
// as its type, acknowledgement checksum and CBOR diagnostic notation.
// The cache is only read; run it against a stopped server or a copy.
package main
