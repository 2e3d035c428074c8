// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for gyrid packages.
//
// [RequireReceive] and [Eventually] hold the wall-clock timeouts that
// keep a broken test from hanging. Everything else in the suite runs
// on clock.Fake.
//
// [NewPKI] writes a throwaway certificate authority with server and
// client certificates for mutual TLS tests.
//
// Helpers call t.Fatalf on failure rather than returning errors.
package testutil
