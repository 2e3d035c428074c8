// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens SQLite databases for gyrid-server's local
// stores.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool. Every connection is
// put in WAL mode with synchronous=NORMAL and a 5 second busy timeout,
// then the caller's schema is applied. [Pool.Write] runs a function in
// an IMMEDIATE transaction; [Pool.Read] just lends a connection.
// Connections are not safe for concurrent use; each goroutine takes
// its own.
package sqlitepool
