// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

// Package plugin defines the [Consumer] interface through which
// routed scanner events reach the server's plugins, and the
// [Registry] holding the consumers of one server.
//
// Consumers are registered explicitly at startup. A registered
// consumer is either global (it sees every scanner) or project-scoped
// (it sees a scanner only while one of the scanner's projects is
// active and does not disable it). lib/routing makes that decision per
// event.
package plugin
