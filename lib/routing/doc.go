// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

// Package routing decides which consumers receive each scanner event
// and delivers it to them.
//
// [Router.ActivePlugins] resolves a hostname through the current
// [model.Snapshot] to its projects and applies the activation rules;
// [Router.Dispatch] calls each target with fault isolation. The
// [Reloader] re-reads the project source on an interval, swaps the
// snapshot and announces changed locations.
package routing
