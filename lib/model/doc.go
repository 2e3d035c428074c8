// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

// Package model holds the project and location data that decides
// which plugins see a scanner's events.
//
// A [Project] groups scanner [Location]s and is active while its
// Active flag is set and the current time falls within its optional
// [Start, End) window. A Location is keyed by scanner hostname and
// lists the scanner's [Sensor] radios.
//
// The data comes from a JSONC file (see [Parse]) and is held in an
// immutable [Snapshot]. Reloading builds a new snapshot; an invalid
// file is rejected as a whole ([ErrInvalidWindow] and friends, joined)
// so the previous snapshot stays in effect. [WriteState] persists the
// last accepted snapshot so the server can start when the source is
// unreadable.
package model
