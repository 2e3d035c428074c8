// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts the time source so that keepalive timeouts,
// acknowledgement retry checks and reload intervals can be tested
// without sleeping.
//
// Production code receives [Real]. Tests construct a [FakeClock] with
// [Fake], start the goroutine under test, call
// [FakeClock.WaitForTimers] until its ticker is registered, and then
// [FakeClock.Advance] past the deadline they want to exercise.
package clock
