// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

// Package hwinfo reads host facts from /proc. The server reports its
// host's boot time when an upstream server asks for uptime, the same
// way a scanner does.
package hwinfo
