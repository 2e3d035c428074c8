// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

// Package forward implements acknowledged, restart-safe delivery of
// protocol messages over an unreliable link.
//
// Every message sent while the link is up is tracked in an [AckMap]
// until the remote end acknowledges its checksum. A periodic check
// resends messages whose acknowledgement is overdue, marked Cached,
// and drops a message once it has gone unacknowledged for
// MaxMisses*OverflowFactor checks. While the link is down messages go
// to a [Spill] file instead, together with whatever was in flight when
// the link dropped; after reconnecting the file is drained from the
// end in batches of ReplayBatch, the next batch being read when the
// current one is nearly acknowledged.
package forward
