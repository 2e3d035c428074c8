// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"fmt"
	"hash/crc32"
)

// Checksum returns the acknowledgement digest of an encoded payload:
// the IEEE CRC-32 read as a signed 32-bit integer, made non-negative,
// printed as eight lowercase hex digits. Daemons compute the digest
// the same way, so both ends agree regardless of how their language
// sign-extends the CRC.
func Checksum(payload []byte) string {
	value := int64(int32(crc32.ChecksumIEEE(payload)))
	if value < 0 {
		value = -value
	}
	return fmt.Sprintf("%08x", value)
}
