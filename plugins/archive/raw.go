// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"fmt"

	"github.com/pierrec/lz4/v4"

	"github.com/Roel/Gyrid-server-sub000/lib/codec"
)

// packRaw encodes a detection as CBOR and compresses it as an lz4
// block. Small or incompressible payloads are stored as-is; a stored
// blob whose length equals size is uncompressed.
func packRaw(raw any) (size int, blob []byte, err error) {
	encoded, err := codec.Marshal(raw)
	if err != nil {
		return 0, nil, fmt.Errorf("encoding raw detection: %w", err)
	}
	destination := make([]byte, lz4.CompressBlockBound(len(encoded)))
	written, err := lz4.CompressBlock(encoded, destination, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if written == 0 || written >= len(encoded) {
		return len(encoded), encoded, nil
	}
	return len(encoded), destination[:written], nil
}

// unpackRaw reverses packRaw, returning the CBOR encoding.
func unpackRaw(size int, blob []byte) ([]byte, error) {
	if len(blob) == size {
		return blob, nil
	}
	destination := make([]byte, size)
	read, err := lz4.UncompressBlock(blob, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != size {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
	}
	return destination, nil
}
