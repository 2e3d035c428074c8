// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding (RFC 8949 §4.2). Sorted
// map keys and shortest integer forms mean one message value always
// serializes to one byte string, which is what makes a CRC over the
// payload usable as an acknowledgement identity.
var encMode cbor.EncMode

// decMode ignores unknown fields so that a newer daemon can add
// message fields without breaking an older server.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		// Frames are at most 64 KiB; anything nested this deep is
		// garbage from a confused peer.
		MaxNestedLevels: 16,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v deterministically.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// RawMessage is an encoded CBOR value whose decoding is deferred.
type RawMessage = cbor.RawMessage

// Diagnose renders data in CBOR diagnostic notation (RFC 8949 §8).
// Used by gyrid-cache to print spill cache records.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
