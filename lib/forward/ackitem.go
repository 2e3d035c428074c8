// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package forward

import (
	"fmt"

	"github.com/Roel/Gyrid-server-sub000/lib/protocol"
)

// AckItem is one message in flight on a link.
type AckItem struct {
	// Checksum is the acknowledgement identity of the message.
	Checksum string

	// Payload is the encoded message as first sent, with Success
	// false and Cached as the caller set it. Flushed to the spill
	// cache when the item is abandoned.
	Payload []byte

	// Timer counts checker passes since the item was last sent.
	Timer int

	message *protocol.Message
	resend  []byte
}

// NewAckItem prepares message for acknowledged delivery. The message
// is copied; Success is set to false so the receiver acknowledges it.
func NewAckItem(message *protocol.Message) (*AckItem, error) {
	copied := *message
	copied.Success = protocol.Bool(false)
	copied.Ack = ""

	payload, err := copied.Encode()
	if err != nil {
		return nil, err
	}
	checksum, err := protocol.AckChecksum(&copied)
	if err != nil {
		return nil, err
	}
	return &AckItem{Checksum: checksum, Payload: payload, message: &copied}, nil
}

// ResendPayload is the payload used for retries: the same message
// marked Cached. Encoded once and reused.
func (i *AckItem) ResendPayload() ([]byte, error) {
	if i.resend != nil {
		return i.resend, nil
	}
	if i.message.Cached {
		i.resend = i.Payload
		return i.resend, nil
	}
	cached := *i.message
	cached.Cached = true
	payload, err := cached.Encode()
	if err != nil {
		return nil, fmt.Errorf("encoding resend of %s: %w", i.Checksum, err)
	}
	i.resend = payload
	return payload, nil
}

// tick advances the timer by one check and reports what to do with
// the item: resend it, drop it, or neither.
func (i *AckItem) tick(maxMisses, overflowFactor int) (resend, drop bool) {
	i.Timer++
	if i.Timer > overflowFactor*maxMisses {
		return false, true
	}
	return i.Timer < 0 || i.Timer%maxMisses == 0, false
}
