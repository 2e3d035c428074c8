// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import "time"

// Constructors for the messages the server sends to a daemon. The
// handshake sequence in lib/session is built from these.

func NewRequestHostname() *Message {
	return &Message{Type: TypeRequestHostname}
}

func NewRequestUptime() *Message {
	return &Message{Type: TypeRequestUptime}
}

// NewRequestState enables state reporting for scanning, bluetooth
// inquiries, the wifi frequency loop and antenna rotation.
func NewRequestState() *Message {
	return &Message{Type: TypeRequestState, RequestState: &RequestState{
		EnableScanning:      true,
		EnableInquiry:       true,
		EnableFrequencyLoop: true,
		EnableAntenna:       true,
	}}
}

// NewRequestCaching asks the daemon to cache data while disconnected
// and to push the cache once connected.
func NewRequestCaching() *Message {
	return &Message{Type: TypeRequestCaching, RequestCaching: &RequestCaching{Enable: true, Push: true}}
}

// NewRequestKeepalive asks the peer to send a keepalive every
// interval. Intervals are carried in whole seconds, at least one.
func NewRequestKeepalive(interval time.Duration) *Message {
	seconds := uint32(interval / time.Second)
	if seconds == 0 {
		seconds = 1
	}
	return &Message{Type: TypeRequestKeepalive, RequestKeepalive: &RequestKeepalive{Interval: seconds, Enable: true}}
}

func NewKeepalive() *Message {
	return &Message{Type: TypeKeepalive}
}

// NewRequestStartData enables the raw bluetooth and wifi device
// streams.
func NewRequestStartData() *Message {
	return &Message{Type: TypeRequestStartData, RequestStartData: &RequestStartData{
		EnableBluetoothRaw: true,
		EnableWifiDevRaw:   true,
		EnableSensorMac:    true,
	}}
}

// NewAck acknowledges the message whose AckChecksum is checksum.
func NewAck(checksum string) *Message {
	return &Message{Type: TypeAck, Ack: checksum}
}
