// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Roel/Gyrid-server-sub000/lib/codec"
)

// Type tags the payload carried by a Message.
type Type uint8

const (
	TypeAck Type = iota + 1
	TypeHostname
	TypeUptime
	TypeKeepalive
	TypeInfo
	TypeRequestHostname
	TypeRequestUptime
	TypeRequestState
	TypeRequestCaching
	TypeRequestKeepalive
	TypeRequestStartData
	TypeStateScanning
	TypeStateGyrid
	TypeStateBluetoothInquiry
	TypeStateWifiFrequency
	TypeStateWifiFrequencyLoop
	TypeBluetoothDataRaw
	TypeWifiDataRaw
	TypeWifiDevRaw
	TypeLocation
	TypeConnection
)

var typeNames = map[Type]string{
	TypeAck:                    "ack",
	TypeHostname:               "hostname",
	TypeUptime:                 "uptime",
	TypeKeepalive:              "keepalive",
	TypeInfo:                   "info",
	TypeRequestHostname:        "request_hostname",
	TypeRequestUptime:          "request_uptime",
	TypeRequestState:           "request_state",
	TypeRequestCaching:         "request_caching",
	TypeRequestKeepalive:       "request_keepalive",
	TypeRequestStartData:       "request_startdata",
	TypeStateScanning:          "state_scanning",
	TypeStateGyrid:             "state_gyrid",
	TypeStateBluetoothInquiry:  "state_inquiry",
	TypeStateWifiFrequency:     "state_frequency",
	TypeStateWifiFrequencyLoop: "state_frequencyloop",
	TypeBluetoothDataRaw:       "bluetooth_dataraw",
	TypeWifiDataRaw:            "wifi_dataraw",
	TypeWifiDevRaw:             "wifi_devraw",
	TypeLocation:               "location",
	TypeConnection:             "connection",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(t))
}

// Valid reports whether t is a known message type.
func (t Type) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// Message is one decoded frame payload. Exactly one of the typed
// sub-structures is normally set, matching Type.
//
// Success set to false asks the receiver to acknowledge the message.
// Cached marks a message that is being delivered again, either from
// the daemon's own cache or from a forwarder resend.
type Message struct {
	Type    Type   `cbor:"type"`
	Success *bool  `cbor:"success,omitempty"`
	Cached  bool   `cbor:"cached,omitempty"`
	Ack     string `cbor:"ack,omitempty"`

	Hostname string   `cbor:"hostname,omitempty"`
	Projects []string `cbor:"projects,omitempty"`

	Uptime                 *Uptime                 `cbor:"uptime,omitempty"`
	Info                   *Info                   `cbor:"info,omitempty"`
	RequestKeepalive       *RequestKeepalive       `cbor:"request_keepalive,omitempty"`
	RequestState           *RequestState           `cbor:"request_state,omitempty"`
	RequestCaching         *RequestCaching         `cbor:"request_caching,omitempty"`
	RequestStartData       *RequestStartData       `cbor:"request_startdata,omitempty"`
	StateScanning          *StateScanning          `cbor:"state_scanning,omitempty"`
	StateGyrid             *StateGyrid             `cbor:"state_gyrid,omitempty"`
	StateBluetoothInquiry  *StateBluetoothInquiry  `cbor:"state_inquiry,omitempty"`
	StateWifiFrequency     *StateWifiFrequency     `cbor:"state_frequency,omitempty"`
	StateWifiFrequencyLoop *StateWifiFrequencyLoop `cbor:"state_frequencyloop,omitempty"`
	BluetoothDataRaw       *BluetoothDataRaw       `cbor:"bluetooth_dataraw,omitempty"`
	WifiDataRaw            *WifiDataRaw            `cbor:"wifi_dataraw,omitempty"`
	WifiDevRaw             *WifiDevRaw             `cbor:"wifi_devraw,omitempty"`
	Location               *Location               `cbor:"location,omitempty"`
	Connection             *Connection             `cbor:"connection,omitempty"`
}

// Uptime reports when the daemon and its host were started, as UNIX
// seconds.
type Uptime struct {
	GyridUptime  float64 `cbor:"gyrid_uptime"`
	SystemUptime float64 `cbor:"system_uptime"`
}

// Info is a free-form informational line from the daemon.
type Info struct {
	Timestamp float64 `cbor:"timestamp"`
	Info      string  `cbor:"info"`
}

// RequestKeepalive asks the peer to send keepalives every Interval
// seconds. The daemon echoes it back with Success set to true once
// it has complied.
type RequestKeepalive struct {
	Interval uint32 `cbor:"interval"`
	Enable   bool   `cbor:"enable"`
}

type RequestState struct {
	EnableScanning      bool `cbor:"enable_scanning"`
	EnableInquiry       bool `cbor:"enable_inquiry"`
	EnableFrequencyLoop bool `cbor:"enable_frequencyloop"`
	EnableAntenna       bool `cbor:"enable_antenna"`
}

type RequestCaching struct {
	Enable bool `cbor:"enable"`
	Push   bool `cbor:"push"`
}

type RequestStartData struct {
	EnableBluetoothRaw bool `cbor:"enable_bluetooth_raw"`
	EnableWifiRaw      bool `cbor:"enable_wifi_raw"`
	EnableWifiDevRaw   bool `cbor:"enable_wifi_devraw"`
	EnableSensorMac    bool `cbor:"enable_sensor_mac"`
}

// ScanState is the value of a StateScanning event.
type ScanState string

const (
	ScanStarted ScanState = "started"
	ScanStopped ScanState = "stopped"
)

// StateScanning reports a sensor starting or stopping a scan.
type StateScanning struct {
	Timestamp float64   `cbor:"timestamp"`
	SensorMac string    `cbor:"sensor_mac"`
	HwType    string    `cbor:"hw_type"`
	State     ScanState `cbor:"state"`
}

// GyridState is the value of a StateGyrid event.
type GyridState string

const (
	GyridConnected    GyridState = "connected"
	GyridDisconnected GyridState = "disconnected"
)

// StateGyrid reports a radio being plugged into or removed from the
// scanner.
type StateGyrid struct {
	Timestamp float64    `cbor:"timestamp"`
	SensorMac string     `cbor:"sensor_mac"`
	HwType    string     `cbor:"hw_type"`
	State     GyridState `cbor:"state"`
}

type StateBluetoothInquiry struct {
	Timestamp float64 `cbor:"timestamp"`
	SensorMac string  `cbor:"sensor_mac"`
	Duration  float64 `cbor:"duration"`
}

type StateWifiFrequency struct {
	Timestamp float64 `cbor:"timestamp"`
	SensorMac string  `cbor:"sensor_mac"`
	Frequency uint32  `cbor:"frequency"`
	Duration  float64 `cbor:"duration"`
}

type StateWifiFrequencyLoop struct {
	Timestamp   float64  `cbor:"timestamp"`
	SensorMac   string   `cbor:"sensor_mac"`
	Duration    float64  `cbor:"duration"`
	Frequencies []uint32 `cbor:"frequencies"`
}

// BluetoothDataRaw is one bluetooth inquiry response.
type BluetoothDataRaw struct {
	Timestamp   float64 `cbor:"timestamp"`
	SensorMac   string  `cbor:"sensor_mac"`
	HwID        string  `cbor:"hw_id"`
	DeviceClass uint32  `cbor:"device_class"`
	Rssi        int32   `cbor:"rssi"`
}

// WifiDataRaw is one captured 802.11 frame.
type WifiDataRaw struct {
	Timestamp float64 `cbor:"timestamp"`
	SensorMac string  `cbor:"sensor_mac"`
	HwID1     string  `cbor:"hw_id1"`
	HwID2     string  `cbor:"hw_id2,omitempty"`
	Frequency uint32  `cbor:"frequency"`
	FrameType string  `cbor:"frame_type"`
	Subtype   string  `cbor:"subtype,omitempty"`
	Rssi      int32   `cbor:"rssi"`
}

// WifiDevRaw is one wifi device sighting (access point or client).
type WifiDevRaw struct {
	Timestamp float64 `cbor:"timestamp"`
	SensorMac string  `cbor:"sensor_mac"`
	HwID      string  `cbor:"hw_id"`
	DevType   string  `cbor:"dev_type"`
	Ssid      string  `cbor:"ssid,omitempty"`
	Rssi      int32   `cbor:"rssi"`
}

// Location carries a scanner or sensor location record. Sent by the
// server to the InServer when the routing model changes.
type Location struct {
	Scope       string   `cbor:"scope"`
	SensorMac   string   `cbor:"sensor_mac,omitempty"`
	Name        string   `cbor:"name,omitempty"`
	Description string   `cbor:"description,omitempty"`
	Latitude    *float64 `cbor:"latitude,omitempty"`
	Longitude   *float64 `cbor:"longitude,omitempty"`
	Start       *float64 `cbor:"start,omitempty"`
	End         *float64 `cbor:"end,omitempty"`
}

// Connection reports a scanner connecting to or disconnecting from
// this server. Sent to the InServer.
type Connection struct {
	Timestamp float64 `cbor:"timestamp"`
	Address   string  `cbor:"address,omitempty"`
	Connected bool    `cbor:"connected"`
}

// Bool returns a pointer to b, for Message.Success.
func Bool(b bool) *bool { return &b }

// WantsAck reports whether the sender asked for an acknowledgement.
func (m *Message) WantsAck() bool {
	return m.Success != nil && !*m.Success
}

// Succeeded reports whether the message carries Success == true.
func (m *Message) Succeeded() bool {
	return m.Success != nil && *m.Success
}

// Encode serializes the message.
func (m *Message) Encode() ([]byte, error) {
	data, err := codec.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding %s message: %w", m.Type, err)
	}
	return data, nil
}

// ErrUnknownType is returned by Decode for a payload whose type tag
// is missing or not recognised.
var ErrUnknownType = errors.New("protocol: unknown message type")

// Decode parses a frame payload.
func Decode(payload []byte) (*Message, error) {
	var message Message
	if err := codec.Unmarshal(payload, &message); err != nil {
		return nil, fmt.Errorf("decoding message: %w", err)
	}
	if !message.Type.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, message.Type)
	}
	return &message, nil
}

// AckChecksum is the identity under which m is acknowledged: the
// checksum of its encoding with Cached cleared. A message resent with
// Cached set is therefore acknowledged under its original identity.
func AckChecksum(m *Message) (string, error) {
	canonical := *m
	canonical.Cached = false
	data, err := canonical.Encode()
	if err != nil {
		return "", err
	}
	return Checksum(data), nil
}

// PayloadAckChecksum is the acknowledgement identity of a received
// payload. It is AckChecksum taken over the bytes as sent rather than
// over the decoded Message: the top-level "cached" entry is removed
// and the remaining entries are re-encoded with their values
// untouched. Fields this schema does not know stay in the identity,
// so a newer daemon's message is still acknowledged under the
// checksum that daemon computed. For a payload this package encoded,
// the result equals AckChecksum of the decoded message.
func PayloadAckChecksum(payload []byte) (string, error) {
	var fields map[string]codec.RawMessage
	if err := codec.Unmarshal(payload, &fields); err != nil {
		return "", fmt.Errorf("decoding ack identity: %w", err)
	}
	delete(fields, "cached")
	data, err := codec.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encoding ack identity: %w", err)
	}
	return Checksum(data), nil
}

// Timestamp converts t to fractional UNIX seconds.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// Time converts fractional UNIX seconds to a time.Time.
func Time(seconds float64) time.Time {
	whole, fraction := math.Modf(seconds)
	return time.Unix(int64(whole), int64(fraction*1e9))
}

// EventTime returns the timestamp carried by a data or state message,
// and false for message types that carry none.
func (m *Message) EventTime() (time.Time, bool) {
	var ts float64
	switch {
	case m.BluetoothDataRaw != nil:
		ts = m.BluetoothDataRaw.Timestamp
	case m.WifiDataRaw != nil:
		ts = m.WifiDataRaw.Timestamp
	case m.WifiDevRaw != nil:
		ts = m.WifiDevRaw.Timestamp
	case m.StateScanning != nil:
		ts = m.StateScanning.Timestamp
	case m.StateGyrid != nil:
		ts = m.StateGyrid.Timestamp
	case m.StateBluetoothInquiry != nil:
		ts = m.StateBluetoothInquiry.Timestamp
	case m.StateWifiFrequency != nil:
		ts = m.StateWifiFrequency.Timestamp
	case m.StateWifiFrequencyLoop != nil:
		ts = m.StateWifiFrequencyLoop.Timestamp
	case m.Info != nil:
		ts = m.Info.Timestamp
	default:
		return time.Time{}, false
	}
	return Time(ts), true
}
