// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"time"

	"github.com/Roel/Gyrid-server-sub000/lib/model"
	"github.com/Roel/Gyrid-server-sub000/lib/protocol"
)

// Event identifies the scanner an event came from and the context in
// which a particular consumer receives it.
type Event struct {
	// Hostname of the scanner.
	Hostname string

	// Projects are the active projects under which this consumer
	// receives the event. Empty for global consumers when the
	// scanner is unassigned.
	Projects []*model.Project

	// Cached is set when the scanner is delivering data it buffered
	// while disconnected.
	Cached bool
}

// ProjectIDs returns the IDs of e.Projects.
func (e Event) ProjectIDs() []string {
	if len(e.Projects) == 0 {
		return nil
	}
	ids := make([]string, len(e.Projects))
	for i, project := range e.Projects {
		ids[i] = project.ID
	}
	return ids
}

// Connection describes a scanner connecting or disconnecting.
type Connection struct {
	Address string
	Time    time.Time
}

// State is a sensor state change. Type is one of the protocol state
// message types; the fields that type does not carry are zero.
type State struct {
	Type      protocol.Type
	Time      time.Time
	SensorMac string
	HwType    string

	// Value is the new scanning or radio state ("started",
	// "connected", ...).
	Value string

	// Duration in seconds of an inquiry or frequency dwell.
	Duration float64

	Frequency   uint32
	Frequencies []uint32
}

// Consumer receives routed scanner events. Methods are called on the
// scanner's connection goroutine and must not block; blocking work is
// handed to the consumer's own goroutines. A returned error or panic
// is logged with the consumer's name and does not affect delivery to
// other consumers.
type Consumer interface {
	// Name identifies the consumer in configuration, project disable
	// lists and logs.
	Name() string

	ConnectionMade(Event, Connection) error
	ConnectionLost(Event, Connection) error
	LocationUpdate(Event, protocol.Location) error
	StateFeed(Event, State) error
	DataFeedBluetoothRaw(Event, protocol.BluetoothDataRaw) error
	DataFeedWifiRaw(Event, protocol.WifiDataRaw) error
	DataFeedWifiDevRaw(Event, protocol.WifiDevRaw) error
	UptimeFeed(Event, protocol.Uptime) error
	InfoFeed(Event, protocol.Info) error

	// Close releases the consumer's resources. No other method is
	// called after Close.
	Close() error
}

// Nop implements every Consumer method except Name as a no-op.
// Embed it to implement only the events a consumer cares about.
type Nop struct{}

func (Nop) ConnectionMade(Event, Connection) error { return nil }
func (Nop) ConnectionLost(Event, Connection) error { return nil }
func (Nop) LocationUpdate(Event, protocol.Location) error { return nil }
func (Nop) StateFeed(Event, State) error { return nil }
func (Nop) DataFeedBluetoothRaw(Event, protocol.BluetoothDataRaw) error { return nil }
func (Nop) DataFeedWifiRaw(Event, protocol.WifiDataRaw) error { return nil }
func (Nop) DataFeedWifiDevRaw(Event, protocol.WifiDevRaw) error { return nil }
func (Nop) UptimeFeed(Event, protocol.Uptime) error { return nil }
func (Nop) InfoFeed(Event, protocol.Info) error { return nil }
func (Nop) Close() error { return nil }

// StateFromMessage extracts the state carried by one of the protocol
// state messages. ok is false for other message types.
func StateFromMessage(m *protocol.Message) (state State, ok bool) {
	state.Type = m.Type
	switch {
	case m.StateScanning != nil:
		s := m.StateScanning
		state.Time, state.SensorMac, state.HwType, state.Value = protocol.Time(s.Timestamp), s.SensorMac, s.HwType, string(s.State)
	case m.StateGyrid != nil:
		s := m.StateGyrid
		state.Time, state.SensorMac, state.HwType, state.Value = protocol.Time(s.Timestamp), s.SensorMac, s.HwType, string(s.State)
	case m.StateBluetoothInquiry != nil:
		s := m.StateBluetoothInquiry
		state.Time, state.SensorMac, state.HwType, state.Duration = protocol.Time(s.Timestamp), s.SensorMac, string(model.HardwareBluetooth), s.Duration
	case m.StateWifiFrequency != nil:
		s := m.StateWifiFrequency
		state.Time, state.SensorMac, state.HwType = protocol.Time(s.Timestamp), s.SensorMac, string(model.HardwareWifi)
		state.Frequency, state.Duration = s.Frequency, s.Duration
	case m.StateWifiFrequencyLoop != nil:
		s := m.StateWifiFrequencyLoop
		state.Time, state.SensorMac, state.HwType = protocol.Time(s.Timestamp), s.SensorMac, string(model.HardwareWifi)
		state.Duration, state.Frequencies = s.Duration, s.Frequencies
	default:
		return State{}, false
	}
	return state, true
}

// Message rebuilds the protocol message for s.
func (s State) Message() *protocol.Message {
	timestamp := protocol.Timestamp(s.Time)
	message := &protocol.Message{Type: s.Type}
	switch s.Type {
	case protocol.TypeStateScanning:
		message.StateScanning = &protocol.StateScanning{Timestamp: timestamp, SensorMac: s.SensorMac, HwType: s.HwType, State: protocol.ScanState(s.Value)}
	case protocol.TypeStateGyrid:
		message.StateGyrid = &protocol.StateGyrid{Timestamp: timestamp, SensorMac: s.SensorMac, HwType: s.HwType, State: protocol.GyridState(s.Value)}
	case protocol.TypeStateBluetoothInquiry:
		message.StateBluetoothInquiry = &protocol.StateBluetoothInquiry{Timestamp: timestamp, SensorMac: s.SensorMac, Duration: s.Duration}
	case protocol.TypeStateWifiFrequency:
		message.StateWifiFrequency = &protocol.StateWifiFrequency{Timestamp: timestamp, SensorMac: s.SensorMac, Frequency: s.Frequency, Duration: s.Duration}
	case protocol.TypeStateWifiFrequencyLoop:
		message.StateWifiFrequencyLoop = &protocol.StateWifiFrequencyLoop{Timestamp: timestamp, SensorMac: s.SensorMac, Duration: s.Duration, Frequencies: s.Frequencies}
	}
	return message
}
