// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/Roel/Gyrid-server-sub000/lib/codec"
)

var checksumPattern = regexp.MustCompile(`^[0-9a-f]{8}$`)

func TestChecksumFormat(t *testing.T) {
	t.Parallel()
	inputs := [][]byte{nil, []byte("a"), []byte("gyrid"), make([]byte, 4096)}
	for _, input := range inputs {
		sum := Checksum(input)
		if !checksumPattern.MatchString(sum) {
			t.Errorf("Checksum(%d bytes) = %q, not 8 lowercase hex digits", len(input), sum)
		}
	}
}

func TestChecksumKnownValues(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input string
		want  string
	}{
		// CRC-32 of "" is 0.
		{input: "", want: "00000000"},
		// CRC-32 of "a" is 0xe8b7be43, negative as int32.
		{input: "a", want: "174841bd"},
		// CRC-32 of "123456789" is 0xcbf43926, negative as int32.
		{input: "123456789", want: "340bc6da"},
	}
	for _, test := range tests {
		if got := Checksum([]byte(test.input)); got != test.want {
			t.Errorf("Checksum(%q) = %s, want %s", test.input, got, test.want)
		}
	}
}

func TestChecksumDeterministicAndSensitive(t *testing.T) {
	t.Parallel()
	message := &Message{
		Type:     TypeBluetoothDataRaw,
		Success:  Bool(false),
		Hostname: "scanner-01",
		BluetoothDataRaw: &BluetoothDataRaw{
			Timestamp:   1700000000.25,
			SensorMac:   "00:11:22:33:44:55",
			HwID:        "aa:bb:cc:dd:ee:ff",
			DeviceClass: 0x5a020c,
			Rssi:        -71,
		},
	}
	first, err := message.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	second, err := message.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if Checksum(first) != Checksum(second) {
		t.Fatal("checksum of identical messages differs")
	}

	changed := *message
	raw := *message.BluetoothDataRaw
	raw.Rssi = -70
	changed.BluetoothDataRaw = &raw
	third, err := changed.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if Checksum(first) == Checksum(third) {
		t.Error("checksum unchanged after a one-field change")
	}
}

func TestAckChecksumIgnoresCached(t *testing.T) {
	t.Parallel()
	original := &Message{Type: TypeInfo, Success: Bool(false), Info: &Info{Timestamp: 10, Info: "boot"}}
	resent := *original
	resent.Cached = true

	originalSum, err := AckChecksum(original)
	if err != nil {
		t.Fatalf("AckChecksum: %v", err)
	}
	resentSum, err := AckChecksum(&resent)
	if err != nil {
		t.Fatalf("AckChecksum: %v", err)
	}
	if originalSum != resentSum {
		t.Errorf("resend acknowledged as %s, original as %s", resentSum, originalSum)
	}
	if !resent.Cached {
		t.Error("AckChecksum modified its argument")
	}
}

// For payloads this package encodes, the identity taken over the raw
// bytes agrees with the one taken over the struct, cached or not.
func TestPayloadAckChecksumMatchesAckChecksum(t *testing.T) {
	t.Parallel()
	message := &Message{
		Type:             TypeBluetoothDataRaw,
		Success:          Bool(false),
		Hostname:         "scanner-01",
		BluetoothDataRaw: &BluetoothDataRaw{Timestamp: 1700000000.25, SensorMac: "00:11", HwID: "aa:bb", DeviceClass: 7936, Rssi: -70},
	}
	want, err := AckChecksum(message)
	if err != nil {
		t.Fatal(err)
	}
	for _, cached := range []bool{false, true} {
		sent := *message
		sent.Cached = cached
		payload, err := sent.Encode()
		if err != nil {
			t.Fatal(err)
		}
		got, err := PayloadAckChecksum(payload)
		if err != nil {
			t.Fatalf("PayloadAckChecksum: %v", err)
		}
		if got != want {
			t.Errorf("cached=%v: payload identity %s, want %s", cached, got, want)
		}
	}
}

// A field added by a newer daemon is part of what that daemon
// checksummed, so it must be part of the acknowledgement too.
func TestPayloadAckChecksumKeepsUnknownFields(t *testing.T) {
	t.Parallel()
	fields := map[string]any{
		"type":     int(TypeInfo),
		"success":  false,
		"info":     map[string]any{"timestamp": 10.0, "info": "boot"},
		"firmware": "2.0-rc1",
	}
	payload, err := codec.Marshal(fields)
	if err != nil {
		t.Fatal(err)
	}
	want := Checksum(payload)
	got, err := PayloadAckChecksum(payload)
	if err != nil {
		t.Fatalf("PayloadAckChecksum: %v", err)
	}
	if got != want {
		t.Errorf("payload identity %s, want the sender's checksum %s", got, want)
	}

	decoded, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if lossy, _ := AckChecksum(decoded); lossy == want {
		t.Error("the decoded struct unexpectedly kept the unknown field")
	}

	fields["cached"] = true
	resent, _ := codec.Marshal(fields)
	if got, _ := PayloadAckChecksum(resent); got != want {
		t.Errorf("cached resend identity %s, want %s", got, want)
	}
}

func TestPayloadAckChecksumGarbage(t *testing.T) {
	t.Parallel()
	if _, err := PayloadAckChecksum([]byte{0xff, 0x00}); err == nil {
		t.Error("expected an error for a payload that is not a CBOR map")
	}
}

// The checksum a receiver computes over the bytes it decoded matches
// the one the sender computed before sending.
func TestAckChecksumSurvivesRoundTrip(t *testing.T) {
	t.Parallel()
	sent := &Message{
		Type:     TypeWifiDevRaw,
		Success:  Bool(false),
		Hostname: "scanner-02",
		Projects: []string{"alpha", "beta"},
		WifiDevRaw: &WifiDevRaw{
			Timestamp: 1700000100.5,
			SensorMac: "00:11:22:33:44:66",
			HwID:      "12:34:56:78:9a:bc",
			DevType:   "ap",
			Ssid:      "field",
			Rssi:      -55,
		},
	}
	payload, err := sent.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	received, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want, _ := AckChecksum(sent)
	got, err := AckChecksum(received)
	if err != nil {
		t.Fatalf("AckChecksum: %v", err)
	}
	if got != want {
		t.Errorf("receiver checksum %s, sender checksum %s", got, want)
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	t.Parallel()
	payload, err := codec.Marshal(map[string]any{"type": 200})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if _, err := Decode(payload); !errors.Is(err, ErrUnknownType) {
		t.Errorf("error = %v, want ErrUnknownType", err)
	}
	if _, err := Decode([]byte{0xff, 0x00}); err == nil {
		t.Error("Decode accepted garbage")
	}
}

func TestWantsAck(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		success *bool
		want    bool
	}{
		{name: "unset", success: nil, want: false},
		{name: "false", success: Bool(false), want: true},
		{name: "true", success: Bool(true), want: false},
	}
	for _, test := range tests {
		message := &Message{Type: TypeKeepalive, Success: test.success}
		if got := message.WantsAck(); got != test.want {
			t.Errorf("%s: WantsAck = %v, want %v", test.name, got, test.want)
		}
	}
}

func TestEventTime(t *testing.T) {
	t.Parallel()
	message := &Message{Type: TypeStateScanning, StateScanning: &StateScanning{Timestamp: 1700000000.5, State: ScanStarted}}
	got, ok := message.EventTime()
	if !ok {
		t.Fatal("EventTime reported no timestamp")
	}
	want := time.Unix(1700000000, 500_000_000)
	if !got.Equal(want) {
		t.Errorf("EventTime = %v, want %v", got, want)
	}
	if _, ok := NewKeepalive().EventTime(); ok {
		t.Error("keepalive reported an event time")
	}
}

func TestRequestKeepaliveRoundsToSeconds(t *testing.T) {
	t.Parallel()
	if got := NewRequestKeepalive(60 * time.Second).RequestKeepalive.Interval; got != 60 {
		t.Errorf("interval = %d, want 60", got)
	}
	if got := NewRequestKeepalive(200 * time.Millisecond).RequestKeepalive.Interval; got != 1 {
		t.Errorf("sub-second interval = %d, want 1", got)
	}
}
