// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/Roel/Gyrid-server-sub000/lib/codec"
	"github.com/Roel/Gyrid-server-sub000/lib/model"
	"github.com/Roel/Gyrid-server-sub000/lib/plugin"
	"github.com/Roel/Gyrid-server-sub000/lib/protocol"
)

func openTestArchive(t *testing.T, config Config) *Archive {
	t.Helper()
	if config.Path == "" {
		config.Path = filepath.Join(t.TempDir(), "archive.db")
	}
	archive, err := Open(config)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { archive.Close() })
	return archive
}

func flush(t *testing.T, archive *Archive) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := archive.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func count(t *testing.T, archive *Archive, table string) int64 {
	t.Helper()
	n, err := archive.Count(context.Background(), table)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func execute(conn *sqlite.Conn, query string) error {
	return sqlitex.ExecuteTransient(conn, query, nil)
}

var projectP = &model.Project{ID: "P", Active: true}

func TestArchiveDetectionRoundTrip(t *testing.T) {
	archive := openTestArchive(t, Config{})
	event := plugin.Event{Hostname: "scanner-01", Projects: []*model.Project{projectP}, Cached: true}
	data := protocol.BluetoothDataRaw{
		Timestamp:   1_700_000_000.25,
		SensorMac:   "00:11:22:33:44:55",
		HwID:        "aa:bb:cc:dd:ee:ff",
		DeviceClass: 0x5a020c,
		Rssi:        -71,
	}
	if err := archive.DataFeedBluetoothRaw(event, data); err != nil {
		t.Fatalf("DataFeedBluetoothRaw: %v", err)
	}
	flush(t, archive)

	detections, err := archive.Detections(context.Background(), "scanner-01")
	if err != nil {
		t.Fatal(err)
	}
	if len(detections) != 1 {
		t.Fatalf("got %d detections, want 1", len(detections))
	}
	got := detections[0]
	if got.HwID != data.HwID || got.Rssi != -71 || !got.Cached || got.Type != "bluetooth_dataraw" {
		t.Errorf("detection = %+v", got)
	}
	if len(got.Projects) != 1 || got.Projects[0] != "P" {
		t.Errorf("projects = %v", got.Projects)
	}
	var decoded protocol.BluetoothDataRaw
	if err := codec.Unmarshal(got.Raw, &decoded); err != nil {
		t.Fatalf("raw payload: %v", err)
	}
	if decoded != data {
		t.Errorf("raw payload = %+v, want %+v", decoded, data)
	}
}

func TestArchiveAllTables(t *testing.T) {
	archive := openTestArchive(t, Config{BatchSize: 2})
	event := plugin.Event{Hostname: "scanner-02"}
	now := time.Unix(1_700_000_000, 0)

	archive.ConnectionMade(event, plugin.Connection{Address: "10.0.0.2:4000", Time: now})
	archive.StateFeed(event, plugin.State{Type: protocol.TypeStateScanning, Time: now, SensorMac: "00:11", Value: "started"})
	archive.StateFeed(event, plugin.State{Type: protocol.TypeStateWifiFrequencyLoop, Time: now, SensorMac: "00:22", Frequencies: []uint32{2412, 2437}})
	archive.DataFeedWifiRaw(event, protocol.WifiDataRaw{Timestamp: 1, SensorMac: "00:22", HwID1: "ab", Frequency: 2412, FrameType: "mgmt"})
	archive.DataFeedWifiDevRaw(event, protocol.WifiDevRaw{Timestamp: 2, SensorMac: "00:22", HwID: "cd", DevType: "ap"})
	archive.InfoFeed(event, protocol.Info{Timestamp: 3, Info: "restarted"})
	archive.UptimeFeed(event, protocol.Uptime{GyridUptime: 4, SystemUptime: 1})
	archive.ConnectionLost(event, plugin.Connection{Address: "10.0.0.2:4000", Time: now.Add(time.Minute)})
	flush(t, archive)

	want := map[string]int64{"connections": 2, "states": 2, "detections": 2, "infos": 2}
	for table, n := range want {
		if got := count(t, archive, table); got != n {
			t.Errorf("%s: %d rows, want %d", table, got, n)
		}
	}
	if _, err := archive.Count(context.Background(), "sqlite_master; DROP TABLE x"); err == nil {
		t.Error("Count accepted an unknown table")
	}
}

func TestArchiveQueueFullDrops(t *testing.T) {
	archive := openTestArchive(t, Config{QueueSize: 1})
	// Stall the writer by holding the only write lock it needs.
	conn, err := archive.pool.Take(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := execute(conn, "BEGIN IMMEDIATE"); err != nil {
		t.Fatal(err)
	}

	event := plugin.Event{Hostname: "scanner-03"}
	var dropped int
	for i := range 50 {
		if archive.InfoFeed(event, protocol.Info{Timestamp: float64(i), Info: "x"}) != nil {
			dropped++
		}
	}
	if dropped == 0 {
		t.Error("no events dropped with a stalled writer and a queue of one")
	}

	if err := execute(conn, "ROLLBACK"); err != nil {
		t.Fatal(err)
	}
	archive.pool.Put(conn)
	flush(t, archive)
	if got := count(t, archive, "infos"); got+int64(dropped) != 50 {
		t.Errorf("archived %d + dropped %d != 50", got, dropped)
	}
}

func TestArchiveRejectsAfterClose(t *testing.T) {
	archive := openTestArchive(t, Config{})
	if err := archive.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := archive.InfoFeed(plugin.Event{Hostname: "h"}, protocol.Info{Info: "late"}); err == nil {
		t.Error("InfoFeed after Close succeeded")
	}
	if err := archive.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestPackRawRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		raw  any
	}{
		{"small", protocol.WifiDevRaw{HwID: "a"}},
		{"repetitive", protocol.Info{Info: string(make([]byte, 4096))}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			size, blob, err := packRaw(test.raw)
			if err != nil {
				t.Fatal(err)
			}
			encoded, _ := codec.Marshal(test.raw)
			unpacked, err := unpackRaw(size, blob)
			if err != nil {
				t.Fatal(err)
			}
			if string(unpacked) != string(encoded) {
				t.Error("unpacked payload differs from the encoding")
			}
		})
	}
}
