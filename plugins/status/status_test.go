// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package status

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Roel/Gyrid-server-sub000/lib/clock"
	"github.com/Roel/Gyrid-server-sub000/lib/model"
	"github.com/Roel/Gyrid-server-sub000/lib/plugin"
	"github.com/Roel/Gyrid-server-sub000/lib/protocol"
)

var epoch = time.Unix(1_700_000_000, 0)

func TestStatusTracksScanner(t *testing.T) {
	fake := clock.Fake(epoch)
	status := New(Config{Clock: fake})
	event := plugin.Event{Hostname: "scanner-01", Projects: []*model.Project{{ID: "P"}}}

	status.ConnectionMade(event, plugin.Connection{Address: "10.0.0.1:4000", Time: epoch})
	status.StateFeed(event, plugin.State{Type: protocol.TypeStateScanning, SensorMac: "aa", HwType: "bluetooth", Value: "started"})
	status.StateFeed(event, plugin.State{Type: protocol.TypeStateGyrid, SensorMac: "aa", Value: "connected"})
	fake.Advance(30 * time.Second)
	status.DataFeedBluetoothRaw(event, protocol.BluetoothDataRaw{Timestamp: 1_700_000_010, SensorMac: "aa"})
	status.DataFeedBluetoothRaw(event, protocol.BluetoothDataRaw{Timestamp: 1_700_000_005, SensorMac: "aa"})
	status.UptimeFeed(event, protocol.Uptime{GyridUptime: 1_699_999_000, SystemUptime: 1_699_990_000})

	scanner, ok := status.Scanner("scanner-01")
	if !ok {
		t.Fatal("scanner-01 not tracked")
	}
	if !scanner.Connected || scanner.Address != "10.0.0.1:4000" {
		t.Errorf("connection = %v %q", scanner.Connected, scanner.Address)
	}
	if len(scanner.Projects) != 1 || scanner.Projects[0] != "P" {
		t.Errorf("projects = %v", scanner.Projects)
	}
	if !scanner.LastSeen.Equal(epoch.Add(30 * time.Second)) {
		t.Errorf("last seen = %v", scanner.LastSeen)
	}
	if want := time.Unix(1_699_999_000, 0); !scanner.GyridStart.Equal(want) {
		t.Errorf("gyrid start = %v, want %v", scanner.GyridStart, want)
	}
	sensor := scanner.Sensors["aa"]
	if sensor == nil {
		t.Fatal("sensor aa not tracked")
	}
	if sensor.Scanning != "started" || sensor.Gyrid != "connected" || sensor.HwType != "bluetooth" {
		t.Errorf("sensor = %+v", sensor)
	}
	if sensor.Detections != 2 {
		t.Errorf("detections = %d, want 2", sensor.Detections)
	}
	if !sensor.LastData.Equal(time.Unix(1_700_000_010, 0)) {
		t.Errorf("last data = %v", sensor.LastData)
	}

	status.ConnectionLost(event, plugin.Connection{Address: "10.0.0.1:4000", Time: epoch.Add(time.Minute)})
	scanner, _ = status.Scanner("scanner-01")
	if scanner.Connected {
		t.Error("still connected after ConnectionLost")
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	status := New(Config{Clock: clock.Fake(epoch)})
	status.DataFeedWifiRaw(plugin.Event{Hostname: "b"}, protocol.WifiDataRaw{SensorMac: "s"})
	status.DataFeedWifiDevRaw(plugin.Event{Hostname: "a"}, protocol.WifiDevRaw{SensorMac: "s"})

	snapshot := status.Snapshot()
	if len(snapshot) != 2 || snapshot[0].Hostname != "a" || snapshot[1].Hostname != "b" {
		t.Fatalf("snapshot order = %+v", snapshot)
	}
	snapshot[0].Sensors["s"].Detections = 100
	again, _ := status.Scanner("a")
	if again.Sensors["s"].Detections != 1 {
		t.Error("mutating a snapshot changed the status")
	}
}

func TestCollect(t *testing.T) {
	status := New(Config{Clock: clock.Fake(epoch)})
	event := plugin.Event{Hostname: "scanner-01"}
	status.ConnectionMade(event, plugin.Connection{Address: "10.0.0.1:4000", Time: epoch})
	status.StateFeed(event, plugin.State{Type: protocol.TypeStateScanning, SensorMac: "aa", HwType: "bluetooth", Value: "stopped"})
	status.DataFeedBluetoothRaw(event, protocol.BluetoothDataRaw{SensorMac: "aa"})

	registry := prometheus.NewPedanticRegistry()
	registry.MustRegister(status)

	expected := `
# HELP gyrid_scanner_connected Whether the scanner is connected (1) or not (0).
# TYPE gyrid_scanner_connected gauge
gyrid_scanner_connected{address="10.0.0.1:4000",hostname="scanner-01"} 1
# HELP gyrid_sensor_detections_total Detections received from the sensor since the server started.
# TYPE gyrid_sensor_detections_total counter
gyrid_sensor_detections_total{hostname="scanner-01",hw_type="bluetooth",sensor="aa"} 1
# HELP gyrid_sensor_scanning Whether the sensor last reported scanning as started.
# TYPE gyrid_sensor_scanning gauge
gyrid_sensor_scanning{hostname="scanner-01",hw_type="bluetooth",sensor="aa"} 0
`
	err := promtestutil.GatherAndCompare(registry, strings.NewReader(expected),
		"gyrid_scanner_connected", "gyrid_sensor_detections_total", "gyrid_sensor_scanning")
	if err != nil {
		t.Error(err)
	}
	// Uptime series appear only after an uptime report.
	if n := promtestutil.CollectAndCount(status, "gyrid_scanner_gyrid_start_seconds"); n != 0 {
		t.Errorf("gyrid start series = %d before any uptime report", n)
	}
}
