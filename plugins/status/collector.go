// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package status

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Roel/Gyrid-server-sub000/lib/protocol"
)

var (
	connectedDesc = prometheus.NewDesc("gyrid_scanner_connected",
		"Whether the scanner is connected (1) or not (0).",
		[]string{"hostname", "address"}, nil)
	lastSeenDesc = prometheus.NewDesc("gyrid_scanner_last_seen_seconds",
		"Unix time of the last event received for the scanner.",
		[]string{"hostname"}, nil)
	gyridStartDesc = prometheus.NewDesc("gyrid_scanner_gyrid_start_seconds",
		"Unix time the scanner daemon started, from its last uptime report.",
		[]string{"hostname"}, nil)
	systemStartDesc = prometheus.NewDesc("gyrid_scanner_system_start_seconds",
		"Unix time the scanner host booted, from its last uptime report.",
		[]string{"hostname"}, nil)
	sensorScanningDesc = prometheus.NewDesc("gyrid_sensor_scanning",
		"Whether the sensor last reported scanning as started.",
		[]string{"hostname", "sensor", "hw_type"}, nil)
	sensorConnectedDesc = prometheus.NewDesc("gyrid_sensor_connected",
		"Whether the sensor hardware was last reported connected.",
		[]string{"hostname", "sensor", "hw_type"}, nil)
	sensorDetectionsDesc = prometheus.NewDesc("gyrid_sensor_detections_total",
		"Detections received from the sensor since the server started.",
		[]string{"hostname", "sensor", "hw_type"}, nil)
)

// Describe implements prometheus.Collector.
func (s *Status) Describe(ch chan<- *prometheus.Desc) {
	ch <- connectedDesc
	ch <- lastSeenDesc
	ch <- gyridStartDesc
	ch <- systemStartDesc
	ch <- sensorScanningDesc
	ch <- sensorConnectedDesc
	ch <- sensorDetectionsDesc
}

// Collect implements prometheus.Collector.
func (s *Status) Collect(ch chan<- prometheus.Metric) {
	for _, scanner := range s.Snapshot() {
		host := scanner.Hostname
		ch <- prometheus.MustNewConstMetric(connectedDesc, prometheus.GaugeValue, gaugeBool(scanner.Connected), host, scanner.Address)
		ch <- prometheus.MustNewConstMetric(lastSeenDesc, prometheus.GaugeValue, protocol.Timestamp(scanner.LastSeen), host)
		if !scanner.GyridStart.IsZero() {
			ch <- prometheus.MustNewConstMetric(gyridStartDesc, prometheus.GaugeValue, protocol.Timestamp(scanner.GyridStart), host)
			ch <- prometheus.MustNewConstMetric(systemStartDesc, prometheus.GaugeValue, protocol.Timestamp(scanner.SystemStart), host)
		}
		for _, sensor := range scanner.Sensors {
			labels := []string{host, sensor.Mac, sensor.HwType}
			if sensor.Scanning != "" {
				ch <- prometheus.MustNewConstMetric(sensorScanningDesc, prometheus.GaugeValue, gaugeBool(sensor.Scanning == string(protocol.ScanStarted)), labels...)
			}
			if sensor.Gyrid != "" {
				ch <- prometheus.MustNewConstMetric(sensorConnectedDesc, prometheus.GaugeValue, gaugeBool(sensor.Gyrid == string(protocol.GyridConnected)), labels...)
			}
			ch <- prometheus.MustNewConstMetric(sensorDetectionsDesc, prometheus.CounterValue, float64(sensor.Detections), labels...)
		}
	}
}

func gaugeBool(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
