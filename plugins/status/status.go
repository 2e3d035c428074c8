// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

// Package status keeps the live state of every scanner the server has
// seen and exports it as Prometheus series. It holds no history: a
// restart starts from empty.
package status

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Roel/Gyrid-server-sub000/lib/clock"
	"github.com/Roel/Gyrid-server-sub000/lib/plugin"
	"github.com/Roel/Gyrid-server-sub000/lib/protocol"
)

const Name = "status"

// Scanner is the status of one scanner.
type Scanner struct {
	Hostname  string
	Projects  []string
	Connected bool
	Address   string

	// ConnectedSince is the time of the last ConnectionMade, or of
	// the last ConnectionLost while disconnected.
	ConnectedSince time.Time

	// LastSeen is when the server last received anything for this
	// scanner.
	LastSeen time.Time

	// GyridStart and SystemStart are the boot times reported in the
	// last uptime message. Zero until one arrives.
	GyridStart  time.Time
	SystemStart time.Time

	Sensors map[string]*Sensor
}

// Sensor is the status of one sensor on a scanner.
type Sensor struct {
	Mac    string
	HwType string

	// Scanning is the last scanning state ("started", "stopped").
	Scanning string

	// Gyrid is the last connection state of the sensor hardware.
	Gyrid string

	Detections uint64
	LastData   time.Time
}

// Config configures a Status.
type Config struct {
	Clock  clock.Clock
	Logger *slog.Logger
}

// Status is a consumer that tracks scanners in memory. It implements
// prometheus.Collector.
type Status struct {
	clock  clock.Clock
	logger *slog.Logger

	mu       sync.Mutex
	scanners map[string]*Scanner
}

var (
	_ plugin.Consumer      = (*Status)(nil)
	_ prometheus.Collector = (*Status)(nil)
)

// New returns an empty Status.
func New(config Config) *Status {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Status{
		clock:    config.Clock,
		logger:   config.Logger.With("consumer", Name),
		scanners: make(map[string]*Scanner),
	}
}

func (s *Status) Name() string { return Name }

// scanner returns the entry for event, creating it. Callers hold s.mu.
func (s *Status) scanner(event plugin.Event) *Scanner {
	entry, ok := s.scanners[event.Hostname]
	if !ok {
		entry = &Scanner{Hostname: event.Hostname, Sensors: make(map[string]*Sensor)}
		s.scanners[event.Hostname] = entry
	}
	entry.Projects = event.ProjectIDs()
	entry.LastSeen = s.clock.Now()
	return entry
}

func (entry *Scanner) sensor(mac string) *Sensor {
	sensor, ok := entry.Sensors[mac]
	if !ok {
		sensor = &Sensor{Mac: mac}
		entry.Sensors[mac] = sensor
	}
	return sensor
}

func (s *Status) ConnectionMade(event plugin.Event, connection plugin.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.scanner(event)
	entry.Connected = true
	entry.Address = connection.Address
	entry.ConnectedSince = connection.Time
	return nil
}

func (s *Status) ConnectionLost(event plugin.Event, connection plugin.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.scanner(event)
	entry.Connected = false
	entry.ConnectedSince = connection.Time
	s.logger.Debug("scanner offline", "hostname", event.Hostname, "address", connection.Address)
	return nil
}

func (s *Status) LocationUpdate(event plugin.Event, location protocol.Location) error {
	return nil
}

func (s *Status) StateFeed(event plugin.Event, state plugin.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.scanner(event)
	if state.SensorMac == "" {
		return nil
	}
	sensor := entry.sensor(state.SensorMac)
	if state.HwType != "" {
		sensor.HwType = state.HwType
	}
	switch state.Type {
	case protocol.TypeStateScanning:
		sensor.Scanning = state.Value
	case protocol.TypeStateGyrid:
		sensor.Gyrid = state.Value
	}
	return nil
}

func (s *Status) detection(event plugin.Event, sensorMac string, timestamp float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.scanner(event)
	sensor := entry.sensor(sensorMac)
	sensor.Detections++
	if at := protocol.Time(timestamp); at.After(sensor.LastData) {
		sensor.LastData = at
	}
	return nil
}

func (s *Status) DataFeedBluetoothRaw(event plugin.Event, data protocol.BluetoothDataRaw) error {
	return s.detection(event, data.SensorMac, data.Timestamp)
}

func (s *Status) DataFeedWifiRaw(event plugin.Event, data protocol.WifiDataRaw) error {
	return s.detection(event, data.SensorMac, data.Timestamp)
}

func (s *Status) DataFeedWifiDevRaw(event plugin.Event, data protocol.WifiDevRaw) error {
	return s.detection(event, data.SensorMac, data.Timestamp)
}

func (s *Status) UptimeFeed(event plugin.Event, uptime protocol.Uptime) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.scanner(event)
	entry.GyridStart = protocol.Time(uptime.GyridUptime)
	entry.SystemStart = protocol.Time(uptime.SystemUptime)
	return nil
}

func (s *Status) InfoFeed(event plugin.Event, info protocol.Info) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanner(event)
	return nil
}

func (s *Status) Close() error { return nil }

// Snapshot returns a deep copy of every known scanner, ordered by
// hostname.
func (s *Status) Snapshot() []Scanner {
	s.mu.Lock()
	defer s.mu.Unlock()
	scanners := make([]Scanner, 0, len(s.scanners))
	for _, entry := range s.scanners {
		scanners = append(scanners, entry.clone())
	}
	slices.SortFunc(scanners, func(a, b Scanner) int {
		return strings.Compare(a.Hostname, b.Hostname)
	})
	return scanners
}

// Scanner returns a copy of the status of hostname.
func (s *Status) Scanner(hostname string) (Scanner, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.scanners[hostname]
	if !ok {
		return Scanner{}, false
	}
	return entry.clone(), true
}

func (entry *Scanner) clone() Scanner {
	scanner := *entry
	scanner.Projects = slices.Clone(entry.Projects)
	scanner.Sensors = make(map[string]*Sensor, len(entry.Sensors))
	for mac, sensor := range entry.Sensors {
		copied := *sensor
		scanner.Sensors[mac] = &copied
	}
	return scanner
}
