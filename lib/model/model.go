// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package model

import (
	"maps"
	"slices"
	"time"

	"github.com/Roel/Gyrid-server-sub000/lib/protocol"
)

// HardwareType is the radio type of a sensor.
type HardwareType string

const (
	HardwareBluetooth HardwareType = "bluetooth"
	HardwareWifi      HardwareType = "wifi"
)

// Project groups scanner locations for a period of time. Times are
// UNIX seconds; a nil bound is open.
type Project struct {
	ID              string   `cbor:"id"`
	Name            string   `cbor:"name,omitempty"`
	Active          bool     `cbor:"active"`
	Start           *float64 `cbor:"start,omitempty"`
	End             *float64 `cbor:"end,omitempty"`
	DisabledPlugins []string `cbor:"disabled_plugins,omitempty"`

	// Locations lists the hostnames of the project's scanners.
	Locations []string `cbor:"locations,omitempty"`
}

// ActiveAt reports whether the project is active at t: the Active
// flag is set and t falls within [Start, End).
func (p *Project) ActiveAt(t time.Time) bool {
	if !p.Active {
		return false
	}
	seconds := protocol.Timestamp(t)
	if p.Start != nil && seconds < *p.Start {
		return false
	}
	if p.End != nil && seconds >= *p.End {
		return false
	}
	return true
}

// Disables reports whether the project opts out of the named plugin.
func (p *Project) Disables(plugin string) bool {
	return slices.Contains(p.DisabledPlugins, plugin)
}

// Location is the place a scanner is installed, identified by the
// scanner's hostname.
type Location struct {
	ID          string   `cbor:"id"`
	Name        string   `cbor:"name,omitempty"`
	Description string   `cbor:"description,omitempty"`
	Latitude    *float64 `cbor:"latitude,omitempty"`
	Longitude   *float64 `cbor:"longitude,omitempty"`
	Sensors     []Sensor `cbor:"sensors,omitempty"`
}

// Sensor is one radio attached to a scanner, identified by its MAC
// address.
type Sensor struct {
	MAC       string       `cbor:"mac"`
	HwType    HardwareType `cbor:"hw_type,omitempty"`
	Latitude  *float64     `cbor:"latitude,omitempty"`
	Longitude *float64     `cbor:"longitude,omitempty"`
	Start     *float64     `cbor:"start,omitempty"`
	End       *float64     `cbor:"end,omitempty"`
}

// Coordinates returns the sensor's position, falling back to its
// location's when the sensor has none of its own.
func (s Sensor) Coordinates(location *Location) (latitude, longitude *float64) {
	if s.Latitude != nil && s.Longitude != nil {
		return s.Latitude, s.Longitude
	}
	return location.Latitude, location.Longitude
}

// LocationMessage returns the scanner-scope location record sent to
// plugins.
func (l *Location) LocationMessage() protocol.Location {
	return protocol.Location{
		Scope:       "scanner",
		Name:        l.Name,
		Description: l.Description,
		Latitude:    l.Latitude,
		Longitude:   l.Longitude,
	}
}

// SensorMessage returns the sensor-scope location record for s.
func (l *Location) SensorMessage(s Sensor) protocol.Location {
	latitude, longitude := s.Coordinates(l)
	return protocol.Location{
		Scope:     "sensor",
		SensorMac: s.MAC,
		Name:      l.Name,
		Latitude:  latitude,
		Longitude: longitude,
		Start:     s.Start,
		End:       s.End,
	}
}

// Snapshot is an immutable, validated set of projects and locations.
// Snapshots are never modified after construction; a reload builds a
// new one.
type Snapshot struct {
	Projects  map[string]*Project  `cbor:"projects"`
	Locations map[string]*Location `cbor:"locations"`

	byHostname map[string][]*Project
}

// NewSnapshot indexes projects and locations. Callers are expected to
// have validated them; see Parse.
func NewSnapshot(projects []*Project, locations []*Location) *Snapshot {
	snapshot := &Snapshot{
		Projects:  make(map[string]*Project, len(projects)),
		Locations: make(map[string]*Location, len(locations)),
	}
	for _, project := range projects {
		snapshot.Projects[project.ID] = project
	}
	for _, location := range locations {
		snapshot.Locations[location.ID] = location
	}
	snapshot.index()
	return snapshot
}

// Empty returns a snapshot with no projects and no locations. Every
// scanner is unassigned.
func Empty() *Snapshot {
	return NewSnapshot(nil, nil)
}

func (s *Snapshot) index() {
	s.byHostname = make(map[string][]*Project)
	for _, id := range slices.Sorted(maps.Keys(s.Projects)) {
		project := s.Projects[id]
		for _, hostname := range project.Locations {
			s.byHostname[hostname] = append(s.byHostname[hostname], project)
		}
	}
}

// ProjectsFor returns every project that lists hostname, active or
// not, ordered by project ID.
func (s *Snapshot) ProjectsFor(hostname string) []*Project {
	return s.byHostname[hostname]
}

// Location returns the location for hostname.
func (s *Snapshot) Location(hostname string) (*Location, bool) {
	location, ok := s.Locations[hostname]
	return location, ok
}
