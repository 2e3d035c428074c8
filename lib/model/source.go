// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package model

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tidwall/jsonc"
	"github.com/zeebo/blake3"

	"github.com/Roel/Gyrid-server-sub000/lib/protocol"
)

// ErrInvalidWindow is returned for a project or sensor whose end does
// not come after its start.
var ErrInvalidWindow = errors.New("model: end must be after start")

// source mirrors the JSONC document layout:
//
//	{
//	  "projects": [
//	    {"id": "P", "active": true, "start": "2024-05-01T00:00:00Z",
//	     "locations": ["scanner-01"], "disabled_plugins": ["archive"]}
//	  ],
//	  "locations": [
//	    {"id": "scanner-01", "name": "North gate", "latitude": 51.05,
//	     "longitude": 3.72,
//	     "sensors": [{"mac": "00:11:22:33:44:55", "hw_type": "bluetooth"}]}
//	  ]
//	}
type source struct {
	Projects  []sourceProject  `json:"projects"`
	Locations []sourceLocation `json:"locations"`
}

type sourceProject struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Active          *bool      `json:"active"`
	Start           sourceTime `json:"start"`
	End             sourceTime `json:"end"`
	DisabledPlugins []string   `json:"disabled_plugins"`
	Locations       []string   `json:"locations"`
}

type sourceLocation struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Latitude    *float64       `json:"latitude"`
	Longitude   *float64       `json:"longitude"`
	Sensors     []sourceSensor `json:"sensors"`
}

type sourceSensor struct {
	MAC       string       `json:"mac"`
	HwType    HardwareType `json:"hw_type"`
	Latitude  *float64     `json:"latitude"`
	Longitude *float64     `json:"longitude"`
	Start     sourceTime   `json:"start"`
	End       sourceTime   `json:"end"`
}

// sourceTime accepts UNIX seconds or an RFC 3339 string. null or an
// absent field leaves the bound open.
type sourceTime struct {
	seconds *float64
}

func (s *sourceTime) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		s.seconds = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339, text)
		if err != nil {
			return fmt.Errorf("time %q: %w", text, err)
		}
		seconds := protocol.Timestamp(parsed)
		s.seconds = &seconds
		return nil
	}
	var seconds float64
	if err := json.Unmarshal(data, &seconds); err != nil {
		return fmt.Errorf("time must be UNIX seconds or RFC 3339: %w", err)
	}
	s.seconds = &seconds
	return nil
}

// Parse strips JSONC comments and trailing commas from data, decodes
// the projects and locations it describes and validates them. Every
// validation problem is reported.
func Parse(data []byte) (*Snapshot, error) {
	var doc source
	if err := json.Unmarshal(jsonc.ToJSON(data), &doc); err != nil {
		return nil, fmt.Errorf("parsing projects: %w", err)
	}

	var errs []error
	projects := make([]*Project, 0, len(doc.Projects))
	seenProjects := make(map[string]bool)
	for index, p := range doc.Projects {
		if p.ID == "" {
			errs = append(errs, fmt.Errorf("projects[%d]: id is required", index))
			continue
		}
		if seenProjects[p.ID] {
			errs = append(errs, fmt.Errorf("project %q: duplicate id", p.ID))
			continue
		}
		seenProjects[p.ID] = true
		if err := checkWindow(p.Start.seconds, p.End.seconds); err != nil {
			errs = append(errs, fmt.Errorf("project %q: %w", p.ID, err))
		}
		project := &Project{
			ID:              p.ID,
			Name:            p.Name,
			Active:          p.Active == nil || *p.Active,
			Start:           p.Start.seconds,
			End:             p.End.seconds,
			DisabledPlugins: p.DisabledPlugins,
			Locations:       p.Locations,
		}
		projects = append(projects, project)
	}

	locations := make([]*Location, 0, len(doc.Locations))
	seenLocations := make(map[string]bool)
	for index, l := range doc.Locations {
		if l.ID == "" {
			errs = append(errs, fmt.Errorf("locations[%d]: id is required", index))
			continue
		}
		if seenLocations[l.ID] {
			errs = append(errs, fmt.Errorf("location %q: duplicate id", l.ID))
			continue
		}
		seenLocations[l.ID] = true
		location := &Location{
			ID:          l.ID,
			Name:        l.Name,
			Description: l.Description,
			Latitude:    l.Latitude,
			Longitude:   l.Longitude,
		}
		seenSensors := make(map[string]bool)
		for _, s := range l.Sensors {
			if s.MAC == "" {
				errs = append(errs, fmt.Errorf("location %q: sensor mac is required", l.ID))
				continue
			}
			if seenSensors[s.MAC] {
				errs = append(errs, fmt.Errorf("location %q: duplicate sensor %s", l.ID, s.MAC))
				continue
			}
			seenSensors[s.MAC] = true
			if s.HwType != "" && s.HwType != HardwareBluetooth && s.HwType != HardwareWifi {
				errs = append(errs, fmt.Errorf("location %q sensor %s: unknown hw_type %q", l.ID, s.MAC, s.HwType))
			}
			if err := checkWindow(s.Start.seconds, s.End.seconds); err != nil {
				errs = append(errs, fmt.Errorf("location %q sensor %s: %w", l.ID, s.MAC, err))
			}
			location.Sensors = append(location.Sensors, Sensor{
				MAC:       s.MAC,
				HwType:    s.HwType,
				Latitude:  s.Latitude,
				Longitude: s.Longitude,
				Start:     s.Start.seconds,
				End:       s.End.seconds,
			})
		}
		locations = append(locations, location)
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return NewSnapshot(projects, locations), nil
}

func checkWindow(start, end *float64) error {
	if start != nil && end != nil && *end <= *start {
		return fmt.Errorf("%w (start %g, end %g)", ErrInvalidWindow, *start, *end)
	}
	return nil
}

// ReadFile reads and parses a JSONC source file. The returned
// fingerprint identifies the file content.
func ReadFile(path string) (*Snapshot, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("reading %s: %w", path, err)
	}
	snapshot, err := Parse(data)
	if err != nil {
		return nil, Fingerprint(data), fmt.Errorf("%s: %w", path, err)
	}
	return snapshot, Fingerprint(data), nil
}

// Fingerprint returns the hex BLAKE3 digest of source bytes. The
// reloader compares fingerprints to skip unchanged files.
func Fingerprint(data []byte) string {
	digest := blake3.Sum256(data)
	return hex.EncodeToString(digest[:])
}
