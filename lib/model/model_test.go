// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package model

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func seconds(v float64) *float64 { return &v }

func TestProjectActiveAtWindow(t *testing.T) {
	t.Parallel()
	project := &Project{ID: "P", Active: true, Start: seconds(100), End: seconds(200)}

	tests := []struct {
		at   int64
		want bool
	}{
		{at: 99, want: false},
		{at: 100, want: true},
		{at: 150, want: true},
		{at: 199, want: true},
		{at: 200, want: false},
		{at: 250, want: false},
	}
	for _, test := range tests {
		if got := project.ActiveAt(time.Unix(test.at, 0)); got != test.want {
			t.Errorf("ActiveAt(%d) = %v, want %v", test.at, got, test.want)
		}
	}
}

func TestProjectOpenBoundsAndInactiveFlag(t *testing.T) {
	t.Parallel()
	open := &Project{ID: "open", Active: true}
	if !open.ActiveAt(time.Unix(0, 0)) || !open.ActiveAt(time.Unix(1<<40, 0)) {
		t.Error("project without bounds should always be active")
	}
	startOnly := &Project{ID: "start", Active: true, Start: seconds(100)}
	if startOnly.ActiveAt(time.Unix(50, 0)) || !startOnly.ActiveAt(time.Unix(1<<40, 0)) {
		t.Error("start-only project window wrong")
	}
	disabled := &Project{ID: "off", Active: false}
	if disabled.ActiveAt(time.Unix(100, 0)) {
		t.Error("inactive project reported active")
	}
}

const sampleSource = `{
	// Two projects sharing one scanner.
	"projects": [
		{"id": "P", "name": "Festival", "start": 150, "end": 250, "locations": ["h1"]},
		{"id": "Q", "start": "2024-05-01T00:00:00Z", "active": false,
		 "disabled_plugins": ["archive"], "locations": ["h1", "h2"],},
	],
	"locations": [
		{"id": "h1", "name": "North gate", "latitude": 51.05, "longitude": 3.72,
		 "sensors": [
			{"mac": "00:11:22:33:44:55", "hw_type": "bluetooth"},
			{"mac": "00:11:22:33:44:66", "hw_type": "wifi", "latitude": 51.06, "longitude": 3.73, "end": 300},
		 ]},
		/* not in any project */
		{"id": "h3", "name": "Depot"},
	],
}`

func TestParse(t *testing.T) {
	t.Parallel()
	snapshot, err := Parse([]byte(sampleSource))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(snapshot.Projects) != 2 || len(snapshot.Locations) != 2 {
		t.Fatalf("got %d projects and %d locations", len(snapshot.Projects), len(snapshot.Locations))
	}
	p := snapshot.Projects["P"]
	if !p.Active || *p.Start != 150 || *p.End != 250 {
		t.Errorf("project P = %+v", p)
	}
	q := snapshot.Projects["Q"]
	if q.Active {
		t.Error("project Q should be inactive")
	}
	if want := float64(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC).Unix()); *q.Start != want {
		t.Errorf("Q start = %g, want %g", *q.Start, want)
	}
	if !q.Disables("archive") || q.Disables("inserver") {
		t.Errorf("Q disabled plugins = %v", q.DisabledPlugins)
	}

	projects := snapshot.ProjectsFor("h1")
	if len(projects) != 2 || projects[0].ID != "P" || projects[1].ID != "Q" {
		t.Errorf("ProjectsFor(h1) = %v", projects)
	}
	if len(snapshot.ProjectsFor("h3")) != 0 {
		t.Error("h3 should belong to no project")
	}

	h1, ok := snapshot.Location("h1")
	if !ok || len(h1.Sensors) != 2 {
		t.Fatalf("location h1 = %+v", h1)
	}
	latitude, _ := h1.Sensors[0].Coordinates(h1)
	if *latitude != 51.05 {
		t.Errorf("sensor without coordinates should inherit the location's, got %g", *latitude)
	}
	latitude, _ = h1.Sensors[1].Coordinates(h1)
	if *latitude != 51.06 {
		t.Errorf("sensor coordinates = %g, want 51.06", *latitude)
	}
}

func TestParseRejectsInvalidWindow(t *testing.T) {
	t.Parallel()
	_, err := Parse([]byte(`{"projects": [{"id": "P", "start": 200, "end": 200}]}`))
	if !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("error = %v, want ErrInvalidWindow", err)
	}
}

func TestParseReportsAllErrors(t *testing.T) {
	t.Parallel()
	_, err := Parse([]byte(`{
		"projects": [{"id": "P", "start": 300, "end": 100}, {"name": "anonymous"}],
		"locations": [{"id": "h1", "sensors": [{"mac": "aa", "hw_type": "zigbee"}]}, {"id": "h1"}]
	}`))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"end must be after start", "projects[1]: id is required", `unknown hw_type "zigbee"`, `location "h1": duplicate id`} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestParseMalformed(t *testing.T) {
	t.Parallel()
	if _, err := Parse([]byte(`{"projects": [`)); err == nil {
		t.Error("expected error for truncated document")
	}
	if _, err := Parse([]byte(`{"projects": [{"id": "P", "start": "yesterday"}]}`)); err == nil {
		t.Error("expected error for unparseable time")
	}
}

func TestFingerprint(t *testing.T) {
	t.Parallel()
	a := Fingerprint([]byte(sampleSource))
	if a != Fingerprint([]byte(sampleSource)) {
		t.Error("fingerprint not deterministic")
	}
	if a == Fingerprint([]byte(sampleSource+" ")) {
		t.Error("fingerprint unchanged after edit")
	}
	if len(a) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex digits", len(a))
	}
}

func TestChangedLocations(t *testing.T) {
	t.Parallel()
	previous, err := Parse([]byte(`{
		"projects": [{"id": "P", "locations": ["h1"]}],
		"locations": [
			{"id": "h1", "name": "gate"},
			{"id": "h2", "name": "depot"},
			{"id": "h3", "name": "removed"}
		]
	}`))
	if err != nil {
		t.Fatalf("Parse previous: %v", err)
	}
	next, err := Parse([]byte(`{
		"projects": [{"id": "P", "locations": ["h1", "h2"]}],
		"locations": [
			{"id": "h1", "name": "gate"},
			{"id": "h2", "name": "depot"},
			{"id": "h4", "name": "new", "sensors": [{"mac": "aa"}]}
		]
	}`))
	if err != nil {
		t.Fatalf("Parse next: %v", err)
	}

	changed := ChangedLocations(previous, next)
	var ids []string
	for _, location := range changed {
		ids = append(ids, location.ID)
	}
	// h1 unchanged; h2 joined a project; h4 is new; h3 removal is not
	// reported.
	if strings.Join(ids, ",") != "h2,h4" {
		t.Errorf("changed = %v, want [h2 h4]", ids)
	}

	if len(ChangedLocations(next, next)) != 0 {
		t.Error("identical snapshots reported changes")
	}
}

func TestChangedLocationsSensorEdit(t *testing.T) {
	t.Parallel()
	previous, _ := Parse([]byte(`{"locations": [{"id": "h1", "sensors": [{"mac": "aa", "latitude": 1, "longitude": 2}]}]}`))
	next, _ := Parse([]byte(`{"locations": [{"id": "h1", "sensors": [{"mac": "aa", "latitude": 1, "longitude": 3}]}]}`))
	if changed := ChangedLocations(previous, next); len(changed) != 1 {
		t.Errorf("sensor move not detected: %v", changed)
	}
}

func TestStateRoundTrip(t *testing.T) {
	t.Parallel()
	snapshot, err := Parse([]byte(sampleSource))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	path := filepath.Join(t.TempDir(), "state", "projects.state")
	if err := WriteState(path, snapshot); err != nil {
		t.Fatalf("WriteState: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}

	loaded, err := ReadState(path)
	if err != nil {
		t.Fatalf("ReadState: %v", err)
	}
	if len(ChangedLocations(snapshot, loaded)) != 0 || len(ChangedLocations(loaded, snapshot)) != 0 {
		t.Error("locations differ after round trip")
	}
	p := loaded.Projects["P"]
	if p == nil || *p.Start != 150 || *p.End != 250 || !p.Active {
		t.Errorf("project P after round trip = %+v", p)
	}
	if got := loaded.ProjectsFor("h1"); len(got) != 2 {
		t.Errorf("index not rebuilt: ProjectsFor(h1) = %v", got)
	}
}

func TestReadStateMissingAndCorrupt(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if _, err := ReadState(filepath.Join(dir, "absent")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file error = %v, want os.ErrNotExist", err)
	}
	corrupt := filepath.Join(dir, "corrupt")
	if err := os.WriteFile(corrupt, []byte("definitely not zstd"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadState(corrupt); err == nil {
		t.Error("corrupt state file accepted")
	}
}
