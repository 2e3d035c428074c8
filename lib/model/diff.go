// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package model

import (
	"maps"
	"slices"
)

// ChangedLocations returns the locations of next that are new, whose
// fields or sensors differ from previous, or whose set of owning
// projects changed, ordered by ID. Locations present only in previous
// are not reported: removing a scanner from the source does not
// notify plugins.
func ChangedLocations(previous, next *Snapshot) []*Location {
	var changed []*Location
	for _, id := range slices.Sorted(maps.Keys(next.Locations)) {
		location := next.Locations[id]
		old, existed := previous.Locations[id]
		if !existed || !locationEqual(old, location) || !sameProjects(previous.ProjectsFor(id), next.ProjectsFor(id)) {
			changed = append(changed, location)
		}
	}
	return changed
}

func locationEqual(a, b *Location) bool {
	return a.ID == b.ID &&
		a.Name == b.Name &&
		a.Description == b.Description &&
		floatPointerEqual(a.Latitude, b.Latitude) &&
		floatPointerEqual(a.Longitude, b.Longitude) &&
		slices.EqualFunc(a.Sensors, b.Sensors, sensorEqual)
}

func sensorEqual(a, b Sensor) bool {
	return a.MAC == b.MAC &&
		a.HwType == b.HwType &&
		floatPointerEqual(a.Latitude, b.Latitude) &&
		floatPointerEqual(a.Longitude, b.Longitude) &&
		floatPointerEqual(a.Start, b.Start) &&
		floatPointerEqual(a.End, b.End)
}

func sameProjects(a, b []*Project) bool {
	return slices.EqualFunc(a, b, func(x, y *Project) bool { return x.ID == y.ID })
}

func floatPointerEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
