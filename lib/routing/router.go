// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package routing

import (
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/Roel/Gyrid-server-sub000/lib/metrics"
	"github.com/Roel/Gyrid-server-sub000/lib/model"
	"github.com/Roel/Gyrid-server-sub000/lib/plugin"
)

// Target is one consumer that should receive an event, with the
// projects under which it receives it.
type Target struct {
	Consumer plugin.Consumer
	Projects []*model.Project
}

// Config holds the dependencies of a Router.
type Config struct {
	// Registry supplies the enabled consumers. Required.
	Registry *plugin.Registry

	// Snapshot is the initial routing data. Nil means no projects
	// and no locations.
	Snapshot *model.Snapshot

	// UnassignedDisabled lists global consumers that do not receive
	// events from scanners outside every project.
	UnassignedDisabled []string

	Logger *slog.Logger
}

// Router decides which consumers see an event and delivers it to
// them. The routing snapshot is swapped atomically on reload; a
// dispatch in progress keeps the snapshot it started with.
type Router struct {
	registry           *plugin.Registry
	snapshot           atomic.Pointer[model.Snapshot]
	unassignedDisabled []string
	logger             *slog.Logger
}

// New creates a Router.
func New(config Config) *Router {
	if config.Registry == nil {
		panic("routing.New: Registry is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	snapshot := config.Snapshot
	if snapshot == nil {
		snapshot = model.Empty()
	}
	router := &Router{
		registry:           config.Registry,
		unassignedDisabled: config.UnassignedDisabled,
		logger:             logger,
	}
	router.snapshot.Store(snapshot)
	return router
}

// Snapshot returns the current routing data.
func (r *Router) Snapshot() *model.Snapshot {
	return r.snapshot.Load()
}

// SetSnapshot replaces the routing data.
func (r *Router) SetSnapshot(snapshot *model.Snapshot) {
	r.snapshot.Store(snapshot)
}

// ActivePlugins returns the consumers that receive events from
// hostname at time t, in registration order.
//
// A scanner listed by at least one project is routed by project: a
// project-scoped consumer is included with every project that is
// active at t and does not disable it, and is left out when there is
// none. Global consumers are included with the same project filtering,
// except that a global consumer disabled by every project active at t
// is left out. Outside all project windows global consumers still
// receive the scanner's events.
//
// A scanner listed by no project (including an unknown hostname) is
// unassigned: only global consumers receive its events, minus those
// named in UnassignedDisabled.
func (r *Router) ActivePlugins(hostname string, t time.Time) []Target {
	projects := r.snapshot.Load().ProjectsFor(hostname)
	var active []*model.Project
	for _, project := range projects {
		if project.ActiveAt(t) {
			active = append(active, project)
		}
	}

	var targets []Target
	for _, entry := range r.registry.Enabled() {
		name := entry.Consumer.Name()
		if len(projects) == 0 {
			if entry.Options.Global && !slices.Contains(r.unassignedDisabled, name) {
				targets = append(targets, Target{Consumer: entry.Consumer})
			}
			continue
		}

		var included []*model.Project
		for _, project := range active {
			if !project.Disables(name) {
				included = append(included, project)
			}
		}
		if len(included) > 0 || (entry.Options.Global && len(active) == 0) {
			targets = append(targets, Target{Consumer: entry.Consumer, Projects: included})
		}
	}
	return targets
}

// Dispatch delivers one event from hostname, occurring at t, to every
// active consumer. method names the consumer method for logs. A
// consumer that returns an error or panics is logged and counted;
// delivery continues with the next consumer.
func (r *Router) Dispatch(hostname string, t time.Time, cached bool, method string, call func(plugin.Consumer, plugin.Event) error) {
	for _, target := range r.ActivePlugins(hostname, t) {
		event := plugin.Event{Hostname: hostname, Projects: target.Projects, Cached: cached}
		if err := safeCall(target.Consumer, event, call); err != nil {
			name := target.Consumer.Name()
			metrics.ConsumerErrors.WithLabelValues(name).Inc()
			r.logger.Error("consumer failed",
				"consumer", name,
				"method", method,
				"hostname", hostname,
				"error", err,
			)
		}
	}
}

func safeCall(consumer plugin.Consumer, event plugin.Event, call func(plugin.Consumer, plugin.Event) error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("panic: %v", recovered)
		}
	}()
	return call(consumer, event)
}
