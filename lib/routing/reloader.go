// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package routing

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/Roel/Gyrid-server-sub000/lib/clock"
	"github.com/Roel/Gyrid-server-sub000/lib/model"
	"github.com/Roel/Gyrid-server-sub000/lib/plugin"
)

// DefaultReloadInterval is how often the source file is re-read when
// ReloaderConfig.Interval is zero.
const DefaultReloadInterval = 10 * time.Second

// ReloaderConfig holds the dependencies of a Reloader.
type ReloaderConfig struct {
	Router *Router

	// Source is the JSONC project/location file.
	Source string

	// StateFile persists the last accepted snapshot. Empty disables
	// persistence.
	StateFile string

	Interval time.Duration
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Reloader keeps the router's snapshot in sync with the source file
// and tells consumers about new and changed locations.
type Reloader struct {
	router    *Router
	source    string
	stateFile string
	interval  time.Duration
	clock     clock.Clock
	logger    *slog.Logger

	// fingerprint of the last source content examined, accepted or
	// not. Only touched by Load, Reload and Run's goroutine.
	fingerprint string
}

// NewReloader creates a Reloader.
func NewReloader(config ReloaderConfig) *Reloader {
	if config.Interval <= 0 {
		config.Interval = DefaultReloadInterval
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Reloader{
		router:    config.Router,
		source:    config.Source,
		stateFile: config.StateFile,
		interval:  config.Interval,
		clock:     config.Clock,
		logger:    config.Logger,
	}
}

// Load performs the startup load. The source file is preferred; when
// it cannot be read or is invalid, the persisted state file is used
// instead. When neither is usable the router keeps an empty snapshot
// and the error is returned for the caller to log. Locations in the
// loaded snapshot are announced to consumers as new.
func (r *Reloader) Load() error {
	_, err := r.Reload()
	if err == nil {
		return nil
	}
	if r.stateFile == "" {
		return err
	}
	snapshot, stateErr := model.ReadState(r.stateFile)
	if stateErr != nil {
		if errors.Is(stateErr, os.ErrNotExist) {
			return err
		}
		return errors.Join(err, stateErr)
	}
	r.logger.Warn("project source unusable, using persisted state",
		"source", r.source,
		"state_file", r.stateFile,
		"error", err,
	)
	r.apply(snapshot)
	return nil
}

// Run reloads the source every interval until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) {
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Reload(); err != nil {
				r.logger.Error("reloading projects", "source", r.source, "error", err)
			}
		}
	}
}

// Reload re-reads the source file. It returns false without error
// when the content is unchanged since the last call. An unreadable or
// invalid file leaves the current snapshot in place and returns the
// error; the same invalid content is not reported twice.
func (r *Reloader) Reload() (bool, error) {
	snapshot, fingerprint, err := model.ReadFile(r.source)
	if fingerprint != "" && fingerprint == r.fingerprint {
		return false, nil
	}
	if fingerprint != "" {
		r.fingerprint = fingerprint
	}
	if err != nil {
		return false, err
	}

	r.apply(snapshot)
	if r.stateFile != "" {
		if err := model.WriteState(r.stateFile, snapshot); err != nil {
			r.logger.Warn("persisting project state", "state_file", r.stateFile, "error", err)
		}
	}
	r.logger.Info("projects loaded",
		"source", r.source,
		"projects", len(snapshot.Projects),
		"locations", len(snapshot.Locations),
	)
	return true, nil
}

// apply swaps in snapshot and announces each new or changed location
// to the consumers active for it now: one scanner-scope update, then
// one sensor-scope update per sensor.
func (r *Reloader) apply(snapshot *model.Snapshot) {
	previous := r.router.Snapshot()
	changed := model.ChangedLocations(previous, snapshot)
	r.router.SetSnapshot(snapshot)

	now := r.clock.Now()
	for _, location := range changed {
		scanner := location.LocationMessage()
		r.router.Dispatch(location.ID, now, false, "LocationUpdate", func(c plugin.Consumer, e plugin.Event) error {
			return c.LocationUpdate(e, scanner)
		})
		for _, sensor := range location.Sensors {
			update := location.SensorMessage(sensor)
			r.router.Dispatch(location.ID, now, false, "LocationUpdate", func(c plugin.Consumer, e plugin.Event) error {
				return c.LocationUpdate(e, update)
			})
		}
	}
}
