// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Options control how a registered consumer is routed.
type Options struct {
	// Global consumers see every scanner, whether or not it belongs
	// to an active project.
	Global bool

	// Enabled consumers receive events. A disabled consumer stays
	// registered and can be enabled later.
	Enabled bool
}

// Registration is a consumer together with its options.
type Registration struct {
	Consumer Consumer
	Options  Options
}

// Registry is the set of consumers known to the server, in
// registration order. It is built at startup and passed to the router;
// there is no package-level registry.
type Registry struct {
	mu      sync.RWMutex
	entries []Registration
	logger  *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{logger: logger}
}

// Register adds a consumer. Panics if a consumer with the same name
// is already registered.
func (r *Registry) Register(consumer Consumer, options Options) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := consumer.Name()
	if r.indexLocked(name) >= 0 {
		panic(fmt.Sprintf("plugin.Registry: duplicate consumer %q", name))
	}
	r.entries = append(r.entries, Registration{Consumer: consumer, Options: options})
	r.logger.Info("consumer registered", "consumer", name, "global", options.Global, "enabled", options.Enabled)
}

// Replace swaps the consumer registered under name for consumer,
// keeping its options and position. The old consumer is closed after
// the swap; its close error or panic is logged, not returned. The new
// consumer must report the same name.
func (r *Registry) Replace(name string, consumer Consumer) error {
	if consumer.Name() != name {
		return fmt.Errorf("replacing %q: new consumer is named %q", name, consumer.Name())
	}
	r.mu.Lock()
	index := r.indexLocked(name)
	if index < 0 {
		r.mu.Unlock()
		return fmt.Errorf("replacing %q: %w", name, ErrNotRegistered)
	}
	old := r.entries[index].Consumer
	r.entries[index].Consumer = consumer
	r.mu.Unlock()

	r.logger.Info("consumer replaced", "consumer", name)
	if err := safeClose(old); err != nil {
		r.logger.Error("closing replaced consumer", "consumer", name, "error", err)
	}
	return nil
}

// SetEnabled enables or disables the named consumer.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	index := r.indexLocked(name)
	if index < 0 {
		return fmt.Errorf("%q: %w", name, ErrNotRegistered)
	}
	r.entries[index].Options.Enabled = enabled
	return nil
}

// ErrNotRegistered is returned for operations on an unknown consumer
// name.
var ErrNotRegistered = errors.New("consumer not registered")

// Enabled returns the enabled registrations in registration order.
// The returned slice is a copy.
func (r *Registry) Enabled() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	enabled := make([]Registration, 0, len(r.entries))
	for _, entry := range r.entries {
		if entry.Options.Enabled {
			enabled = append(enabled, entry)
		}
	}
	return enabled
}

// Lookup returns the registration for name.
func (r *Registry) Lookup(name string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	index := r.indexLocked(name)
	if index < 0 {
		return Registration{}, false
	}
	return r.entries[index], true
}

// Close closes every registered consumer, enabled or not, and
// returns their errors joined.
func (r *Registry) Close() error {
	r.mu.Lock()
	entries := r.entries
	r.entries = nil
	r.mu.Unlock()

	var errs []error
	for _, entry := range entries {
		if err := safeClose(entry.Consumer); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", entry.Consumer.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) indexLocked(name string) int {
	for i, entry := range r.entries {
		if entry.Consumer.Name() == name {
			return i
		}
	}
	return -1
}

func safeClose(consumer Consumer) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("panic: %v", recovered)
		}
	}()
	return consumer.Close()
}
