// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Roel/Gyrid-server-sub000/lib/config"
	"github.com/Roel/Gyrid-server-sub000/lib/plugin"
	"github.com/Roel/Gyrid-server-sub000/lib/tlsutil"
	"github.com/Roel/Gyrid-server-sub000/plugins/archive"
	"github.com/Roel/Gyrid-server-sub000/plugins/inserver"
	"github.com/Roel/Gyrid-server-sub000/plugins/status"
	"github.com/Roel/Gyrid-server-sub000/transport"
)

// consumers is what buildConsumers produced: the registry plus typed
// handles on the plugins that need more than event delivery.
type consumers struct {
	registry *plugin.Registry
	status   *status.Status
	archive  *archive.Archive
	inserver *inserver.InServer
}

// buildConsumers constructs and registers every enabled plugin. The
// status collector is registered on collectors. On error, plugins
// already opened are closed.
func buildConsumers(cfg *config.Config, collectors prometheus.Registerer, logger *slog.Logger) (*consumers, error) {
	built := &consumers{registry: plugin.NewRegistry(logger)}
	options := func(p config.PluginOptions) plugin.Options {
		return plugin.Options{Enabled: p.Enabled, Global: p.Global}
	}

	if cfg.Plugins.Status.Enabled {
		built.status = status.New(status.Config{Logger: logger})
		if err := collectors.Register(built.status); err != nil {
			return nil, fmt.Errorf("registering status collector: %w", err)
		}
		built.registry.Register(built.status, options(cfg.Plugins.Status.PluginOptions))
	}

	if cfg.Plugins.Archive.Enabled {
		store, err := archive.Open(archive.Config{
			Path:      cfg.Plugins.Archive.Path,
			QueueSize: cfg.Plugins.Archive.QueueSize,
			BatchSize: cfg.Plugins.Archive.BatchSize,
			Logger:    logger,
		})
		if err != nil {
			built.registry.Close()
			return nil, err
		}
		built.archive = store
		built.registry.Register(store, options(cfg.Plugins.Archive.PluginOptions))
	}

	if section := cfg.Plugins.InServer; section.Enabled {
		tlsConfig, err := tlsutil.ClientConfig(section.TLS)
		if err != nil {
			built.registry.Close()
			return nil, fmt.Errorf("inserver tls: %w", err)
		}
		forwarder, err := inserver.New(inserver.Config{
			Address:        section.Address,
			Dialer:         &transport.TCPDialer{Timeout: 15 * time.Second, TLSConfig: tlsConfig},
			CacheDir:       section.CacheDir,
			Keepalive:      section.Keepalive,
			MaxMisses:      cfg.Forward.MaxMisses,
			OverflowFactor: cfg.Forward.OverflowFactor,
			ReplayBatch:    cfg.Forward.ReplayBatch,
			MaxFrameLength: cfg.MaxFrameLength,
			QueueSize:      section.QueueSize,
			Logger:         logger,
		})
		if err != nil {
			built.registry.Close()
			return nil, err
		}
		built.inserver = forwarder
		built.registry.Register(forwarder, options(section.PluginOptions))
	}

	return built, nil
}

// run runs the background loops of the plugins that have one, until
// ctx is cancelled.
func (c *consumers) run(ctx context.Context) error {
	if c.inserver == nil {
		return nil
	}
	return c.inserver.Run(ctx)
}

// close closes every plugin, after which no event may be delivered.
func (c *consumers) close(logger *slog.Logger) {
	if err := c.registry.Close(); err != nil {
		logger.Error("closing consumers", "error", err)
	}
}
