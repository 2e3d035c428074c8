// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics owns the Prometheus registry of gyrid-server and the
// collectors shared between packages. Plugins that export their own
// series register them on [Registry].
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gyrid"

var (
	Registry = prometheus.NewRegistry()

	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections_active",
		Help:      "Scanner connections currently open.",
	})

	FramesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_received_total",
		Help:      "Frames read from scanner connections.",
	})

	FramesDiscarded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_discarded_total",
		Help:      "Frames that could not be decoded and were dropped.",
	})

	ForwarderCached = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "forwarder_cached_messages",
		Help:      "Messages waiting in the disk spill cache.",
	}, []string{"link"})

	ForwarderInflight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "forwarder_inflight_messages",
		Help:      "Messages sent and not yet acknowledged.",
	}, []string{"link"})

	ForwarderResent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "forwarder_resent_total",
		Help:      "Unacknowledged messages sent again.",
	}, []string{"link"})

	ForwarderDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "forwarder_dropped_total",
		Help:      "Messages dropped after exceeding the retry ceiling.",
	}, []string{"link"})

	ConsumerErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "consumer_errors_total",
		Help:      "Events a consumer failed to handle (error or panic).",
	}, []string{"consumer"})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build info (constant 1, labeled by version).",
	}, []string{"version"})
)

func init() {
	Registry.MustRegister(
		ConnectionsActive,
		FramesReceived,
		FramesDiscarded,
		ForwarderCached,
		ForwarderInflight,
		ForwarderResent,
		ForwarderDropped,
		ConsumerErrors,
		buildInfo,
		collectors.NewGoCollector(),
	)
}

// Handler exposes the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo is called once at startup.
func SetBuildInfo(version string) {
	buildInfo.WithLabelValues(version).Set(1)
}

// Serve serves /metrics on address until ctx is cancelled.
func Serve(ctx context.Context, address string, logger *slog.Logger) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("metrics listener on %s: %w", address, err)
	}
	return ServeListener(ctx, listener, logger)
}

// ServeListener is Serve on an existing listener.
func ServeListener(ctx context.Context, listener net.Listener, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	})
	defer stop()

	logger.Info("serving metrics", "address", listener.Addr().String())
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
