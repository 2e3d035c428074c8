// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/Roel/Gyrid-server-sub000/lib/config"
	"github.com/Roel/Gyrid-server-sub000/lib/metrics"
	"github.com/Roel/Gyrid-server-sub000/lib/process"
	"github.com/Roel/Gyrid-server-sub000/lib/routing"
	"github.com/Roel/Gyrid-server-sub000/lib/session"
	"github.com/Roel/Gyrid-server-sub000/lib/tlsutil"
	"github.com/Roel/Gyrid-server-sub000/lib/version"
	"github.com/Roel/Gyrid-server-sub000/transport"
)

const binary = "gyrid-server"

func main() {
	if err := run(); err != nil {
		process.Fatal(binary, err)
	}
}

func run() error {
	var (
		configPath  string
		logLevel    string
		showVersion bool
	)
	flagSet := pflag.NewFlagSet(binary, pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to the YAML config file (default: $"+config.EnvVar+")")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return process.Usage("%v", err)
	}
	if showVersion {
		version.Print(os.Stdout, binary)
		return nil
	}
	if flagSet.NArg() > 0 {
		return process.Usage("unexpected argument: %s", flagSet.Arg(0))
	}

	level, err := parseLevel(logLevel)
	if err != nil {
		return process.Usage("--log-level: %v", err)
	}

	var cfg *config.Config
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	logger := newLogger(level)
	slog.SetDefault(logger)
	metrics.SetBuildInfo(version.Short())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server, err := newServer(cfg, metrics.Registry, logger)
	if err != nil {
		return err
	}
	logger.Info("gyrid-server starting", "version", version.Info(), "listen", server.Address())
	return server.Run(ctx)
}

// gyridServer is everything one server process runs.
type gyridServer struct {
	cfg       *config.Config
	logger    *slog.Logger
	consumers *consumers
	router    *routing.Router
	reloader  *routing.Reloader
	sessions  *session.Server
	listener  *transport.TCPListener
}

// newServer builds the consumers, loads the routing data and opens
// the scanner listener. Nothing runs until Run.
func newServer(cfg *config.Config, collectors prometheus.Registerer, logger *slog.Logger) (*gyridServer, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	built, err := buildConsumers(cfg, collectors, logger)
	if err != nil {
		return nil, err
	}

	router := routing.New(routing.Config{
		Registry:           built.registry,
		UnassignedDisabled: cfg.Projects.Unassigned.DisablePlugins,
		Logger:             logger,
	})
	reloader := routing.NewReloader(routing.ReloaderConfig{
		Router:    router,
		Source:    cfg.Projects.Source,
		StateFile: cfg.Projects.StateFile,
		Interval:  cfg.Projects.ReloadInterval,
		Logger:    logger,
	})
	if err := reloader.Load(); err != nil {
		logger.Warn("no routing data available, starting without projects", "error", err)
	}

	tlsConfig, err := tlsutil.ServerConfig(cfg.Listen.TLS)
	if err != nil {
		built.close(logger)
		return nil, fmt.Errorf("listener tls: %w", err)
	}
	listener, err := transport.NewTCPListener(cfg.Listen.Address, tlsConfig, logger)
	if err != nil {
		built.close(logger)
		return nil, err
	}

	return &gyridServer{
		cfg:       cfg,
		logger:    logger,
		consumers: built,
		router:    router,
		reloader:  reloader,
		listener:  listener,
		sessions: session.NewServer(session.Config{
			Router:            router,
			KeepaliveInterval: cfg.Keepalive.Interval,
			TimeoutFactor:     cfg.Keepalive.TimeoutFactor,
			MaxFrameLength:    cfg.MaxFrameLength,
			Logger:            logger,
		}),
	}, nil
}

// Address is the scanner listener's address.
func (s *gyridServer) Address() string { return s.listener.Address() }

// Run serves scanners until ctx is cancelled. Sessions are drained
// (consumers see every ConnectionLost) before the background loops
// stop, and the consumers are closed last.
func (s *gyridServer) Run(ctx context.Context) error {
	defer s.consumers.close(s.logger)

	background, cancel := context.WithCancel(context.Background())
	defer cancel()

	var workers sync.WaitGroup
	workers.Add(2)
	go func() {
		defer workers.Done()
		s.reloader.Run(background)
	}()
	go func() {
		defer workers.Done()
		if err := s.consumers.run(background); err != nil {
			s.logger.Error("consumer loop failed", "error", err)
		}
	}()
	if address := s.cfg.Metrics.Address; address != "" {
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := metrics.Serve(background, address, s.logger); err != nil {
				s.logger.Error("metrics endpoint failed", "error", err)
			}
		}()
	}

	err := s.listener.Serve(ctx, s.sessions)
	s.logger.Info("listener stopped, shutting down")
	cancel()
	workers.Wait()
	return err
}
