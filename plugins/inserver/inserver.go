// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package inserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Roel/Gyrid-server-sub000/lib/clock"
	"github.com/Roel/Gyrid-server-sub000/lib/forward"
	"github.com/Roel/Gyrid-server-sub000/lib/hwinfo"
	"github.com/Roel/Gyrid-server-sub000/lib/plugin"
	"github.com/Roel/Gyrid-server-sub000/lib/protocol"
	"github.com/Roel/Gyrid-server-sub000/transport"
)

const Name = "inserver"

// SpillFileName is the name of the spill cache inside CacheDir.
const SpillFileName = "inserver.cache"

// DefaultQueueSize is the default bound on events waiting to be sent.
const DefaultQueueSize = 4096

// Reconnect backoff bounds.
const (
	MinBackoff = time.Second
	MaxBackoff = 30 * time.Second
)

// Config configures an InServer.
type Config struct {
	// Address of the upstream InServer (host:port). Required.
	Address string

	// Dialer opens the upstream connection. Default: plain TCP with a
	// 15 second timeout.
	Dialer transport.Dialer

	// CacheDir holds the spill cache. Required.
	CacheDir string

	// Hostname identifies this server upstream. Default: os.Hostname.
	Hostname string

	// Keepalive is requested from the upstream end and sets the base
	// of the resend check period.
	// Default: 60s
	Keepalive time.Duration

	MaxMisses      int
	OverflowFactor int
	ReplayBatch    int

	// MaxFrameLength caps frames read from upstream.
	MaxFrameLength int

	// QueueSize bounds the events waiting for the sender goroutine.
	// Default: 4096
	QueueSize int

	Clock  clock.Clock
	Logger *slog.Logger
}

// InServer is a consumer that forwards every routed event to an
// upstream InServer with acknowledged delivery. Consumer methods only
// enqueue; one sender goroutine hands the queue to the forwarder, so a
// slow upstream or a slow disk never stalls a scanner session. Events
// arriving while the link is down are spilled to disk and replayed
// after reconnect.
type InServer struct {
	config    Config
	forwarder *forward.Forwarder
	logger    *slog.Logger
	startedAt time.Time
	bootedAt  time.Time

	mu   sync.Mutex
	link *link

	queueMu    sync.RWMutex
	queue      chan queued
	closed     bool
	senderDone chan struct{}
}

var _ plugin.Consumer = (*InServer)(nil)

// New opens the spill cache. Nothing is dialed until Run.
func New(config Config) (*InServer, error) {
	if config.Address == "" {
		return nil, errors.New("inserver: Address is required")
	}
	if config.CacheDir == "" {
		return nil, errors.New("inserver: CacheDir is required")
	}
	if config.Dialer == nil {
		config.Dialer = &transport.TCPDialer{Timeout: 15 * time.Second}
	}
	if config.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("inserver: resolving hostname: %w", err)
		}
		config.Hostname = hostname
	}
	if config.Keepalive <= 0 {
		config.Keepalive = 60 * time.Second
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	logger := config.Logger.With("consumer", Name, "upstream", config.Address)

	forwarder, err := forward.New(forward.Config{
		Name:              Name,
		SpillFile:         filepath.Join(config.CacheDir, SpillFileName),
		KeepaliveInterval: config.Keepalive,
		MaxMisses:         config.MaxMisses,
		OverflowFactor:    config.OverflowFactor,
		ReplayBatch:       config.ReplayBatch,
		Clock:             config.Clock,
		Logger:            config.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("inserver: %w", err)
	}
	startedAt := config.Clock.Now()
	bootedAt, err := hwinfo.BootTime()
	if err != nil {
		logger.Debug("host boot time unavailable, reporting process start", "error", err)
		bootedAt = startedAt
	}
	s := &InServer{
		config:     config,
		forwarder:  forwarder,
		logger:     logger,
		startedAt:  startedAt,
		bootedAt:   bootedAt,
		queue:      make(chan queued, config.QueueSize),
		senderDone: make(chan struct{}),
	}
	go s.sender()
	return s, nil
}

func (s *InServer) Name() string { return Name }

// Forwarder exposes the delivery state for status reporting.
func (s *InServer) Forwarder() *forward.Forwarder { return s.forwarder }

// Connected reports whether the upstream link is up.
func (s *InServer) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link != nil
}

// Run keeps the upstream link up until ctx is cancelled, dialing with
// exponential backoff between MinBackoff and MaxBackoff. The resend
// checker runs for as long as Run does.
func (s *InServer) Run(ctx context.Context) error {
	var checker sync.WaitGroup
	checker.Add(1)
	go func() {
		defer checker.Done()
		s.forwarder.Run(ctx)
	}()
	defer checker.Wait()

	backoff := MinBackoff
	for {
		conn, err := s.config.Dialer.DialContext(ctx, s.config.Address)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("connecting upstream failed", "retry_in", backoff, "error", err)
		} else {
			backoff = MinBackoff
			s.serve(ctx, conn)
			if ctx.Err() != nil {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-s.config.Clock.After(backoff):
		}
		if err != nil {
			backoff = min(backoff*2, MaxBackoff)
		}
	}
}

// Close drains the queue into the forwarder, then flushes in-flight
// messages to the spill cache.
func (s *InServer) Close() error {
	s.queueMu.Lock()
	if s.closed {
		s.queueMu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.queueMu.Unlock()

	<-s.senderDone
	return s.forwarder.Close()
}

// send stamps message with the event's scanner and projects and queues
// it for the forwarder.
func (s *InServer) send(event plugin.Event, message *protocol.Message) error {
	message.Hostname = event.Hostname
	message.Projects = event.ProjectIDs()
	message.Cached = event.Cached
	return s.enqueue(message)
}

func (s *InServer) ConnectionMade(event plugin.Event, connection plugin.Connection) error {
	return s.connection(event, connection, true)
}

func (s *InServer) ConnectionLost(event plugin.Event, connection plugin.Connection) error {
	return s.connection(event, connection, false)
}

func (s *InServer) connection(event plugin.Event, connection plugin.Connection, connected bool) error {
	return s.send(event, &protocol.Message{Type: protocol.TypeConnection, Connection: &protocol.Connection{
		Timestamp: protocol.Timestamp(connection.Time),
		Address:   connection.Address,
		Connected: connected,
	}})
}

func (s *InServer) LocationUpdate(event plugin.Event, location protocol.Location) error {
	return s.send(event, &protocol.Message{Type: protocol.TypeLocation, Location: &location})
}

func (s *InServer) StateFeed(event plugin.Event, state plugin.State) error {
	return s.send(event, state.Message())
}

func (s *InServer) DataFeedBluetoothRaw(event plugin.Event, data protocol.BluetoothDataRaw) error {
	return s.send(event, &protocol.Message{Type: protocol.TypeBluetoothDataRaw, BluetoothDataRaw: &data})
}

func (s *InServer) DataFeedWifiRaw(event plugin.Event, data protocol.WifiDataRaw) error {
	return s.send(event, &protocol.Message{Type: protocol.TypeWifiDataRaw, WifiDataRaw: &data})
}

func (s *InServer) DataFeedWifiDevRaw(event plugin.Event, data protocol.WifiDevRaw) error {
	return s.send(event, &protocol.Message{Type: protocol.TypeWifiDevRaw, WifiDevRaw: &data})
}

func (s *InServer) UptimeFeed(event plugin.Event, uptime protocol.Uptime) error {
	return s.send(event, &protocol.Message{Type: protocol.TypeUptime, Uptime: &uptime})
}

func (s *InServer) InfoFeed(event plugin.Event, info protocol.Info) error {
	return s.send(event, &protocol.Message{Type: protocol.TypeInfo, Info: &info})
}
