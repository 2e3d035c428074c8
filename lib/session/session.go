// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/Roel/Gyrid-server-sub000/lib/clock"
	"github.com/Roel/Gyrid-server-sub000/lib/metrics"
	"github.com/Roel/Gyrid-server-sub000/lib/netutil"
	"github.com/Roel/Gyrid-server-sub000/lib/plugin"
	"github.com/Roel/Gyrid-server-sub000/lib/protocol"
	"github.com/Roel/Gyrid-server-sub000/lib/routing"
)

// State is the lifecycle position of a Session.
type State int

const (
	// StateConnecting: accepted, handshake requests not yet sent.
	StateConnecting State = iota
	// StateAwaitingIdentity: handshake sent, hostname not yet known.
	// Everything received is held in the pending buffer.
	StateAwaitingIdentity
	// StateActive: hostname known, events are routed as they arrive.
	StateActive
	// StateClosed: the connection is gone.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingIdentity:
		return "awaiting_identity"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Defaults applied for zero Config fields.
const (
	DefaultKeepaliveInterval = 60 * time.Second
	DefaultTimeoutFactor     = 1.1
	DefaultIdentifyTimeout   = 60 * time.Second
	DefaultMaxPending        = 1024
)

var (
	// ErrIdentifyTimeout ends a connection that sent no hostname
	// within IdentifyTimeout.
	ErrIdentifyTimeout = errors.New("session: scanner did not identify in time")

	// ErrTooManyPending ends a connection that sent more than
	// MaxPending messages before its hostname.
	ErrTooManyPending = errors.New("session: too many messages before identification")
)

// writeTimeout bounds a single frame write to a scanner.
const writeTimeout = 30 * time.Second

// Config holds what every session needs. One Config is shared by all
// sessions of a server.
type Config struct {
	// Router receives every event once the scanner is identified.
	// Required.
	Router *routing.Router

	// KeepaliveInterval is requested from the scanner and used as the
	// probe period.
	KeepaliveInterval time.Duration

	// TimeoutFactor: a scanner silent for longer than
	// KeepaliveInterval*TimeoutFactor is disconnected.
	TimeoutFactor float64

	// MaxFrameLength caps the declared length of inbound frames.
	MaxFrameLength int

	// IdentifyTimeout bounds the time between the handshake and the
	// hostname message. It is a socket read deadline and so follows
	// the wall clock.
	IdentifyTimeout time.Duration

	// MaxPending caps the messages held back until the hostname
	// arrives.
	MaxPending int

	Clock  clock.Clock
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if c.TimeoutFactor <= 0 {
		c.TimeoutFactor = DefaultTimeoutFactor
	}
	if c.IdentifyTimeout <= 0 {
		c.IdentifyTimeout = DefaultIdentifyTimeout
	}
	if c.MaxPending <= 0 {
		c.MaxPending = DefaultMaxPending
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Session is the server side of one scanner connection.
type Session struct {
	conn    net.Conn
	address string
	config  Config
	logger  *slog.Logger

	writeMu   sync.Mutex
	bytesSent int64

	mu            sync.Mutex
	state         State
	hostname      string
	lastKeepalive time.Time
	uptime        *protocol.Uptime
	pending       []*protocol.Message
	keepalive     bool

	// done is closed when the session must end, from the read loop or
	// the keepalive loop.
	done     chan struct{}
	doneOnce sync.Once
	workers  sync.WaitGroup
}

// New creates a session for conn. Run drives it.
func New(conn net.Conn, config Config) *Session {
	config = config.withDefaults()
	address := ""
	if remote := conn.RemoteAddr(); remote != nil {
		address = remote.String()
	}
	return &Session{
		conn:    conn,
		address: address,
		config:  config,
		logger:  config.Logger.With("peer", address),
		done:    make(chan struct{}),
	}
}

// Run performs the handshake and processes frames until the
// connection closes, ctx is cancelled, or the scanner stops sending
// keepalives. The connection is closed on return. A connection with no
// resolvable peer address is closed immediately.
func (s *Session) Run(ctx context.Context) error {
	defer s.conn.Close()
	if s.address == "" {
		s.setState(StateClosed)
		return nil
	}
	stop := context.AfterFunc(ctx, s.abort)
	defer stop()

	s.mu.Lock()
	s.lastKeepalive = s.config.Clock.Now()
	s.mu.Unlock()

	err := s.handshake()
	if err == nil {
		s.setState(StateAwaitingIdentity)
		err = s.conn.SetReadDeadline(time.Now().Add(s.config.IdentifyTimeout)) //nolint:realclock socket deadlines use wall time
	}
	if err == nil {
		err = s.readLoop()
	}

	s.abort()
	s.workers.Wait()
	s.close()

	if netutil.IsExpectedCloseError(err) || ctx.Err() != nil {
		return nil
	}
	return err
}

// handshake sends the opening requests, in the order the scanner
// expects them.
func (s *Session) handshake() error {
	requests := []*protocol.Message{
		protocol.NewRequestHostname(),
		protocol.NewRequestUptime(),
		protocol.NewRequestState(),
		protocol.NewRequestCaching(),
		protocol.NewRequestKeepalive(s.config.KeepaliveInterval),
		protocol.NewKeepalive(),
		protocol.NewRequestStartData(),
	}
	for _, request := range requests {
		if err := s.Send(request); err != nil {
			return fmt.Errorf("handshake: %w", err)
		}
	}
	return nil
}

func (s *Session) readLoop() error {
	reader := protocol.NewFrameReader(s.conn, s.config.MaxFrameLength)
	for {
		payload, err := reader.ReadFrame()
		if err != nil {
			select {
			case <-s.done:
				return net.ErrClosed
			default:
			}
			if errors.Is(err, os.ErrDeadlineExceeded) && s.State() != StateActive {
				return ErrIdentifyTimeout
			}
			return err
		}
		metrics.FramesReceived.Inc()

		message, err := protocol.Decode(payload)
		if err != nil {
			metrics.FramesDiscarded.Inc()
			s.logger.Debug("discarding undecodable frame", "bytes", len(payload), "error", err)
			continue
		}
		if err := s.receive(payload, message); err != nil {
			return err
		}
	}
}

// receive handles one decoded message: acknowledge if asked, then
// either buffer it until the scanner is identified or process it.
func (s *Session) receive(payload []byte, message *protocol.Message) error {
	if message.WantsAck() {
		checksum, err := protocol.PayloadAckChecksum(payload)
		if err == nil {
			err = s.Send(protocol.NewAck(checksum))
		}
		if err != nil {
			s.logger.Warn("sending ack failed", "type", message.Type.String(), "error", err)
		}
	}

	s.mu.Lock()
	if s.state != StateActive && message.Type != protocol.TypeHostname {
		if len(s.pending) >= s.config.MaxPending {
			s.mu.Unlock()
			return ErrTooManyPending
		}
		s.pending = append(s.pending, message)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	s.process(message)
	return nil
}

func (s *Session) process(message *protocol.Message) {
	switch message.Type {
	case protocol.TypeHostname:
		s.identify(message.Hostname)
	case protocol.TypeKeepalive:
		s.mu.Lock()
		s.lastKeepalive = s.config.Clock.Now()
		s.mu.Unlock()
	case protocol.TypeRequestKeepalive:
		if message.Succeeded() {
			s.startKeepalive()
		}
	case protocol.TypeAck:
		// Nothing is sent to scanners with an ack request.
	case protocol.TypeUptime:
		if message.Uptime != nil {
			s.mu.Lock()
			uptime := *message.Uptime
			s.uptime = &uptime
			s.mu.Unlock()
		}
		s.route(message)
	default:
		s.route(message)
	}
}

// identify records the hostname, announces the connection and replays
// everything received before it.
func (s *Session) identify(hostname string) {
	s.mu.Lock()
	if s.state == StateActive {
		current := s.hostname
		s.mu.Unlock()
		if hostname != current {
			s.logger.Warn("ignoring hostname change", "hostname", current, "new_hostname", hostname)
		}
		return
	}
	s.hostname = hostname
	s.state = StateActive
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	// Liveness is the keepalive loop's job from here on.
	if err := s.conn.SetReadDeadline(time.Time{}); err != nil {
		s.logger.Warn("clearing identification deadline failed", "error", err)
	}

	s.logger = s.logger.With("hostname", hostname)
	s.logger.Info("scanner identified", "pending", len(pending))

	connection := plugin.Connection{Address: s.address, Time: s.config.Clock.Now()}
	s.config.Router.Dispatch(hostname, connection.Time, false, "ConnectionMade", func(c plugin.Consumer, e plugin.Event) error {
		return c.ConnectionMade(e, connection)
	})

	for _, message := range pending {
		s.process(message)
	}
}

// route dispatches a data, state, uptime or info message to the
// consumers active for the scanner at the event's time.
func (s *Session) route(message *protocol.Message) {
	hostname := s.Hostname()
	at, ok := message.EventTime()
	if !ok {
		at = s.config.Clock.Now()
	}
	router := s.config.Router
	method, call := deliveryFor(message)
	if call == nil {
		s.logger.Debug("ignoring message", "type", message.Type.String())
		return
	}
	router.Dispatch(hostname, at, message.Cached, method, call)
}

// deliveryFor maps a message to the consumer method that receives it.
func deliveryFor(message *protocol.Message) (string, func(plugin.Consumer, plugin.Event) error) {
	switch {
	case message.BluetoothDataRaw != nil:
		data := *message.BluetoothDataRaw
		return "DataFeedBluetoothRaw", func(c plugin.Consumer, e plugin.Event) error {
			return c.DataFeedBluetoothRaw(e, data)
		}
	case message.WifiDataRaw != nil:
		data := *message.WifiDataRaw
		return "DataFeedWifiRaw", func(c plugin.Consumer, e plugin.Event) error {
			return c.DataFeedWifiRaw(e, data)
		}
	case message.WifiDevRaw != nil:
		data := *message.WifiDevRaw
		return "DataFeedWifiDevRaw", func(c plugin.Consumer, e plugin.Event) error {
			return c.DataFeedWifiDevRaw(e, data)
		}
	case message.Uptime != nil:
		uptime := *message.Uptime
		return "UptimeFeed", func(c plugin.Consumer, e plugin.Event) error {
			return c.UptimeFeed(e, uptime)
		}
	case message.Info != nil:
		info := *message.Info
		return "InfoFeed", func(c plugin.Consumer, e plugin.Event) error {
			return c.InfoFeed(e, info)
		}
	}
	if state, ok := plugin.StateFromMessage(message); ok {
		return "StateFeed", func(c plugin.Consumer, e plugin.Event) error {
			return c.StateFeed(e, state)
		}
	}
	return "", nil
}

// startKeepalive launches the keepalive loop once per session.
func (s *Session) startKeepalive() {
	s.mu.Lock()
	if s.keepalive || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.keepalive = true
	s.mu.Unlock()

	ticker := s.config.Clock.NewTicker(s.config.KeepaliveInterval)
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				if !s.checkKeepalive() {
					return
				}
			}
		}
	}()
}

// checkKeepalive aborts the session when the scanner has been silent
// too long and otherwise sends a probe. It reports whether the session
// is still alive.
func (s *Session) checkKeepalive() bool {
	timeout := time.Duration(float64(s.config.KeepaliveInterval) * s.config.TimeoutFactor)
	s.mu.Lock()
	silent := s.config.Clock.Now().Sub(s.lastKeepalive)
	s.mu.Unlock()

	if silent > timeout {
		s.logger.Warn("keepalive timeout, disconnecting",
			"silent", silent,
			"timeout", timeout,
		)
		s.abort()
		return false
	}
	if err := s.Send(protocol.NewKeepalive()); err != nil {
		s.logger.Warn("sending keepalive failed", "error", err)
		s.abort()
		return false
	}
	return true
}

// abort ends the session. Safe to call more than once.
func (s *Session) abort() {
	s.doneOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// close moves to StateClosed and announces the disconnect.
func (s *Session) close() {
	s.mu.Lock()
	hostname := s.hostname
	identified := s.state == StateActive
	s.state = StateClosed
	s.pending = nil
	s.mu.Unlock()

	if !identified {
		s.logger.Info("connection closed before identification")
		return
	}
	s.logger.Info("scanner disconnected", "bytes_sent", s.BytesSent())
	connection := plugin.Connection{Address: s.address, Time: s.config.Clock.Now()}
	s.config.Router.Dispatch(hostname, connection.Time, false, "ConnectionLost", func(c plugin.Consumer, e plugin.Event) error {
		return c.ConnectionLost(e, connection)
	})
}

// Send encodes and writes one message. Writes from the read loop and
// the keepalive loop are serialized.
func (s *Session) Send(message *protocol.Message) error {
	payload, err := message.Encode()
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil { //nolint:realclock socket deadlines use wall time
		return fmt.Errorf("setting write deadline: %w", err)
	}
	written, err := protocol.WriteFrame(s.conn, payload)
	s.bytesSent += int64(written)
	if err != nil {
		return fmt.Errorf("writing %s: %w", message.Type, err)
	}
	return nil
}

// Address returns the peer address.
func (s *Session) Address() string { return s.address }

// Hostname returns the scanner's hostname, empty until identified.
func (s *Session) Hostname() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hostname
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastKeepalive returns when the scanner last sent a keepalive.
func (s *Session) LastKeepalive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastKeepalive
}

// Uptime returns the scanner's last reported uptime, or nil.
func (s *Session) Uptime() *protocol.Uptime {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uptime
}

// Pending returns the number of messages buffered before
// identification.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// BytesSent returns the number of bytes written to the scanner.
func (s *Session) BytesSent() int64 {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.bytesSent
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}
