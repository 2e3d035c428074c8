// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package inserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/Roel/Gyrid-server-sub000/lib/forward"
	"github.com/Roel/Gyrid-server-sub000/lib/netutil"
	"github.com/Roel/Gyrid-server-sub000/lib/protocol"
)

// writeTimeout bounds a single frame write upstream.
const writeTimeout = 30 * time.Second

// timeoutFactor: an upstream that confirmed our keepalive request and
// then stays silent for longer than Keepalive*timeoutFactor is
// disconnected.
const timeoutFactor = 1.1

// link is one upstream connection.
type link struct {
	conn   net.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	done     chan struct{}
	doneOnce sync.Once
	workers  sync.WaitGroup

	mu           sync.Mutex
	lastReceived time.Time
	sending      bool
	watching     bool
}

var _ forward.Link = (*link)(nil)

// SendFrame implements forward.Link.
func (l *link) SendFrame(payload []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := l.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil { //nolint:realclock socket deadlines use wall time
		return fmt.Errorf("setting write deadline: %w", err)
	}
	_, err := protocol.WriteFrame(l.conn, payload)
	return err
}

func (l *link) send(message *protocol.Message) error {
	payload, err := message.Encode()
	if err != nil {
		return err
	}
	return l.SendFrame(payload)
}

func (l *link) abort() {
	l.doneOnce.Do(func() {
		close(l.done)
		l.conn.Close()
	})
}

// serve runs one upstream connection to completion.
func (s *InServer) serve(ctx context.Context, conn net.Conn) {
	l := &link{
		conn:         conn,
		logger:       s.logger,
		done:         make(chan struct{}),
		lastReceived: s.config.Clock.Now(),
	}
	stop := context.AfterFunc(ctx, l.abort)
	defer stop()

	s.logger.Info("connected upstream", "remote", conn.RemoteAddr().String())
	err := l.send(protocol.NewRequestKeepalive(s.config.Keepalive))
	if err == nil {
		s.mu.Lock()
		s.link = l
		s.mu.Unlock()
		s.forwarder.Connected(l)
		err = s.readLoop(l)
	}

	s.mu.Lock()
	s.link = nil
	s.mu.Unlock()
	s.forwarder.Disconnected()
	l.abort()
	l.workers.Wait()

	select {
	case <-l.done:
		if ctx.Err() != nil {
			err = nil
		}
	default:
	}
	if err != nil && !netutil.IsExpectedCloseError(err) {
		s.logger.Warn("upstream connection lost", "error", err)
		return
	}
	s.logger.Info("upstream connection closed")
}

func (s *InServer) readLoop(l *link) error {
	reader := protocol.NewFrameReader(l.conn, s.config.MaxFrameLength)
	for {
		payload, err := reader.ReadFrame()
		if err != nil {
			return err
		}
		l.mu.Lock()
		l.lastReceived = s.config.Clock.Now()
		l.mu.Unlock()

		message, err := protocol.Decode(payload)
		if err != nil {
			s.logger.Debug("discarding undecodable upstream frame", "bytes", len(payload), "error", err)
			continue
		}
		if err := s.handle(l, payload, message); err != nil {
			return err
		}
	}
}

// handle answers one upstream message. Requests that only make sense
// for a scanner (state, caching, start data) are ignored.
func (s *InServer) handle(l *link, payload []byte, message *protocol.Message) error {
	if message.WantsAck() {
		checksum, err := protocol.PayloadAckChecksum(payload)
		if err != nil {
			return err
		}
		if err := l.send(protocol.NewAck(checksum)); err != nil {
			return err
		}
	}

	switch message.Type {
	case protocol.TypeAck:
		s.forwarder.Acknowledge(message.Ack)
	case protocol.TypeRequestHostname:
		return l.send(&protocol.Message{Type: protocol.TypeHostname, Hostname: s.config.Hostname})
	case protocol.TypeRequestUptime:
		return l.send(&protocol.Message{Type: protocol.TypeUptime, Uptime: &protocol.Uptime{
			GyridUptime:  protocol.Timestamp(s.startedAt),
			SystemUptime: protocol.Timestamp(s.bootedAt),
		}})
	case protocol.TypeRequestKeepalive:
		if message.Succeeded() {
			s.watchUpstream(l)
			return nil
		}
		if message.RequestKeepalive == nil || !message.RequestKeepalive.Enable {
			return nil
		}
		echo := *message
		echo.Success = protocol.Bool(true)
		if err := l.send(&echo); err != nil {
			return err
		}
		s.sendKeepalives(l, time.Duration(message.RequestKeepalive.Interval)*time.Second)
	case protocol.TypeKeepalive:
	default:
		s.logger.Debug("ignoring upstream message", "type", message.Type.String())
	}
	return nil
}

// sendKeepalives starts sending a keepalive every interval, once per
// link.
func (s *InServer) sendKeepalives(l *link, interval time.Duration) {
	l.mu.Lock()
	if l.sending || interval <= 0 {
		l.mu.Unlock()
		return
	}
	l.sending = true
	l.mu.Unlock()

	ticker := s.config.Clock.NewTicker(interval)
	l.workers.Add(1)
	go func() {
		defer l.workers.Done()
		defer ticker.Stop()
		for {
			select {
			case <-l.done:
				return
			case <-ticker.C:
				if err := l.send(protocol.NewKeepalive()); err != nil {
					s.logger.Warn("sending keepalive upstream failed", "error", err)
					l.abort()
					return
				}
			}
		}
	}()
}

// watchUpstream disconnects the link when upstream, having agreed to
// send keepalives, goes silent.
func (s *InServer) watchUpstream(l *link) {
	l.mu.Lock()
	if l.watching {
		l.mu.Unlock()
		return
	}
	l.watching = true
	l.mu.Unlock()

	interval := s.config.Keepalive
	timeout := time.Duration(float64(interval) * timeoutFactor)
	ticker := s.config.Clock.NewTicker(interval)
	l.workers.Add(1)
	go func() {
		defer l.workers.Done()
		defer ticker.Stop()
		for {
			select {
			case <-l.done:
				return
			case now := <-ticker.C:
				l.mu.Lock()
				silent := now.Sub(l.lastReceived)
				l.mu.Unlock()
				if silent > timeout {
					s.logger.Warn("upstream keepalive timeout, reconnecting", "silent", silent, "timeout", timeout)
					l.abort()
					return
				}
			}
		}
	}()
}
