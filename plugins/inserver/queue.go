// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package inserver

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Roel/Gyrid-server-sub000/lib/metrics"
	"github.com/Roel/Gyrid-server-sub000/lib/protocol"
)

// ErrQueueFull is returned by consumer methods when the sender has
// fallen QueueSize events behind. The event is dropped.
var ErrQueueFull = errors.New("inserver: queue full, event dropped")

// ErrClosed is returned by consumer methods after Close.
var ErrClosed = errors.New("inserver: closed")

var droppedEvents = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "gyrid",
	Subsystem: "inserver",
	Name:      "dropped_total",
	Help:      "Events not forwarded because the send queue was full.",
})

func init() {
	metrics.Registry.MustRegister(droppedEvents)
}

// queued is one message for the forwarder, or a flush marker when
// flushed is set.
type queued struct {
	message *protocol.Message
	flushed chan struct{}
}

func (s *InServer) enqueue(message *protocol.Message) error {
	s.queueMu.RLock()
	defer s.queueMu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.queue <- queued{message: message}:
		return nil
	default:
		droppedEvents.Inc()
		s.logger.Warn("send queue full, dropping event", "type", message.Type.String(), "hostname", message.Hostname)
		return ErrQueueFull
	}
}

// sender owns every call to forwarder.Send, in queue order.
func (s *InServer) sender() {
	defer close(s.senderDone)
	for item := range s.queue {
		if item.flushed != nil {
			close(item.flushed)
			continue
		}
		if err := s.forwarder.Send(item.message); err != nil {
			s.logger.Error("forwarding event failed", "type", item.message.Type.String(), "error", err)
		}
	}
}

// Flush waits until every event queued before the call has been handed
// to the forwarder: sent upstream, or spilled while disconnected.
func (s *InServer) Flush(ctx context.Context) error {
	marker := make(chan struct{})
	s.queueMu.RLock()
	if s.closed {
		s.queueMu.RUnlock()
		return ErrClosed
	}
	select {
	case s.queue <- queued{flushed: marker}:
	case <-ctx.Done():
		s.queueMu.RUnlock()
		return ctx.Err()
	}
	s.queueMu.RUnlock()

	select {
	case <-marker:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
