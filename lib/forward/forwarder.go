// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package forward

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Roel/Gyrid-server-sub000/lib/clock"
	"github.com/Roel/Gyrid-server-sub000/lib/metrics"
	"github.com/Roel/Gyrid-server-sub000/lib/protocol"
)

// Defaults applied by New for zero Config fields.
const (
	DefaultMaxMisses      = 5
	DefaultOverflowFactor = 10
	DefaultReplayBatch    = 50

	// MinCheckInterval bounds how often the checker runs.
	MinCheckInterval = 60 * time.Second

	// replayLowWater is the number of outstanding replayed messages
	// at or below which the next batch is read from the spill cache.
	replayLowWater = 2
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("forward: forwarder closed")

// Link carries frames to the remote end. SendFrame is called from
// several goroutines and must serialize its writes.
type Link interface {
	SendFrame(payload []byte) error
}

// Config configures a Forwarder.
type Config struct {
	// Name labels the link in logs and metrics.
	Name string

	// SpillFile is the path of the disk spill cache. Required.
	SpillFile string

	// KeepaliveInterval is the link's keepalive period. The checker
	// runs every max(KeepaliveInterval, MinCheckInterval).
	KeepaliveInterval time.Duration

	MaxMisses      int
	OverflowFactor int
	ReplayBatch    int

	Clock  clock.Clock
	Logger *slog.Logger
}

// Forwarder delivers messages over a link that may come and go,
// tracking each one until the remote end acknowledges it. Messages
// sent while the link is down, and messages still unacknowledged when
// it goes down, are kept in the spill cache and replayed in bounded
// batches after the next Connected.
type Forwarder struct {
	name           string
	maxMisses      int
	overflowFactor int
	replayBatch    int
	checkInterval  time.Duration
	clock          clock.Clock
	logger         *slog.Logger

	acks  *AckMap
	spill *Spill

	mu     sync.Mutex
	link   Link
	replay map[string]struct{}
	closed bool
}

// New opens the spill cache and returns a disconnected Forwarder.
func New(config Config) (*Forwarder, error) {
	if config.SpillFile == "" {
		return nil, errors.New("forward: SpillFile is required")
	}
	if config.MaxMisses <= 0 {
		config.MaxMisses = DefaultMaxMisses
	}
	if config.OverflowFactor <= 0 {
		config.OverflowFactor = DefaultOverflowFactor
	}
	if config.ReplayBatch <= 0 {
		config.ReplayBatch = DefaultReplayBatch
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	logger := config.Logger.With("link", config.Name)

	spill, err := OpenSpill(config.SpillFile, logger)
	if err != nil {
		return nil, err
	}
	forwarder := &Forwarder{
		name:           config.Name,
		maxMisses:      config.MaxMisses,
		overflowFactor: config.OverflowFactor,
		replayBatch:    config.ReplayBatch,
		checkInterval:  max(config.KeepaliveInterval, MinCheckInterval),
		clock:          config.Clock,
		logger:         logger,
		acks:           NewAckMap(),
		spill:          spill,
		replay:         make(map[string]struct{}),
	}
	forwarder.updateGauges()
	if cached := spill.Len(); cached > 0 {
		logger.Info("spill cache holds undelivered messages", "cached", cached)
	}
	return forwarder, nil
}

// CheckInterval is the period of Run's checker.
func (f *Forwarder) CheckInterval() time.Duration { return f.checkInterval }

// Send delivers message. While connected it is transmitted and
// tracked until acknowledged; otherwise it goes to the spill cache.
// A transmit failure leaves the message tracked: the checker retries
// it, or Disconnected moves it to the spill cache.
func (f *Forwarder) Send(message *protocol.Message) error {
	item, err := NewAckItem(message)
	if err != nil {
		return err
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	link := f.link
	if link == nil {
		err := f.spill.Append(item.Payload)
		f.mu.Unlock()
		f.updateGauges()
		if err != nil {
			return fmt.Errorf("spilling %s message: %w", message.Type, err)
		}
		return nil
	}
	f.acks.Add(item)
	f.mu.Unlock()

	f.updateGauges()
	if err := link.SendFrame(item.Payload); err != nil {
		f.logger.Warn("sending message failed, will retry",
			"type", message.Type.String(),
			"checksum", item.Checksum,
			"error", err,
		)
	}
	return nil
}

// Acknowledge marks checksum delivered. Unknown and repeated
// checksums are ignored. When the outstanding replayed messages fall
// to the low-water mark the next batch is read from the spill cache.
func (f *Forwarder) Acknowledge(checksum string) {
	f.acks.Remove(checksum)

	f.mu.Lock()
	_, replayed := f.replay[checksum]
	delete(f.replay, checksum)
	refill := replayed && len(f.replay) <= replayLowWater && f.link != nil && !f.closed
	f.mu.Unlock()

	f.updateGauges()
	if refill {
		f.replayNext()
	}
}

// Connected switches the forwarder to link. Anything still in flight
// from a previous link is moved to the spill cache, and replay of the
// cache begins.
func (f *Forwarder) Connected(link Link) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.flushLocked()
	f.link = link
	f.mu.Unlock()

	f.logger.Info("link connected", "cached", f.spill.Len())
	f.updateGauges()
	f.replayNext()
}

// Disconnected stops transmission. Messages in flight are moved to the
// spill cache so a long outage cannot push them past the overflow
// ceiling.
func (f *Forwarder) Disconnected() {
	f.mu.Lock()
	if f.link == nil {
		f.mu.Unlock()
		return
	}
	f.link = nil
	f.flushLocked()
	f.mu.Unlock()

	f.logger.Warn("link disconnected, spilling to disk", "cached", f.spill.Len())
	f.updateGauges()
}

// Close flushes everything in flight to the spill cache and closes
// it. Later Sends fail with ErrClosed.
func (f *Forwarder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	f.link = nil
	f.flushLocked()
	f.updateGauges()
	return f.spill.Close()
}

// flushLocked moves every in-flight item to the spill cache and
// forgets the replay set. Called with f.mu held.
func (f *Forwarder) flushLocked() {
	items := f.acks.Drain()
	clear(f.replay)
	if len(items) == 0 {
		return
	}
	payloads := make([][]byte, len(items))
	for i, item := range items {
		payloads[i] = item.Payload
	}
	if err := f.spill.Append(payloads...); err != nil {
		f.logger.Error("spilling in-flight messages failed, messages lost",
			"count", len(items),
			"error", err,
		)
		metrics.ForwarderDropped.WithLabelValues(f.name).Add(float64(len(items)))
	}
}

// replayNext reads the next batch from the spill cache and sends it
// as fresh tracked messages marked Cached.
func (f *Forwarder) replayNext() {
	f.mu.Lock()
	link := f.link
	if link == nil || f.closed {
		f.mu.Unlock()
		return
	}
	records, err := f.spill.Pop(f.replayBatch)
	if err != nil {
		f.mu.Unlock()
		f.logger.Error("reading spill cache", "error", err)
		return
	}
	items := make([]*AckItem, 0, len(records))
	for _, record := range records {
		message, err := protocol.Decode(record)
		if err != nil {
			f.logger.Error("discarding undecodable spill record", "error", err)
			metrics.ForwarderDropped.WithLabelValues(f.name).Inc()
			continue
		}
		message.Cached = true
		item, err := NewAckItem(message)
		if err != nil {
			f.logger.Error("discarding spill record", "error", err)
			metrics.ForwarderDropped.WithLabelValues(f.name).Inc()
			continue
		}
		f.replay[item.Checksum] = struct{}{}
		f.acks.Add(item)
		items = append(items, item)
	}
	f.mu.Unlock()

	f.updateGauges()
	if len(items) > 0 {
		f.logger.Info("replaying cached messages", "count", len(items), "remaining", f.spill.Len())
	}
	for _, item := range items {
		if err := link.SendFrame(item.Payload); err != nil {
			f.logger.Warn("replaying message failed, will retry", "checksum", item.Checksum, "error", err)
		}
	}
}

// Run checks in-flight messages every CheckInterval until ctx is
// cancelled.
func (f *Forwarder) Run(ctx context.Context) {
	ticker := f.clock.NewTicker(f.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.Check()
		}
	}
}

// Check performs one checker pass: every in-flight message's timer
// advances, due messages are resent marked Cached, and messages past
// MaxMisses*OverflowFactor checks are dropped.
func (f *Forwarder) Check() {
	due, dropped := f.acks.Check(f.maxMisses, f.overflowFactor)

	f.mu.Lock()
	link := f.link
	refill := false
	for _, item := range dropped {
		if _, replayed := f.replay[item.Checksum]; replayed {
			delete(f.replay, item.Checksum)
			refill = len(f.replay) <= replayLowWater
		}
	}
	f.mu.Unlock()

	for _, item := range dropped {
		f.logger.Error("message unacknowledged past retry ceiling, dropping",
			"checksum", item.Checksum,
			"checks", item.Timer,
		)
	}
	metrics.ForwarderDropped.WithLabelValues(f.name).Add(float64(len(dropped)))

	if link != nil {
		for _, item := range due {
			payload, err := item.ResendPayload()
			if err != nil {
				f.logger.Error("preparing resend", "checksum", item.Checksum, "error", err)
				continue
			}
			if err := link.SendFrame(payload); err != nil {
				f.logger.Warn("resending message failed", "checksum", item.Checksum, "error", err)
				continue
			}
			metrics.ForwarderResent.WithLabelValues(f.name).Inc()
		}
	}
	f.updateGauges()
	if refill && link != nil {
		f.replayNext()
	}
}

// Inflight returns the number of unacknowledged messages.
func (f *Forwarder) Inflight() int { return f.acks.Len() }

// Cached returns the number of messages in the spill cache.
func (f *Forwarder) Cached() int { return f.spill.Len() }

func (f *Forwarder) updateGauges() {
	metrics.ForwarderCached.WithLabelValues(f.name).Set(float64(f.spill.Len()))
	metrics.ForwarderInflight.WithLabelValues(f.name).Set(float64(f.acks.Len()))
}
