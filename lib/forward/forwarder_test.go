// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package forward

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Roel/Gyrid-server-sub000/lib/clock"
	"github.com/Roel/Gyrid-server-sub000/lib/protocol"
	"github.com/Roel/Gyrid-server-sub000/lib/testutil"
)

// recordingLink keeps every frame sent through it.
type recordingLink struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (l *recordingLink) SendFrame(payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.frames = append(l.frames, payload)
	return nil
}

func (l *recordingLink) messages(t *testing.T) []*protocol.Message {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	messages := make([]*protocol.Message, len(l.frames))
	for i, frame := range l.frames {
		message, err := protocol.Decode(frame)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		messages[i] = message
	}
	return messages
}

func (l *recordingLink) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.frames)
}

func newTestForwarder(t *testing.T, config Config) *Forwarder {
	t.Helper()
	if config.SpillFile == "" {
		config.SpillFile = filepath.Join(t.TempDir(), "cache", "inserver.spill")
	}
	if config.Name == "" {
		config.Name = t.Name()
	}
	forwarder, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { forwarder.Close() })
	return forwarder
}

func infoMessage(text string) *protocol.Message {
	return &protocol.Message{
		Type:     protocol.TypeInfo,
		Hostname: "scanner-01",
		Info:     &protocol.Info{Timestamp: 1000, Info: text},
	}
}

func ackChecksum(t *testing.T, message *protocol.Message) string {
	t.Helper()
	checksum, err := protocol.AckChecksum(message)
	if err != nil {
		t.Fatal(err)
	}
	return checksum
}

func TestSendWhileConnectedRequestsAck(t *testing.T) {
	forwarder := newTestForwarder(t, Config{})
	link := &recordingLink{}
	forwarder.Connected(link)

	if err := forwarder.Send(infoMessage("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	sent := link.messages(t)
	if len(sent) != 1 {
		t.Fatalf("sent %d frames, want 1", len(sent))
	}
	if !sent[0].WantsAck() || sent[0].Cached {
		t.Errorf("first send: success=%v cached=%v", sent[0].Success, sent[0].Cached)
	}
	if forwarder.Inflight() != 1 || forwarder.Cached() != 0 {
		t.Errorf("inflight=%d cached=%d, want 1 and 0", forwarder.Inflight(), forwarder.Cached())
	}
}

func TestAcknowledgeIsIdempotent(t *testing.T) {
	forwarder := newTestForwarder(t, Config{})
	link := &recordingLink{}
	forwarder.Connected(link)

	forwarder.Send(infoMessage("one"))
	forwarder.Send(infoMessage("two"))
	checksum := ackChecksum(t, link.messages(t)[0])

	forwarder.Acknowledge(checksum)
	forwarder.Acknowledge(checksum)
	forwarder.Acknowledge("deadbeef")

	if forwarder.Inflight() != 1 {
		t.Errorf("inflight = %d, want 1", forwarder.Inflight())
	}
}

// With MaxMisses 2 and OverflowFactor 3 an unacknowledged message is
// resent on checks 2, 4 and 6 and dropped on check 7.
func TestCheckResendsThenDrops(t *testing.T) {
	forwarder := newTestForwarder(t, Config{MaxMisses: 2, OverflowFactor: 3})
	link := &recordingLink{}
	forwarder.Connected(link)
	forwarder.Send(infoMessage("lost"))

	wantFrames := []int{1, 2, 2, 3, 3, 4, 4}
	for check, want := range wantFrames {
		forwarder.Check()
		if got := link.count(); got != want {
			t.Fatalf("after check %d: %d frames sent, want %d", check+1, got, want)
		}
		if check < 6 && forwarder.Inflight() != 1 {
			t.Fatalf("after check %d: message dropped early", check+1)
		}
	}
	if forwarder.Inflight() != 0 {
		t.Errorf("inflight = %d after overflow, want 0", forwarder.Inflight())
	}

	sent := link.messages(t)
	first := ackChecksum(t, sent[0])
	for i, message := range sent[1:] {
		if !message.Cached {
			t.Errorf("resend %d not marked cached", i+1)
		}
		if ackChecksum(t, message) != first {
			t.Errorf("resend %d has a different ack identity", i+1)
		}
	}
}

func TestAcknowledgedMessageIsNotResent(t *testing.T) {
	forwarder := newTestForwarder(t, Config{MaxMisses: 1})
	link := &recordingLink{}
	forwarder.Connected(link)
	forwarder.Send(infoMessage("fine"))
	forwarder.Acknowledge(ackChecksum(t, link.messages(t)[0]))

	forwarder.Check()
	if link.count() != 1 {
		t.Errorf("acknowledged message was resent")
	}
}

// Five messages sent during an outage are cached, resent after the
// link comes back, and leave an empty spill file once acknowledged.
func TestOutageReplay(t *testing.T) {
	spillFile := filepath.Join(t.TempDir(), "inserver.spill")
	forwarder := newTestForwarder(t, Config{SpillFile: spillFile})

	texts := []string{"m1", "m2", "m3", "m4", "m5"}
	for _, text := range texts {
		if err := forwarder.Send(infoMessage(text)); err != nil {
			t.Fatalf("Send(%s): %v", text, err)
		}
	}
	if forwarder.Cached() != 5 {
		t.Fatalf("cached = %d, want 5", forwarder.Cached())
	}

	link := &recordingLink{}
	forwarder.Connected(link)
	sent := link.messages(t)
	if len(sent) != 5 {
		t.Fatalf("replayed %d messages, want 5", len(sent))
	}
	seen := map[string]bool{}
	for _, message := range sent {
		if !message.Cached || !message.WantsAck() {
			t.Errorf("replayed %q: cached=%v success=%v", message.Info.Info, message.Cached, message.Success)
		}
		seen[message.Info.Info] = true
	}
	for _, text := range texts {
		if !seen[text] {
			t.Errorf("%s not replayed", text)
		}
	}

	for _, message := range sent {
		forwarder.Acknowledge(ackChecksum(t, message))
	}
	if forwarder.Inflight() != 0 || forwarder.Cached() != 0 {
		t.Errorf("inflight=%d cached=%d after acks", forwarder.Inflight(), forwarder.Cached())
	}
	info, err := os.Stat(spillFile)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 0 {
		t.Errorf("spill file is %d bytes after full replay, want 0", info.Size())
	}
}

func TestReplayInBatches(t *testing.T) {
	forwarder := newTestForwarder(t, Config{ReplayBatch: 4})
	for i := range 10 {
		forwarder.Send(infoMessage(string(rune('a' + i))))
	}

	link := &recordingLink{}
	forwarder.Connected(link)
	if link.count() != 4 {
		t.Fatalf("first batch sent %d, want 4", link.count())
	}

	sent := link.messages(t)
	forwarder.Acknowledge(ackChecksum(t, sent[0]))
	if link.count() != 4 {
		t.Fatalf("next batch pulled with 3 outstanding")
	}
	forwarder.Acknowledge(ackChecksum(t, sent[1]))
	if link.count() != 8 {
		t.Fatalf("after reaching the low-water mark %d sent, want 8", link.count())
	}
	if forwarder.Cached() != 2 {
		t.Errorf("cached = %d, want 2", forwarder.Cached())
	}
}

func TestDisconnectedSpillsInflight(t *testing.T) {
	forwarder := newTestForwarder(t, Config{})
	link := &recordingLink{}
	forwarder.Connected(link)
	for _, text := range []string{"x", "y", "z"} {
		forwarder.Send(infoMessage(text))
	}

	forwarder.Disconnected()
	if forwarder.Inflight() != 0 || forwarder.Cached() != 3 {
		t.Errorf("inflight=%d cached=%d, want 0 and 3", forwarder.Inflight(), forwarder.Cached())
	}

	// Checks while disconnected send nothing.
	forwarder.Check()
	if link.count() != 3 {
		t.Errorf("frames sent while disconnected")
	}
}

func TestSendFailureStaysTracked(t *testing.T) {
	forwarder := newTestForwarder(t, Config{MaxMisses: 1})
	link := &recordingLink{err: errors.New("connection reset")}
	forwarder.Connected(link)

	if err := forwarder.Send(infoMessage("retry me")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if forwarder.Inflight() != 1 {
		t.Fatalf("inflight = %d, want 1", forwarder.Inflight())
	}
	link.mu.Lock()
	link.err = nil
	link.mu.Unlock()

	forwarder.Check()
	if link.count() != 1 {
		t.Errorf("retry not sent after the link recovered")
	}
}

func TestCloseFlushesAndPersists(t *testing.T) {
	spillFile := filepath.Join(t.TempDir(), "inserver.spill")
	forwarder, err := New(Config{Name: "close", SpillFile: spillFile})
	if err != nil {
		t.Fatal(err)
	}
	forwarder.Connected(&recordingLink{})
	forwarder.Send(infoMessage("in flight"))

	if err := forwarder.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := forwarder.Send(infoMessage("late")); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close = %v, want ErrClosed", err)
	}

	reopened := newTestForwarder(t, Config{SpillFile: spillFile})
	if reopened.Cached() != 1 {
		t.Errorf("reopened cache holds %d messages, want 1", reopened.Cached())
	}
}

func TestRunChecksOnInterval(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	forwarder := newTestForwarder(t, Config{MaxMisses: 1, KeepaliveInterval: 90 * time.Second, Clock: fake})
	if forwarder.CheckInterval() != 90*time.Second {
		t.Fatalf("check interval = %v, want 90s", forwarder.CheckInterval())
	}
	link := &recordingLink{}
	forwarder.Connected(link)
	forwarder.Send(infoMessage("tick"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		forwarder.Run(ctx)
		close(done)
	}()
	fake.WaitForTimers(1)
	fake.Advance(90 * time.Second)

	testutil.Eventually(t, 5*time.Second, func() bool { return link.count() >= 2 },
		"no resend after one check interval")
	cancel()
	<-done
}

func TestCheckIntervalFloor(t *testing.T) {
	forwarder := newTestForwarder(t, Config{KeepaliveInterval: 10 * time.Second})
	if forwarder.CheckInterval() != MinCheckInterval {
		t.Errorf("check interval = %v, want %v", forwarder.CheckInterval(), MinCheckInterval)
	}
}
