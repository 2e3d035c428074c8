// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"testing"

	"github.com/Roel/Gyrid-server-sub000/lib/plugin"
	"github.com/Roel/Gyrid-server-sub000/lib/protocol"
	"github.com/Roel/Gyrid-server-sub000/lib/routing"
	"github.com/Roel/Gyrid-server-sub000/lib/testutil"
	"github.com/Roel/Gyrid-server-sub000/transport"
)

// A scanner dialing a real listener is handshaken, identified and
// tracked until it disconnects.
func TestServerOverTCP(t *testing.T) {
	log := newEventLog()
	registry := plugin.NewRegistry(nil)
	registry.Register(log, plugin.Options{Enabled: true, Global: true})
	server := NewServer(Config{Router: routing.New(routing.Config{Registry: registry})})

	listener, err := transport.NewTCPListener("127.0.0.1:0", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- listener.Serve(ctx, server) }()

	dialer := transport.TCPDialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, listener.Address())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	reader := protocol.NewFrameReader(conn, 0)
	for i := range 7 {
		if _, err := reader.ReadFrame(); err != nil {
			t.Fatalf("handshake frame %d: %v", i, err)
		}
	}
	payload, _ := hostname("scanner-07").Encode()
	if _, err := protocol.WriteFrame(conn, payload); err != nil {
		t.Fatal(err)
	}
	if got := testutil.RequireReceive(t, log.calls, timeout, "ConnectionMade"); got != "ConnectionMade scanner-07" {
		t.Fatalf("call = %q", got)
	}

	sessions := server.Sessions()
	if len(sessions) != 1 || sessions[0].Hostname() != "scanner-07" {
		t.Fatalf("sessions = %v", sessions)
	}

	conn.Close()
	if got := testutil.RequireReceive(t, log.calls, timeout, "ConnectionLost"); got != "ConnectionLost scanner-07" {
		t.Fatalf("call = %q", got)
	}
	testutil.Eventually(t, timeout, func() bool { return len(server.Sessions()) == 0 }, "session not removed")

	cancel()
	if err := testutil.RequireReceive(t, served, timeout, "listener shutdown"); err != nil {
		t.Errorf("Serve = %v", err)
	}
}
