// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Roel/Gyrid-server-sub000/lib/testutil"
)

func TestServeListenerExposesMetrics(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ServeListener(ctx, listener, slog.New(slog.DiscardHandler)) }()

	SetBuildInfo("test")
	ForwarderCached.WithLabelValues("metrics-test").Set(3)

	client := &http.Client{Timeout: 5 * time.Second}
	response, err := client.Get("http://" + listener.Addr().String() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, err := io.ReadAll(response.Body)
	response.Body.Close()
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}

	for _, want := range []string{
		`gyrid_build_info{version="test"} 1`,
		`gyrid_forwarder_cached_messages{link="metrics-test"} 3`,
		"gyrid_connections_active",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}

	cancel()
	if err := testutil.RequireReceive(t, done, 5*time.Second, "metrics server shutdown"); err != nil {
		t.Errorf("ServeListener: %v", err)
	}
}
