// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Roel/Gyrid-server-sub000/lib/forward"
	"github.com/Roel/Gyrid-server-sub000/lib/process"
	"github.com/Roel/Gyrid-server-sub000/lib/protocol"
)

func writeCache(t *testing.T, messages ...*protocol.Message) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inserver.cache")
	spill, err := forward.OpenSpill(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, message := range messages {
		payload, err := message.Encode()
		if err != nil {
			t.Fatal(err)
		}
		if err := spill.Append(payload); err != nil {
			t.Fatal(err)
		}
	}
	if err := spill.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func info(text string) *protocol.Message {
	return &protocol.Message{Type: protocol.TypeInfo, Hostname: "scanner-01", Info: &protocol.Info{Info: text}}
}

func TestCount(t *testing.T) {
	path := writeCache(t, info("a"), info("b"), info("c"))
	var out bytes.Buffer
	if err := run([]string{"count", path}, &out); err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(out.String()); got != "3" {
		t.Errorf("count = %q, want 3", got)
	}
}

func TestDumpNewestFirst(t *testing.T) {
	path := writeCache(t, info("first"), info("second"))
	var out bytes.Buffer
	if err := run([]string{"dump", "--limit", "1", path}, &out); err != nil {
		t.Fatal(err)
	}
	output := out.String()
	if !strings.HasPrefix(output, "0\tinfo\t") {
		t.Errorf("dump = %q", output)
	}
	if !strings.Contains(output, `"second"`) || strings.Contains(output, `"first"`) {
		t.Errorf("dump with limit 1 should show only the newest message: %q", output)
	}
}

func TestUsageErrors(t *testing.T) {
	for _, args := range [][]string{nil, {"purge"}, {"count"}, {"dump", "a", "b"}} {
		err := run(args, &bytes.Buffer{})
		if process.ExitCode(err) != 2 {
			t.Errorf("run(%q) = %v, want a usage error", args, err)
		}
	}
}
