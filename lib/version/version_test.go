// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"bytes"
	"strings"
	"testing"
)

func TestInfoMarksDirtyBuilds(t *testing.T) {
	saved := GitDirty
	t.Cleanup(func() { GitDirty = saved })

	GitDirty = "false"
	if strings.Contains(Info(), "-dirty") {
		t.Errorf("clean build: %q", Info())
	}
	GitDirty = "true"
	if !strings.Contains(Info(), GitCommit+"-dirty") {
		t.Errorf("dirty build: %q", Info())
	}
}

func TestPrint(t *testing.T) {
	var buffer bytes.Buffer
	Print(&buffer, "gyrid-server")
	output := buffer.String()
	if !strings.HasPrefix(output, "gyrid-server "+Version) {
		t.Errorf("output = %q", output)
	}
	if !strings.Contains(output, "Go: ") {
		t.Errorf("output lacks the Go version: %q", output)
	}
}
