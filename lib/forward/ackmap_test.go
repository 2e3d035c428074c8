// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package forward

import (
	"fmt"
	"sync"
	"testing"
)

func TestAckMapConcurrentWriters(t *testing.T) {
	acks := NewAckMap()
	var wg sync.WaitGroup
	for worker := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				checksum := fmt.Sprintf("%d-%d", worker, i)
				acks.Add(&AckItem{Checksum: checksum})
				if i%2 == 0 {
					acks.Remove(checksum)
				}
			}
		}()
	}
	wg.Wait()

	if got := acks.Len(); got != 8*100 {
		t.Errorf("Len = %d, want %d", got, 8*100)
	}
}

func TestAckMapRemoveAfterAddWins(t *testing.T) {
	acks := NewAckMap()
	// Hold the lock so both intents are staged and merged together.
	acks.mu.Lock()
	acks.Add(&AckItem{Checksum: "c1"})
	acks.Remove("c1")
	acks.release()

	if acks.Contains("c1") {
		t.Error("staged remove did not apply after staged add")
	}
}

func TestAckItemTick(t *testing.T) {
	tests := []struct {
		timer        int
		resend, drop bool
	}{
		{timer: -2, resend: true},
		{timer: 0},
		{timer: 4, resend: true},
		{timer: 8},
		{timer: 9, resend: true},
		{timer: 49, resend: true},
		{timer: 50, drop: true},
	}
	for _, test := range tests {
		item := &AckItem{Timer: test.timer}
		resend, drop := item.tick(5, 10)
		if resend != test.resend || drop != test.drop {
			t.Errorf("timer %d: tick = (%v, %v), want (%v, %v)",
				test.timer, resend, drop, test.resend, test.drop)
		}
	}
}
