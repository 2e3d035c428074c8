// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package forward

import "sync"

// AckMap is the set of messages in flight on one link, keyed by
// acknowledgement checksum.
//
// Writers never wait for the map lock. Add and Remove append an
// intent to an ordered staging queue and then try to take the lock;
// whoever holds it merges the queue, in order, before releasing. A
// remove staged behind an add for the same checksum therefore always
// wins, whichever goroutine ends up applying them.
type AckMap struct {
	mu    sync.Mutex
	items map[string]*AckItem

	stagingMu sync.Mutex
	staged    []intent
}

type intent struct {
	add    *AckItem
	remove string
}

// NewAckMap returns an empty AckMap.
func NewAckMap() *AckMap {
	return &AckMap{items: make(map[string]*AckItem)}
}

// Add registers item. Adding a checksum already present replaces the
// older item.
func (m *AckMap) Add(item *AckItem) {
	m.stage(intent{add: item})
}

// Remove forgets checksum. Removing an unknown checksum is a no-op.
func (m *AckMap) Remove(checksum string) {
	m.stage(intent{remove: checksum})
}

func (m *AckMap) stage(i intent) {
	m.stagingMu.Lock()
	m.staged = append(m.staged, i)
	m.stagingMu.Unlock()

	if m.mu.TryLock() {
		m.release()
	}
}

// lock takes the map lock and applies everything staged so far.
func (m *AckMap) lock() {
	m.mu.Lock()
	m.mergeLocked()
}

// release merges and unlocks, then picks up anything staged between
// the last merge and the unlock.
func (m *AckMap) release() {
	for {
		m.mergeLocked()
		m.mu.Unlock()

		m.stagingMu.Lock()
		pending := len(m.staged)
		m.stagingMu.Unlock()
		if pending == 0 || !m.mu.TryLock() {
			return
		}
	}
}

func (m *AckMap) mergeLocked() {
	m.stagingMu.Lock()
	staged := m.staged
	m.staged = nil
	m.stagingMu.Unlock()

	for _, i := range staged {
		if i.add != nil {
			m.items[i.add.Checksum] = i.add
		} else {
			delete(m.items, i.remove)
		}
	}
}

// Len returns the number of items in flight.
func (m *AckMap) Len() int {
	m.lock()
	defer m.release()
	return len(m.items)
}

// Contains reports whether checksum is in flight.
func (m *AckMap) Contains(checksum string) bool {
	m.lock()
	defer m.release()
	_, ok := m.items[checksum]
	return ok
}

// Drain removes and returns every item in flight.
func (m *AckMap) Drain() []*AckItem {
	m.lock()
	defer m.release()
	items := make([]*AckItem, 0, len(m.items))
	for checksum, item := range m.items {
		items = append(items, item)
		delete(m.items, checksum)
	}
	return items
}

// Check advances every item's timer. Items past the overflow ceiling
// are removed and returned in dropped; items due for a retry are
// returned in due and stay in the map.
func (m *AckMap) Check(maxMisses, overflowFactor int) (due, dropped []*AckItem) {
	m.lock()
	defer m.release()
	for checksum, item := range m.items {
		resend, drop := item.tick(maxMisses, overflowFactor)
		switch {
		case drop:
			delete(m.items, checksum)
			dropped = append(dropped, item)
		case resend:
			due = append(due, item)
		}
	}
	return due, dropped
}
