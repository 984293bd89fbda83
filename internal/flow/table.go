// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package flow holds the bounded flow table shared by the packet path, the
// expiry sweep and the admin surface.
//
// Every operation, reads included, runs inside one mutex. Callbacks passed to
// Update, ForEach and RemoveIf execute under that mutex and must not block.
package flow

import (
	"slices"
	"sync"
	"time"

	"grimm.is/flowbridge/internal/errors"
)

// DefaultMaxConnections bounds the table when no size is configured.
const DefaultMaxConnections = 100

var (
	// ErrCapacityExceeded is returned by Insert when the table is full.
	ErrCapacityExceeded = errors.New(errors.KindCapacity, "flow table full")
	// ErrDuplicateKey is returned by Insert when the key is already tracked.
	ErrDuplicateKey = errors.New(errors.KindConflict, "flow already tracked")
	// ErrNotFound is returned by lookups for untracked keys.
	ErrNotFound = errors.New(errors.KindNotFound, "flow not found")
)

// Table is a fixed-capacity map of Key to Record.
type Table struct {
	mu    sync.Mutex
	flows map[Key]*Record
	// count mirrors len(flows) and is only changed together with it.
	count int
	max   int
}

// NewTable returns a table holding at most max records. The map is sized
// up front so inserts on the packet path never grow it.
func NewTable(max int) *Table {
	if max <= 0 {
		max = DefaultMaxConnections
	}
	return &Table{
		flows: make(map[Key]*Record, max),
		max:   max,
	}
}

// Capacity returns the maximum number of records.
func (t *Table) Capacity() int {
	return t.max
}

// Len returns the number of tracked flows.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// HasRoom reports whether an Insert would currently succeed capacity-wise.
func (t *Table) HasRoom() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count < t.max
}

// Update applies fn to the record for key in place. It returns false if the
// key is not tracked.
func (t *Table) Update(key Key, fn func(*Record)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.flows[key]
	if !ok {
		return false
	}
	fn(rec)
	return true
}

// Touch credits length bytes seen at now to key. It returns false if the key
// is not tracked.
func (t *Table) Touch(key Key, now time.Time, length int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.flows[key]
	if !ok {
		return false
	}
	rec.Touch(now, length)
	return true
}

// Insert adds a fully prepared record. The record is either inserted whole
// or not at all.
func (t *Table) Insert(rec *Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.flows[rec.Key]; exists {
		return ErrDuplicateKey
	}
	if t.count >= t.max {
		return ErrCapacityExceeded
	}
	t.flows[rec.Key] = rec
	t.count++
	return nil
}

// Remove deletes key and wipes its session key. It reports whether the key
// was present.
func (t *Table) Remove(key Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.flows[key]
	if !ok {
		return false
	}
	t.deleteLocked(rec)
	return true
}

// RemoveIf deletes every record for which pred returns true and returns how
// many were removed.
func (t *Table) RemoveIf(pred func(*Record) bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for _, rec := range t.flows {
		if pred(rec) {
			t.deleteLocked(rec)
			removed++
		}
	}
	return removed
}

// ForEach calls fn for every record until fn returns false. Iteration order
// is unspecified.
func (t *Table) ForEach(fn func(*Record) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, rec := range t.flows {
		if !fn(rec) {
			return
		}
	}
}

// Snapshot copies every record out under the lock and returns them ordered
// by key. Sorting happens after the lock is released.
func (t *Table) Snapshot() []Snapshot {
	t.mu.Lock()
	out := make([]Snapshot, 0, t.count)
	for _, rec := range t.flows {
		out = append(out, rec.snapshot())
	}
	t.mu.Unlock()

	slices.SortFunc(out, func(a, b Snapshot) int {
		ka, kb := a.Key(), b.Key()
		switch {
		case ka.Less(kb):
			return -1
		case kb.Less(ka):
			return 1
		}
		return 0
	})
	return out
}

// SessionKey returns a copy of the session key for key.
func (t *Table) SessionKey(key Key) ([SessionKeySize]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.flows[key]
	if !ok {
		return [SessionKeySize]byte{}, ErrNotFound
	}
	return rec.SessionKey, nil
}

// Drain removes every record and returns how many there were.
func (t *Table) Drain() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.count
	for _, rec := range t.flows {
		t.deleteLocked(rec)
	}
	return n
}

func (t *Table) deleteLocked(rec *Record) {
	rec.wipe()
	delete(t.flows, rec.Key)
	t.count--
}
