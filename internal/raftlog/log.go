// Package raftlog defines the log-store capability consumed by the
// protocol core and provides an in-memory implementation.
package raftlog

import (
	"errors"
	"sync"

	"github.com/otterlog/otter-raft/pkg/types"
)

var (
	// ErrNotFound is returned when no entry exists at the requested index.
	ErrNotFound = errors.New("raftlog: entry not found")

	// ErrOutOfOrder is returned when appended entries are not contiguous
	// with the current log tail.
	ErrOutOfOrder = errors.New("raftlog: entries not contiguous with log tail")
)

// Reader is the read-only view of the log handed to the transition
// engine. The engine never mutates the log directly; writes happen only
// through actions executed by the driver.
type Reader interface {
	// Entry returns the entry at the given index, or ErrNotFound.
	// Index 0 is invalid for this call.
	Entry(index types.Index) (types.Entry, error)

	// LastEntry returns the last entry in the log. The second return is
	// false when the log is empty.
	LastEntry() (types.Entry, bool, error)
}

// Store is the full log-store capability owned by a node's driver.
type Store interface {
	Reader

	// Append appends entries to the tail. Entries must have contiguous
	// indices strictly greater than the current last index.
	Append(entries []types.Entry) error

	// DeleteFrom truncates the suffix [index, ∞).
	DeleteFrom(index types.Index) error
}

// TermAt returns the term of the entry at index, treating index 0 as
// the sentinel with term 0. The second return is false when the log has
// no entry at the index.
func TermAt(r Reader, index types.Index) (types.Term, bool, error) {
	if index == 0 {
		return 0, true, nil
	}
	e, err := r.Entry(index)
	if errors.Is(err, ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return e.Term, true, nil
}

// MemoryStore is an in-memory Store for tests, demos and as the volatile
// half of the durable store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []types.Entry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Entry(index types.Index) (types.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if index == 0 || index > types.Index(len(m.entries)) {
		return types.Entry{}, ErrNotFound
	}
	return m.entries[index-1], nil
}

func (m *MemoryStore) LastEntry() (types.Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.entries) == 0 {
		return types.Entry{}, false, nil
	}
	return m.entries[len(m.entries)-1], true, nil
}

func (m *MemoryStore) Append(entries []types.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := types.Index(len(m.entries)) + 1
	for _, e := range entries {
		if e.Index != next {
			return ErrOutOfOrder
		}
		m.entries = append(m.entries, e)
		next++
	}
	return nil
}

func (m *MemoryStore) DeleteFrom(index types.Index) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if index == 0 {
		m.entries = m.entries[:0]
		return nil
	}
	if index > types.Index(len(m.entries)) {
		return nil
	}
	m.entries = m.entries[:index-1]
	return nil
}

// Entries returns a copy of the whole log, for tests and snapshots.
func (m *MemoryStore) Entries() []types.Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.Entry, len(m.entries))
	copy(out, m.entries)
	return out
}
