// Package wal provides the durable half of a node's state: an
// append-only log store for replicated entries and an atomically
// rewritten file for (currentTerm, votedFor).
//
// Record format: one JSON object per line, each carrying a CRC32
// checksum over its content fields. Appends are fsynced before they are
// acknowledged, which is what lets the driver externalize actions that
// depend on them. On open the file is replayed to rebuild the in-memory
// mirror; a corrupted or checksum-failing record aborts the replay so
// the operator can inspect the file rather than silently losing a
// suffix of the log.
package wal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/otterlog/otter-raft/internal/raftlog"
	"github.com/otterlog/otter-raft/pkg/types"
)

type recordKind string

const (
	recordAppend   recordKind = "append"
	recordTruncate recordKind = "truncate"
)

func newRecordEncoder(w *os.File) *json.Encoder {
	return json.NewEncoder(w)
}

// record is one line of the log file.
type record struct {
	Kind     recordKind   `json:"kind"`
	Entry    *types.Entry `json:"entry,omitempty"`
	From     types.Index  `json:"from,omitempty"`
	Checksum uint32       `json:"checksum"`
}

// Log is a durable raftlog.Store: a WAL file fronted by an in-memory
// mirror that serves all reads.
type Log struct {
	mu     sync.Mutex
	mem    *raftlog.MemoryStore
	file   *os.File
	enc    *json.Encoder
	path   string
	closed bool
}

// Open opens (or creates) the log file at path and replays it.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("wal: create directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open file: %w", err)
	}

	l := &Log{
		mem:  raftlog.NewMemoryStore(),
		file: file,
		enc:  newRecordEncoder(file),
		path: path,
	}
	if err := l.replay(); err != nil {
		file.Close()
		return nil, err
	}
	return l, nil
}

// replay rebuilds the in-memory mirror from the file.
func (l *Log) replay() error {
	if _, err := l.file.Seek(0, 0); err != nil {
		return fmt.Errorf("wal: seek for replay: %w", err)
	}

	scanner := bufio.NewScanner(l.file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var r record
		if err := json.Unmarshal(raw, &r); err != nil {
			return &CorruptionError{Line: line, Cause: err}
		}
		if !verifyRecord(r) {
			var idx types.Index
			if r.Entry != nil {
				idx = r.Entry.Index
			}
			var entry types.Entry
			if r.Entry != nil {
				entry = *r.Entry
			}
			return &ChecksumError{
				Index:    idx,
				Expected: recordChecksum(r.Kind, entry, r.From),
				Actual:   r.Checksum,
			}
		}
		switch r.Kind {
		case recordAppend:
			if r.Entry == nil {
				return &CorruptionError{Line: line, Cause: fmt.Errorf("append record without entry")}
			}
			if err := l.mem.Append([]types.Entry{*r.Entry}); err != nil {
				return &CorruptionError{Line: line, Cause: err}
			}
		case recordTruncate:
			if err := l.mem.DeleteFrom(r.From); err != nil {
				return &CorruptionError{Line: line, Cause: err}
			}
		default:
			return &CorruptionError{Line: line, Cause: fmt.Errorf("unknown record kind %q", r.Kind)}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("wal: replay scan: %w", err)
	}
	return nil
}

func (l *Log) Entry(index types.Index) (types.Entry, error) {
	return l.mem.Entry(index)
}

func (l *Log) LastEntry() (types.Entry, bool, error) {
	return l.mem.LastEntry()
}

// Append durably appends entries: records are written and fsynced
// before the in-memory mirror (and thus any reader) observes them.
func (l *Log) Append(entries []types.Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}

	last, ok, err := l.mem.LastEntry()
	if err != nil {
		return err
	}
	next := types.Index(1)
	if ok {
		next = last.Index + 1
	}
	for _, e := range entries {
		if e.Index != next {
			return raftlog.ErrOutOfOrder
		}
		next++
	}

	for i := range entries {
		e := entries[i]
		r := record{Kind: recordAppend, Entry: &e, Checksum: recordChecksum(recordAppend, e, 0)}
		if err := l.enc.Encode(r); err != nil {
			return fmt.Errorf("wal: append record: %w", err)
		}
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("%w: %v", ErrSyncFailed, err)
	}
	return l.mem.Append(entries)
}

// DeleteFrom durably truncates the suffix [index, ∞).
func (l *Log) DeleteFrom(index types.Index) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}

	r := record{Kind: recordTruncate, From: index, Checksum: recordChecksum(recordTruncate, types.Entry{}, index)}
	if err := l.enc.Encode(r); err != nil {
		return fmt.Errorf("wal: truncate record: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("%w: %v", ErrSyncFailed, err)
	}
	return l.mem.DeleteFrom(index)
}

// Close syncs and closes the file. Further operations return ErrClosed.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	l.closed = true
	if err := l.file.Sync(); err != nil {
		l.file.Close()
		return fmt.Errorf("%w: %v", ErrSyncFailed, err)
	}
	return l.file.Close()
}
