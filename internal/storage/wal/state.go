package wal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/otterlog/otter-raft/internal/raft"
)

// StateFile persists (currentTerm, votedFor) with an atomic
// write-tmp-fsync-rename cycle. The driver saves it before any action
// that depends on the persisted values becomes externally visible.
type StateFile struct {
	path string
}

// NewStateFile creates a StateFile at path. The file appears on the
// first Save.
func NewStateFile(path string) *StateFile {
	return &StateFile{path: path}
}

// Load reads the persisted state. A missing file yields the zero state
// of a freshly booted node.
func (s *StateFile) Load() (raft.PersistentState, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return raft.PersistentState{}, nil
	}
	if err != nil {
		return raft.PersistentState{}, fmt.Errorf("wal: read state file: %w", err)
	}
	var ps raft.PersistentState
	if err := json.Unmarshal(raw, &ps); err != nil {
		return raft.PersistentState{}, &CorruptionError{Line: 1, Cause: err}
	}
	return ps, nil
}

// Save durably replaces the persisted state.
func (s *StateFile) Save(ps raft.PersistentState) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("wal: create state directory: %w", err)
	}
	raw, err := json.Marshal(ps)
	if err != nil {
		return fmt.Errorf("wal: encode state: %w", err)
	}

	tmp := s.path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("wal: open state tmp: %w", err)
	}
	if _, err := file.Write(append(raw, '\n')); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("wal: write state: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrSyncFailed, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("wal: close state tmp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("wal: replace state file: %w", err)
	}
	return nil
}
