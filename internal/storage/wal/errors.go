package wal

import (
	"errors"
	"fmt"

	"github.com/otterlog/otter-raft/pkg/types"
)

var (
	// ErrCorrupt indicates a record that cannot be parsed.
	ErrCorrupt = errors.New("wal: record is corrupted")

	// ErrChecksumMismatch indicates a record whose stored checksum does
	// not match its contents.
	ErrChecksumMismatch = errors.New("wal: checksum mismatch")

	// ErrClosed indicates an operation on a closed log.
	ErrClosed = errors.New("wal: already closed")

	// ErrSyncFailed indicates fsync failed; the write may not be durable.
	ErrSyncFailed = errors.New("wal: sync to disk failed")
)

// ChecksumError reports a checksum failure with enough context to find
// the offending record.
type ChecksumError struct {
	Index    types.Index
	Expected uint32
	Actual   uint32
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("wal: checksum mismatch at index=%d (expected=0x%08x, got=0x%08x)",
		e.Index, e.Expected, e.Actual)
}

func (e *ChecksumError) Is(target error) bool {
	return target == ErrChecksumMismatch
}

// CorruptionError reports an unparseable record and where it was found.
type CorruptionError struct {
	Line  int
	Cause error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("wal: corrupted record at line %d: %v", e.Line, e.Cause)
}

func (e *CorruptionError) Unwrap() error {
	return e.Cause
}

func (e *CorruptionError) Is(target error) bool {
	return target == ErrCorrupt
}
