package wal

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"time"
)

// Rotate archives the current file as a gzip next to it and rewrites
// the live file to the compact form (one append record per live entry,
// no truncate history). Call it when the record count has grown far
// past the entry count.
func (l *Log) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}

	archive := fmt.Sprintf("%s.%s.gz", l.path, time.Now().UTC().Format("20060102T150405"))
	if err := gzipFile(l.path, archive); err != nil {
		return fmt.Errorf("wal: archive: %w", err)
	}

	tmp := l.path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("wal: rotate open: %w", err)
	}
	if err := l.writeCompact(file); err != nil {
		file.Close()
		os.Remove(tmp)
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrSyncFailed, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("wal: rotate close: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("wal: rotate rename: %w", err)
	}

	// Reopen the live file so the append handle points at the new inode.
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("wal: rotate reopen: %w", err)
	}
	return l.reopen()
}

func (l *Log) writeCompact(dst *os.File) error {
	enc := newRecordEncoder(dst)
	for _, e := range l.mem.Entries() {
		r := record{Kind: recordAppend, Entry: &e, Checksum: recordChecksum(recordAppend, e, 0)}
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("wal: rotate write: %w", err)
		}
	}
	return nil
}

func (l *Log) reopen() error {
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("wal: reopen: %w", err)
	}
	l.file = file
	l.enc = newRecordEncoder(file)
	return nil
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := gz.Close(); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
