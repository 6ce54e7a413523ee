package wal

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/otterlog/otter-raft/pkg/types"
)

// recordChecksum computes the CRC32-IEEE checksum of a record's
// content fields. The checksum field itself is excluded.
func recordChecksum(kind recordKind, entry types.Entry, from types.Index) uint32 {
	var buf []byte
	buf = append(buf, kind...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(entry.Index))
	buf = binary.BigEndian.AppendUint64(buf, uint64(entry.Term))
	buf = append(buf, entry.Kind...)
	buf = append(buf, entry.Client...)
	buf = append(buf, entry.Command...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(from))
	return crc32.ChecksumIEEE(buf)
}

// verifyRecord reports whether a record's stored checksum matches its
// contents.
func verifyRecord(r record) bool {
	var entry types.Entry
	if r.Entry != nil {
		entry = *r.Entry
	}
	return r.Checksum == recordChecksum(r.Kind, entry, r.From)
}
