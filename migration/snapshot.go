package migration

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Snapshot header layout, followed by count flat records. The set of
// particles round-trips exactly; record order carries no meaning.
const (
	snapshotMagic   uint32 = 0x44454d54 // "DEMT"
	snapshotVersion uint32 = 1

	// preallocRecords caps the allocation made before any record has
	// actually decoded.
	preallocRecords int64 = 4096
)

type snapshotHeader struct {
	Magic      uint32
	Version    uint32
	RecordSize int64
	Count      int64
}

// WriteSnapshot writes a header and the records as one flat block.
func WriteSnapshot(w io.Writer, recs []Record) error {
	h := snapshotHeader{
		Magic:      snapshotMagic,
		Version:    snapshotVersion,
		RecordSize: RecordSize,
		Count:      int64(len(recs)),
	}
	if err := binary.Write(w, byteOrder, &h); err != nil {
		return fmt.Errorf("migration: writing snapshot header: %w", err)
	}
	if err := binary.Write(w, byteOrder, recs); err != nil {
		return fmt.Errorf("migration: writing %d records: %w", len(recs), err)
	}
	return nil
}

// ReadSnapshot reads back a full particle collection. Any header mismatch
// is a protocol fault.
func ReadSnapshot(r io.Reader) ([]Record, error) {
	var h snapshotHeader
	if err := binary.Read(r, byteOrder, &h); err != nil {
		return nil, fmt.Errorf("%w: reading snapshot header: %v", ErrCorrupt, err)
	}
	if h.Magic != snapshotMagic {
		return nil, fmt.Errorf("%w: bad magic %#x", ErrCorrupt, h.Magic)
	}
	if h.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: snapshot version %d, want %d", ErrCorrupt, h.Version, snapshotVersion)
	}
	if h.RecordSize != RecordSize {
		return nil, fmt.Errorf("%w: record size %d, want %d", ErrCorrupt, h.RecordSize, RecordSize)
	}
	if h.Count < 0 {
		return nil, fmt.Errorf("%w: negative record count %d", ErrCorrupt, h.Count)
	}
	// The count comes from untrusted input; records are read one at a time
	// with a bounded up-front allocation, so a corrupt header surfaces as a
	// decode error rather than an absurd allocation.
	recs := make([]Record, 0, min(h.Count, preallocRecords))
	for i := int64(0); i < h.Count; i++ {
		var rec Record
		if err := binary.Read(r, byteOrder, &rec); err != nil {
			return nil, fmt.Errorf("%w: reading record %d of %d: %v", ErrCorrupt, i, h.Count, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
