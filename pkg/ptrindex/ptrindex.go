// Package ptrindex implements the "convenience fixed-width u64 log" spec.md
// §2 lists as the eighth core component: a persisted append-only array of
// byte offsets, built directly on top of a journal so callers don't have to
// hand-roll their own framing and checksum for something as small as a
// pointer log (e.g. a record of B+ tree root relocations over time).
package ptrindex

import (
	"encoding/binary"

	"kvcore/pkg/journal"
	"kvcore/pkg/kverrors"
)

const entrySize = 8

// Index is a fixed-width u64 log over a journal. Every Append is its own
// committed journal record, so Index inherits the journal's recovery
// semantics on reopen.
type Index struct {
	j *journal.Journal
}

// New returns an Index over j. Call Open before using it.
func New(j *journal.Journal) *Index {
	return &Index{j: j}
}

// Open opens the underlying journal, replaying and verifying its records.
func (idx *Index) Open() error { return idx.j.Open() }

// Close closes the underlying journal.
func (idx *Index) Close() error { return idx.j.Close() }

// Append writes ptr as a new committed journal record.
func (idx *Index) Append(ptr uint64) error {
	buf := make([]byte, entrySize)
	binary.LittleEndian.PutUint64(buf, ptr)
	if err := idx.j.Write(buf); err != nil {
		return err
	}
	return idx.j.Commit()
}

// Len returns the number of entries appended so far.
func (idx *Index) Len() (uint64, error) {
	return idx.j.RecordCount(), nil
}

// At replays the journal from the start and returns the i-th entry
// (0-indexed). Fails with kverrors.CondNotIndexed if i is out of range.
func (idx *Index) At(i uint64) (uint64, error) {
	n, err := idx.Len()
	if err != nil {
		return 0, err
	}
	if i >= n {
		return 0, kverrors.Assert(kverrors.CondNotIndexed)
	}

	savedRead := idx.j.ReadOffset()
	defer func() { _ = idx.j.JumpTo(savedRead) }()

	if err := idx.j.JumpTo(0); err != nil {
		return 0, err
	}
	var data []byte
	for seen := uint64(0); ; seen++ {
		d, err := idx.j.Next()
		if err != nil {
			return 0, err
		}
		if seen == i {
			data = d
			break
		}
	}
	if len(data) != entrySize {
		return 0, kverrors.Assert(kverrors.CondNodeDataWrongLength)
	}
	return binary.LittleEndian.Uint64(data), nil
}
