// Package journal implements the append-only write-ahead log: a sequence
// of framed records over a transactionally-boundaried storage. Each record
// is a start marker, a length, the payload, an XOR checksum, and an end
// marker; the transaction boundary only moves forward to a record's end
// once that record's end marker has actually been written, so a crash
// mid-write leaves the boundary exactly where the last full record ended.
package journal

import (
	"encoding/binary"
	"io"

	"kvcore/pkg/bytesutil"
	"kvcore/pkg/kverrors"
	"kvcore/pkg/txstorage"
)

var (
	startMarker = [2]byte{0x02, 0x02}
	endMarker   = [2]byte{0x03, 0x03}
)

// recordHeaderSize is the start marker plus the length field: the minimum
// number of bytes needed to tell whether a record begins at an offset, and
// where its payload ends.
const recordHeaderSize = 6

// Journal wraps a single *txstorage.Storage exclusively (spec.md §5: one
// transactional wrapper belongs to one journal). It owns the read and
// write cursors and is the only component that recovers locally from a
// failure, by discarding a partial write before surfacing the error.
type Journal struct {
	tx *txstorage.Storage

	readOffset      uint64
	writeOffset     uint64
	isWriting       bool
	uncommittedSize uint64
	recordCount     uint64
}

// New returns a Journal over tx. Call Open before using it.
func New(tx *txstorage.Storage) *Journal {
	return &Journal{tx: tx}
}

func (j *Journal) IsWriting() bool     { return j.isWriting }
func (j *Journal) RecordCount() uint64 { return j.recordCount }
func (j *Journal) ReadOffset() uint64  { return j.readOffset }
func (j *Journal) WriteOffset() uint64 { return j.writeOffset }
func (j *Journal) TxnBoundary() uint64 { return j.tx.GetTxnBoundary() }

// Open opens the underlying storage if it isn't already open, then
// verifies the journal per spec.md §4.4.1: it scans every committed
// record from the start, counts them, and detects an in-progress
// (uncommitted) trailing write.
func (j *Journal) Open() error {
	if !j.tx.IsOpen() {
		if err := j.tx.Open(); err != nil {
			return err
		}
	}
	return j.verify()
}

// Close closes the underlying storage.
func (j *Journal) Close() error { return j.tx.Close() }

// verify implements spec.md §4.4.1 steps 1-4.
func (j *Journal) verify() error {
	j.tx.SetCheckOnRead(false)
	defer j.tx.SetCheckOnRead(true)

	capacity := j.tx.GetCapacity()
	pos := uint64(0)
	count := uint64(0)

	for {
		if pos+recordHeaderSize > capacity {
			break
		}
		header, err := j.tx.RBytes(pos, recordHeaderSize)
		if err != nil {
			break
		}
		if header[0] != startMarker[0] || header[1] != startMarker[1] {
			break
		}
		dataLen := uint64(binary.LittleEndian.Uint32(header[2:6]))
		total := dataLen + 9
		if pos+total > capacity {
			break // incomplete trailing record: handled below, not an error
		}

		rest, err := j.tx.RBytes(pos+recordHeaderSize, dataLen+1+2)
		if err != nil {
			break
		}
		data := rest[:dataLen]
		cksum := rest[dataLen]
		end := rest[dataLen+1:]
		if end[0] != endMarker[0] || end[1] != endMarker[1] {
			// No end marker yet: this is an in-progress write, not a
			// corrupted record. Fall through to the partial-write
			// detection below instead of failing verification.
			break
		}
		if bytesutil.XORChecksum(data) != cksum {
			return kverrors.Assert(kverrors.CondChecksumMismatch)
		}

		pos += total
		count++
	}

	committedEnd := pos
	writeOffset := committedEnd
	isWriting := false

	if committedEnd+recordHeaderSize <= capacity {
		header, err := j.tx.RBytes(committedEnd, recordHeaderSize)
		if err == nil && header[0] == startMarker[0] && header[1] == startMarker[1] {
			dataLen := uint64(binary.LittleEndian.Uint32(header[2:6]))
			isWriting = true
			writeOffset = committedEnd + recordHeaderSize + dataLen + 1
		}
	}

	// The boundary covers only the committed region. An in-progress write's
	// bytes sit above it, per spec.md §3: "any trailing region [B, capacity)
	// may contain a partially written (uncommitted) record".
	if err := j.tx.SetTxnBoundary(committedEnd); err != nil {
		return err
	}

	j.readOffset = 0
	j.writeOffset = writeOffset
	j.isWriting = isWriting
	j.recordCount = count
	if isWriting {
		j.uncommittedSize = writeOffset - committedEnd
	} else {
		j.uncommittedSize = 0
	}
	return nil
}

// Write emits a new record's start marker, length, payload, and checksum,
// and marks the journal as mid-write. It requires no write already be in
// progress and a non-empty payload. Per spec.md §4.4.2, only Commit moves
// the transaction boundary; Write leaves it exactly where it was, so the
// record just written sits entirely in the uncommitted region above B. A
// failure partway through leaves isWriting false (it is only set once every
// sub-write has succeeded), so nothing needs discarding in that case.
func (j *Journal) Write(data []byte) error {
	if j.isWriting {
		return kverrors.Assert(kverrors.CondWriteInProgress)
	}
	if len(data) == 0 {
		return kverrors.Assert(kverrors.CondNothingToWrite)
	}

	recordStart := j.writeOffset
	dataLen := uint64(len(data))

	if err := j.tx.WBytes(recordStart, startMarker[:]); err != nil {
		return err
	}
	if err := j.tx.WU32(recordStart+2, uint32(dataLen)); err != nil {
		return err
	}
	if err := j.tx.WBytes(recordStart+recordHeaderSize, data); err != nil {
		return err
	}
	cksum := bytesutil.XORChecksum(data)
	if err := j.tx.WU8(recordStart+recordHeaderSize+dataLen, cksum); err != nil {
		return err
	}

	newWriteOffset := recordStart + recordHeaderSize + dataLen + 1
	j.writeOffset = newWriteOffset
	j.uncommittedSize = newWriteOffset - recordStart
	j.isWriting = true
	return nil
}

// Commit closes out the in-progress record by writing its end marker and
// advancing the transaction boundary to match.
func (j *Journal) Commit() error {
	if !j.isWriting {
		return kverrors.Assert(kverrors.CondWriteNotInProgress)
	}
	if err := j.tx.WBytes(j.writeOffset, endMarker[:]); err != nil {
		return err
	}
	j.writeOffset += 2
	if err := j.tx.SetTxnBoundary(j.writeOffset); err != nil {
		return err
	}
	j.uncommittedSize = 0
	j.recordCount++
	j.isWriting = false
	return nil
}

// Discard rolls back the in-progress record: the write cursor retreats by
// uncommittedSize, erasing the uncommitted bytes from view. The transaction
// boundary never advanced while the write was in progress (only Commit
// moves it), so there is nothing to restore there.
func (j *Journal) Discard() error {
	if !j.isWriting {
		return kverrors.Assert(kverrors.CondWriteNotInProgress)
	}
	j.writeOffset -= j.uncommittedSize
	j.uncommittedSize = 0
	j.isWriting = false
	return nil
}

// hasStart reports whether a start marker sits at the read cursor,
// surfacing any underlying storage error — including a transaction-boundary
// violation when the read cursor sits at or past an uncommitted record.
func (j *Journal) hasStart() (bool, error) {
	b, err := j.tx.RBytes(j.readOffset, 2)
	if err != nil {
		return false, err
	}
	return b[0] == startMarker[0] && b[1] == startMarker[1], nil
}

// HasStart reports whether a start marker sits at the read cursor. Any
// underlying error, boundary violations included, reads as "no marker
// here" — this is the navigation-only variant used by Next and JumpTo,
// which treat hitting the boundary the same as hitting the end of data.
func (j *Journal) HasStart() bool {
	ok, err := j.hasStart()
	return err == nil && ok
}

// HasEnd reports whether an end marker sits at the offset derived from the
// length field at the read cursor.
func (j *Journal) HasEnd() bool {
	dataLen, err := j.tx.RU32(j.readOffset + 2)
	if err != nil {
		return false
	}
	b, err := j.tx.RBytes(j.readOffset+recordHeaderSize+uint64(dataLen), 2)
	if err != nil {
		return false
	}
	return b[0] == endMarker[0] && b[1] == endMarker[1]
}

// Read returns the payload of the record at the read cursor, verifying its
// checksum. It does not advance the cursor; use Next to iterate. Unlike
// HasStart, Read surfaces a transaction-boundary violation as-is (spec.md
// §8 property 4 / scenario S4) instead of reporting it as a missing record.
func (j *Journal) Read() ([]byte, error) {
	ok, err := j.hasStart()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, kverrors.Assert(kverrors.CondNoRecordData)
	}
	dataLen, err := j.tx.RU32(j.readOffset + 2)
	if err != nil {
		return nil, err
	}
	data, err := j.tx.RBytes(j.readOffset+recordHeaderSize, uint64(dataLen))
	if err != nil {
		return nil, err
	}
	cksum, err := j.tx.RU8(j.readOffset + recordHeaderSize + uint64(dataLen))
	if err != nil {
		return nil, err
	}
	if bytesutil.XORChecksum(data) != cksum {
		return nil, kverrors.Assert(kverrors.CondChecksumMismatch)
	}
	end, err := j.tx.RBytes(j.readOffset+recordHeaderSize+uint64(dataLen)+1, 2)
	if err != nil {
		return nil, err
	}
	if end[0] != endMarker[0] || end[1] != endMarker[1] {
		return nil, kverrors.Assert(kverrors.CondNoRecordData)
	}
	return data, nil
}

// JumpTo moves the read cursor to offset and validates that a complete
// record begins there. This preserves a documented wart from the original
// implementation: read_offset is updated even when validation then fails,
// so a caller can inspect where the jump landed.
func (j *Journal) JumpTo(offset uint64) error {
	j.readOffset = offset
	if !j.HasStart() || !j.HasEnd() {
		return kverrors.Assert(kverrors.CondNoCommittedRecord)
	}
	return nil
}

// Next returns the payload of the record at the read cursor and advances
// past it, or io.EOF if no complete record is available there.
func (j *Journal) Next() ([]byte, error) {
	if !j.HasStart() {
		return nil, io.EOF
	}
	data, err := j.Read()
	if err != nil {
		return nil, err
	}
	j.readOffset += uint64(len(data)) + 9
	return data, nil
}
