// Package txstorage adds a single transaction boundary to a storage.Storage:
// reads past the boundary fail, writes before it fail. Exactly one
// component (the journal) is meant to own a given Storage exclusively
// (spec.md §5), so the wrapper keeps no locking of its own.
package txstorage

import (
	"kvcore/pkg/kverrors"
	"kvcore/pkg/storage"
)

// Storage wraps a storage.Storage, adding the transaction boundary B
// (spec.md §4.3). It implements storage.Storage itself so it can be used
// anywhere a plain storage is expected. The typed W*/R* primitives come
// from storage.TypedCodec, configured to route every byte-level op back
// through WBytes/RBytes below so the boundary checks apply uniformly.
type Storage struct {
	storage.TypedCodec

	inner       storage.Storage
	boundary    uint64
	checkOnRead bool
}

// New wraps inner with a boundary starting at 0 and check-on-read enabled.
func New(inner storage.Storage) *Storage {
	t := &Storage{inner: inner, checkOnRead: true}
	t.TypedCodec = storage.TypedCodec{Raw: t}
	return t
}

// GetTxnBoundary returns the current boundary B.
func (t *Storage) GetTxnBoundary() uint64 { return t.boundary }

// SetTxnBoundary moves B to offset, which must be <= capacity. Per spec.md
// §9's resolved Open Question, the boundary may move in either direction;
// there is no monotonicity check.
func (t *Storage) SetTxnBoundary(offset uint64) error {
	if offset > t.inner.GetCapacity() {
		return kverrors.Assert(kverrors.CondSetTxnBoundaryPastEnd)
	}
	t.boundary = offset
	return nil
}

// SetCheckOnRead toggles read-boundary enforcement. The journal disables
// this only transiently, during its own verification pass.
func (t *Storage) SetCheckOnRead(enabled bool) { t.checkOnRead = enabled }

func (t *Storage) checkRead(offset, length uint64) error {
	if !t.checkOnRead || !t.inner.IsOpen() {
		return nil
	}
	if offset+length > t.boundary {
		return kverrors.Assert(kverrors.CondReadAfterTxnBoundary)
	}
	return nil
}

func (t *Storage) checkWrite(offset uint64) error {
	if !t.inner.IsOpen() {
		return nil // closed-storage errors surface from the underlying writer
	}
	if offset < t.boundary {
		return kverrors.Assert(kverrors.CondWriteBeforeTxnBoundary)
	}
	return nil
}

func (t *Storage) Open() error  { return t.inner.Open() }
func (t *Storage) Close() error { return t.inner.Close() }
func (t *Storage) IsOpen() bool { return t.inner.IsOpen() }

func (t *Storage) Expand(minCapacity uint64) error { return t.inner.Expand(minCapacity) }
func (t *Storage) GetExpandSize() uint64           { return t.inner.GetExpandSize() }
func (t *Storage) SetExpandSize(n uint64) error    { return t.inner.SetExpandSize(n) }
func (t *Storage) GetCapacity() uint64             { return t.inner.GetCapacity() }

func (t *Storage) WBytes(offset uint64, b []byte) error {
	if err := t.checkWrite(offset); err != nil {
		return err
	}
	return t.inner.WBytes(offset, b)
}

func (t *Storage) RBytes(offset, length uint64) ([]byte, error) {
	if err := t.checkRead(offset, length); err != nil {
		return nil, err
	}
	return t.inner.RBytes(offset, length)
}

// Fill is checked at both endpoints, per spec.md §4.3.
func (t *Storage) Fill(start, end *uint64, b byte) error {
	if start != nil {
		if err := t.checkWrite(*start); err != nil {
			return err
		}
	}
	if end != nil {
		if err := t.checkWrite(*end); err != nil {
			return err
		}
	}
	return t.inner.Fill(start, end, b)
}

func (t *Storage) IsFilled(start, end *uint64, b byte) (bool, error) {
	return t.inner.IsFilled(start, end, b)
}
