package storage

import (
	"kvcore/pkg/bytesutil"
	"kvcore/pkg/kverrors"
)

// MemoryStorage is the heap-backed Storage variant: a single owned,
// contiguous buffer that Expand reallocates and zeroes the new tail of.
type MemoryStorage struct {
	TypedCodec

	buf        []byte
	capacity   uint64
	expandSize uint64
	open       bool
}

// NewMemoryStorage validates initialCapacity/expandSize (both must be
// positive powers of two) and returns a closed MemoryStorage ready to Open.
func NewMemoryStorage(initialCapacity, expandSize uint64) (*MemoryStorage, error) {
	if err := validateCtorParams(initialCapacity, expandSize); err != nil {
		return nil, err
	}
	m := &MemoryStorage{
		buf:        make([]byte, initialCapacity),
		capacity:   initialCapacity,
		expandSize: expandSize,
	}
	m.TypedCodec = TypedCodec{Raw: m}
	return m, nil
}

func (m *MemoryStorage) Open() error {
	if err := checkClosed(m.open); err != nil {
		return err
	}
	m.open = true
	return nil
}

func (m *MemoryStorage) Close() error {
	if err := checkOpen(m.open); err != nil {
		return err
	}
	m.open = false
	return nil
}

func (m *MemoryStorage) IsOpen() bool { return m.open }

func (m *MemoryStorage) GetCapacity() uint64   { return m.capacity }
func (m *MemoryStorage) GetExpandSize() uint64 { return m.expandSize }

func (m *MemoryStorage) SetExpandSize(n uint64) error {
	if n == 0 {
		return kverrors.Assert(kverrors.CondExpandSizeTooSmall)
	}
	if !bytesutil.IsPowerOfTwo(n) {
		return kverrors.Assert(kverrors.CondExpandSizeNotPowerOfTwo)
	}
	m.expandSize = n
	return nil
}

// Expand raises capacity to the smallest multiple of expandSize >=
// minCapacity, zeroing the newly exposed tail.
func (m *MemoryStorage) Expand(minCapacity uint64) error {
	if minCapacity <= m.capacity {
		return nil
	}
	newCap := bytesutil.NextMultiple(minCapacity, m.expandSize)
	grown := make([]byte, newCap)
	copy(grown, m.buf)
	m.buf = grown
	m.capacity = newCap
	return nil
}

func (m *MemoryStorage) ensureWritable(offset, length uint64) error {
	if err := checkOpen(m.open); err != nil {
		return err
	}
	end, err := bytesutil.CheckedAdd(offset, length)
	if err != nil {
		return err
	}
	if end > m.capacity {
		if err := m.Expand(end); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStorage) ensureReadable(offset, length uint64) error {
	if err := checkOpen(m.open); err != nil {
		return err
	}
	if length == 0 {
		return kverrors.Assert(kverrors.CondReadNothing)
	}
	end, err := bytesutil.CheckedAdd(offset, length)
	if err != nil {
		return err
	}
	if end > m.capacity {
		return kverrors.Assert(kverrors.CondReadPastEnd)
	}
	return nil
}

func (m *MemoryStorage) WBytes(offset uint64, b []byte) error {
	if len(b) == 0 {
		return kverrors.Assert(kverrors.CondWriteNothing)
	}
	if err := m.ensureWritable(offset, uint64(len(b))); err != nil {
		return err
	}
	copy(m.buf[offset:], b)
	return nil
}

func (m *MemoryStorage) RBytes(offset, length uint64) ([]byte, error) {
	if err := m.ensureReadable(offset, length); err != nil {
		return nil, err
	}
	out := make([]byte, length)
	copy(out, m.buf[offset:offset+length])
	return out, nil
}

func (m *MemoryStorage) Fill(start, end *uint64, b byte) error {
	if err := checkOpen(m.open); err != nil {
		return err
	}
	s, e := m.fillRange(start, end)
	if s == e {
		return kverrors.Assert(kverrors.CondWriteNothing)
	}
	if s > e {
		return kverrors.Assert(kverrors.CondWritePastEnd)
	}
	if e > m.capacity {
		if err := m.Expand(e); err != nil {
			return err
		}
	}
	for i := s; i < e; i++ {
		m.buf[i] = b
	}
	return nil
}

func (m *MemoryStorage) IsFilled(start, end *uint64, b byte) (bool, error) {
	if err := checkOpen(m.open); err != nil {
		return false, err
	}
	s, e := m.fillRange(start, end)
	if e > m.capacity {
		return false, kverrors.Assert(kverrors.CondReadPastEnd)
	}
	for i := s; i < e; i++ {
		if m.buf[i] != b {
			return false, nil
		}
	}
	return true, nil
}

func (m *MemoryStorage) fillRange(start, end *uint64) (uint64, uint64) {
	s := uint64(0)
	if start != nil {
		s = *start
	}
	e := m.capacity
	if end != nil {
		e = *end
	}
	return s, e
}
