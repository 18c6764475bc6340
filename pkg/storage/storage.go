// Package storage implements the engine's byte-addressable binary storage:
// an address space [0, capacity) that grows in power-of-two increments and
// supports typed little-endian reads/writes of primitives and raw bytes.
// Two variants share the Storage interface: MemoryStorage (a heap buffer)
// and FileStorage (a paged, file-backed buffer).
package storage

import (
	"kvcore/pkg/bytesutil"
	"kvcore/pkg/kverrors"
)

// Storage is the byte-addressable contract both the in-memory and
// file-backed variants implement (spec.md §4.1).
type Storage interface {
	Open() error
	Close() error
	IsOpen() bool

	WI8(offset uint64, v int8) error
	RI8(offset uint64) (int8, error)
	WI16(offset uint64, v int16) error
	RI16(offset uint64) (int16, error)
	WI32(offset uint64, v int32) error
	RI32(offset uint64) (int32, error)
	WI64(offset uint64, v int64) error
	RI64(offset uint64) (int64, error)
	WU8(offset uint64, v uint8) error
	RU8(offset uint64) (uint8, error)
	WU16(offset uint64, v uint16) error
	RU16(offset uint64) (uint16, error)
	WU32(offset uint64, v uint32) error
	RU32(offset uint64) (uint32, error)
	WU64(offset uint64, v uint64) error
	RU64(offset uint64) (uint64, error)
	WF32(offset uint64, v float32) error
	RF32(offset uint64) (float32, error)
	WF64(offset uint64, v float64) error
	RF64(offset uint64) (float64, error)
	WBool(offset uint64, v bool) error
	RBool(offset uint64) (bool, error)

	WBytes(offset uint64, b []byte) error
	RBytes(offset uint64, length uint64) ([]byte, error)
	WString(offset uint64, s string) error
	RString(offset uint64, length uint64) (string, error)

	Fill(start, end *uint64, b byte) error
	IsFilled(start, end *uint64, b byte) (bool, error)

	Expand(minCapacity uint64) error
	GetExpandSize() uint64
	SetExpandSize(n uint64) error
	GetCapacity() uint64
}

// checkOpen/checkClosed are shared by both variants.
func checkOpen(isOpen bool) error {
	if !isOpen {
		return kverrors.Assert(kverrors.CondOperationInvalidWhenClosed)
	}
	return nil
}

func checkClosed(isOpen bool) error {
	if isOpen {
		return kverrors.Assert(kverrors.CondOperationInvalidWhenOpen)
	}
	return nil
}

func validateCtorParams(initialCapacity, expandSize uint64) error {
	if initialCapacity == 0 {
		return kverrors.Assert(kverrors.CondInitialCapacityTooSmall)
	}
	if !bytesutil.IsPowerOfTwo(initialCapacity) {
		return kverrors.Assert(kverrors.CondInitialCapacityNotPowerOf2)
	}
	if expandSize == 0 {
		return kverrors.Assert(kverrors.CondExpandSizeTooSmall)
	}
	if !bytesutil.IsPowerOfTwo(expandSize) {
		return kverrors.Assert(kverrors.CondExpandSizeNotPowerOfTwo)
	}
	return nil
}
