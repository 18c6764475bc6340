package storage

import (
	"encoding/binary"
	"errors"
	"math"
	"unicode/utf8"

	"kvcore/pkg/kverrors"
)

var errInvalidUTF8 = errors.New("invalid utf-8 byte sequence")

// RawAccessor is the minimal byte-level contract a Storage variant must
// supply; TypedCodec builds every typed W*/R* operation from just these two
// methods so MemoryStorage and FileStorage don't each reimplement the same
// twenty-two typed accessors.
type RawAccessor interface {
	WBytes(offset uint64, b []byte) error
	RBytes(offset, length uint64) ([]byte, error)
}

// TypedCodec implements the typed portion of the Storage interface in terms
// of an embedding variant's WBytes/RBytes.
type TypedCodec struct {
	Raw RawAccessor
}

func (c TypedCodec) WString(offset uint64, s string) error {
	return c.Raw.WBytes(offset, []byte(s))
}

func (c TypedCodec) RString(offset, length uint64) (string, error) {
	b, err := c.Raw.RBytes(offset, length)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", kverrors.Wrap(kverrors.UTF8, errInvalidUTF8)
	}
	return string(b), nil
}

func (c TypedCodec) WU8(offset uint64, v uint8) error { return c.Raw.WBytes(offset, []byte{v}) }
func (c TypedCodec) RU8(offset uint64) (uint8, error) {
	b, err := c.Raw.RBytes(offset, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c TypedCodec) WI8(offset uint64, v int8) error { return c.WU8(offset, uint8(v)) }
func (c TypedCodec) RI8(offset uint64) (int8, error) {
	v, err := c.RU8(offset)
	return int8(v), err
}

func (c TypedCodec) WBool(offset uint64, v bool) error {
	if v {
		return c.WU8(offset, 1)
	}
	return c.WU8(offset, 0)
}
func (c TypedCodec) RBool(offset uint64) (bool, error) {
	v, err := c.RU8(offset)
	return v != 0, err
}

func (c TypedCodec) WU16(offset uint64, v uint16) error {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, v)
	return c.Raw.WBytes(offset, buf)
}
func (c TypedCodec) RU16(offset uint64) (uint16, error) {
	b, err := c.Raw.RBytes(offset, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}
func (c TypedCodec) WI16(offset uint64, v int16) error { return c.WU16(offset, uint16(v)) }
func (c TypedCodec) RI16(offset uint64) (int16, error) {
	v, err := c.RU16(offset)
	return int16(v), err
}

func (c TypedCodec) WU32(offset uint64, v uint32) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	return c.Raw.WBytes(offset, buf)
}
func (c TypedCodec) RU32(offset uint64) (uint32, error) {
	b, err := c.Raw.RBytes(offset, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}
func (c TypedCodec) WI32(offset uint64, v int32) error { return c.WU32(offset, uint32(v)) }
func (c TypedCodec) RI32(offset uint64) (int32, error) {
	v, err := c.RU32(offset)
	return int32(v), err
}

func (c TypedCodec) WU64(offset uint64, v uint64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return c.Raw.WBytes(offset, buf)
}
func (c TypedCodec) RU64(offset uint64) (uint64, error) {
	b, err := c.Raw.RBytes(offset, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}
func (c TypedCodec) WI64(offset uint64, v int64) error { return c.WU64(offset, uint64(v)) }
func (c TypedCodec) RI64(offset uint64) (int64, error) {
	v, err := c.RU64(offset)
	return int64(v), err
}

func (c TypedCodec) WF32(offset uint64, v float32) error {
	return c.WU32(offset, math.Float32bits(v))
}
func (c TypedCodec) RF32(offset uint64) (float32, error) {
	v, err := c.RU32(offset)
	return math.Float32frombits(v), err
}
func (c TypedCodec) WF64(offset uint64, v float64) error {
	return c.WU64(offset, math.Float64bits(v))
}
func (c TypedCodec) RF64(offset uint64) (float64, error) {
	v, err := c.RU64(offset)
	return math.Float64frombits(v), err
}
