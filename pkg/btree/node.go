// Package btree implements the on-disk B+ tree index: fixed-width keys and
// values in inner and leaf nodes linked by byte-offset pointers, laid out
// exactly per spec.md §3. node.go owns the byte-exact encode/decode of both
// node kinds; tree.go drives search, insert, and split over them.
package btree

import (
	"encoding/binary"

	"kvcore/pkg/kverrors"
)

// Node type tags, the first byte of every node.
const (
	TypeInner byte = 0x01
	TypeLeaf  byte = 0x02
)

// Header sizes in bytes, per spec.md §3.
const (
	InnerHeaderSize = 13 // type(1) + parent_ptr(8) + records_byte_len(4)
	LeafHeaderSize  = 29 // type(1) + parent_ptr(8) + prev_ptr(8) + next_ptr(8) + records_byte_len(4)
	PtrSize         = 8
)

// Config fixes the parameters a tree is created with; reopening with
// different values is the caller's responsibility to avoid (spec.md §6:
// "the format does not self-describe").
type Config struct {
	NodeSize uint64
	KeyLen   uint64
	ValLen   uint64

	// Cmp reports whether a >= b for two keys of length KeyLen. Defaults to
	// an unsigned byte-wise comparison (bytes.Compare(a, b) >= 0) when nil.
	Cmp func(a, b []byte) bool
}

func (c Config) cmp() func(a, b []byte) bool {
	if c.Cmp != nil {
		return c.Cmp
	}
	return defaultCmp
}

func defaultCmp(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return true // equal
}

// MaxInnerKeys is the largest number of separator keys an inner node can
// hold (spec.md §4.5.3): floor((node_size - header - ptr_size) / (key_len +
// ptr_size)). An inner node with k keys holds k+1 pointers.
func (c Config) MaxInnerKeys() uint64 {
	avail := c.NodeSize - InnerHeaderSize - PtrSize
	return avail / (c.KeyLen + PtrSize)
}

// MaxLeafRecords is the largest number of key/value pairs a leaf can hold
// (spec.md §4.5.3): floor((node_size - header) / (key_len + val_len)).
func (c Config) MaxLeafRecords() uint64 {
	avail := c.NodeSize - LeafHeaderSize
	return avail / (c.KeyLen + c.ValLen)
}

// InnerData is the decoded form of an inner node: len(Ptrs) == len(Keys)+1,
// and Ptrs[i]'s subtree holds keys k with Keys[i-1] <= k < Keys[i] (open at
// the edges).
type InnerData struct {
	Parent uint64
	Ptrs   []uint64
	Keys   [][]byte
}

// LeafData is the decoded form of a leaf node: parallel Keys/Vals in
// ascending key order, plus the sibling chain pointers.
type LeafData struct {
	Parent uint64
	Prev   uint64
	Next   uint64
	Keys   [][]byte
	Vals   [][]byte
}

// NodeType reads just the type tag out of a raw node buffer.
func NodeType(buf []byte) (byte, error) {
	if len(buf) < 1 {
		return 0, kverrors.Assert(kverrors.CondNodeDataWrongLength)
	}
	return buf[0], nil
}

// EncodeInner serializes d into a freshly allocated node-sized buffer.
func EncodeInner(cfg Config, d InnerData) ([]byte, error) {
	if len(d.Ptrs) == 0 || len(d.Ptrs) != len(d.Keys)+1 {
		return nil, kverrors.Assert(kverrors.CondEmptyInnerNode)
	}
	if uint64(len(d.Keys)) > cfg.MaxInnerKeys() {
		return nil, kverrors.Assert(kverrors.CondBlockSizeTooSmall)
	}

	buf := make([]byte, cfg.NodeSize)
	buf[0] = TypeInner
	binary.LittleEndian.PutUint64(buf[1:9], d.Parent)

	recordsByteLen := uint32(len(d.Ptrs))*PtrSize + uint32(len(d.Keys))*uint32(cfg.KeyLen)
	binary.LittleEndian.PutUint32(buf[9:13], recordsByteLen)

	pos := InnerHeaderSize
	for i, ptr := range d.Ptrs {
		binary.LittleEndian.PutUint64(buf[pos:], ptr)
		pos += PtrSize
		if i < len(d.Keys) {
			copy(buf[pos:pos+int(cfg.KeyLen)], d.Keys[i])
			pos += int(cfg.KeyLen)
		}
	}
	return buf, nil
}

// DecodeInner parses a node-sized buffer previously produced by EncodeInner.
func DecodeInner(cfg Config, buf []byte) (InnerData, error) {
	if uint64(len(buf)) != cfg.NodeSize {
		return InnerData{}, kverrors.Assert(kverrors.CondNodeDataWrongLength)
	}
	if buf[0] != TypeInner {
		return InnerData{}, kverrors.Assert(kverrors.CondInvalidNodeType)
	}
	parent := binary.LittleEndian.Uint64(buf[1:9])
	recordsByteLen := binary.LittleEndian.Uint32(buf[9:13])

	stride := PtrSize + cfg.KeyLen
	n := (uint64(recordsByteLen) + cfg.KeyLen) / stride
	if n == 0 {
		return InnerData{}, kverrors.Assert(kverrors.CondEmptyInnerNode)
	}

	ptrs := make([]uint64, n)
	keys := make([][]byte, n-1)
	pos := InnerHeaderSize
	for i := uint64(0); i < n; i++ {
		ptrs[i] = binary.LittleEndian.Uint64(buf[pos:])
		pos += PtrSize
		if i < n-1 {
			k := make([]byte, cfg.KeyLen)
			copy(k, buf[pos:pos+int(cfg.KeyLen)])
			keys[i] = k
			pos += int(cfg.KeyLen)
		}
	}
	return InnerData{Parent: parent, Ptrs: ptrs, Keys: keys}, nil
}

// EncodeLeaf serializes d into a freshly allocated node-sized buffer.
func EncodeLeaf(cfg Config, d LeafData) ([]byte, error) {
	if len(d.Keys) != len(d.Vals) {
		return nil, kverrors.Assert(kverrors.CondNodeDataWrongLength)
	}
	if uint64(len(d.Keys)) > cfg.MaxLeafRecords() {
		return nil, kverrors.Assert(kverrors.CondBlockSizeTooSmall)
	}

	buf := make([]byte, cfg.NodeSize)
	buf[0] = TypeLeaf
	binary.LittleEndian.PutUint64(buf[1:9], d.Parent)
	binary.LittleEndian.PutUint64(buf[9:17], d.Prev)
	binary.LittleEndian.PutUint64(buf[17:25], d.Next)

	recordWidth := cfg.KeyLen + cfg.ValLen
	recordsByteLen := uint32(len(d.Keys)) * uint32(recordWidth)
	binary.LittleEndian.PutUint32(buf[25:29], recordsByteLen)

	pos := LeafHeaderSize
	for i := range d.Keys {
		copy(buf[pos:pos+int(cfg.KeyLen)], d.Keys[i])
		copy(buf[pos+int(cfg.KeyLen):pos+int(recordWidth)], d.Vals[i])
		pos += int(recordWidth)
	}
	return buf, nil
}

// DecodeLeaf parses a node-sized buffer previously produced by EncodeLeaf.
func DecodeLeaf(cfg Config, buf []byte) (LeafData, error) {
	if uint64(len(buf)) != cfg.NodeSize {
		return LeafData{}, kverrors.Assert(kverrors.CondNodeDataWrongLength)
	}
	if buf[0] != TypeLeaf {
		return LeafData{}, kverrors.Assert(kverrors.CondInvalidNodeType)
	}
	parent := binary.LittleEndian.Uint64(buf[1:9])
	prev := binary.LittleEndian.Uint64(buf[9:17])
	next := binary.LittleEndian.Uint64(buf[17:25])
	recordsByteLen := binary.LittleEndian.Uint32(buf[25:29])

	recordWidth := cfg.KeyLen + cfg.ValLen
	n := uint64(recordsByteLen) / recordWidth

	keys := make([][]byte, n)
	vals := make([][]byte, n)
	pos := LeafHeaderSize
	for i := uint64(0); i < n; i++ {
		k := make([]byte, cfg.KeyLen)
		copy(k, buf[pos:pos+int(cfg.KeyLen)])
		v := make([]byte, cfg.ValLen)
		copy(v, buf[pos+int(cfg.KeyLen):pos+int(recordWidth)])
		keys[i], vals[i] = k, v
		pos += int(recordWidth)
	}
	return LeafData{Parent: parent, Prev: prev, Next: next, Keys: keys, Vals: vals}, nil
}
