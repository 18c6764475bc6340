package btree

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeLeafRoundTrip(t *testing.T) {
	cfg := Config{NodeSize: 40, KeyLen: 2, ValLen: 2}
	d := LeafData{
		Parent: 40,
		Prev:   0,
		Next:   80,
		Keys:   [][]byte{{0, 1}, {0, 2}},
		Vals:   [][]byte{{9, 9}, {8, 8}},
	}

	buf, err := EncodeLeaf(cfg, d)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if uint64(len(buf)) != cfg.NodeSize {
		t.Fatalf("encoded length = %d, want %d", len(buf), cfg.NodeSize)
	}
	if buf[0] != TypeLeaf {
		t.Fatalf("type byte = %x, want %x", buf[0], TypeLeaf)
	}

	got, err := DecodeLeaf(cfg, buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Parent != d.Parent || got.Prev != d.Prev || got.Next != d.Next {
		t.Fatalf("header mismatch: got %+v, want %+v", got, d)
	}
	if len(got.Keys) != len(d.Keys) {
		t.Fatalf("record count = %d, want %d", len(got.Keys), len(d.Keys))
	}
	for i := range d.Keys {
		if !bytes.Equal(got.Keys[i], d.Keys[i]) || !bytes.Equal(got.Vals[i], d.Vals[i]) {
			t.Fatalf("record %d mismatch: got (%x,%x), want (%x,%x)", i, got.Keys[i], got.Vals[i], d.Keys[i], d.Vals[i])
		}
	}
}

func TestEncodeDecodeInnerRoundTrip(t *testing.T) {
	cfg := Config{NodeSize: 48, KeyLen: 2, ValLen: 2}
	d := InnerData{
		Parent: 0,
		Ptrs:   []uint64{48, 96, 144},
		Keys:   [][]byte{{0, 10}, {0, 20}},
	}

	buf, err := EncodeInner(cfg, d)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if buf[0] != TypeInner {
		t.Fatalf("type byte = %x, want %x", buf[0], TypeInner)
	}

	got, err := DecodeInner(cfg, buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Ptrs) != len(d.Ptrs) {
		t.Fatalf("ptr count = %d, want %d", len(got.Ptrs), len(d.Ptrs))
	}
	for i := range d.Ptrs {
		if got.Ptrs[i] != d.Ptrs[i] {
			t.Fatalf("ptr %d = %d, want %d", i, got.Ptrs[i], d.Ptrs[i])
		}
	}
	for i := range d.Keys {
		if !bytes.Equal(got.Keys[i], d.Keys[i]) {
			t.Fatalf("key %d = %x, want %x", i, got.Keys[i], d.Keys[i])
		}
	}
}

func TestDecodeRejectsWrongType(t *testing.T) {
	cfg := Config{NodeSize: 40, KeyLen: 2, ValLen: 2}
	buf, err := EncodeLeaf(cfg, LeafData{})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeInner(cfg, buf); err == nil {
		t.Fatalf("expected invalid-node-type error decoding a leaf buffer as inner")
	}
}

func TestDecodeRejectsWrongLength(t *testing.T) {
	cfg := Config{NodeSize: 40, KeyLen: 2, ValLen: 2}
	if _, err := DecodeLeaf(cfg, make([]byte, 10)); err == nil {
		t.Fatalf("expected node-data-wrong-length error")
	}
}

func TestMaxRecordFormulas(t *testing.T) {
	cfg := Config{NodeSize: 40, KeyLen: 1, ValLen: 1}
	// (40 - 29) / (1+1) = 5
	if got := cfg.MaxLeafRecords(); got != 5 {
		t.Fatalf("MaxLeafRecords = %d, want 5", got)
	}
	// (40 - 13 - 8) / (1+8) = 2
	if got := cfg.MaxInnerKeys(); got != 2 {
		t.Fatalf("MaxInnerKeys = %d, want 2", got)
	}
}
