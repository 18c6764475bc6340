// Package bytesutil collects the small, storage-format-agnostic helpers
// every layer of the engine needs: power-of-two validation, checked
// arithmetic on offsets, and the journal's XOR checksum.
package bytesutil

import "kvcore/pkg/kverrors"

// IsPowerOfTwo reports whether n is a power of two. Zero is not.
func IsPowerOfTwo(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}

// CheckedAdd returns a+b, failing with an arithmetic-overflow assertion
// instead of silently wrapping around.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, kverrors.Assert(kverrors.CondArithmeticOverflow)
	}
	return sum, nil
}

// NextMultiple returns the smallest positive multiple of step that is >= min
// (so a min of 0 yields step).
// step must already be known to be a positive power of two; callers are
// expected to have validated that separately (storage construction and
// SetExpandSize both do).
func NextMultiple(min, step uint64) uint64 {
	if min == 0 {
		return step
	}
	remainder := min % step
	if remainder == 0 {
		return min
	}
	return min + (step - remainder)
}

// XORChecksum computes the XOR of every byte in data. This is deliberately
// weak (it cannot detect byte transpositions or paired bit-flips) and is
// never to be silently upgraded to a stronger hash: the journal's on-disk
// format is defined in terms of this exact byte.
func XORChecksum(data []byte) byte {
	var c byte
	for _, b := range data {
		c ^= b
	}
	return c
}
