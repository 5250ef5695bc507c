package raidxor

import (
	"math/bits"
)

// xorBytes XORs (src) into (dst). Both must be the same length and a multiple
// of eight bytes.
func xorBytes(dst, src []byte) {
	for i := 0; i+8 <= len(dst); i += 8 {
		v := defaultEncoding.Uint64(dst[i:]) ^ defaultEncoding.Uint64(src[i:])
		defaultEncoding.PutUint64(dst[i:], v)
	}
}

// xorInto3 sets (dst) to (a) XOR (b).
func xorInto3(dst, a, b []byte) {
	for i := 0; i+8 <= len(dst); i += 8 {
		v := defaultEncoding.Uint64(a[i:]) ^ defaultEncoding.Uint64(b[i:])
		defaultEncoding.PutUint64(dst[i:], v)
	}
}

func isZeroBytes(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}

	return true
}

// rotl16 rotates a checksum left. It is the rotation used for the diagonal
// parity-of-checksums.
func rotl16(value uint16, count int) uint16 {
	return bits.RotateLeft16(value, count%16)
}

// bitDifference returns the number of bits that differ between two
// checksums.
func bitDifference(a, b uint16) int {
	return bits.OnesCount16(a ^ b)
}
