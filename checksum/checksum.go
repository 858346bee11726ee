// Package checksum implements the weak rolling checksum and strong
// cryptographic hash shared by the signature generator and the delta
// scanner.
package checksum

import sha256simd "github.com/minio/sha256-simd"

// Weak computes the Adler-style rolling checksum of block from scratch: two
// 16-bit running sums a and b, combined as a | (b << 16).
func Weak(block []byte) uint32 {
	var a, b uint32
	for _, c := range block {
		a += uint32(c)
		b += a
	}
	return (a & 0xffff) | ((b & 0xffff) << 16)
}

// Roll advances a weak checksum computed over a window of length winLen by
// dropping outByte (the byte leaving the window) and appending inByte (the
// byte entering it), in O(1), without rescanning the window.
//
// Given sum for window [i, i+winLen), this computes the sum for
// [i+1, i+winLen+1).
func Roll(sum uint32, outByte, inByte byte, winLen int) uint32 {
	a := sum & 0xffff
	b := (sum >> 16) & 0xffff

	aNew := (a - uint32(outByte) + uint32(inByte)) & 0xffff
	bNew := (b - uint32(winLen)*uint32(outByte) + aNew) & 0xffff

	return aNew | (bNew << 16)
}

// Shrink removes the leading byte outByte from a window of length winLen
// without a replacement byte, for the delta scanner's tail-shrink phase
// near the end of the source: it subtracts outByte's contribution to both
// running sums in O(1), without rescanning the shorter window.
func Shrink(sum uint32, outByte byte, winLen int) uint32 {
	a := sum & 0xffff
	b := (sum >> 16) & 0xffff

	aNew := (a - uint32(outByte)) & 0xffff
	bNew := (b - uint32(winLen)*uint32(outByte)) & 0xffff

	return aNew | (bNew << 16)
}

// Strong computes the 256-bit strong hash of block used to break weak-sum
// collisions.
func Strong(block []byte) [32]byte {
	return sha256simd.Sum256(block)
}
