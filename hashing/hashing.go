// Package hashing centralizes the protocol's SHA-256 usage behind
// minio/sha256-simd, a drop-in accelerated implementation of the standard
// library's crypto/sha256 interface. Every other package in this module
// hashes through here rather than importing crypto/sha256 directly: chunk
// hashing, commitment hashing, Merkle trees, and the memory-hard VDF's
// inner loop between them perform millions of SHA-256 calls per block at
// full scale (~100,000 chains), making the accelerated implementation a
// concrete win rather than a cosmetic substitution.
package hashing

import (
	"hash"

	sha256simd "github.com/minio/sha256-simd"

	"github.com/DIG-Network/proof-of-space-continuity-sub000/types"
)

// New returns a new SHA-256 hash.Hash.
func New() hash.Hash {
	return sha256simd.New()
}

// Sum256 returns the SHA-256 digest of data.
func Sum256(data []byte) types.Hash {
	return types.Hash(sha256simd.Sum256(data))
}

// SumAll hashes the concatenation of every element of parts, in order,
// without an intervening allocation beyond the running hash state.
func SumAll(parts ...[]byte) types.Hash {
	h := New()
	for _, p := range parts {
		h.Write(p)
	}
	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}
