// Package encoding implements the per-prover XOR keystream applied to every
// chunk before it touches disk, preventing two provers storing the same
// logical file from sharing one physical copy. Encoding is self-inverse:
// decoding is the identical XOR operation.
package encoding

import (
	"encoding/binary"

	"github.com/DIG-Network/proof-of-space-continuity-sub000/hashing"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/types"
)

// CurrentVersion is the encoding scheme version new chains are created
// with. Future versions must remain distinguishable via FileEncodingInfo.
const CurrentVersion uint32 = 1

// FileEncodingInfo records which keystream scheme a chain's on-disk bytes
// were encoded under, so a future version bump never silently changes the
// meaning of already-stored bytes.
type FileEncodingInfo struct {
	PublicKey       types.PublicKey
	EncodingVersion uint32
}

// chunkKeySuffix is appended to the keystream derivation input, making the
// keystream specific to "chunk encoding" even if the same (pubkey, index,
// version) tuple were ever reused for another derived key in the future.
const chunkKeySuffix = "chunk_encoding_key"

// deriveKey computes K_i = SHA-256(pubkey || i_be_u32 || version_be_u32 || "chunk_encoding_key").
func deriveKey(pubKey types.PublicKey, chunkIndex uint32, version uint32) types.Hash {
	var idxBuf, verBuf [4]byte
	binary.BigEndian.PutUint32(idxBuf[:], chunkIndex)
	binary.BigEndian.PutUint32(verBuf[:], version)
	return hashing.SumAll(pubKey.Bytes(), idxBuf[:], verBuf[:], []byte(chunkKeySuffix))
}

// Encode XORs plain (expected to be exactly types.ChunkSizeBytes long, the
// caller's responsibility to zero-pad the final chunk of a file) against
// the repeating keystream derived from pubKey, chunkIndex, and version. It
// returns a new slice; plain is never modified.
func Encode(plain []byte, pubKey types.PublicKey, chunkIndex uint32, version uint32) []byte {
	key := deriveKey(pubKey, chunkIndex, version)
	out := make([]byte, len(plain))
	for i := range plain {
		out[i] = plain[i] ^ key[i%types.HashLength]
	}
	return out
}

// Decode reverses Encode. XOR is self-inverse, so Decode and Encode are the
// same operation; the distinct name documents intent at call sites.
func Decode(encoded []byte, pubKey types.PublicKey, chunkIndex uint32, version uint32) []byte {
	return Encode(encoded, pubKey, chunkIndex, version)
}
