package types

import "encoding/hex"

// HashLength is the width, in bytes, of every SHA-256 digest used by the
// protocol: chunk hashes, commitment hashes, entropy, proofs, roots.
const HashLength = 32

// PublicKeyLength is the width, in bytes, of a prover's public key.
const PublicKeyLength = 32

// Hash is a 32-byte SHA-256 digest.
type Hash [HashLength]byte

// BytesToHash converts b to a Hash, left-padding with zeros if shorter than
// 32 bytes and truncating from the left if longer.
func BytesToHash(b []byte) Hash {
	var h Hash
	h.SetBytes(b)
	return h
}

// HexToHash parses a hex string (with or without 0x prefix) into a Hash.
func HexToHash(s string) Hash {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, _ := hex.DecodeString(s)
	return BytesToHash(b)
}

// SetBytes sets h from b, left-padding or truncating from the left to fit.
func (h *Hash) SetBytes(b []byte) {
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	*h = Hash{}
	copy(h[HashLength-len(b):], b)
}

// Bytes returns the byte slice view of the hash.
func (h Hash) Bytes() []byte { return h[:] }

// Hex returns the 0x-prefixed hex encoding of the hash.
func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

// String implements fmt.Stringer.
func (h Hash) String() string { return h.Hex() }

// IsZero reports whether the hash is all zero bytes.
func (h Hash) IsZero() bool { return h == Hash{} }

// PublicKey is a 32-byte prover public key.
type PublicKey [PublicKeyLength]byte

// BytesToPublicKey converts b to a PublicKey, left-padding or truncating to
// fit. Callers that must reject malformed input should check len(b) first.
func BytesToPublicKey(b []byte) PublicKey {
	var k PublicKey
	if len(b) > PublicKeyLength {
		b = b[len(b)-PublicKeyLength:]
	}
	copy(k[PublicKeyLength-len(b):], b)
	return k
}

// Bytes returns the byte slice view of the public key.
func (k PublicKey) Bytes() []byte { return k[:] }

// Hex returns the 0x-prefixed hex encoding of the public key.
func (k PublicKey) Hex() string { return "0x" + hex.EncodeToString(k[:]) }

// ZeroHash is the all-zero 32-byte digest substituted for absent beacon
// entropy and for the empty-group/empty-region aggregation base case.
var ZeroHash = Hash{}
