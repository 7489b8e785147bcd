package encoding_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DIG-Network/proof-of-space-continuity-sub000/encoding"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/types"
)

func key(b byte) types.PublicKey {
	var k types.PublicKey
	for i := range k {
		k[i] = b
	}
	return k
}

// S3 — dedup resistance: two provers encoding the same plaintext chunk at
// the same index must produce different on-disk bytes, and each must
// decode back to the original input.
func TestDedupResistance(t *testing.T) {
	plain := bytes.Repeat([]byte{0x05}, types.ChunkSizeBytes)

	k1 := key(1)
	k2 := key(2)

	enc1 := encoding.Encode(plain, k1, 0, encoding.CurrentVersion)
	enc2 := encoding.Encode(plain, k2, 0, encoding.CurrentVersion)

	require.NotEqual(t, enc1, enc2, "distinct public keys must yield distinct on-disk bytes")

	require.Equal(t, plain, encoding.Decode(enc1, k1, 0, encoding.CurrentVersion))
	require.Equal(t, plain, encoding.Decode(enc2, k2, 0, encoding.CurrentVersion))
}

func TestEncodeDeterministic(t *testing.T) {
	plain := bytes.Repeat([]byte{0xAB}, types.ChunkSizeBytes)
	k := key(7)

	a := encoding.Encode(plain, k, 42, encoding.CurrentVersion)
	b := encoding.Encode(plain, k, 42, encoding.CurrentVersion)
	require.Equal(t, a, b)
}

func TestEncodeIndependentAcrossChunks(t *testing.T) {
	plain := bytes.Repeat([]byte{0xAB}, types.ChunkSizeBytes)
	k := key(7)

	enc0 := encoding.Encode(plain, k, 0, encoding.CurrentVersion)
	enc1 := encoding.Encode(plain, k, 1, encoding.CurrentVersion)
	require.NotEqual(t, enc0, enc1)
}

func TestEncodeDoesNotMutateInput(t *testing.T) {
	plain := bytes.Repeat([]byte{0x00}, types.ChunkSizeBytes)
	orig := make([]byte, len(plain))
	copy(orig, plain)

	_ = encoding.Encode(plain, key(3), 0, encoding.CurrentVersion)
	require.Equal(t, orig, plain)
}
