package selection_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DIG-Network/proof-of-space-continuity-sub000/entropy"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/selection"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/types"
)

func fill(b byte) types.Hash {
	var h types.Hash
	for i := range h {
		h[i] = b
	}
	return h
}

// S2 — determinism of v2 selection: two calls with identical entropy and N
// return identical index lists and identical verification hashes.
func TestV2Deterministic(t *testing.T) {
	beacon := fill(2)
	e := entropy.Combine(fill(1), &beacon, fill(3), 1234567890.0)

	r1, err := selection.Select(types.AlgorithmVersionV2, e, 100000)
	require.NoError(t, err)
	r2, err := selection.Select(types.AlgorithmVersionV2, e, 100000)
	require.NoError(t, err)

	require.Equal(t, r1.Indices, r2.Indices)
	require.Equal(t, r1.VerifyHash, r2.VerifyHash)
	require.Len(t, r1.Indices, types.ChunksPerBlockV2)
}

func TestV2DistinctAndInRange(t *testing.T) {
	e := entropy.Combine(fill(9), nil, fill(4), 42.0)
	r, err := selection.Select(types.AlgorithmVersionV2, e, 50)
	require.NoError(t, err)

	seen := map[uint32]bool{}
	for _, idx := range r.Indices {
		require.False(t, seen[idx], "duplicate index %d", idx)
		seen[idx] = true
		require.Less(t, idx, uint32(50))
	}
}

func TestV2DifferentEntropyDifferentSelection(t *testing.T) {
	e1 := entropy.Combine(fill(1), nil, fill(2), 1.0)
	e2 := entropy.Combine(fill(5), nil, fill(2), 1.0)

	r1, err := selection.Select(types.AlgorithmVersionV2, e1, 100000)
	require.NoError(t, err)
	r2, err := selection.Select(types.AlgorithmVersionV2, e2, 100000)
	require.NoError(t, err)

	require.NotEqual(t, r1.Indices, r2.Indices)
}

func TestV1LegacyFourChunks(t *testing.T) {
	e := entropy.Combine(fill(7), nil, fill(8), 5.0)
	r, err := selection.Select(types.AlgorithmVersionV1, e, 1000)
	require.NoError(t, err)
	require.Len(t, r.Indices, types.ChunksPerBlockV1)
}

func TestSelectRejectsMoreChunksThanTotal(t *testing.T) {
	e := entropy.Combine(fill(1), nil, fill(2), 1.0)
	_, err := selection.Select(types.AlgorithmVersionV2, e, 4)
	require.Error(t, err)
}

func TestMinTotalChunksBoundary(t *testing.T) {
	e := entropy.Combine(fill(1), nil, fill(2), 1.0)
	r, err := selection.Select(types.AlgorithmVersionV2, e, types.ChunksPerBlockV2)
	require.NoError(t, err)
	require.Len(t, r.Indices, types.ChunksPerBlockV2)
}
