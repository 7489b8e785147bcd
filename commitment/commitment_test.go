package commitment_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DIG-Network/proof-of-space-continuity-sub000/commitment"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/selection"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/types"
)

type fakeReader struct{}

func (fakeReader) ComputeChunkHash(index uint64) (types.Hash, error) {
	var h types.Hash
	h[0] = byte(index)
	return h, nil
}

func fill(b byte) types.Hash {
	var h types.Hash
	for i := range h {
		h[i] = b
	}
	return h
}

func buildSelection(t *testing.T) selection.Result {
	t.Helper()
	indices := make([]uint32, types.ChunksPerCommitment)
	for i := range indices {
		indices[i] = uint32(i)
	}
	return selection.Result{Version: types.AlgorithmVersionV2, Indices: indices}
}

func TestBuildAndVerifyCommitmentHash(t *testing.T) {
	prev := fill(0x01)
	sel := buildSelection(t)

	c, err := commitment.Build(prev, 101, fill(0x02), sel, fakeReader{})
	require.NoError(t, err)
	require.Equal(t, prev, c.PreviousCommitment)
	require.Equal(t, uint64(101), c.BlockHeight)

	require.NoError(t, commitment.VerifyCommitmentHash(c, 1<<20))

	c.CommitmentHash[0] ^= 0xFF
	require.Error(t, commitment.VerifyCommitmentHash(c, 1<<20))
}

func TestVerifyCommitmentHashRejectsOutOfRangeAndDuplicate(t *testing.T) {
	sel := buildSelection(t)
	c, err := commitment.Build(fill(1), 1, fill(2), sel, fakeReader{})
	require.NoError(t, err)

	require.Error(t, commitment.VerifyCommitmentHash(c, 8)) // total_chunks too small

	c.SelectedChunks[1] = c.SelectedChunks[0]
	c.CommitmentHash = commitment.CanonicalHash(c)
	require.Error(t, commitment.VerifyCommitmentHash(c, 1<<20))
}

// S1-style chained build: eight successive commitments link correctly.
func TestChainedCommitmentsLinkCorrectly(t *testing.T) {
	anchor := fill(0x00)
	prev := anchor
	var commitments []types.PhysicalAccessCommitment
	for height := uint64(101); height <= 108; height++ {
		sel := buildSelection(t)
		c, err := commitment.Build(prev, height, fill(byte(height)), sel, fakeReader{})
		require.NoError(t, err)
		commitments = append(commitments, c)
		prev = c.CommitmentHash
	}

	w, err := commitment.ExtractWindow(commitments)
	require.NoError(t, err)
	require.Equal(t, anchor, w.Start)
	require.Equal(t, commitments[len(commitments)-1].CommitmentHash, w.End)
}

func TestExtractWindowTooShort(t *testing.T) {
	_, err := commitment.ExtractWindow(nil)
	require.Error(t, err)
}

func TestAnchoredCommitmentDeterministic(t *testing.T) {
	dataHash := fill(3)
	pub := types.PublicKey(fill(4))
	blockHash := fill(5)

	a1 := commitment.AnchoredCommitment(dataHash, pub, blockHash, 100)
	a2 := commitment.AnchoredCommitment(dataHash, pub, blockHash, 100)
	require.Equal(t, a1, a2)

	a3 := commitment.AnchoredCommitment(dataHash, pub, blockHash, 101)
	require.NotEqual(t, a1, a3)
}
