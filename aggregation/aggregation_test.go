package aggregation_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DIG-Network/proof-of-space-continuity-sub000/aggregation"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/types"
)

func fill(b byte) types.Hash {
	var h types.Hash
	for i := range h {
		h[i] = b
	}
	return h
}

func buildGroups() []aggregation.GroupInput {
	groups := make([]aggregation.GroupInput, 0, 3)
	for g := 0; g < 3; g++ {
		chains := make([]aggregation.ChainCommitment, 0, 3)
		for c := 0; c < 3; c++ {
			chains = append(chains, aggregation.ChainCommitment{
				ChainID:        fill(byte(g*3 + c + 1)),
				CommitmentHash: fill(byte(100 + g*3 + c)),
			})
		}
		groups = append(groups, aggregation.GroupInput{GroupID: groupName(g), Chains: chains})
	}
	return groups
}

func groupName(i int) string {
	return []string{"group-a", "group-b", "group-c"}[i]
}

// S6 — global root reproducibility across differently-ordered aggregation
// runs.
func TestGlobalRootReproducibleAcrossOrderings(t *testing.T) {
	blockHash := fill(0x0B)
	regionMembership := map[string][]string{
		"region-1": {"group-a", "group-b", "group-c"},
	}

	_, _, root1, err := aggregation.AggregateBlock(context.Background(), blockHash, types.ZeroHash, buildGroups(), regionMembership)
	require.NoError(t, err)

	reversed := buildGroups()
	reversed[0], reversed[2] = reversed[2], reversed[0]
	_, _, root2, err := aggregation.AggregateBlock(context.Background(), blockHash, types.ZeroHash, reversed, regionMembership)
	require.NoError(t, err)

	require.Equal(t, root1, root2)
}

func TestGroupProofOrderIndependent(t *testing.T) {
	blockHash := fill(1)
	g := aggregation.GroupInput{
		GroupID: "g1",
		Chains: []aggregation.ChainCommitment{
			{ChainID: fill(2), CommitmentHash: fill(20)},
			{ChainID: fill(1), CommitmentHash: fill(10)},
		},
	}
	p1 := aggregation.GroupProof(blockHash, g)

	g.Chains[0], g.Chains[1] = g.Chains[1], g.Chains[0]
	p2 := aggregation.GroupProof(blockHash, g)

	require.Equal(t, p1, p2)
}

func TestEmptyGroupProofIsDeterministic(t *testing.T) {
	blockHash := fill(3)
	p1 := aggregation.GroupProof(blockHash, aggregation.GroupInput{GroupID: "empty"})
	p2 := aggregation.GroupProof(blockHash, aggregation.GroupInput{GroupID: "empty"})
	require.Equal(t, p1, p2)
}

func TestDifferentBlockHashDifferentGlobalRoot(t *testing.T) {
	regionMembership := map[string][]string{"region-1": {"group-a", "group-b", "group-c"}}
	_, _, root1, err := aggregation.AggregateBlock(context.Background(), fill(1), types.ZeroHash, buildGroups(), regionMembership)
	require.NoError(t, err)
	_, _, root2, err := aggregation.AggregateBlock(context.Background(), fill(2), types.ZeroHash, buildGroups(), regionMembership)
	require.NoError(t, err)
	require.NotEqual(t, root1, root2)
}
