// Package aggregation implements the three-tier hierarchical proof
// aggregation that lets one engine summarize ~100,000 chains into a single
// per-block global root: group proofs (many, cheap) feed regional proofs
// (fewer, costlier) which feed one sequential global root. Grounded on the
// teacher's proofs/aggregation.go BatchAggregator shape (config struct,
// bounded batch, parallel-verify toggle), generalized from proof batching
// to iterated-hash tier aggregation.
package aggregation

import (
	"context"
	"encoding/binary"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/DIG-Network/proof-of-space-continuity-sub000/hashing"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/merkle"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/types"
)

// ChainCommitment is the minimal per-chain input to group aggregation: its
// id (for deterministic ordering) and latest commitment hash.
type ChainCommitment struct {
	ChainID        types.Hash
	CommitmentHash types.Hash
}

// GroupInput is one group's membership for a single block's aggregation.
type GroupInput struct {
	GroupID string
	Chains  []ChainCommitment
}

// RegionInput is one region's group membership for a single block's
// aggregation, with each member group's already-computed proof.
type RegionInput struct {
	RegionID string
	Groups   []GroupProofEntry
}

// GroupProofEntry pairs a group id with its computed proof, carried forward
// into regional aggregation in lexicographic order.
type GroupProofEntry struct {
	GroupID    string
	GroupProof types.Hash
}

// RegionProofEntry pairs a region id with its computed proof, carried
// forward into global-root aggregation.
type RegionProofEntry struct {
	RegionID      string
	RegionalProof types.Hash
}

// GroupProof computes one group's proof for blockHash: an iterated hash
// seeded from the Merkle root of its member chains' commitment hashes
// (sorted by chain_id for determinism), run for GroupIterations rounds.
func GroupProof(blockHash types.Hash, g GroupInput) types.Hash {
	sorted := make([]ChainCommitment, len(g.Chains))
	copy(sorted, g.Chains)
	sort.Slice(sorted, func(i, j int) bool {
		return lessHash(sorted[i].ChainID, sorted[j].ChainID)
	})

	leaves := make([]types.Hash, len(sorted))
	for i, c := range sorted {
		leaves[i] = c.CommitmentHash
	}
	root := merkle.Root(leaves)

	state := hashing.SumAll(blockHash[:], root[:], []byte(g.GroupID))
	return iterate(state, types.GroupIterations)
}

// RegionalProof computes one region's proof for blockHash from its member
// groups' already-computed proofs (sorted by group_id), run for
// RegionalIterations rounds.
func RegionalProof(blockHash types.Hash, r RegionInput) types.Hash {
	sorted := make([]GroupProofEntry, len(r.Groups))
	copy(sorted, r.Groups)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].GroupID < sorted[j].GroupID })

	leaves := make([]types.Hash, len(sorted))
	for i, g := range sorted {
		leaves[i] = g.GroupProof
	}
	root := merkle.Root(leaves)

	state := hashing.SumAll(blockHash[:], root[:], []byte(r.RegionID))
	return iterate(state, types.RegionalIterations)
}

// GlobalRoot computes the single global root for blockHash from every
// region's proof (sorted by region_id) and the previous block's global
// root, run for GlobalRootIterations rounds.
func GlobalRoot(blockHash types.Hash, previousGlobalRoot types.Hash, regions []RegionProofEntry) types.Hash {
	sorted := make([]RegionProofEntry, len(regions))
	copy(sorted, regions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RegionID < sorted[j].RegionID })

	leaves := make([]types.Hash, len(sorted))
	for i, r := range sorted {
		leaves[i] = r.RegionalProof
	}
	root := merkle.Root(leaves)

	var nBuf [4]byte
	binary.BigEndian.PutUint32(nBuf[:], uint32(len(sorted)))
	state := hashing.SumAll(blockHash[:], root[:], previousGlobalRoot[:], nBuf[:])
	return iterate(state, types.GlobalRootIterations)
}

func iterate(state types.Hash, rounds int) types.Hash {
	for i := uint32(0); i < uint32(rounds); i++ {
		var iBuf [4]byte
		binary.BigEndian.PutUint32(iBuf[:], i)
		state = hashing.SumAll(state[:], iBuf[:])
	}
	return state
}

func lessHash(a, b types.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// AggregateBlock runs all three tiers for one block: groups and regions run
// in parallel (levels 1 and 2 are embarrassingly parallel per group/region),
// the global root runs sequentially over their results. Groups must already
// be assigned to regions by id as reflected in regionMembership.
func AggregateBlock(ctx context.Context, blockHash types.Hash, previousGlobalRoot types.Hash, groups []GroupInput, regionMembership map[string][]string) (groupProofs map[string]types.Hash, regionProofs map[string]types.Hash, globalRoot types.Hash, err error) {
	groupProofs = make(map[string]types.Hash, len(groups))
	var mu sync.Mutex
	eg, _ := errgroup.WithContext(ctx)
	for _, g := range groups {
		g := g
		eg.Go(func() error {
			proof := GroupProof(blockHash, g)
			mu.Lock()
			groupProofs[g.GroupID] = proof
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, nil, types.Hash{}, err
	}

	regionIDs := make([]string, 0, len(regionMembership))
	for rid := range regionMembership {
		regionIDs = append(regionIDs, rid)
	}
	sort.Strings(regionIDs)

	regionProofs = make(map[string]types.Hash, len(regionIDs))
	eg2, _ := errgroup.WithContext(ctx)
	for _, rid := range regionIDs {
		rid := rid
		groupIDs := regionMembership[rid]
		eg2.Go(func() error {
			entries := make([]GroupProofEntry, 0, len(groupIDs))
			for _, gid := range groupIDs {
				entries = append(entries, GroupProofEntry{GroupID: gid, GroupProof: groupProofs[gid]})
			}
			proof := RegionalProof(blockHash, RegionInput{RegionID: rid, Groups: entries})
			mu.Lock()
			regionProofs[rid] = proof
			mu.Unlock()
			return nil
		})
	}
	if err := eg2.Wait(); err != nil {
		return nil, nil, types.Hash{}, err
	}

	regionEntries := make([]RegionProofEntry, 0, len(regionIDs))
	for _, rid := range regionIDs {
		regionEntries = append(regionEntries, RegionProofEntry{RegionID: rid, RegionalProof: regionProofs[rid]})
	}
	globalRoot = GlobalRoot(blockHash, previousGlobalRoot, regionEntries)

	return groupProofs, regionProofs, globalRoot, nil
}
