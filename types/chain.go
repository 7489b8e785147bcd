package types

import (
	"sync"

	sha256simd "github.com/minio/sha256-simd"
)

// ComputeChainID derives a chain's stable identifier from its owner's
// public key and its data file's content hash. Defined directly against
// sha256-simd (rather than via the hashing package) to avoid an import
// cycle: hashing depends on types for the Hash type.
func ComputeChainID(pubKey PublicKey, dataFileHash Hash) Hash {
	buf := make([]byte, 0, PublicKeyLength+HashLength)
	buf = append(buf, pubKey.Bytes()...)
	buf = append(buf, dataFileHash[:]...)
	return Hash(sha256simd.Sum256(buf))
}

// ChainState is the lifecycle state of a chain, modeled as a tagged
// variant per the engine's design notes (illegal transitions are errors,
// never no-ops). Grounded on the teacher's ServiceState enum shape.
type ChainState int

const (
	ChainInitializing ChainState = iota
	ChainActive
	ChainPaused
	ChainArchiving
	ChainArchived
	ChainRemoved
)

// String returns a human-readable name for the chain state.
func (s ChainState) String() string {
	switch s {
	case ChainInitializing:
		return "initializing"
	case ChainActive:
		return "active"
	case ChainPaused:
		return "paused"
	case ChainArchiving:
		return "archiving"
	case ChainArchived:
		return "archived"
	case ChainRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// chainTransitions enumerates the legal ChainState transition edges.
var chainTransitions = map[ChainState]map[ChainState]bool{
	ChainInitializing: {ChainActive: true},
	ChainActive:        {ChainPaused: true, ChainArchiving: true},
	ChainPaused:        {ChainActive: true, ChainArchiving: true},
	ChainArchiving:     {ChainArchived: true},
	ChainArchived:      {ChainRemoved: true},
	ChainRemoved:       {},
}

// CanTransition reports whether moving from `from` to `to` is legal.
func CanTransition(from, to ChainState) bool {
	edges, ok := chainTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// Chain is one prover-owned data file and its commitment history.
//
// Storage and the commitment sequence are exclusively owned by the chain;
// groups and regions hold only the ChainID and derived proofs (see
// registry.Registry for membership bookkeeping).
type Chain struct {
	mu sync.Mutex

	ChainID            Hash
	PublicKey          PublicKey
	DataFileHash       Hash // identifies the on-disk <hash>.data/.hashchain pair; needed to reopen storage after restart
	TotalChunks        uint64
	InitialBlockHeight uint64
	InitialBlockHash   Hash
	AnchoredCommitment Hash
	AlgorithmVersion   AlgorithmVersion

	State           ChainState
	RemovalAtHeight uint64 // height from which registry.RemovableAtHeight lists an Archived chain; set by the caller, not by Transition, which does not check it

	Commitments []PhysicalAccessCommitment
}

// ChainLength returns the number of commitments appended to this chain.
func (c *Chain) ChainLength() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Commitments)
}

// CurrentCommitment returns the hash of the most recently appended
// commitment, or AnchoredCommitment if the chain is empty.
func (c *Chain) CurrentCommitment() Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Commitments) == 0 {
		return c.AnchoredCommitment
	}
	return c.Commitments[len(c.Commitments)-1].CommitmentHash
}

// Lock and Unlock expose the chain's per-chain mutex so callers (the
// engine's per-block pipeline) can serialize append operations on this
// chain while other chains proceed concurrently, per the spec's
// concurrency model (§5): "a chain processes blocks sequentially."
func (c *Chain) Lock()   { c.mu.Lock() }
func (c *Chain) Unlock() { c.mu.Unlock() }

// AppendCommitment appends pac to the chain's commitment sequence. Callers
// must hold the chain's lock and must have already validated the linkage
// invariants (previous_commitment, block_height) before calling.
func (c *Chain) AppendCommitment(pac PhysicalAccessCommitment) {
	c.Commitments = append(c.Commitments, pac)
}

// Transition attempts to move the chain to newState, returning false if the
// transition is illegal.
func (c *Chain) Transition(newState ChainState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !CanTransition(c.State, newState) {
		return false
	}
	c.State = newState
	return true
}

// Group owns up to ChainsPerGroup chain IDs and the latest group proof
// derived from their commitments.
type Group struct {
	GroupID    string
	RegionID   string
	ChainIDs   []Hash
	GroupProof Hash
}

// Region owns up to GroupsPerRegion group IDs and the latest regional proof
// derived from the member group proofs.
type Region struct {
	RegionID       string
	GroupIDs       []string
	RegionalProof  Hash
}

// GlobalState holds the single global root proof for the most recently
// processed block, used as input to the next block's global root
// computation (forming a system-level hash chain of global roots).
type GlobalState struct {
	BlockHeight      uint64
	GlobalRootProof  Hash
}
