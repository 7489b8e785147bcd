// Package selection implements the deterministic chunk-selection
// algorithm: given per-block entropy and a chain's total chunk count, it
// derives an ordered, duplicate-free list of chunk indices to sample for
// that block's commitment. Two algorithm versions coexist: v1 (4 chunks,
// 8-byte seed, single-source entropy, legacy) and v2 (16 chunks, 16-byte
// seed, multi-source entropy, current). A verifier must dispatch on the
// stored algorithm_version and reject a result claiming the wrong version.
package selection

import (
	"encoding/binary"
	"sort"

	"github.com/bits-and-blooms/bitset"
	"github.com/holiman/uint256"

	"github.com/DIG-Network/proof-of-space-continuity-sub000/entropy"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/hashing"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/perr"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/types"
)

// Result is the outcome of a chunk-selection run: the ordered index list
// plus the digests a verifier recomputes and compares byte-for-byte.
type Result struct {
	Version               types.AlgorithmVersion
	Indices               []uint32 // selection order; consensus-significant
	VerifyHash            types.Hash
	UnpredictabilityProof types.Hash
}

const fallbackSuffix = "fallback"

// fallbackScanModulus is the spec-fixed window (offset % 28) used to carve
// a 4-byte window out of the 32-byte fallback digest.
const fallbackScanModulus = 28

// Select runs the chunk-selection algorithm for the given version against
// e and totalChunks, returning exactly version.ChunksPerBlock() distinct
// indices in [0, totalChunks) in selection order.
func Select(version types.AlgorithmVersion, e types.MultiSourceEntropy, totalChunks uint64) (Result, error) {
	if totalChunks == 0 {
		return Result{}, perr.New(perr.InvalidProofParameters, "total_chunks must be > 0")
	}
	n := version.ChunksPerBlock()
	if uint64(n) > totalChunks {
		return Result{}, perr.New(perr.InvalidProofParameters, "total_chunks %d smaller than chunks-per-block %d", totalChunks, n)
	}

	c := combinedSeed(version, e)
	ts := entropy.TimestampBytes(e.Timestamp)

	used := bitset.New(uint(totalChunks))
	indices := make([]uint32, 0, n)

	for slot := 0; slot < n; slot++ {
		idx, ok := attemptSlot(c, slot, ts, totalChunks, version.SeedSize(), used)
		if !ok {
			idx, ok = fallbackSlot(c, slot, totalChunks, used)
		}
		if !ok {
			return Result{}, perr.New(perr.EntropyGenerationFailed, "chunk-selection-exhausted")
		}
		used.Set(uint(idx))
		indices = append(indices, uint32(idx))
	}

	verifyHash := computeVerifyHash(version, c, indices, e.Timestamp)
	unpred := computeUnpredictabilityProof(e, indices)

	return Result{Version: version, Indices: indices, VerifyHash: verifyHash, UnpredictabilityProof: unpred}, nil
}

// combinedSeed returns the entropy digest C that every slot/attempt hash
// is derived from. For v2 this is the already-canonical MultiSourceEntropy
// combined hash; v1 is single-source and uses the raw blockchain entropy
// directly as its seed.
func combinedSeed(version types.AlgorithmVersion, e types.MultiSourceEntropy) types.Hash {
	if version == types.AlgorithmVersionV1 {
		return e.BlockchainEntropy
	}
	return e.CombinedHash
}

func attemptSlot(c types.Hash, slot int, ts [8]byte, totalChunks uint64, seedSize int, used *bitset.BitSet) (uint64, bool) {
	for attempt := 0; attempt < types.ChunkSelectionMaxAttempts; attempt++ {
		var slotBuf, attBuf [4]byte
		binary.BigEndian.PutUint32(slotBuf[:], uint32(slot))
		binary.BigEndian.PutUint32(attBuf[:], uint32(attempt))
		h := hashing.SumAll(c[:], slotBuf[:], attBuf[:], ts[:])
		idx := deriveIndex(h[:seedSize], totalChunks)
		if !used.Test(uint(idx)) {
			return idx, true
		}
	}
	return 0, false
}

func fallbackSlot(c types.Hash, slot int, totalChunks uint64, used *bitset.BitSet) (uint64, bool) {
	var slotBuf [4]byte
	binary.BigEndian.PutUint32(slotBuf[:], uint32(slot))
	f := hashing.SumAll(c[:], slotBuf[:], []byte(fallbackSuffix))

	for offset := uint64(0); offset < totalChunks; offset++ {
		start := offset % fallbackScanModulus
		window := f[start : start+4]
		idx := uint64(binary.BigEndian.Uint32(window)) % totalChunks
		if !used.Test(uint(idx)) {
			return idx, true
		}
	}
	return 0, false
}

// deriveIndex interprets the seed bytes (the first SeedSize() bytes of the
// attempt hash: 16 for v2, 8 for v1) as a big-endian integer and reduces it
// modulo totalChunks using 256-bit arithmetic (totalChunks is always small
// enough to fit a uint64, but the v2 u128 intermediate value does not).
func deriveIndex(u128 []byte, totalChunks uint64) uint64 {
	var v uint256.Int
	v.SetBytes(u128)
	var n uint256.Int
	n.SetUint64(totalChunks)
	var mod uint256.Int
	mod.Mod(&v, &n)
	return mod.Uint64()
}

func computeVerifyHash(version types.AlgorithmVersion, combined types.Hash, indices []uint32, timestamp float64) types.Hash {
	sorted := make([]uint32, len(indices))
	copy(sorted, indices)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var versionBuf [4]byte
	binary.BigEndian.PutUint32(versionBuf[:], uint32(version))
	ts := entropy.TimestampBytes(timestamp)

	idxBytes := encodeIndices(sorted)
	return hashing.SumAll(versionBuf[:], combined[:], idxBytes, ts[:])
}

func computeUnpredictabilityProof(e types.MultiSourceEntropy, indices []uint32) types.Hash {
	beacon := e.BeaconOrZero()
	flag := []byte{0x00}
	if e.HasBeacon() {
		flag = []byte{0xFF}
	}
	idxBytes := encodeIndices(indices)
	return hashing.SumAll(e.BlockchainEntropy[:], beacon[:], e.LocalEntropy[:], idxBytes, flag)
}

func encodeIndices(indices []uint32) []byte {
	out := make([]byte, 4*len(indices))
	for i, idx := range indices {
		binary.BigEndian.PutUint32(out[i*4:i*4+4], idx)
	}
	return out
}
