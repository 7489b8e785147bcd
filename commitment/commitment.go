// Package commitment builds and verifies PhysicalAccessCommitments: one
// block's proof that a chain's owner read a pseudo-randomly selected set of
// chunks from the chain's data file. Grounded on the teacher's
// core/types/block.go hashing conventions (fixed-field concatenation,
// never struct-tag-driven encoding) and on merkle for inclusion proofs.
package commitment

import (
	"encoding/binary"

	"github.com/DIG-Network/proof-of-space-continuity-sub000/hashing"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/merkle"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/perr"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/selection"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/types"
)

// ChunkReader is the subset of storage.Storage a commitment needs: reading
// and hashing individual chunks by index.
type ChunkReader interface {
	ComputeChunkHash(index uint64) (types.Hash, error)
}

// Build constructs the next commitment for a chain, given the previous
// commitment hash (or anchored_commitment for the first block), the
// current block's height and hash, and the already-run selection result for
// this block.
func Build(prev types.Hash, blockHeight uint64, blockHash types.Hash, sel selection.Result, reader ChunkReader) (types.PhysicalAccessCommitment, error) {
	if len(sel.Indices) != types.ChunksPerCommitment {
		return types.PhysicalAccessCommitment{}, perr.New(perr.InvalidProofParameters, "selection produced %d indices, want %d", len(sel.Indices), types.ChunksPerCommitment)
	}

	var c types.PhysicalAccessCommitment
	c.BlockHeight = blockHeight
	c.PreviousCommitment = prev
	c.BlockHash = blockHash

	for i, idx := range sel.Indices {
		c.SelectedChunks[i] = idx
		h, err := reader.ComputeChunkHash(uint64(idx))
		if err != nil {
			return types.PhysicalAccessCommitment{}, err
		}
		c.ChunkHashes[i] = h
	}
	c.CommitmentHash = CanonicalHash(c)
	return c, nil
}

// CanonicalHash computes the commitment_hash of c per the canonical byte
// layout: block_height_be_u64 first, then previous_commitment, block_hash,
// the selected chunk indices in selection order, then the chunk hashes in
// the same order. An older, now-rejected code path in the source material
// omitted block_height from this hash; this is deliberately not that path.
func CanonicalHash(c types.PhysicalAccessCommitment) types.Hash {
	var heightBuf [8]byte
	binary.BigEndian.PutUint64(heightBuf[:], c.BlockHeight)

	idxBuf := make([]byte, 4*types.ChunksPerCommitment)
	for i, idx := range c.SelectedChunks {
		binary.BigEndian.PutUint32(idxBuf[i*4:i*4+4], idx)
	}

	hashBuf := make([]byte, types.HashLength*types.ChunksPerCommitment)
	for i, h := range c.ChunkHashes {
		copy(hashBuf[i*types.HashLength:(i+1)*types.HashLength], h[:])
	}

	return hashing.SumAll(heightBuf[:], c.PreviousCommitment[:], c.BlockHash[:], idxBuf, hashBuf)
}

// VerifyCommitmentHash reports whether c.CommitmentHash matches the
// canonical recomputation, and whether the selected chunk indices are
// distinct and within range.
func VerifyCommitmentHash(c types.PhysicalAccessCommitment, totalChunks uint64) error {
	seen := make(map[uint32]bool, len(c.SelectedChunks))
	for _, idx := range c.SelectedChunks {
		if uint64(idx) >= totalChunks {
			return perr.New(perr.ChunkIndexOutOfRange, "selected chunk %d >= total_chunks %d", idx, totalChunks)
		}
		if seen[idx] {
			return perr.New(perr.InvalidProofParameters, "duplicate selected chunk %d", idx)
		}
		seen[idx] = true
	}
	if CanonicalHash(c) != c.CommitmentHash {
		return perr.New(perr.Corruption, "commitment_hash does not match canonical recomputation")
	}
	return nil
}

// Window is the last ProofWindowBlocks commitments of a chain plus the
// boundary hashes a verifier checks against.
type Window = types.ProofWindow

// ExtractWindow returns the proof window from the tail of commitments,
// which must be in ascending block_height order (the caller's full chain
// history or a suffix of it). Fails with ChainTooShort if fewer than
// ProofWindowBlocks commitments are supplied.
func ExtractWindow(commitments []types.PhysicalAccessCommitment) (Window, error) {
	if len(commitments) < types.ProofWindowBlocks {
		return Window{}, perr.New(perr.ChainTooShort, "chain length %d, need %d", len(commitments), types.ProofWindowBlocks).
			With("length", len(commitments)).With("required", types.ProofWindowBlocks)
	}
	tail := commitments[len(commitments)-types.ProofWindowBlocks:]
	return Window{
		Commitments: tail,
		Start:       tail[0].PreviousCommitment,
		End:         tail[len(tail)-1].CommitmentHash,
	}, nil
}

// VerifyWindow checks a proof window against the expected anchor, the
// chain's Merkle root of chunk hashes, and its total_chunks, recomputing
// chunk selection for each commitment from its own (block_hash, height)
// derived entropy via selectFn, supplied by the caller since entropy
// composition (beacon availability, local entropy) is outside this
// package's scope.
func VerifyWindow(w Window, anchoredExpected types.Hash, merkleRoot types.Hash, totalChunks uint64, leaves []types.Hash, selectFn func(commitment types.PhysicalAccessCommitment) (selection.Result, error)) error {
	if len(w.Commitments) != types.ProofWindowBlocks {
		return perr.New(perr.InvalidProofParameters, "window has %d commitments, want %d", len(w.Commitments), types.ProofWindowBlocks)
	}
	if w.Start != anchoredExpected {
		return perr.New(perr.InvalidProofParameters, "window start does not match expected anchor")
	}

	prev := w.Start
	for i, c := range w.Commitments {
		if c.PreviousCommitment != prev {
			return perr.New(perr.InvalidProofParameters, "commitment %d: previous_commitment mismatch", i)
		}
		if i > 0 && c.BlockHeight != w.Commitments[i-1].BlockHeight+1 {
			return perr.New(perr.InvalidProofParameters, "commitment %d: block_height not contiguous", i)
		}
		if err := VerifyCommitmentHash(c, totalChunks); err != nil {
			return err
		}
		if selectFn != nil {
			sel, err := selectFn(c)
			if err != nil {
				return err
			}
			if len(sel.Indices) != len(c.SelectedChunks) {
				return perr.New(perr.InvalidProofParameters, "commitment %d: recomputed selection length mismatch", i)
			}
			for j, idx := range sel.Indices {
				if idx != c.SelectedChunks[j] {
					return perr.New(perr.InvalidProofParameters, "commitment %d: selected chunk order mismatch at %d", i, j)
				}
			}
		}
		for j, idx := range c.SelectedChunks {
			if leaves != nil {
				proof, _ := merkle.Proof(leaves, int(idx))
				if !merkle.VerifyProof(c.ChunkHashes[j], proof, merkleRoot) {
					return perr.New(perr.InvalidProofParameters, "commitment %d: chunk %d fails Merkle proof", i, idx)
				}
			}
		}
		prev = c.CommitmentHash
	}

	if w.End != w.Commitments[len(w.Commitments)-1].CommitmentHash {
		return perr.New(perr.InvalidProofParameters, "window end does not match last commitment_hash")
	}
	return nil
}

// AnchoredCommitment computes a chain's anchored_commitment from its
// identity and anchor block.
func AnchoredCommitment(dataFileHash types.Hash, pubKey types.PublicKey, initialBlockHash types.Hash, initialBlockHeight uint64) types.Hash {
	inner := hashing.SumAll(dataFileHash[:], pubKey.Bytes())
	var heightBuf [8]byte
	binary.BigEndian.PutUint64(heightBuf[:], initialBlockHeight)
	return hashing.SumAll(inner[:], initialBlockHash[:], heightBuf[:])
}
