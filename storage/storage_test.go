package storage_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DIG-Network/proof-of-space-continuity-sub000/storage"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/types"
)

func ownerKey(b byte) types.PublicKey {
	var k types.PublicKey
	for i := range k {
		k[i] = b
	}
	return k
}

// S1 — ingest a small file, open it read-only, append a handful of
// commitments, and confirm header state survives a close/reopen cycle.
func TestIngestOpenAppendReopen(t *testing.T) {
	dir := t.TempDir()
	owner := ownerKey(0x11)

	data := bytes.Repeat([]byte{0xAB}, 3*types.ChunkSizeBytes+17)
	res, err := storage.Ingest(dir, owner, bytes.NewReader(data), 1, 1000)
	require.NoError(t, err)
	require.Equal(t, uint64(4), res.TotalChunks)

	s, err := storage.Open(dir, res.DataFileHash.Hex()[2:])
	require.NoError(t, err)
	require.Equal(t, uint64(4), s.TotalChunks())

	chunk0, err := s.ReadChunk(0)
	require.NoError(t, err)
	require.Len(t, chunk0, types.ChunkSizeBytes)

	_, err = s.ReadChunk(4)
	require.Error(t, err)

	h0, err := s.ComputeChunkHash(0)
	require.NoError(t, err)
	h0Again, err := s.ComputeChunkHash(0)
	require.NoError(t, err)
	require.Equal(t, h0, h0Again)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close()) // idempotent

	hashchainPath := dir + "/" + res.DataFileHash.Hex()[2:] + ".hashchain"
	hf, err := storage.OpenHashchainFile(hashchainPath)
	require.NoError(t, err)
	require.Equal(t, uint32(0), hf.Header().ChainLength)

	prev := types.ZeroHash
	for height := uint64(1); height <= 8; height++ {
		c := types.PhysicalAccessCommitment{
			BlockHeight:        height,
			PreviousCommitment: prev,
			BlockHash:          types.BytesToHash([]byte{byte(height)}),
		}
		require.NoError(t, hf.AppendCommitment(c))
		prev = c.CommitmentHash
	}
	require.Equal(t, uint32(8), hf.Header().ChainLength)
	require.NoError(t, hf.Close())

	hf2, err := storage.OpenHashchainFile(hashchainPath)
	require.NoError(t, err)
	require.Equal(t, uint32(8), hf2.Header().ChainLength)
	last, err := hf2.ReadCommitment(7)
	require.NoError(t, err)
	require.Equal(t, uint64(8), last.BlockHeight)
	require.NoError(t, hf2.Close())
}

func TestIngestRejectsEmptyStream(t *testing.T) {
	dir := t.TempDir()
	_, err := storage.Ingest(dir, ownerKey(1), bytes.NewReader(nil), 1, 1000)
	require.Error(t, err)
}

func TestIngestRejectsTooManyChunks(t *testing.T) {
	dir := t.TempDir()
	data := bytes.Repeat([]byte{0x01}, 3*types.ChunkSizeBytes)
	_, err := storage.Ingest(dir, ownerKey(1), bytes.NewReader(data), 1, 2)
	require.Error(t, err)
}

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := types.HashChainHeader{
		FormatVersion:      types.HashchainFormatVersion,
		DataFileHash:       types.BytesToHash([]byte("data")),
		MerkleRoot:         types.BytesToHash([]byte("root")),
		TotalChunks:        42,
		ChunkSize:          types.ChunkSizeBytes,
		DataFilePathHash:   types.BytesToHash([]byte("path")),
		AnchoredCommitment: types.ZeroHash,
		ChainLength:        3,
	}
	copy(h.Magic[:], types.HashchainMagic)

	buf := storage.EncodeHeader(h)
	got, err := storage.DecodeHeader(buf)
	require.NoError(t, err)
	require.Equal(t, h.DataFileHash, got.DataFileHash)
	require.Equal(t, h.TotalChunks, got.TotalChunks)
	require.Equal(t, h.ChainLength, got.ChainLength)

	buf[0] = 'X'
	_, err = storage.DecodeHeader(buf)
	require.Error(t, err)
}
