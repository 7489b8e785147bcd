package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/time/rate"

	"github.com/DIG-Network/proof-of-space-continuity-sub000/encoding"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/hashing"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/merkle"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/perr"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/types"
)

// streamBufSize bounds the amount of plaintext ever resident in memory
// while ingesting a file: chunk-by-chunk, never the whole file.
const streamBufSize = 64 * 1024

// ingestChunksPerSecond caps the rate at which Ingest writes encoded
// chunks to disk, so one large ingest can't starve other chains' I/O on a
// node that's concurrently serving ReadChunk/ComputeChunkHash calls.
const ingestChunksPerSecond = 50000

// IngestResult summarizes a completed Ingest call.
type IngestResult struct {
	DataFileHash types.Hash
	MerkleRoot   types.Hash
	TotalChunks  uint64
	FileSize     uint64
}

// Ingest streams r into a new <hash>.data/<hash>.hashchain pair under dir,
// XOR-encoding each chunk under owner's per-prover keystream, hashing the
// raw (pre-encoding) bytes incrementally to derive DataFileHash, and
// building the chunk Merkle tree over encoded-chunk hashes. minChunks and
// maxChunks bound the accepted chunk count; a rejected or failed stream
// cleans up its partial temp file and returns no on-disk trace.
func Ingest(dir string, owner types.PublicKey, r io.Reader, minChunks, maxChunks uint64) (IngestResult, error) {
	tmpData, err := os.CreateTemp(dir, "ingest-*.data.tmp")
	if err != nil {
		return IngestResult{}, perr.Wrap(perr.Io, err, "create temp data file")
	}
	tmpPath := tmpData.Name()
	cleanup := func() {
		tmpData.Close()
		os.Remove(tmpPath)
	}

	rawHasher := hashing.New()
	var leaves []types.Hash
	var totalChunks uint64
	var fileSize uint64

	limiter := rate.NewLimiter(rate.Limit(ingestChunksPerSecond), 1)

	buf := make([]byte, streamBufSize)
	chunkBuf := make([]byte, types.ChunkSizeBytes)
	chunkFill := 0

	flushChunk := func(final bool) error {
		if chunkFill == 0 {
			return nil
		}
		raw := chunkBuf[:chunkFill]
		if chunkFill < types.ChunkSizeBytes {
			if !final {
				return nil
			}
			for i := chunkFill; i < types.ChunkSizeBytes; i++ {
				chunkBuf[i] = 0
			}
		}
		if err := limiter.Wait(context.Background()); err != nil {
			return perr.Wrap(perr.Io, err, "rate limit chunk %d", totalChunks)
		}
		rawHasher.Write(raw)
		encoded := encoding.Encode(chunkBuf, owner, uint32(totalChunks), encoding.CurrentVersion)
		if _, err := tmpData.Write(encoded); err != nil {
			return perr.Wrap(perr.Io, err, "write chunk %d", totalChunks)
		}
		leaves = append(leaves, hashing.Sum256(encoded))
		totalChunks++
		fileSize += uint64(chunkFill)
		chunkFill = 0
		if totalChunks > maxChunks {
			return perr.New(perr.TooManyChunks, "exceeded max_chunks %d", maxChunks)
		}
		return nil
	}

	for {
		n, readErr := r.Read(buf)
		pos := 0
		for pos < n {
			take := types.ChunkSizeBytes - chunkFill
			if take > n-pos {
				take = n - pos
			}
			copy(chunkBuf[chunkFill:chunkFill+take], buf[pos:pos+take])
			chunkFill += take
			pos += take
			if chunkFill == types.ChunkSizeBytes {
				if err := flushChunk(false); err != nil {
					cleanup()
					return IngestResult{}, err
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			cleanup()
			return IngestResult{}, perr.Wrap(perr.Io, readErr, "read ingest stream")
		}
	}
	if err := flushChunk(true); err != nil {
		cleanup()
		return IngestResult{}, err
	}

	if totalChunks < minChunks {
		cleanup()
		return IngestResult{}, perr.New(perr.TooFewChunks, "streamed %d chunks, need at least %d", totalChunks, minChunks)
	}
	if totalChunks == 0 {
		cleanup()
		return IngestResult{}, perr.New(perr.NoDataStreamed, "empty input stream")
	}

	root := merkle.Root(leaves)
	dataHash := types.BytesToHash(rawHasher.Sum(nil))

	finalDataPath := filepath.Join(dir, dataHash.Hex()[2:]+".data")
	if err := tmpData.Close(); err != nil {
		os.Remove(tmpPath)
		return IngestResult{}, perr.Wrap(perr.Io, err, "close temp data file")
	}
	if _, err := os.Stat(finalDataPath); err == nil {
		os.Remove(tmpPath)
		return IngestResult{}, perr.New(perr.AlreadyHasData, "data file %s already exists", finalDataPath)
	}
	if err := os.Rename(tmpPath, finalDataPath); err != nil {
		os.Remove(tmpPath)
		return IngestResult{}, perr.Wrap(perr.Io, err, "rename temp data file")
	}

	header := types.HashChainHeader{
		FormatVersion:      types.HashchainFormatVersion,
		DataFileHash:       dataHash,
		MerkleRoot:         root,
		TotalChunks:        totalChunks,
		ChunkSize:          types.ChunkSizeBytes,
		DataFilePathHash:   hashing.Sum256([]byte(finalDataPath)),
		AnchoredCommitment: types.ZeroHash,
	}
	copy(header.Magic[:], types.HashchainMagic)

	hashchainPath := filepath.Join(dir, dataHash.Hex()[2:]+".hashchain")
	hf, err := CreateHashchainFile(hashchainPath, header, leaves)
	if err != nil {
		os.Remove(finalDataPath)
		return IngestResult{}, err
	}
	if err := hf.Close(); err != nil {
		return IngestResult{}, err
	}

	return IngestResult{
		DataFileHash: dataHash,
		MerkleRoot:   root,
		TotalChunks:  totalChunks,
		FileSize:     fileSize,
	}, nil
}
