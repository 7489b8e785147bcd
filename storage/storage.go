// Package storage implements the per-chain file engine: paired
// <hash>.data / <hash>.hashchain files, streamed ingestion that never
// materializes a whole file in memory, and memory-mapped chunk reads.
// Grounded on the teacher's core/rawdb/freezer_table.go (append-only,
// paired data+index files opened once and read randomly thereafter),
// generalized from a compressed chain-segment table to this protocol's
// fixed-size, XOR-encoded chunk file.
package storage

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/VictoriaMetrics/fastcache"
	"golang.org/x/sys/unix"

	"github.com/DIG-Network/proof-of-space-continuity-sub000/hashing"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/perr"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/plog"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/types"
)

var log = plog.Default().Module("storage")

// chunkHashCacheBytes bounds the per-Storage fastcache used to memoize
// compute_chunk_hash results; a chain's full Merkle tree is rebuilt far
// less often than individual chunks are re-hashed for commitment
// construction and availability responses.
const chunkHashCacheBytes = 8 * 1024 * 1024

// Storage owns one chain's paired .data/.hashchain files. Once opened, the
// .data file is memory-mapped read-only and ReadChunk is safe for
// concurrent callers; Close must not race with in-flight reads.
type Storage struct {
	mu sync.RWMutex

	dataPath      string
	hashchainPath string

	dataFile *os.File
	mapped   []byte

	fileSize    uint64
	totalChunks uint64

	chunkHashCache *fastcache.Cache

	hashchain *HashchainFile

	closed bool
}

// Open opens an existing .data/.hashchain pair in dir named by the given
// data-file hash hex string (the shared filename prefix), memory-mapping
// the .data file for reads.
func Open(dir string, dataHashHex string) (*Storage, error) {
	dataPath := filepath.Join(dir, dataHashHex+".data")
	hashchainPath := filepath.Join(dir, dataHashHex+".hashchain")

	f, err := os.Open(dataPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, perr.Wrap(perr.FileNotFound, err, "data file %s", dataPath)
		}
		return nil, perr.Wrap(perr.Io, err, "open data file %s", dataPath)
	}

	hf, err := OpenHashchainFile(hashchainPath)
	if err != nil {
		f.Close()
		return nil, err
	}
	hdr := hf.Header()

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		hf.Close()
		return nil, perr.Wrap(perr.Io, err, "stat data file %s", dataPath)
	}
	fileSize := uint64(stat.Size())

	mapped, err := mmapReadOnly(f, fileSize)
	if err != nil {
		f.Close()
		hf.Close()
		return nil, perr.Wrap(perr.Io, err, "mmap data file %s", dataPath)
	}

	return &Storage{
		dataPath:       dataPath,
		hashchainPath:  hashchainPath,
		dataFile:       f,
		mapped:         mapped,
		fileSize:       fileSize,
		totalChunks:    hdr.TotalChunks,
		chunkHashCache: fastcache.New(chunkHashCacheBytes),
		hashchain:      hf,
	}, nil
}

// Hashchain returns the underlying .hashchain file handle for commitment
// append/read access.
func (s *Storage) Hashchain() *HashchainFile { return s.hashchain }

// MerkleRoot returns the chain's chunk-hash Merkle root as recorded in the
// header at ingestion time.
func (s *Storage) MerkleRoot() (types.Hash, error) {
	hdrFile, err := os.Open(s.hashchainPath)
	if err != nil {
		return types.Hash{}, perr.Wrap(perr.Io, err, "open hashchain file %s", s.hashchainPath)
	}
	defer hdrFile.Close()
	hdr, err := LoadHeader(hdrFile)
	if err != nil {
		return types.Hash{}, err
	}
	return hdr.MerkleRoot, nil
}

// mmapReadOnly maps the whole of f read-only. A zero-length file maps to
// an empty, non-nil slice so callers can treat it uniformly.
func mmapReadOnly(f *os.File, size uint64) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}
	return unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
}

// TotalChunks returns the chain's fixed chunk count.
func (s *Storage) TotalChunks() uint64 {
	return s.totalChunks
}

// FileStats summarizes the on-disk state of a chain's data file.
type FileStats struct {
	FileSize    uint64
	TotalChunks uint64
	ChunkSize   uint32
}

// GetFileStats returns the chain's file size, chunk count, and chunk size.
func (s *Storage) GetFileStats() FileStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return FileStats{
		FileSize:    s.fileSize,
		TotalChunks: s.totalChunks,
		ChunkSize:   types.ChunkSizeBytes,
	}
}

// ReadChunk returns the encoded bytes of chunk index, zero-padded to
// ChunkSizeBytes if it is the final, partial chunk of the file. It fails
// with ChunkIndexOutOfRange if index >= TotalChunks().
func (s *Storage) ReadChunk(index uint64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, perr.New(perr.Io, "storage closed")
	}
	if index >= s.totalChunks {
		return nil, perr.New(perr.ChunkIndexOutOfRange, "index %d >= total_chunks %d", index, s.totalChunks)
	}

	start := index * types.ChunkSizeBytes
	end := start + types.ChunkSizeBytes
	if end > s.fileSize {
		end = s.fileSize
	}

	out := make([]byte, types.ChunkSizeBytes)
	if start < uint64(len(s.mapped)) {
		copy(out, s.mapped[start:min64(end, uint64(len(s.mapped)))])
	}
	return out, nil
}

// ComputeChunkHash returns SHA-256 of the on-disk (encoded) bytes of chunk
// index, memoized in an in-memory cache for the lifetime of the Storage.
func (s *Storage) ComputeChunkHash(index uint64) (types.Hash, error) {
	key := chunkCacheKey(index)
	if cached, ok := s.chunkHashCache.HasGet(nil, key); ok {
		return types.BytesToHash(cached), nil
	}
	chunk, err := s.ReadChunk(index)
	if err != nil {
		return types.Hash{}, err
	}
	h := hashing.Sum256(chunk)
	s.chunkHashCache.Set(key, h[:])
	return h, nil
}

func chunkCacheKey(index uint64) []byte {
	key := make([]byte, 8)
	for i := 0; i < 8; i++ {
		key[i] = byte(index >> (56 - 8*i))
	}
	return key
}

// Close unmaps the .data file and releases both file handles. On
// platforms that lock a memory-mapped file against deletion, Close (and
// thus the unmap) must complete before the caller attempts to delete the
// underlying files.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	if len(s.mapped) > 0 {
		if err := unix.Munmap(s.mapped); err != nil && firstErr == nil {
			firstErr = perr.Wrap(perr.Io, err, "munmap %s", s.dataPath)
		}
	}
	s.mapped = nil
	if err := s.dataFile.Close(); err != nil && firstErr == nil {
		firstErr = perr.Wrap(perr.Io, err, "close %s", s.dataPath)
	}
	if err := s.hashchain.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// DataPath returns the path of the .data file backing this Storage.
func (s *Storage) DataPath() string { return s.dataPath }

// HashchainPath returns the path of the .hashchain file for this chain.
func (s *Storage) HashchainPath() string { return s.hashchainPath }

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
