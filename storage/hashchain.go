package storage

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/DIG-Network/proof-of-space-continuity-sub000/hashing"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/perr"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/types"
)

// commitmentRecordSize is the fixed on-disk width of one encoded
// PhysicalAccessCommitment: block_height (8) + previous_commitment (32) +
// block_hash (32) + selected_chunks (16*4) + chunk_hashes (16*32) +
// commitment_hash (32).
const commitmentRecordSize = 8 + 32 + 32 + types.ChunksPerCommitment*4 + types.ChunksPerCommitment*32 + 32

// trailerSize is the .hashchain file trailer: file_size (8) + file_checksum
// (32), appended after the last commitment record.
const trailerSize = 8 + 32

// EncodeCommitment serializes c into its fixed commitmentRecordSize layout.
func EncodeCommitment(c types.PhysicalAccessCommitment) []byte {
	buf := make([]byte, commitmentRecordSize)
	off := 0
	binary.BigEndian.PutUint64(buf[off:off+8], c.BlockHeight)
	off += 8
	copy(buf[off:off+32], c.PreviousCommitment[:])
	off += 32
	copy(buf[off:off+32], c.BlockHash[:])
	off += 32
	for _, idx := range c.SelectedChunks {
		binary.BigEndian.PutUint32(buf[off:off+4], idx)
		off += 4
	}
	for _, h := range c.ChunkHashes {
		copy(buf[off:off+32], h[:])
		off += 32
	}
	copy(buf[off:off+32], c.CommitmentHash[:])
	return buf
}

// DecodeCommitment parses a commitmentRecordSize-byte record.
func DecodeCommitment(buf []byte) (types.PhysicalAccessCommitment, error) {
	var c types.PhysicalAccessCommitment
	if len(buf) != commitmentRecordSize {
		return c, perr.New(perr.FileFormat, "commitment record size %d != %d", len(buf), commitmentRecordSize)
	}
	off := 0
	c.BlockHeight = binary.BigEndian.Uint64(buf[off : off+8])
	off += 8
	copy(c.PreviousCommitment[:], buf[off:off+32])
	off += 32
	copy(c.BlockHash[:], buf[off:off+32])
	off += 32
	for i := range c.SelectedChunks {
		c.SelectedChunks[i] = binary.BigEndian.Uint32(buf[off : off+4])
		off += 4
	}
	for i := range c.ChunkHashes {
		copy(c.ChunkHashes[i][:], buf[off:off+32])
		off += 32
	}
	copy(c.CommitmentHash[:], buf[off:off+32])
	return c, nil
}

// HashchainFile owns the append-only .hashchain file: header, then
// node_count + that many 32-byte chunk-hash leaves, then commitment
// records, then a trailing (file_size, file_checksum) pair. Grounded on the
// teacher's freezer_table.go append pattern, adapted from a compressed item
// log to this protocol's fixed-width record format.
type HashchainFile struct {
	path        string
	f           *os.File
	header      types.HashChainHeader
	leafCount   uint32
	commitStart int64 // byte offset where the commitment records begin
}

// leavesHeaderSize is the width of the node_count field preceding the leaf
// hashes.
const leavesHeaderSize = 4

// CreateHashchainFile writes a brand-new .hashchain file: header (with
// chain_length 0), the chunk-hash leaves section, and an empty trailer.
func CreateHashchainFile(path string, header types.HashChainHeader, leaves []types.Hash) (*HashchainFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, perr.Wrap(perr.Io, err, "create hashchain file %s", path)
	}
	header.ChainLength = 0
	if err := WriteHeader(f, header); err != nil {
		f.Close()
		return nil, err
	}

	leafBuf := make([]byte, leavesHeaderSize+len(leaves)*types.HashLength)
	binary.BigEndian.PutUint32(leafBuf[0:4], uint32(len(leaves)))
	for i, l := range leaves {
		off := leavesHeaderSize + i*types.HashLength
		copy(leafBuf[off:off+types.HashLength], l[:])
	}
	if _, err := f.WriteAt(leafBuf, int64(HeaderSize)); err != nil {
		f.Close()
		return nil, perr.Wrap(perr.Io, err, "write leaves section %s", path)
	}

	commitStart := int64(HeaderSize) + int64(len(leafBuf))
	if err := writeTrailer(f, uint64(commitStart), 0); err != nil {
		f.Close()
		return nil, err
	}
	return &HashchainFile{path: path, f: f, header: header, leafCount: uint32(len(leaves)), commitStart: commitStart}, nil
}

// OpenHashchainFile opens an existing .hashchain file for append, reading
// its header and leaf count.
func OpenHashchainFile(path string) (*HashchainFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, perr.Wrap(perr.FileNotFound, err, "hashchain file %s", path)
		}
		return nil, perr.Wrap(perr.Io, err, "open hashchain file %s", path)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, perr.Wrap(perr.Io, err, "seek hashchain file %s", path)
	}
	hdr, err := LoadHeader(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	var countBuf [4]byte
	if _, err := f.ReadAt(countBuf[:], int64(HeaderSize)); err != nil {
		f.Close()
		return nil, perr.Wrap(perr.Io, err, "read leaf count %s", path)
	}
	leafCount := binary.BigEndian.Uint32(countBuf[:])
	commitStart := int64(HeaderSize) + leavesHeaderSize + int64(leafCount)*types.HashLength

	return &HashchainFile{path: path, f: f, header: hdr, leafCount: leafCount, commitStart: commitStart}, nil
}

// Leaves reads back the stored chunk-hash leaves in full.
func (hf *HashchainFile) Leaves() ([]types.Hash, error) {
	buf := make([]byte, int64(hf.leafCount)*types.HashLength)
	if len(buf) > 0 {
		if _, err := hf.f.ReadAt(buf, int64(HeaderSize)+leavesHeaderSize); err != nil {
			return nil, perr.Wrap(perr.Io, err, "read leaves %s", hf.path)
		}
	}
	out := make([]types.Hash, hf.leafCount)
	for i := range out {
		copy(out[i][:], buf[i*types.HashLength:(i+1)*types.HashLength])
	}
	return out, nil
}

// AppendCommitment appends c as the next commitment record, truncating the
// existing trailer, writing the record in its place, re-appending a fresh
// trailer, and rewriting the header's chain_length and checksum.
func (hf *HashchainFile) AppendCommitment(c types.PhysicalAccessCommitment) error {
	stat, err := hf.f.Stat()
	if err != nil {
		return perr.Wrap(perr.Io, err, "stat hashchain file %s", hf.path)
	}
	bodyEnd := stat.Size() - trailerSize
	if bodyEnd < hf.commitStart {
		return perr.New(perr.Corruption, "hashchain file %s shorter than header+leaves+trailer", hf.path)
	}

	record := EncodeCommitment(c)
	if _, err := hf.f.WriteAt(record, bodyEnd); err != nil {
		return perr.Wrap(perr.Io, err, "append commitment %s", hf.path)
	}
	newBodyEnd := bodyEnd + int64(len(record))

	hf.header.ChainLength++
	if err := WriteHeader(hf.f, hf.header); err != nil {
		return err
	}
	if err := writeTrailer(hf.f, uint64(newBodyEnd), hf.header.ChainLength); err != nil {
		return err
	}
	if err := hf.f.Truncate(newBodyEnd + trailerSize); err != nil {
		return perr.Wrap(perr.Io, err, "truncate hashchain file %s", hf.path)
	}
	return nil
}

// ReadCommitment reads the n-th (0-indexed) commitment record.
func (hf *HashchainFile) ReadCommitment(n uint32) (types.PhysicalAccessCommitment, error) {
	if n >= hf.header.ChainLength {
		return types.PhysicalAccessCommitment{}, perr.New(perr.InvalidProofParameters, "commitment index %d >= chain_length %d", n, hf.header.ChainLength)
	}
	off := hf.commitStart + int64(n)*int64(commitmentRecordSize)
	buf := make([]byte, commitmentRecordSize)
	if _, err := hf.f.ReadAt(buf, off); err != nil {
		return types.PhysicalAccessCommitment{}, perr.Wrap(perr.Io, err, "read commitment %d", n)
	}
	return DecodeCommitment(buf)
}

// Header returns the current in-memory header state.
func (hf *HashchainFile) Header() types.HashChainHeader { return hf.header }

// Close releases the underlying file handle.
func (hf *HashchainFile) Close() error {
	if err := hf.f.Close(); err != nil {
		return perr.Wrap(perr.Io, err, "close hashchain file %s", hf.path)
	}
	return nil
}

// writeTrailer writes the (file_size, file_checksum) pair at the current
// body end. file_checksum is a SHA-256 digest over the big-endian chain
// length only; full-content integrity is the per-commitment
// commitment_hash chain's job.
func writeTrailer(f *os.File, bodySize uint64, chainLength uint32) error {
	buf := make([]byte, trailerSize)
	binary.BigEndian.PutUint64(buf[0:8], bodySize)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], chainLength)
	digest := hashing.Sum256(lenBuf[:])
	copy(buf[8:40], digest[:])
	if _, err := f.WriteAt(buf, int64(bodySize)); err != nil {
		return perr.Wrap(perr.Io, err, "write trailer")
	}
	return nil
}
