package storage

import (
	"encoding/binary"
	"io"

	"github.com/DIG-Network/proof-of-space-continuity-sub000/hashing"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/perr"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/types"
)

// headerPrefixSize is the span the header checksum covers: offsets 0..152.
// headerSize is the full on-disk header including the trailing checksum.
const (
	headerPrefixSize = 152
	headerSize       = headerPrefixSize + types.HashLength
)

// EncodeHeader serializes h into the spec §6 fixed byte layout, computing
// HeaderChecksum over offsets 0..152 regardless of what h.HeaderChecksum
// was set to.
func EncodeHeader(h types.HashChainHeader) []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:4], []byte(types.HashchainMagic))
	binary.BigEndian.PutUint32(buf[4:8], h.FormatVersion)
	copy(buf[8:40], h.DataFileHash[:])
	copy(buf[40:72], h.MerkleRoot[:])
	binary.BigEndian.PutUint64(buf[72:80], h.TotalChunks)
	binary.BigEndian.PutUint32(buf[80:84], h.ChunkSize)
	copy(buf[84:116], h.DataFilePathHash[:])
	copy(buf[116:148], h.AnchoredCommitment[:])
	binary.BigEndian.PutUint32(buf[148:152], h.ChainLength)

	checksum := hashing.Sum256(buf[0:headerPrefixSize])
	copy(buf[headerPrefixSize:headerSize], checksum[:])
	return buf
}

// DecodeHeader parses the spec §6 fixed byte layout and verifies the magic
// and checksum. Any mismatch is reported as FileFormat (bad magic/version)
// or Corruption (checksum mismatch).
func DecodeHeader(buf []byte) (types.HashChainHeader, error) {
	var h types.HashChainHeader
	if len(buf) < headerSize {
		return h, perr.New(perr.FileFormat, "header too short: %d bytes", len(buf))
	}
	if string(buf[0:4]) != types.HashchainMagic {
		return h, perr.New(perr.FileFormat, "bad magic %q", buf[0:4])
	}
	copy(h.Magic[:], buf[0:4])
	h.FormatVersion = binary.BigEndian.Uint32(buf[4:8])
	if h.FormatVersion != types.HashchainFormatVersion {
		return h, perr.New(perr.FileFormat, "unsupported format version %d", h.FormatVersion)
	}
	copy(h.DataFileHash[:], buf[8:40])
	copy(h.MerkleRoot[:], buf[40:72])
	h.TotalChunks = binary.BigEndian.Uint64(buf[72:80])
	h.ChunkSize = binary.BigEndian.Uint32(buf[80:84])
	copy(h.DataFilePathHash[:], buf[84:116])
	copy(h.AnchoredCommitment[:], buf[116:148])
	h.ChainLength = binary.BigEndian.Uint32(buf[148:152])
	copy(h.HeaderChecksum[:], buf[headerPrefixSize:headerSize])

	want := hashing.Sum256(buf[0:headerPrefixSize])
	if want != h.HeaderChecksum {
		return h, perr.New(perr.Corruption, "header checksum mismatch")
	}
	return h, nil
}

// HeaderSize is the full on-disk size of a .hashchain header, exported for
// callers that need to locate the leaves section immediately following it.
const HeaderSize = headerSize

// WriteHeader encodes h and writes it at the start of w.
func WriteHeader(w io.WriterAt, h types.HashChainHeader) error {
	buf := EncodeHeader(h)
	if _, err := w.WriteAt(buf, 0); err != nil {
		return perr.Wrap(perr.Io, err, "write header")
	}
	return nil
}

// LoadHeader reads and decodes the header from the start of r.
func LoadHeader(r io.Reader) (types.HashChainHeader, error) {
	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return types.HashChainHeader{}, perr.Wrap(perr.Io, err, "read header")
	}
	return DecodeHeader(buf)
}
