package registry

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/pebble"

	"github.com/DIG-Network/proof-of-space-continuity-sub000/perr"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/types"
)

// chainRecordSize is the fixed width of a persisted chain record: ChainID
// (32) + PublicKey (32) + DataFileHash (32) + TotalChunks (8) +
// InitialBlockHeight (8) + InitialBlockHash (32) + AnchoredCommitment (32)
// + AlgorithmVersion (4) + State (4) + RemovalAtHeight (8).
const chainRecordSize = 32 + 32 + 32 + 8 + 8 + 32 + 32 + 4 + 4 + 8

// Store persists chain lifecycle state and group/region membership so a
// restarted engine can rebuild its registry without re-ingesting every
// data file. Grounded on the teacher's genesis-conversion tooling, which
// opens a pebble database, iterates it, and writes fixed keys with
// pebble.Sync durability.
type Store struct {
	db *pebble.DB
}

// OpenStore opens (creating if absent) a pebble database at dir.
func OpenStore(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, perr.Wrap(perr.Io, err, "open registry store at %s", dir)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return perr.Wrap(perr.Io, err, "close registry store")
	}
	return nil
}

func chainKey(id types.Hash) []byte {
	key := make([]byte, 0, 6+32)
	key = append(key, "chain/"...)
	key = append(key, id[:]...)
	return key
}

func membershipKey(id types.Hash) []byte {
	key := make([]byte, 0, 11+32)
	key = append(key, "membership/"...)
	key = append(key, id[:]...)
	return key
}

func groupRegionKey(groupID string) []byte {
	return append([]byte("group-region/"), groupID...)
}

// shardHash derives a stable, low-cardinality shard tag for a chain id,
// letting an operator bucket registry keys across multiple pebble
// instances if a single store becomes a bottleneck at the ~100,000-chain
// scale target.
func shardHash(id types.Hash) uint64 {
	return xxhash.Sum64(id[:])
}

// ShardOf reports which of numShards buckets chainID falls into.
func ShardOf(chainID types.Hash, numShards uint64) uint64 {
	if numShards == 0 {
		return 0
	}
	return shardHash(chainID) % numShards
}

func encodeChainRecord(c *types.Chain) []byte {
	buf := make([]byte, chainRecordSize)
	off := 0
	copy(buf[off:], c.ChainID[:])
	off += 32
	copy(buf[off:], c.PublicKey[:])
	off += 32
	copy(buf[off:], c.DataFileHash[:])
	off += 32
	binary.BigEndian.PutUint64(buf[off:], c.TotalChunks)
	off += 8
	binary.BigEndian.PutUint64(buf[off:], c.InitialBlockHeight)
	off += 8
	copy(buf[off:], c.InitialBlockHash[:])
	off += 32
	copy(buf[off:], c.AnchoredCommitment[:])
	off += 32
	binary.BigEndian.PutUint32(buf[off:], uint32(c.AlgorithmVersion))
	off += 4
	binary.BigEndian.PutUint32(buf[off:], uint32(c.State))
	off += 4
	binary.BigEndian.PutUint64(buf[off:], c.RemovalAtHeight)
	return buf
}

func decodeChainRecord(buf []byte) (*types.Chain, error) {
	if len(buf) != chainRecordSize {
		return nil, perr.New(perr.FileFormat, "chain record has %d bytes, want %d", len(buf), chainRecordSize)
	}
	c := &types.Chain{}
	off := 0
	c.ChainID.SetBytes(buf[off : off+32])
	off += 32
	c.PublicKey = types.BytesToPublicKey(buf[off : off+32])
	off += 32
	c.DataFileHash.SetBytes(buf[off : off+32])
	off += 32
	c.TotalChunks = binary.BigEndian.Uint64(buf[off:])
	off += 8
	c.InitialBlockHeight = binary.BigEndian.Uint64(buf[off:])
	off += 8
	c.InitialBlockHash.SetBytes(buf[off : off+32])
	off += 32
	c.AnchoredCommitment.SetBytes(buf[off : off+32])
	off += 32
	c.AlgorithmVersion = types.AlgorithmVersion(binary.BigEndian.Uint32(buf[off:]))
	off += 4
	c.State = types.ChainState(binary.BigEndian.Uint32(buf[off:]))
	off += 4
	c.RemovalAtHeight = binary.BigEndian.Uint64(buf[off:])
	return c, nil
}

// PutChain persists a chain's lifecycle metadata (not its commitment
// history, which lives in its .hashchain file).
func (s *Store) PutChain(c *types.Chain) error {
	if err := s.db.Set(chainKey(c.ChainID), encodeChainRecord(c), pebble.Sync); err != nil {
		return perr.Wrap(perr.Io, err, "put chain record")
	}
	return nil
}

// GetChain loads a persisted chain record, or (nil, false, nil) if absent.
func (s *Store) GetChain(id types.Hash) (*types.Chain, bool, error) {
	val, closer, err := s.db.Get(chainKey(id))
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, perr.Wrap(perr.Io, err, "get chain record")
	}
	defer closer.Close()
	c, err := decodeChainRecord(val)
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// PutMembership records which group a chain belongs to.
func (s *Store) PutMembership(chainID types.Hash, groupID string) error {
	if err := s.db.Set(membershipKey(chainID), []byte(groupID), pebble.Sync); err != nil {
		return perr.Wrap(perr.Io, err, "put membership record")
	}
	return nil
}

// GetMembership returns the group a chain belongs to, or ("", false, nil)
// if absent.
func (s *Store) GetMembership(chainID types.Hash) (string, bool, error) {
	val, closer, err := s.db.Get(membershipKey(chainID))
	if err == pebble.ErrNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, perr.Wrap(perr.Io, err, "get membership record")
	}
	defer closer.Close()
	groupID := string(val)
	return groupID, true, nil
}

// PutGroupRegion records which region a group belongs to.
func (s *Store) PutGroupRegion(groupID, regionID string) error {
	if err := s.db.Set(groupRegionKey(groupID), []byte(regionID), pebble.Sync); err != nil {
		return perr.Wrap(perr.Io, err, "put group-region record")
	}
	return nil
}

// GetGroupRegion returns the region a group belongs to, or ("", false, nil)
// if absent.
func (s *Store) GetGroupRegion(groupID string) (string, bool, error) {
	val, closer, err := s.db.Get(groupRegionKey(groupID))
	if err == pebble.ErrNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, perr.Wrap(perr.Io, err, "get group-region record")
	}
	defer closer.Close()
	return string(val), true, nil
}

// LoadAll iterates every persisted chain record, in key order, invoking fn
// for each. Used to rebuild an in-memory Registry on startup.
func (s *Store) LoadAll(fn func(c *types.Chain, groupID string) error) error {
	prefix := []byte("chain/")
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return perr.Wrap(perr.Io, err, "iterate chain records")
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		c, err := decodeChainRecord(iter.Value())
		if err != nil {
			return err
		}
		groupID, _, err := s.GetMembership(c.ChainID)
		if err != nil {
			return err
		}
		if err := fn(c, groupID); err != nil {
			return err
		}
	}
	return nil
}

func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte(nil), prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}
	return nil
}
