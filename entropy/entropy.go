// Package entropy builds the per-block MultiSourceEntropy value that
// drives chunk selection: a block hash from the external chain, an
// optional randomness-beacon value, and the engine's own local entropy,
// folded into a single combined digest.
package entropy

import (
	"encoding/binary"
	"math"

	"github.com/DIG-Network/proof-of-space-continuity-sub000/hashing"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/types"
)

// TimestampBytes encodes a float64 second-resolution timestamp as its
// 8-byte big-endian IEEE-754 bit pattern, the exact form every hash input
// in this protocol that embeds a timestamp uses.
func TimestampBytes(ts float64) [8]byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(ts))
	return b
}

// Combine builds a MultiSourceEntropy from its four inputs. Beacon entropy
// absence is always represented canonically: CombinedHash substitutes 32
// zero bytes for a missing beacon rather than omitting the field, per the
// spec's resolution of the source's inconsistent handling of this case.
func Combine(blockchain types.Hash, beacon *types.Hash, local types.Hash, timestamp float64) types.MultiSourceEntropy {
	e := types.MultiSourceEntropy{
		BlockchainEntropy: blockchain,
		BeaconEntropy:     beacon,
		LocalEntropy:      local,
		Timestamp:         timestamp,
	}
	ts := TimestampBytes(timestamp)
	beaconBytes := e.BeaconOrZero()
	e.CombinedHash = hashing.SumAll(blockchain[:], beaconBytes[:], local[:], ts[:])
	return e
}
