// Package availability implements the availability-challenge protocol:
// deterministically deciding whether to challenge a chain at a given
// block, selecting a chunk, issuing a time-bounded challenge, and scoring
// the prover's response. Grounded on the teacher's p2p/bandwidth_tracker.go
// idiom (config struct with defaults, sliding bookkeeping under a single
// lock, sentinel errors) adapted from byte-rate tracking to challenge
// lifecycle tracking.
package availability

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/DIG-Network/proof-of-space-continuity-sub000/hashing"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/types"
)

// Outcome is the result of processing a challenge response.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeSuccess
	OutcomeTimeout
	OutcomeInvalidData
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeInvalidData:
		return "invalid_data"
	default:
		return "pending"
	}
}

// Challenge is an outstanding availability challenge issued to one chain.
type Challenge struct {
	ChainID     types.Hash
	ChunkIndex  uint32
	Nonce       types.Hash
	BlockHeight uint64
	IssuedAt    time.Time
	Deadline    time.Time
}

// Response is the prover's reply to a Challenge.
type Response struct {
	ChunkData    []byte
	Proof        types.Hash
	ResponseTime time.Duration
}

// Result records the final disposition of a processed challenge.
type Result struct {
	Outcome         Outcome
	ResponseTimeMS  uint64
	ChallengerReward uint64
}

// twoToThe64 is 2^64, expressed as a float64 since the value itself does
// not fit in a uint64.
const twoToThe64 = 18446744073709551616.0

// ShouldChallenge deterministically decides whether chainID is challenged
// at the given block height, given a probability in [0, 1]. Equivalent to
// comparing the first 8 bytes of the digest, read as a fraction of 2^64,
// against probability.
func ShouldChallenge(chainID types.Hash, height uint64, probability float64) bool {
	if probability >= 1.0 {
		return true
	}
	if probability <= 0.0 {
		return false
	}
	var heightBuf [8]byte
	binary.BigEndian.PutUint64(heightBuf[:], height)
	digest := hashing.SumAll(chainID[:], heightBuf[:], []byte("availability_challenge"))
	value := binary.BigEndian.Uint64(digest[:8])
	fraction := float64(value) / twoToThe64
	return fraction < probability
}

// SelectChunk deterministically picks which chunk index to challenge.
func SelectChunk(chainID types.Hash, height uint64, totalChunks uint64) uint32 {
	var heightBuf [8]byte
	binary.BigEndian.PutUint64(heightBuf[:], height)
	digest := hashing.SumAll(chainID[:], heightBuf[:], []byte("challenge_chunk_selection"))
	idx := binary.BigEndian.Uint32(digest[:4])
	return uint32(uint64(idx) % totalChunks)
}

// NewChallenge builds the deterministic challenge for chainID at height,
// with an absolute deadline AvailabilityResponseTimeMS in the future.
func NewChallenge(chainID types.Hash, height uint64, totalChunks uint64, now time.Time) Challenge {
	idx := SelectChunk(chainID, height, totalChunks)
	var idxBuf [4]byte
	binary.BigEndian.PutUint32(idxBuf[:], idx)
	var heightBuf [8]byte
	binary.BigEndian.PutUint64(heightBuf[:], height)
	nonce := hashing.SumAll(chainID[:], idxBuf[:], heightBuf[:], []byte("challenge_nonce"))

	return Challenge{
		ChainID:     chainID,
		ChunkIndex:  idx,
		Nonce:       nonce,
		BlockHeight: height,
		IssuedAt:    now,
		Deadline:    now.Add(time.Duration(types.AvailabilityResponseTimeMS) * time.Millisecond),
	}
}

// RespondToChallenge implements the prover side: compute the authenticity
// proof over the challenge nonce and the chunk bytes.
func RespondToChallenge(c Challenge, chunk []byte, elapsed time.Duration) Response {
	proof := hashing.SumAll(c.Nonce[:], chunk, c.ChainID[:], []byte("authenticity_proof"))
	return Response{ChunkData: chunk, Proof: proof, ResponseTime: elapsed}
}

// ProcessResponse scores a Response against its Challenge: Timeout if it
// arrived after the deadline, InvalidData if the chunk length or proof is
// wrong, otherwise Success.
func ProcessResponse(c Challenge, r Response, now time.Time) Result {
	if now.After(c.Deadline) {
		return Result{Outcome: OutcomeTimeout}
	}
	if len(r.ChunkData) != types.ChunkSizeBytes {
		return Result{Outcome: OutcomeInvalidData}
	}
	expected := hashing.SumAll(c.Nonce[:], r.ChunkData, c.ChainID[:], []byte("authenticity_proof"))
	if expected != r.Proof {
		return Result{Outcome: OutcomeInvalidData}
	}
	return Result{
		Outcome:          OutcomeSuccess,
		ResponseTimeMS:   uint64(r.ResponseTime.Milliseconds()),
		ChallengerReward: types.AvailabilityRewardUnits,
	}
}

// Challenger tracks outstanding challenges across chains and sweeps expired
// ones. All mutation of the active-challenge map happens under a single
// lock, per the spec's concurrency model for this component.
type Challenger struct {
	mu     sync.Mutex
	active map[types.Hash]Challenge
}

// NewChallenger creates an empty Challenger.
func NewChallenger() *Challenger {
	return &Challenger{active: make(map[types.Hash]Challenge)}
}

// Issue records a new outstanding challenge for chainID, replacing any
// prior unresolved challenge for that chain.
func (ch *Challenger) Issue(c Challenge) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.active[c.ChainID] = c
}

// Resolve removes and returns the outstanding challenge for chainID, if
// any.
func (ch *Challenger) Resolve(chainID types.Hash) (Challenge, bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	c, ok := ch.active[chainID]
	if ok {
		delete(ch.active, chainID)
	}
	return c, ok
}

// SweepExpired removes and returns every outstanding challenge whose
// deadline has passed as of now.
func (ch *Challenger) SweepExpired(now time.Time) []Challenge {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	var expired []Challenge
	for id, c := range ch.active {
		if now.After(c.Deadline) {
			expired = append(expired, c)
			delete(ch.active, id)
		}
	}
	return expired
}

// ActiveCount returns the number of outstanding challenges.
func (ch *Challenger) ActiveCount() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.active)
}
