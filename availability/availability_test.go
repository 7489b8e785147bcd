package availability_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DIG-Network/proof-of-space-continuity-sub000/availability"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/types"
)

func fill(b byte) types.Hash {
	var h types.Hash
	for i := range h {
		h[i] = b
	}
	return h
}

// S4 — availability round-trip: with probability 1.0 the challenge always
// fires, the prover's genuine response succeeds within the deadline.
func TestRoundTripSuccess(t *testing.T) {
	chainID := fill(0xC1)
	require.True(t, availability.ShouldChallenge(chainID, 200, 1.0))

	now := time.Now()
	challenge := availability.NewChallenge(chainID, 200, 1000, now)
	require.Less(t, challenge.ChunkIndex, uint32(1000))

	chunk := make([]byte, types.ChunkSizeBytes)
	for i := range chunk {
		chunk[i] = byte(i)
	}
	resp := availability.RespondToChallenge(challenge, chunk, 50*time.Millisecond)

	result := availability.ProcessResponse(challenge, resp, now.Add(50*time.Millisecond))
	require.Equal(t, availability.OutcomeSuccess, result.Outcome)
	require.Less(t, result.ResponseTimeMS, uint64(types.AvailabilityResponseTimeMS))
	require.Equal(t, uint64(types.AvailabilityRewardUnits), result.ChallengerReward)
}

func TestNeverChallengeAtZeroProbability(t *testing.T) {
	require.False(t, availability.ShouldChallenge(fill(1), 100, 0.0))
}

func TestProcessResponseTimeout(t *testing.T) {
	now := time.Now()
	challenge := availability.NewChallenge(fill(2), 10, 100, now)
	chunk := make([]byte, types.ChunkSizeBytes)
	resp := availability.RespondToChallenge(challenge, chunk, time.Minute)

	result := availability.ProcessResponse(challenge, resp, challenge.Deadline.Add(time.Second))
	require.Equal(t, availability.OutcomeTimeout, result.Outcome)
}

func TestProcessResponseInvalidDataWrongLength(t *testing.T) {
	now := time.Now()
	challenge := availability.NewChallenge(fill(3), 10, 100, now)
	resp := availability.Response{ChunkData: []byte{1, 2, 3}}

	result := availability.ProcessResponse(challenge, resp, now)
	require.Equal(t, availability.OutcomeInvalidData, result.Outcome)
}

func TestProcessResponseInvalidProof(t *testing.T) {
	now := time.Now()
	challenge := availability.NewChallenge(fill(4), 10, 100, now)
	chunk := make([]byte, types.ChunkSizeBytes)
	resp := availability.RespondToChallenge(challenge, chunk, time.Millisecond)
	resp.Proof[0] ^= 0xFF

	result := availability.ProcessResponse(challenge, resp, now)
	require.Equal(t, availability.OutcomeInvalidData, result.Outcome)
}

func TestChallengerSweepExpired(t *testing.T) {
	ch := availability.NewChallenger()
	now := time.Now()
	past := availability.NewChallenge(fill(5), 1, 100, now.Add(-time.Hour))
	future := availability.NewChallenge(fill(6), 1, 100, now)

	ch.Issue(past)
	ch.Issue(future)
	require.Equal(t, 2, ch.ActiveCount())

	expired := ch.SweepExpired(now)
	require.Len(t, expired, 1)
	require.Equal(t, 1, ch.ActiveCount())
}

func TestChallengerResolve(t *testing.T) {
	ch := availability.NewChallenger()
	c := availability.NewChallenge(fill(7), 1, 100, time.Now())
	ch.Issue(c)

	got, ok := ch.Resolve(fill(7))
	require.True(t, ok)
	require.Equal(t, c.ChunkIndex, got.ChunkIndex)

	_, ok = ch.Resolve(fill(7))
	require.False(t, ok)
}
