package vdf_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DIG-Network/proof-of-space-continuity-sub000/types"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/vdf"
)

func fill(b byte) types.Hash {
	var h types.Hash
	for i := range h {
		h[i] = b
	}
	return h
}

// S5 — small memory-hard VDF run is deterministic and internally
// consistent.
func TestComputeDeterministicSmallRun(t *testing.T) {
	e, err := vdf.NewEvaluator(1 << 20) // 1 MiB, smallest legal size
	require.NoError(t, err)

	input := fill(0x07)
	p1, err := e.Compute(input, 0.01)
	require.NoError(t, err)
	p2, err := e.Compute(input, 0.01)
	require.NoError(t, err)

	require.Equal(t, p1.OutputState, p2.OutputState)
	require.Equal(t, p1.Iterations, p2.Iterations)
	require.GreaterOrEqual(t, p1.Iterations, uint32(10000))
	require.NotEmpty(t, p1.Samples)
}

func TestNewEvaluatorRejectsTooSmallMemory(t *testing.T) {
	_, err := vdf.NewEvaluator(1024)
	require.Error(t, err)
}

func TestCalibrationStaysWithinBounds(t *testing.T) {
	e, err := vdf.NewEvaluator(1 << 20)
	require.NoError(t, err)
	_, err = e.Compute(fill(1), 0.01)
	require.NoError(t, err)

	rate := e.IterationsPerSecond()
	require.GreaterOrEqual(t, rate, uint32(100000))
	require.LessOrEqual(t, rate, uint32(1000000))
}

func TestVerifyRejectsTooFewIterations(t *testing.T) {
	proof := types.MemoryHardVDFProof{
		InputState:       fill(1),
		OutputState:      fill(2),
		Iterations:       500,
		MemoryUsageBytes: 1 << 20,
		Samples:          []types.MemoryAccessSample{{Iteration: 0, ReadAddr: 1, WriteAddr: 1}},
	}
	require.Error(t, vdf.Verify(proof))
}

func TestVerifyAcceptsGenuineSmallProof(t *testing.T) {
	e, err := vdf.NewEvaluator(1 << 20)
	require.NoError(t, err)
	proof, err := e.Compute(fill(3), 0.03) // target ~11250 iterations at default 375000/s cold rate
	require.NoError(t, err)

	proof.ComputationTimeMS = uint64(float64(proof.Iterations) / 300000.0 * 1000.0)
	require.NoError(t, vdf.Verify(proof))
}
