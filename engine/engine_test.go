package engine_test

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DIG-Network/proof-of-space-continuity-sub000/config"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/engine"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/types"
)

func fill(b byte) types.Hash {
	var h types.Hash
	for i := range h {
		h[i] = b
	}
	return h
}

func testEngine(t *testing.T) *engine.Engine {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = dir
	cfg.RegistryDir = filepath.Join(dir, "registry")
	cfg.VDFMemoryBytes = 1 << 20 // 1MiB, small and fast for tests
	cfg.VDFTargetSeconds = 0.01
	cfg.AvailabilityChallengeProbability = 1.0

	e, err := engine.New(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Start())
	t.Cleanup(func() { _ = e.Stop() })
	return e
}

func ingestTestChain(t *testing.T, e *engine.Engine, seed byte) types.Hash {
	t.Helper()
	owner := types.BytesToPublicKey([]byte{seed})
	data := bytes.Repeat([]byte{seed}, int(types.ChunkSizeBytes)*32)
	chainID, err := e.IngestChain(owner, bytes.NewReader(data), 100, fill(0xAA))
	require.NoError(t, err)
	return chainID
}

func TestIngestChainRegistersAndActivates(t *testing.T) {
	e := testEngine(t)
	chainID := ingestTestChain(t, e, 1)

	c, err := e.Registry.Chain(chainID)
	require.NoError(t, err)
	require.Equal(t, types.ChainActive, c.State)
	require.Equal(t, types.AlgorithmVersionV2, c.AlgorithmVersion)

	groupID, err := e.Registry.ChainGroup(chainID)
	require.NoError(t, err)
	require.NotEmpty(t, groupID)
}

func TestProcessBlockGrowsChainsAndAdvancesGlobalRoot(t *testing.T) {
	e := testEngine(t)
	chainID := ingestTestChain(t, e, 2)

	ctx := context.Background()
	result1, err := e.ProcessBlock(ctx, 101, fill(0xB1), nil)
	require.NoError(t, err)
	require.Equal(t, 1, result1.ChainsProcessed)

	c, err := e.Registry.Chain(chainID)
	require.NoError(t, err)
	require.Equal(t, 1, c.ChainLength())

	result2, err := e.ProcessBlock(ctx, 102, fill(0xB2), nil)
	require.NoError(t, err)
	require.NotEqual(t, result1.GlobalRoot, result2.GlobalRoot)

	c, err = e.Registry.Chain(chainID)
	require.NoError(t, err)
	require.Equal(t, 2, c.ChainLength())
}

func TestProcessBlockIssuesAvailabilityChallenges(t *testing.T) {
	e := testEngine(t)
	ingestTestChain(t, e, 3)

	result, err := e.ProcessBlock(context.Background(), 200, fill(0xC1), nil)
	require.NoError(t, err)
	require.Equal(t, 1, result.ChallengesIssued)
	require.Equal(t, 1, e.Challenger.ActiveCount())
}

func TestProcessBlockMultipleChainsIndependentSelection(t *testing.T) {
	e := testEngine(t)
	ingestTestChain(t, e, 4)
	ingestTestChain(t, e, 5)

	result, err := e.ProcessBlock(context.Background(), 300, fill(0xD1), nil)
	require.NoError(t, err)
	require.Equal(t, 2, result.ChainsProcessed)
}

func TestEngineRestartReloadsRegistryState(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = dir
	cfg.RegistryDir = filepath.Join(dir, "registry")
	cfg.VDFMemoryBytes = 1 << 20
	cfg.VDFTargetSeconds = 0.01

	e1, err := engine.New(cfg)
	require.NoError(t, err)
	require.NoError(t, e1.Start())
	chainID := ingestTestChain(t, e1, 6)
	require.NoError(t, e1.Stop())

	e2, err := engine.New(cfg)
	require.NoError(t, err)
	require.NoError(t, e2.Start())
	defer e2.Stop()

	c, err := e2.Registry.Chain(chainID)
	require.NoError(t, err)
	require.Equal(t, types.ChainActive, c.State)

	require.Equal(t, []types.Hash{chainID}, e2.Chains())

	result, err := e2.ProcessBlock(context.Background(), 101, fill(0xB1), nil)
	require.NoError(t, err)
	require.Equal(t, 1, result.ChainsProcessed)

	c, err = e2.Registry.Chain(chainID)
	require.NoError(t, err)
	require.Equal(t, 1, c.ChainLength())
}

func TestVerifyChainWindowAcceptsFreshProofWindow(t *testing.T) {
	e := testEngine(t)
	chainID := ingestTestChain(t, e, 7)

	ctx := context.Background()
	for i := uint64(0); i < uint64(types.ProofWindowBlocks); i++ {
		_, err := e.ProcessBlock(ctx, 100+i, fill(byte(i)), nil)
		require.NoError(t, err)
	}

	require.NoError(t, e.VerifyChainWindow(chainID))
}
