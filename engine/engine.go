// Package engine wires storage, chunk selection, commitments, the
// memory-hard VDF, hierarchical aggregation, availability challenges, and
// network latency monitoring into one per-block pipeline. Grounded on the
// teacher's pkg/node/node.go: a single top-level value owning every
// subsystem, constructed once via New, started/stopped under a coarse
// lock, with no process-wide singletons — generalized here from an
// Ethereum node's RPC/P2P/blockchain subsystems to the proof-of-storage-
// continuity engine's own registry/VDF/challenger/latency subsystems.
package engine

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/DIG-Network/proof-of-space-continuity-sub000/aggregation"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/availability"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/commitment"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/config"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/entropy"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/hashing"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/latency"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/perr"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/plog"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/pmetrics"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/registry"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/selection"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/storage"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/types"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/vdf"

	"golang.org/x/sync/errgroup"
)

// ChainHandle bundles a registered chain's lifecycle object with the open
// storage backing its data file. Storage and the commitment sequence are
// exclusively owned by the chain; the Engine is the only thing that ever
// holds both halves together.
type ChainHandle struct {
	Chain   *types.Chain
	Storage *storage.Storage
}

// Engine is the top-level value owning every subsystem needed to run the
// proof-of-storage-continuity protocol for a population of chains.
type Engine struct {
	mu      sync.RWMutex
	handles map[types.Hash]*ChainHandle
	running bool

	cfg config.Config

	Registry   *registry.Registry
	VDF        *vdf.Evaluator
	Challenger *availability.Challenger
	Latency    *latency.Monitor
	Metrics    *pmetrics.Registry
	Logger     *plog.Logger

	store *registry.Store
}

// New creates an Engine from cfg. If cfg.RegistryDir names an existing
// registry store, chain lifecycle state is rebuilt from it; otherwise a
// fresh, empty registry is created and backed by a store at that path.
func New(cfg config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine: invalid config: %w", err)
	}
	if err := cfg.InitDataDir(); err != nil {
		return nil, fmt.Errorf("engine: init data dir: %w", err)
	}

	store, err := registry.OpenStore(cfg.RegistryDir)
	if err != nil {
		return nil, fmt.Errorf("engine: open registry store: %w", err)
	}

	reg, err := registry.LoadFromStore(store)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("engine: load registry: %w", err)
	}

	vdfEval, err := vdf.NewEvaluator(cfg.VDFMemoryBytes)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("engine: create vdf evaluator: %w", err)
	}

	lat := latency.NewMonitor()
	for _, p := range cfg.Peers {
		lat.AddPeer(p.ID, p.Address)
	}

	e := &Engine{
		handles:    make(map[types.Hash]*ChainHandle),
		cfg:        cfg,
		Registry:   reg,
		VDF:        vdfEval,
		Challenger: availability.NewChallenger(),
		Latency:    lat,
		Metrics:    pmetrics.NewRegistry(),
		Logger:     plog.Default().Module("engine"),
		store:      store,
	}
	return e, nil
}

// Start marks the engine running and reopens storage for every Active
// chain loaded from the registry store, repopulating e.handles so
// ProcessBlock resumes driving them without requiring re-ingestion.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return fmt.Errorf("engine: already running")
	}

	chains := e.Registry.AllChains()
	reopened := 0
	for _, c := range chains {
		if c.State != types.ChainActive {
			continue
		}
		st, err := storage.Open(e.cfg.DataDir, c.DataFileHash.Hex()[2:])
		if err != nil {
			return fmt.Errorf("engine: reopen storage for chain %x: %w", c.ChainID[:8], err)
		}
		e.handles[c.ChainID] = &ChainHandle{Chain: c, Storage: st}
		reopened++
	}

	e.Logger.Info("starting engine", "chains", len(chains), "reopened", reopened)
	e.running = true
	return nil
}

// Stop closes every open chain's storage and the registry store.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return nil
	}
	e.Logger.Info("stopping engine")
	for id, h := range e.handles {
		if err := h.Storage.Close(); err != nil {
			e.Logger.Warn("storage close failed", "chain_id", id.Hex(), "err", err)
		}
	}
	if err := e.store.Close(); err != nil {
		e.Logger.Warn("registry store close failed", "err", err)
	}
	e.running = false
	return nil
}

// IngestChain streams r into a new chain's data and hashchain files,
// registers it with the registry, opens its storage for reads, and
// transitions it to Active (the spec's point of mmap-open for a chain
// entering active service).
func (e *Engine) IngestChain(owner types.PublicKey, r io.Reader, initialBlockHeight uint64, initialBlockHash types.Hash) (types.Hash, error) {
	result, err := storage.Ingest(e.cfg.DataDir, owner, r, types.HashchainMinChunks, types.HashchainMaxChunks)
	if err != nil {
		return types.Hash{}, err
	}

	chainID := types.ComputeChainID(owner, result.DataFileHash)
	anchored := commitment.AnchoredCommitment(result.DataFileHash, owner, initialBlockHash, initialBlockHeight)

	st, err := storage.Open(e.cfg.DataDir, result.DataFileHash.Hex()[2:])
	if err != nil {
		return types.Hash{}, err
	}

	chain := &types.Chain{
		ChainID:            chainID,
		PublicKey:          owner,
		DataFileHash:       result.DataFileHash,
		TotalChunks:        result.TotalChunks,
		InitialBlockHeight: initialBlockHeight,
		InitialBlockHash:   initialBlockHash,
		AnchoredCommitment: anchored,
		AlgorithmVersion:   types.AlgorithmVersionV2,
		State:              types.ChainInitializing,
	}

	if err := e.Registry.RegisterChain(chain); err != nil {
		st.Close()
		return types.Hash{}, err
	}
	if err := e.Registry.Transition(chainID, types.ChainActive); err != nil {
		st.Close()
		return types.Hash{}, err
	}

	e.mu.Lock()
	e.handles[chainID] = &ChainHandle{Chain: chain, Storage: st}
	e.mu.Unlock()

	return chainID, nil
}

// BlockResult summarizes one call to ProcessBlock.
type BlockResult struct {
	Height           uint64
	GlobalRoot       types.Hash
	VDFProof         types.MemoryHardVDFProof
	ChainsProcessed  int
	ChallengesIssued int
	Duration         time.Duration
}

// ProcessBlock runs the full per-block pipeline: derive entropy, select
// and commit chunks for every active chain (in parallel, one goroutine per
// chain), run the memory-hard VDF concurrently with that work, then
// aggregate group -> region -> global root, and finally sample a subset of
// chains for availability challenges.
func (e *Engine) ProcessBlock(ctx context.Context, height uint64, blockHash types.Hash, beacon *types.Hash) (BlockResult, error) {
	start := time.Now()

	localEntropy, err := randomHash()
	if err != nil {
		return BlockResult{}, perr.Wrap(perr.EntropyGenerationFailed, err, "read local entropy")
	}
	combined := entropy.Combine(blockHash, beacon, localEntropy, float64(start.UnixNano())/1e9)

	e.mu.RLock()
	handles := make([]*ChainHandle, 0, len(e.handles))
	for _, h := range e.handles {
		handles = append(handles, h)
	}
	e.mu.RUnlock()

	eg, egCtx := errgroup.WithContext(ctx)

	var vdfProof types.MemoryHardVDFProof
	eg.Go(func() error {
		prevGlobal := e.Registry.GlobalState().GlobalRootProof
		inputState := hashing.SumAll(prevGlobal[:], combined.CombinedHash[:])
		proof, err := e.VDF.Compute(inputState, e.cfg.VDFTargetSeconds)
		if err != nil {
			return perr.Wrap(perr.VDFVerificationFailed, err, "compute vdf for block %d", height)
		}
		vdfProof = proof
		return nil
	})

	var mu sync.Mutex
	commitments := make(map[types.Hash]types.Hash, len(handles))
	for _, h := range handles {
		h := h
		eg.Go(func() error {
			return e.commitChain(egCtx, h, height, blockHash, combined, &mu, commitments)
		})
	}

	if err := eg.Wait(); err != nil {
		return BlockResult{}, err
	}

	groups, err := e.buildGroupInputs(commitments)
	if err != nil {
		return BlockResult{}, err
	}

	groupProofs, regionProofs, globalRoot, err := aggregation.AggregateBlock(
		ctx, blockHash, e.Registry.GlobalState().GlobalRootProof, groups, e.Registry.RegionMembership())
	if err != nil {
		return BlockResult{}, perr.Wrap(perr.HierarchicalProofFailed, err, "aggregate block %d", height)
	}
	for groupID, proof := range groupProofs {
		if err := e.Registry.SetGroupProof(groupID, proof); err != nil {
			return BlockResult{}, err
		}
	}
	for regionID, proof := range regionProofs {
		if err := e.Registry.SetRegionalProof(regionID, proof); err != nil {
			return BlockResult{}, err
		}
	}
	e.Registry.SetGlobalState(types.GlobalState{BlockHeight: height, GlobalRootProof: globalRoot})

	challengesIssued := e.sampleAvailabilityChallenges(handles, height)
	e.Challenger.SweepExpired(start)

	elapsed := time.Since(start)
	if elapsed.Milliseconds() > types.BlockProcessingTargetMS {
		e.Logger.Warn("block processing overran target", "height", height, "elapsed_ms", elapsed.Milliseconds(), "target_ms", types.BlockProcessingTargetMS)
	}
	e.Metrics.Gauge("block_processing_ms", "last observed block processing duration in milliseconds").Set(float64(elapsed.Milliseconds()))
	e.Metrics.Counter("blocks_processed_total", "total blocks processed").Inc()

	return BlockResult{
		Height:           height,
		GlobalRoot:       globalRoot,
		VDFProof:         vdfProof,
		ChainsProcessed:  len(handles),
		ChallengesIssued: challengesIssued,
		Duration:         elapsed,
	}, nil
}

// commitChain builds and appends the next commitment for one chain. It
// takes the chain's own lock for the duration, per the spec's requirement
// that a chain process blocks sequentially.
func (e *Engine) commitChain(ctx context.Context, h *ChainHandle, height uint64, blockHash types.Hash, combined types.MultiSourceEntropy, mu *sync.Mutex, out map[types.Hash]types.Hash) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	h.Chain.Lock()
	defer h.Chain.Unlock()

	sel, err := selection.Select(h.Chain.AlgorithmVersion, combined, h.Chain.TotalChunks)
	if err != nil {
		return perr.Wrap(perr.InvalidProofParameters, err, "select chunks for chain %x", h.Chain.ChainID[:8])
	}

	prev := h.Chain.CurrentCommitment()
	pac, err := commitment.Build(prev, height, blockHash, sel, h.Storage)
	if err != nil {
		return perr.Wrap(perr.HierarchicalProofFailed, err, "build commitment for chain %x", h.Chain.ChainID[:8])
	}

	h.Chain.AppendCommitment(pac)
	if err := h.Storage.Hashchain().AppendCommitment(pac); err != nil {
		return perr.Wrap(perr.Io, err, "append commitment for chain %x", h.Chain.ChainID[:8])
	}

	mu.Lock()
	out[h.Chain.ChainID] = pac.CommitmentHash
	mu.Unlock()
	return nil
}

// buildGroupInputs assembles per-group commitment lists for aggregation
// from the registry's current membership and this block's freshly
// computed commitment hashes.
func (e *Engine) buildGroupInputs(commitments map[types.Hash]types.Hash) ([]aggregation.GroupInput, error) {
	groupIDs := e.Registry.Groups()
	groups := make([]aggregation.GroupInput, 0, len(groupIDs))
	for _, groupID := range groupIDs {
		chainIDs, err := e.Registry.ChainIDs(groupID)
		if err != nil {
			return nil, err
		}
		chains := make([]aggregation.ChainCommitment, 0, len(chainIDs))
		for _, id := range chainIDs {
			hash, ok := commitments[id]
			if !ok {
				continue // chain registered but not Active this block
			}
			chains = append(chains, aggregation.ChainCommitment{ChainID: id, CommitmentHash: hash})
		}
		groups = append(groups, aggregation.GroupInput{GroupID: groupID, Chains: chains})
	}
	return groups, nil
}

// sampleAvailabilityChallenges deterministically decides, per chain, whether
// to issue an availability challenge for this block.
func (e *Engine) sampleAvailabilityChallenges(handles []*ChainHandle, height uint64) int {
	issued := 0
	for _, h := range handles {
		if !availability.ShouldChallenge(h.Chain.ChainID, height, e.cfg.AvailabilityChallengeProbability) {
			continue
		}
		c := availability.NewChallenge(h.Chain.ChainID, height, h.Chain.TotalChunks, time.Now())
		e.Challenger.Issue(c)
		issued++
	}
	return issued
}

// VerifyChainWindow checks the last ProofWindowBlocks commitments of a
// currently held chain against its anchored commitment and its data file's
// Merkle root. selectFn is passed as nil: per-block local entropy is never
// persisted, so a verifier outside the block-processing pipeline cannot
// re-derive the exact selection that produced each commitment, only its
// hash-chain linkage and each selected chunk's Merkle inclusion.
func (e *Engine) VerifyChainWindow(chainID types.Hash) error {
	e.mu.RLock()
	h, ok := e.handles[chainID]
	e.mu.RUnlock()
	if !ok {
		return perr.New(perr.ChainNotFound, "chain %x not held by engine", chainID[:8])
	}

	h.Chain.Lock()
	commitments := append([]types.PhysicalAccessCommitment(nil), h.Chain.Commitments...)
	anchored := h.Chain.AnchoredCommitment
	h.Chain.Unlock()

	window, err := commitment.ExtractWindow(commitments)
	if err != nil {
		return err
	}

	leaves, err := h.Storage.Hashchain().Leaves()
	if err != nil {
		return err
	}
	root, err := h.Storage.MerkleRoot()
	if err != nil {
		return err
	}

	return commitment.VerifyWindow(window, anchored, root, h.Storage.TotalChunks(), leaves, nil)
}

// Chains returns the chain ids currently held by the engine, sorted.
func (e *Engine) Chains() []types.Hash {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]types.Hash, 0, len(e.handles))
	for id := range e.handles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Hex() < ids[j].Hex() })
	return ids
}

func randomHash() (types.Hash, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return types.Hash{}, err
	}
	return types.Hash(buf), nil
}
