// Package vdf implements the memory-hard verifiable delay function used to
// enforce a minimum wall-clock cost per block: a 256 MiB buffer is
// repeatedly touched at pseudo-random addresses derived from a running
// state, so the computation resists ASIC/GPU acceleration by bottlenecking
// on memory bandwidth rather than hash throughput. Grounded on the
// teacher's crypto/vdf.go naming shape (Params / Proof / Evaluator), with
// the actual algorithm taken from the memory-hard reference implementation
// rather than the teacher's Wesolowski repeated-squaring VDF (out of scope
// here: no RSA group, no time-lock puzzle).
package vdf

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/DIG-Network/proof-of-space-continuity-sub000/hashing"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/perr"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/types"
)

// sampleInterval is the iteration period at which a MemoryAccessSample is
// recorded for later spot-checking.
const sampleInterval = 50000

// calibrationAlpha is the exponential-moving-average learning rate used to
// update the engine's iterations_per_second estimate after each run.
const calibrationAlpha = 0.1

const (
	minIterationsPerSecond = 100000
	maxIterationsPerSecond = 1000000
)

// Evaluator runs memory-hard VDF computations and maintains a calibrated
// estimate of achievable iteration throughput on this host.
type Evaluator struct {
	mu                  sync.Mutex
	memorySize          uint64
	iterationsPerSecond uint32
}

// NewEvaluator creates an Evaluator with the given memory buffer size,
// which must be at least 1 MiB.
func NewEvaluator(memorySize uint64) (*Evaluator, error) {
	if memorySize < 1<<20 {
		return nil, perr.New(perr.InvalidProofParameters, "memory_size must be >= 1 MiB")
	}
	return &Evaluator{memorySize: memorySize, iterationsPerSecond: 375000}, nil
}

// NewStandardEvaluator creates an Evaluator using the protocol's standard
// 256 MiB memory buffer.
func NewStandardEvaluator() *Evaluator {
	e, _ := NewEvaluator(types.MemoryHardVDFMemory)
	return e
}

// IterationsPerSecond returns the evaluator's current calibrated rate.
func (e *Evaluator) IterationsPerSecond() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.iterationsPerSecond
}

// Compute runs the memory-hard VDF over inputState for a duration targeting
// targetTimeSeconds, returning the resulting proof. targetTimeSeconds >= 30
// always uses the full MemoryHardIterations count (the production setting);
// shorter windows scale iterations off the calibrated rate, floored at
// 10,000 so short test runs still produce a meaningful proof.
func (e *Evaluator) Compute(inputState types.Hash, targetTimeSeconds float64) (types.MemoryHardVDFProof, error) {
	targetIterations := e.targetIterations(targetTimeSeconds)

	buf := initializeMemory(inputState, e.memorySize)
	state := inputState
	samples := make([]types.MemoryAccessSample, 0, targetIterations/sampleInterval+1)

	start := time.Now()
	for iter := uint32(0); iter < targetIterations; iter++ {
		newState, readAddr, writeAddr, memHash := memoryHardIteration(buf, state, iter)
		state = newState
		if iter%sampleInterval == 0 {
			samples = append(samples, types.MemoryAccessSample{
				Iteration:         uint64(iter),
				ReadAddr:          readAddr,
				WriteAddr:         writeAddr,
				MemoryContentHash: memHash,
			})
		}
	}
	elapsed := time.Since(start)
	computationTimeMS := uint64(elapsed.Milliseconds())

	e.calibrate(targetIterations, elapsed.Seconds())

	return types.MemoryHardVDFProof{
		InputState:        inputState,
		OutputState:       state,
		Iterations:        targetIterations,
		MemoryUsageBytes:  e.memorySize,
		ComputationTimeMS: computationTimeMS,
		Samples:           samples,
	}, nil
}

func (e *Evaluator) targetIterations(targetTimeSeconds float64) uint32 {
	if targetTimeSeconds >= 30.0 {
		return types.MemoryHardIterations
	}
	rate := float64(e.IterationsPerSecond())
	estimated := uint32(targetTimeSeconds * rate)
	if estimated < 10000 {
		return 10000
	}
	return estimated
}

func (e *Evaluator) calibrate(iterations uint32, actualSeconds float64) {
	if actualSeconds <= 0 || iterations <= 1000 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	actualRate := float64(iterations) / actualSeconds
	blended := (1-calibrationAlpha)*float64(e.iterationsPerSecond) + calibrationAlpha*actualRate
	rate := uint32(blended)
	if rate < minIterationsPerSecond {
		rate = minIterationsPerSecond
	}
	if rate > maxIterationsPerSecond {
		rate = maxIterationsPerSecond
	}
	e.iterationsPerSecond = rate
}

// initializeMemory fills a memorySize-byte buffer with a deterministic
// chain of SHA-256 digests seeded from inputState, one 32-byte chunk at a
// time (last chunk truncated if memorySize is not a multiple of 32).
func initializeMemory(inputState types.Hash, memorySize uint64) []byte {
	buf := make([]byte, memorySize)
	seed := append([]byte{}, inputState[:]...)
	numChunks := memorySize / types.HashLength
	for chunkIdx := uint64(0); chunkIdx < numChunks; chunkIdx++ {
		start := chunkIdx * types.HashLength
		end := start + types.HashLength
		if end > memorySize {
			end = memorySize
		}
		var idxBuf [8]byte
		binary.BigEndian.PutUint64(idxBuf[:], chunkIdx)
		chunkHash := hashing.SumAll(seed, idxBuf[:])
		copy(buf[start:end], chunkHash[:end-start])
		seed = append(seed[:0], chunkHash[:]...)
	}
	return buf
}

// memoryHardIteration runs one step of the VDF: derive a read address from
// the current state, hash 1 KiB of the memory buffer there, mix it into a
// new state, derive a write address from the new state, and overwrite 32
// bytes of the buffer there.
func memoryHardIteration(buf []byte, state types.Hash, iteration uint32) (newState types.Hash, readAddr, writeAddr uint64, memHash types.Hash) {
	var iterBuf [4]byte
	binary.BigEndian.PutUint32(iterBuf[:], iteration)

	readSeed := hashing.SumAll(state[:], iterBuf[:])
	readAddr = binary.BigEndian.Uint64(readSeed[:8]) % uint64(len(buf)-1024)
	memHash = hashing.Sum256(buf[readAddr : readAddr+1024])

	newState = hashing.SumAll(state[:], memHash[:], iterBuf[:], []byte("memory_hard_vdf"))

	writeSeed := hashing.SumAll(newState[:], []byte("write"))
	writeAddr = binary.BigEndian.Uint64(writeSeed[:8]) % uint64(len(buf)-32)
	copy(buf[writeAddr:writeAddr+32], newState[:])

	return newState, readAddr, writeAddr, memHash
}
