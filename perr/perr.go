// Package perr implements the engine's error taxonomy as a single typed
// error carrying a Kind, following the flat sentinel-plus-wrap convention
// used throughout the teacher codebase (e.g. p2p/bandwidth_tracker.go's
// var ErrBW... = errors.New(...) and core/rawdb's fmt.Errorf("pkg: %s: %w", ...)
// wrapping) rather than a hierarchy of distinct error types per kind.
package perr

import (
	"errors"
	"fmt"
)

// Kind enumerates every distinguishable failure mode the engine reports to
// callers without local recovery.
type Kind int

const (
	Io Kind = iota
	FileFormat
	Corruption
	FileNotFound
	InvalidPublicKeySize
	InvalidBlockHashSize
	InvalidBlockHeight
	ChunkIndexOutOfRange
	TooManyChunks
	TooFewChunks
	AlreadyHasData
	NoDataStreamed
	ChainTooShort
	ChainNotFound
	GroupFull
	RegionFull
	HierarchicalProofFailed
	ChainLifecycle
	ScaleLimit
	RetentionPolicy
	AuditFailed
	CompactProof
	VDFVerificationFailed
	EntropyGenerationFailed
	InvalidProofParameters
	NoValidMeasurements
)

var kindNames = map[Kind]string{
	Io:                      "io",
	FileFormat:              "file_format",
	Corruption:              "corruption",
	FileNotFound:            "file_not_found",
	InvalidPublicKeySize:    "invalid_public_key_size",
	InvalidBlockHashSize:    "invalid_block_hash_size",
	InvalidBlockHeight:      "invalid_block_height",
	ChunkIndexOutOfRange:    "chunk_index_out_of_range",
	TooManyChunks:           "too_many_chunks",
	TooFewChunks:            "too_few_chunks",
	AlreadyHasData:          "already_has_data",
	NoDataStreamed:          "no_data_streamed",
	ChainTooShort:           "chain_too_short",
	ChainNotFound:           "chain_not_found",
	GroupFull:               "group_full",
	RegionFull:              "region_full",
	HierarchicalProofFailed: "hierarchical_proof_failed",
	ChainLifecycle:          "chain_lifecycle",
	ScaleLimit:              "scale_limit",
	RetentionPolicy:         "retention_policy",
	AuditFailed:             "audit_failed",
	CompactProof:            "compact_proof",
	VDFVerificationFailed:   "vdf_verification_failed",
	EntropyGenerationFailed: "entropy_generation_failed",
	InvalidProofParameters:  "invalid_proof_parameters",
	NoValidMeasurements:     "no_valid_measurements",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Error is the engine's single error type. Component-specific context
// (chain length, required length, offending path, numeric bounds) is
// carried in Fields for programmatic inspection and folded into Error()
// for human consumption.
type Error struct {
	kind   Kind
	msg    string
	Fields map[string]any
	cause  error
}

// New creates an Error of the given kind with a formatted message.
func New(k Kind, format string, args ...any) *Error {
	return &Error{kind: k, msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind that wraps cause.
func Wrap(k Kind, cause error, format string, args ...any) *Error {
	return &Error{kind: k, msg: fmt.Sprintf(format, args...), cause: cause}
}

// With attaches a structured field and returns the receiver for chaining.
func (e *Error) With(key string, value any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// Kind returns the error's kind.
func (e *Error) Kind() Kind { return e.kind }

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("posc: %s: %s: %v", e.kind, e.msg, e.cause)
	}
	return fmt.Sprintf("posc: %s: %s", e.kind, e.msg)
}

// Unwrap allows errors.Is / errors.As to see through to the cause.
func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is a *Error with the same Kind, supporting
// errors.Is(err, perr.New(perr.ChainTooShort, "")) style comparisons when
// callers only care about the kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.kind == e.kind
	}
	return false
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error, and ok=false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.kind, true
	}
	return 0, false
}
