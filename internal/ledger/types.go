// Package ledger implements the StepLedger and TimeIsland: the append-only,
// content-addressed, hash-chained record store that gives every governance
// decision a tamper-evident audit trail, scoped per session (island).
//
// Storage design mirrors the teacher's state.Store idiom in spirit (a
// SQLite-backed version chain with a singleton "active" pointer) but adds
// the spec-mandated NDJSON primary write log as the actual source of truth:
// the SQLite index exists purely for fast lookups, never for tamper
// detection, which always replays the NDJSON file from scratch.
package ledger

import (
	"errors"

	"github.com/kestrel-governance/spine-controller/internal/gate"
	"github.com/kestrel-governance/spine-controller/internal/sensortype"
)

// #region errors

// Sentinel errors distinguished from policy/sensor failures per the spec's
// error taxonomy (§7): these are fatal or concurrency failures, checked
// with errors.Is, never silently absorbed.
var (
	ErrIslandNotActive = errors.New("ledger: island not active")
	ErrIslandNotFound  = errors.New("ledger: island not found")
	ErrChainCorrupted  = errors.New("ledger: chain corrupted")
	ErrSequenceGap     = errors.New("ledger: sequence gap")
)

// #endregion errors

// #region island-state

// IslandState is one of the three reachable TimeIsland states.
type IslandState string

const (
	StateActive    IslandState = "ACTIVE"
	StateSuspended IslandState = "SUSPENDED"
	StateClosed    IslandState = "CLOSED"

	// StateSubjectLocked is declared for forward documentation parity with
	// prior art but deliberately unreachable — see DESIGN.md (Open
	// Question 3). No transition in this package ever produces it.
	StateSubjectLocked IslandState = "SUBJECT_LOCKED"
)

// #endregion island-state

// #region record-kind

// RecordKind discriminates a StepRecord's payload shape. A plain enum
// replaces the dynamically-typed payload the source used, per the spec's
// "dynamically typed payloads" re-architecture note: canonical
// serialization of Payload is mandatory because it feeds the hash chain.
type RecordKind string

const (
	KindIslandStart  RecordKind = "ISLAND_START"
	KindIslandEnd    RecordKind = "ISLAND_END"
	KindUserInput    RecordKind = "USER_INPUT"
	KindDraft        RecordKind = "DRAFT"
	KindVerify       RecordKind = "VERIFY"
	KindGateDecision RecordKind = "GATE_DECISION"
	KindRollback     RecordKind = "ROLLBACK"
	KindFallback     RecordKind = "FALLBACK"
	KindResponse     RecordKind = "RESPONSE"
)

// #endregion record-kind

// #region step-record

// StepRecord is the immutable, hash-chained unit of the ledger. Field names
// and JSON tags follow §3/§6 of the spec exactly — any deviation here would
// invalidate the chain for an external verifier replaying the NDJSON file.
type StepRecord struct {
	RecordID            string                 `json:"record_id"`
	IslandID            string                 `json:"island_id"`
	SequenceNum         int                    `json:"sequence_num"`
	Kind                RecordKind             `json:"kind"`
	Timestamp           string                 `json:"timestamp"`
	Triple              sensortype.Triple      `json:"triple"`
	POAV                *gate.POAV             `json:"poav,omitempty"`
	Decision            *gate.Decision         `json:"decision,omitempty"`
	Payload             map[string]interface{} `json:"payload"`
	ContentHash         string                 `json:"content_hash"`
	PreviousHash        string                 `json:"previous_hash"`
	ConstitutionVersion int                    `json:"constitution_version"`
}

// #endregion step-record

// #region island-status

// Status is a read-only snapshot of a TimeIsland's bookkeeping fields,
// returned by StepLedger.Status for inspection tools and the Spine's weak
// handle bookkeeping.
type Status struct {
	IslandID             string
	State                IslandState
	SequenceNum          int // next sequence number to be assigned
	TipHash              string
	ContextDigest        string
	ConsecutiveRollbacks int
}

// #endregion island-status
