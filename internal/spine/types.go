// Package spine implements the Spine orchestrator: the per-utterance state
// machine that drives an utterance from arrival through Sensor, Gate,
// Drafter, Verifier, and back to Gate, enforcing the rewrite budget,
// rollback reflex, and circuit breaker along the way.
//
// Directly descended from the teacher's orchestrator.Orchestrator:
// PreGenerate/PostGenerate become runUtterance's Gate#1 call and
// draftVerifyLoop's Gate#2 call, RetryEngine.ShouldRetry
// becomes the rewrite-budget check, and RecordFinalOutcome becomes the
// Ledger append call.
package spine

import (
	"github.com/kestrel-governance/spine-controller/internal/adapter"
	"github.com/kestrel-governance/spine-controller/internal/constitution"
	"github.com/kestrel-governance/spine-controller/internal/gate"
	"github.com/kestrel-governance/spine-controller/internal/ledger"
	"github.com/kestrel-governance/spine-controller/internal/sensor"
	"github.com/kestrel-governance/spine-controller/internal/verifier"
	"github.com/kestrel-governance/spine-controller/internal/websource"
)

// #region config

// Config holds the tuning knobs the Spine needs beyond what travels on the
// constitution snapshot.
type Config struct {
	// MaxInFlight bounds concurrent outstanding Drafter calls across all
	// islands; Submit rejects with ErrBackpressure rather than queueing
	// indefinitely once this is saturated.
	MaxInFlight int

	// AuditWindowSize and AuditHalfLifeHours parameterize the decay-weighted
	// audit-pass-rate query the Gate's Verification sub-score reads.
	AuditWindowSize    int
	AuditHalfLifeHours float64

	// Websource parses any "Sources:" block the Drafter appended to its own
	// draft text, merging the result into the caller-declared sources before
	// the Verifier runs.
	Websource websource.Config
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxInFlight:        16,
		AuditWindowSize:    200,
		AuditHalfLifeHours: 24 * 7,
		Websource:          websource.DefaultConfig(),
	}
}

// #endregion config

// #region wiring

// Wiring is the explicit dependency set the Spine is built from — no
// runtime reflection or name-based component discovery, per §9's
// re-architecture note. cmd/governor assembles one of these at startup,
// mirroring the teacher's explicit store/codecClient/orchestrator
// construction in cmd/controller/main.go.
type Wiring struct {
	Sensor   *sensor.Sensor
	Gate     *gate.Gate
	Store    *constitution.Store
	Ledger   *ledger.StepLedger
	History  *ledger.GateHistory
	Drafter  adapter.Drafter
	Verifier *verifier.Verifier
}

// #endregion wiring

// #region submit-io

// SubmitRequest is one caller-facing utterance submission. IslandID is
// empty to open a fresh island, or an existing island id to continue one.
type SubmitRequest struct {
	IslandID string
	Text     string
	Declared []websource.Source
}

// SubmitResult is what the caller-facing submit operation returns.
type SubmitResult struct {
	IslandID string
	Response string
	Decision gate.Decision
	RecordID string
}

// #endregion submit-io
