package gate

import "github.com/kestrel-governance/spine-controller/internal/sensortype"

// #region decision-kind

// DecisionKind is the sum type the teacher expressed with exceptions
// (gate.go originally unwound the call stack on veto). Returned through a
// normal value here, per the error-taxonomy redesign: fatal conditions like
// a corrupted ledger chain still use a distinct error return, but a Gate
// decision itself is never an error.
type DecisionKind string

const (
	Pass    DecisionKind = "PASS"
	Rewrite DecisionKind = "REWRITE"
	Block   DecisionKind = "BLOCK"
)

// #endregion decision-kind

// #region scores

// Scores carries the per-decision inputs the Gate needs beyond the triple.
// Hallucination comes from the Verifier; AuditPassRate is the Ledger's
// decay-weighted share of PASS decisions among its recent gate decisions
// across all islands (GateHistory.AuditPassRate).
type Scores struct {
	Hallucination float64
	AuditPassRate float64
}

// POAVWeights mirrors constitution.POAVWeights field-for-field. Declared
// locally so this package has no import-time dependency on constitution;
// callers pass the snapshot's weights straight through.
type POAVWeights struct {
	Precision    float64
	Observation  float64
	Avoidance    float64
	Verification float64
}

// POAV is the four sub-scores plus the weighted composite.
type POAV struct {
	Precision    float64
	Observation  float64
	Avoidance    float64
	Verification float64
	Composite    float64
}

// ComputePOAV derives POAV per the fixed formula: Precision = 1-hallucination,
// Observation = 1-S, Avoidance = 1-R, Verification = audit pass rate.
func ComputePOAV(t sensortype.Triple, s Scores, w POAVWeights) POAV {
	p := POAV{
		Precision:    sensortype.Clamp(1 - s.Hallucination),
		Observation:  sensortype.Clamp(1 - t.S),
		Avoidance:    sensortype.Clamp(1 - t.R),
		Verification: sensortype.Clamp(s.AuditPassRate),
	}
	p.Composite = w.Precision*p.Precision + w.Observation*p.Observation +
		w.Avoidance*p.Avoidance + w.Verification*p.Verification
	return p
}

// #endregion scores

// #region rule

// Rule mirrors constitution.Rule's identifying fields; the Gate only ever
// needs ID, Domain, and PresenceFloor to evaluate a P0 hit, so it takes
// these by value rather than importing the constitution package's full type.
type Rule struct {
	ID            string
	Domain        string
	PresenceFloor float64
}

// DomainPresence is the Sensor's measured presence score for one risk
// domain, keyed by domain name, used to check a Rule's PresenceFloor.
type DomainPresence map[string]float64

// #endregion rule

// #region decision

// Decision is the Gate's output: the kind, the audit-facing reason string,
// and the POAV it was computed from. POAV is nil when a P0 rule fired or the
// critical-threshold override fired, since POAV is never computed once step
// 1 or step 2 has already short-circuited.
type Decision struct {
	Kind           DecisionKind
	Reason         string
	POAV           *POAV
	SensorDegraded bool
}

// #endregion decision
