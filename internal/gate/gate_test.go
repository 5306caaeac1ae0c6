package gate

import (
	"testing"

	"github.com/kestrel-governance/spine-controller/internal/sensortype"
)

var (
	weights   = POAVWeights{Precision: 0.25, Observation: 0.25, Avoidance: 0.30, Verification: 0.20}
	p0Rules   = []Rule{{ID: "p0:self_harm", Domain: "self_harm", PresenceFloor: 0.5}, {ID: "p0:harm", Domain: "physical_harm", PresenceFloor: 0.5}}
	riskCrit  = 0.75
	halluCrit = 0.6
	poavPass  = 0.8
	poavFloor = 0.5
)

func cleanScores() Scores {
	return Scores{Hallucination: 0, AuditPassRate: 1}
}

func TestGatePassOnCleanSignals(t *testing.T) {
	g := NewGate()
	triple := sensortype.Triple{T: 0.1, S: 0, R: 0}
	decision := g.Evaluate(triple, DomainPresence{}, p0Rules, cleanScores(), weights, riskCrit, halluCrit, poavPass, poavFloor, false)

	if decision.Kind != Pass {
		t.Fatalf("expected PASS, got %s: %s", decision.Kind, decision.Reason)
	}
	if decision.POAV == nil {
		t.Fatal("expected POAV to be populated")
	}
}

func TestGateP0HardBlock(t *testing.T) {
	g := NewGate()
	triple := sensortype.Triple{T: 0, S: 0, R: 0}
	presence := DomainPresence{"physical_harm": 0.9}

	decision := g.Evaluate(triple, presence, p0Rules, cleanScores(), weights, riskCrit, halluCrit, poavPass, poavFloor, false)

	if decision.Kind != Block {
		t.Fatalf("expected BLOCK, got %s", decision.Kind)
	}
	if decision.Reason != "p0:harm" {
		t.Fatalf("expected reason p0:harm, got %s", decision.Reason)
	}
	if decision.POAV != nil {
		t.Fatal("POAV must not be computed once a P0 rule has fired")
	}
}

func TestGateP0TieBreakLexicographic(t *testing.T) {
	g := NewGate()
	triple := sensortype.Triple{T: 0, S: 0, R: 0}
	// Both rules fire; "p0:harm" sorts before "p0:self_harm".
	presence := DomainPresence{"physical_harm": 0.9, "self_harm": 0.9}

	decision := g.Evaluate(triple, presence, p0Rules, cleanScores(), weights, riskCrit, halluCrit, poavPass, poavFloor, false)

	if decision.Reason != "p0:harm" {
		t.Fatalf("expected lexicographically smallest rule_id p0:harm, got %s", decision.Reason)
	}
}

func TestGateP0TieBreakOrderIndependent(t *testing.T) {
	g := NewGate()
	triple := sensortype.Triple{T: 0, S: 0, R: 0}
	presence := DomainPresence{"physical_harm": 0.9, "self_harm": 0.9}
	reversed := []Rule{p0Rules[1], p0Rules[0]}

	decision := g.Evaluate(triple, presence, reversed, cleanScores(), weights, riskCrit, halluCrit, poavPass, poavFloor, false)

	if decision.Reason != "p0:harm" {
		t.Fatalf("tie-break must not depend on input order, got %s", decision.Reason)
	}
}

func TestGateCriticalThresholdOverrideOnRisk(t *testing.T) {
	g := NewGate()
	// Every other axis is clean (the POAV band alone would give 0.76, a plain
	// REWRITE with no axis named), but R breaches risk_critical.
	triple := sensortype.Triple{T: 0, S: 0, R: 0.8}

	decision := g.Evaluate(triple, DomainPresence{}, nil, cleanScores(), weights, riskCrit, halluCrit, poavPass, poavFloor, false)

	if decision.Kind != Rewrite {
		t.Fatalf("expected REWRITE, got %s: %s", decision.Kind, decision.Reason)
	}
	if decision.Reason != "critical:risk" {
		t.Fatalf("expected reason critical:risk, got %s", decision.Reason)
	}
	if decision.POAV != nil {
		t.Fatal("POAV must not be computed once the critical override has fired")
	}
}

func TestGateCriticalThresholdOverrideOnHallucination(t *testing.T) {
	g := NewGate()
	triple := sensortype.Triple{T: 0, S: 0, R: 0}
	scores := Scores{Hallucination: 0.7, AuditPassRate: 1}

	decision := g.Evaluate(triple, DomainPresence{}, nil, scores, weights, riskCrit, halluCrit, poavPass, poavFloor, false)

	if decision.Kind != Rewrite {
		t.Fatalf("expected REWRITE, got %s", decision.Kind)
	}
	if decision.Reason != "critical:hallucination" {
		t.Fatalf("expected reason critical:hallucination, got %s", decision.Reason)
	}
}

func TestGateCriticalThresholdOverrideBothFieldsFixedOrder(t *testing.T) {
	g := NewGate()
	triple := sensortype.Triple{T: 0, S: 0, R: 0.9}
	scores := Scores{Hallucination: 0.9, AuditPassRate: 1}

	decision := g.Evaluate(triple, DomainPresence{}, nil, scores, weights, riskCrit, halluCrit, poavPass, poavFloor, false)

	if decision.Reason != "critical:risk,hallucination" {
		t.Fatalf("expected fixed field order risk,hallucination, got %s", decision.Reason)
	}
}

func TestGateNeverPassesOnCriticalBreachRegardlessOfPOAV(t *testing.T) {
	g := NewGate()
	// Everything else perfect, only R is over critical.
	triple := sensortype.Triple{T: 0, S: 0, R: 1.0}

	decision := g.Evaluate(triple, DomainPresence{}, nil, cleanScores(), weights, riskCrit, halluCrit, poavPass, poavFloor, false)

	if decision.Kind == Pass {
		t.Fatal("Gate must never return PASS when R >= risk_critical")
	}
}

func TestGatePOAVBandRewrite(t *testing.T) {
	g := NewGate()
	// High S and R push POAV into the rewrite band without tripping the
	// critical override (R kept below risk_critical).
	triple := sensortype.Triple{T: 0, S: 0.6, R: 0.5}
	scores := Scores{Hallucination: 0.3, AuditPassRate: 0.5}

	decision := g.Evaluate(triple, DomainPresence{}, nil, scores, weights, riskCrit, halluCrit, poavPass, poavFloor, false)

	if decision.Kind != Rewrite {
		t.Fatalf("expected REWRITE, got %s: poav=%.4f", decision.Kind, decision.POAV.Composite)
	}
}

func TestGatePOAVBandBlock(t *testing.T) {
	g := NewGate()
	triple := sensortype.Triple{T: 0, S: 0.9, R: 0.6}
	scores := Scores{Hallucination: 0.55, AuditPassRate: 0}

	decision := g.Evaluate(triple, DomainPresence{}, nil, scores, weights, riskCrit, halluCrit, poavPass, poavFloor, false)

	if decision.Kind != Block {
		t.Fatalf("expected BLOCK, got %s: poav=%.4f", decision.Kind, decision.POAV.Composite)
	}
}

func TestGateSensorDegradedPromotesRewriteToBlock(t *testing.T) {
	g := NewGate()
	// R >= risk_critical/2 (0.375) but below risk_critical itself, and the
	// POAV band alone lands on REWRITE.
	triple := sensortype.Triple{T: 0, S: 0.6, R: 0.4}
	scores := Scores{Hallucination: 0.3, AuditPassRate: 0.5}

	decision := g.Evaluate(triple, DomainPresence{}, nil, scores, weights, riskCrit, halluCrit, poavPass, poavFloor, true)

	if decision.Kind != Block {
		t.Fatalf("expected sensor-degraded promotion to BLOCK, got %s", decision.Kind)
	}
	if decision.Reason[:len("sensor_degraded:")] != "sensor_degraded:" {
		t.Fatalf("expected reason prefixed with sensor_degraded:, got %s", decision.Reason)
	}
}

func TestGateSensorDegradedLeavesPassUntouched(t *testing.T) {
	g := NewGate()
	triple := sensortype.Triple{T: 0.1, S: 0, R: 0}

	decision := g.Evaluate(triple, DomainPresence{}, nil, cleanScores(), weights, riskCrit, halluCrit, poavPass, poavFloor, true)

	if decision.Kind != Pass {
		t.Fatalf("sensor_degraded must not touch a PASS decision, got %s", decision.Kind)
	}
}

func TestGateSensorDegradedLeavesBlockUntouched(t *testing.T) {
	g := NewGate()
	triple := sensortype.Triple{T: 0, S: 0.9, R: 0.6}
	scores := Scores{Hallucination: 0.55, AuditPassRate: 0}

	decision := g.Evaluate(triple, DomainPresence{}, nil, scores, weights, riskCrit, halluCrit, poavPass, poavFloor, true)

	if decision.Kind != Block {
		t.Fatalf("expected BLOCK unchanged, got %s", decision.Kind)
	}
}

func TestComputePOAVWeightsSumToComposite(t *testing.T) {
	triple := sensortype.Triple{T: 0, S: 0.2, R: 0.1}
	scores := Scores{Hallucination: 0.1, AuditPassRate: 0.9}

	poav := ComputePOAV(triple, scores, weights)

	want := weights.Precision*poav.Precision + weights.Observation*poav.Observation +
		weights.Avoidance*poav.Avoidance + weights.Verification*poav.Verification
	if poav.Composite != want {
		t.Fatalf("composite %.6f != recomputed %.6f", poav.Composite, want)
	}
	if poav.Composite < 0 || poav.Composite > 1 {
		t.Fatalf("composite out of [0,1]: %.6f", poav.Composite)
	}
}
