package gate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kestrel-governance/spine-controller/internal/sensortype"
)

// #region gate

// Gate is a pure decision function mapping (triple, scores, snapshot) to
// {PASS, REWRITE, BLOCK}. It holds no state of its own — every call is
// self-contained, so the same Gate value is safe to share across islands
// and across goroutines without locking. Descended from the teacher's
// gate.Gate, whose Evaluate did the analogous hard-veto-then-soft-score
// two-phase pass over a proposed state update.
type Gate struct{}

// NewGate constructs a Gate. It takes no configuration because every
// threshold the Gate consults is read fresh from the snapshot passed to
// Evaluate — a constitution reload between utterances takes effect on the
// very next call with no Gate-side state to invalidate.
func NewGate() *Gate {
	return &Gate{}
}

// Evaluate runs the four-step decision in spec order: P0 hard block,
// critical-threshold override, POAV band, sensor-degraded tightening.
func (g *Gate) Evaluate(
	t sensortype.Triple,
	presence DomainPresence,
	p0Rules []Rule,
	scores Scores,
	weights POAVWeights,
	riskCritical, halluCritical, poavPass, poavRewriteFloor float64,
	sensorDegraded bool,
) Decision {
	// --- Step 1: P0 hard block ---
	// rule.ID already carries the "p0:" prefix (see the constitution's P0
	// rule table), so it is the reason verbatim — not a format argument.
	if rule, ok := firstP0Hit(p0Rules, presence); ok {
		return Decision{
			Kind:           Block,
			Reason:         rule.ID,
			SensorDegraded: sensorDegraded,
		}
	}

	// --- Step 2: critical-threshold override ---
	riskCritBreach := t.R >= riskCritical
	halluCritBreach := scores.Hallucination >= halluCritical
	if riskCritBreach || halluCritBreach {
		var fields []string
		if riskCritBreach {
			fields = append(fields, "risk")
		}
		if halluCritBreach {
			fields = append(fields, "hallucination")
		}
		return Decision{
			Kind:           Rewrite,
			Reason:         fmt.Sprintf("critical:%s", strings.Join(fields, ",")),
			SensorDegraded: sensorDegraded,
		}
	}

	// --- Step 3: POAV band ---
	poav := ComputePOAV(t, scores, weights)
	var decision Decision
	switch {
	case poav.Composite >= poavPass:
		decision = Decision{Kind: Pass, Reason: fmt.Sprintf("poav:%.4f>=pass:%.4f", poav.Composite, poavPass), POAV: &poav}
	case poav.Composite >= poavRewriteFloor:
		decision = Decision{Kind: Rewrite, Reason: fmt.Sprintf("poav:%.4f in [floor:%.4f,pass:%.4f)", poav.Composite, poavRewriteFloor, poavPass), POAV: &poav}
	default:
		decision = Decision{Kind: Block, Reason: fmt.Sprintf("poav:%.4f<floor:%.4f", poav.Composite, poavRewriteFloor), POAV: &poav}
	}
	decision.SensorDegraded = sensorDegraded

	// --- Step 4: sensor-degraded tightening ---
	if sensorDegraded && decision.Kind == Rewrite && t.R >= riskCritical/2 {
		decision.Kind = Block
		decision.Reason = fmt.Sprintf("sensor_degraded:%s", decision.Reason)
	}

	return decision
}

// #endregion gate

// #region p0

// firstP0Hit returns the lexicographically smallest rule_id among all
// P0 rules whose domain presence is at or above its floor. Evaluating
// every rule before picking the winner, rather than returning on the first
// match, is what makes the tie-break audit-stable: the result does not
// depend on the slice's input order.
func firstP0Hit(rules []Rule, presence DomainPresence) (Rule, bool) {
	var hits []Rule
	for _, r := range rules {
		if presence[r.Domain] >= r.PresenceFloor {
			hits = append(hits, r)
		}
	}
	if len(hits) == 0 {
		return Rule{}, false
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].ID < hits[j].ID })
	return hits[0], true
}

// #endregion p0
