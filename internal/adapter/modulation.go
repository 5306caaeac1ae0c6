package adapter

import "github.com/kestrel-governance/spine-controller/internal/sensortype"

// #region bands

// Band names the region of triple-space a modulation table entry covers.
// Fixed lookup table, not a continuous formula — mirrors the teacher's
// TurnType x Risk -> StrategyID mapping in orchestrator/strategy.go: every
// band that can fire is enumerable and its params are auditable from the
// ledger payload alone.
const (
	BandCalm          = "calm"           // low T, low S
	BandUrgent        = "urgent"         // high T, low S
	BandDrifting      = "drifting"       // low T, high S
	BandUrgentDrift   = "urgent_drift"   // high T, high S
	BandElevatedRisk  = "elevated_risk"  // R above tension_deescalate but below critical
)

// #endregion bands

// #region table

// table maps each band to its fixed modulation params.
var table = map[string]ModulationParams{
	BandCalm: {
		Band:              BandCalm,
		Temperature:       0.8,
		GroundingEmphasis: 0.2,
		PromptModifier:    "",
	},
	BandUrgent: {
		Band:              BandUrgent,
		Temperature:       0.4,
		GroundingEmphasis: 0.3,
		PromptModifier:    "Respond calmly and directly: ",
	},
	BandDrifting: {
		Band:              BandDrifting,
		Temperature:       0.6,
		GroundingEmphasis: 0.8,
		PromptModifier:    "Ground your answer in the conversation so far: ",
	},
	BandUrgentDrift: {
		Band:              BandUrgentDrift,
		Temperature:       0.3,
		GroundingEmphasis: 0.9,
		PromptModifier:    "Respond calmly, and ground your answer in the conversation so far: ",
	},
	BandElevatedRisk: {
		Band:              BandElevatedRisk,
		Temperature:       0.35,
		GroundingEmphasis: 0.6,
		PromptModifier:    "Answer carefully and avoid speculation: ",
	},
}

// #endregion table

// #region classify

// Modulate buckets a triple into a band and returns its fixed params.
// tensionDeescalate and riskCritical come from the constitution snapshot
// active for this utterance, so reloads cannot retroactively change an
// in-flight band assignment.
func Modulate(t sensortype.Triple, tensionDeescalate, riskCritical float64) ModulationParams {
	if t.R >= tensionDeescalate && t.R < riskCritical {
		return table[BandElevatedRisk]
	}
	highTension := t.T >= tensionDeescalate
	highDrift := t.S >= 0.5
	switch {
	case highTension && highDrift:
		return table[BandUrgentDrift]
	case highTension:
		return table[BandUrgent]
	case highDrift:
		return table[BandDrifting]
	default:
		return table[BandCalm]
	}
}

// #endregion classify
