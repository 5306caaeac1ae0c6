// Package replay drives fixture-defined interaction sequences through a real
// Spine — Sensor, Gate, a stub Drafter, Verifier, Gate again — and checks the
// resulting ledger chain against each interaction's expected decision.
// Descended from the teacher's replay.Fixture/Replay machinery: a JSON
// fixture describes a whole session instead of a single state transition,
// and the per-turn assertion is a Gate decision kind instead of a commit
// action string.
package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/kestrel-governance/spine-controller/internal/constitution"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture: an optional
// constitution snapshot, defaulting to constitution.DefaultSnapshot when
// omitted, plus an ordered list of interactions to submit within a single
// island.
type Fixture struct {
	Description  string                 `json:"description"`
	Constitution *constitution.Snapshot `json:"constitution,omitempty"`
	Interactions []FixtureInteraction   `json:"interactions"`
}

// FixtureInteraction is one turn: the prompt text to submit, the draft text
// (or error) the stub Drafter should answer with, and the Gate decision kind
// the turn is expected to end in.
type FixtureInteraction struct {
	TurnID     string `json:"turn_id"`
	Prompt     string `json:"prompt"`
	DraftText  string `json:"draft_text"`
	DrafterErr string `json:"drafter_err,omitempty"`
	Expected   string `json:"expected"` // PASS | REWRITE | BLOCK
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("replay: read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("replay: parse fixture %s: %w", path, err)
	}
	if f.Constitution == nil {
		f.Constitution = constitution.DefaultSnapshot()
	}
	if len(f.Interactions) == 0 {
		return nil, fmt.Errorf("replay: fixture %s declares no interactions", path)
	}
	return &f, nil
}

// #endregion fixture-loader
