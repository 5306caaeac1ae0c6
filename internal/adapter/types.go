package adapter

import "context"

// #region draft

// DraftRequest carries everything the Drafter Adapter needs to issue one
// generation call: the assembled prompt, the recent context window, and
// the modulation parameters derived from the utterance's triple.
type DraftRequest struct {
	Prompt     string
	Context    []string
	Modulation ModulationParams
}

// DraftResult is the candidate text plus whatever self-reported score the
// upstream model exposes. HallucinationSelf is nil when the upstream does
// not report one — the Verifier never treats a nil self-score as zero.
type DraftResult struct {
	Text              string
	HallucinationSelf *float64
}

// #endregion draft

// #region drafter-interface

// Drafter is the external collaborator boundary for C4. Production code
// talks to it over gRPC (see client.go); tests substitute a stub.
type Drafter interface {
	Generate(ctx context.Context, req DraftRequest) (DraftResult, error)
}

// #endregion drafter-interface

// #region embedder-interface

// Embedder is the external collaborator boundary shared by the Sensor (S
// computation) and the Verifier (semantic consistency check).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// #endregion embedder-interface

// #region search

// SearchResult is one hit from the upstream evidence/citation store, used
// by the Verifier's grounding check for "declared external source" anchors.
type SearchResult struct {
	ID       string
	Text     string
	Score    float32
	Metadata string
}

// Searcher is the external collaborator boundary for citation lookups.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]SearchResult, error)
}

// #endregion search

// #region modulation-params

// ModulationParams are the decoding-time knobs the Drafter Adapter sends
// upstream, derived from a band of the utterance's triple.
type ModulationParams struct {
	Band              string  // which band fired, recorded on the ledger payload for audit
	Temperature       float64 // higher tension -> lower temperature (more conservative)
	GroundingEmphasis float64 // higher drift -> more grounding emphasis
	PromptModifier    string  // prefix injected ahead of the user prompt, "" = none
}

// #endregion modulation-params
