package verifier

import "context"

// #region embedder-interface

// Embedder is the Verifier's own scoped collaborator boundary, structurally
// identical to adapter.Embedder and sensor.Embedder. Each package that
// needs embeddings declares the interface it needs rather than sharing one
// defined elsewhere — the teacher does the same (codec.CodecClient vs.
// signals.Embedder).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// #endregion embedder-interface

// #region searcher-interface

// Searcher looks up retrieval evidence for a query, used as one of the
// anchor sources the grounding check consults.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]SearchHit, error)
}

// SearchHit mirrors adapter.SearchResult's shape. adapter.Client returns
// adapter.SearchResult values, so a small shim (cmd/governor's
// searcherAdapter) converts them to satisfy Searcher.
type SearchHit struct {
	ID   string
	Text string
}

// #endregion searcher-interface

// #region anchor

// Anchor is one candidate grounding source for a claim: a retrieval hit, a
// declared external source, or a previously confirmed grounding-graph edge.
type Anchor struct {
	ID   string
	Text string
}

// #endregion anchor

// #region result

// Result is the Verifier's output: a hallucination score in [0,1], a
// consistency flag, and the claim-level detail an audit trail needs.
type Result struct {
	Hallucination    float64
	Consistent       bool
	Details          string
	UnanchoredClaims []string
	ClaimIDs         []string // canonical grounding-graph ids for every claim this call examined, anchored or not
}

// #endregion result

// #region config

// Config holds the Verifier's tuning knobs, distinct from the constitution
// snapshot's halluc_critical (which the Gate, not the Verifier, consults).
type Config struct {
	ConsistencyWeight float64 // weight on (1-semantic consistency) in the hallucination sum
	GroundingWeight   float64 // weight on the unanchored-claim fraction
	AnchorOverlapMin  float64 // minimum Jaccard token overlap to count as an anchor match
	SearchTopK        int
}

// DefaultConfig returns defaults: equal weight on the two signals the spec
// names, matching POAV's own even split between comparably-scoped axes.
func DefaultConfig() Config {
	return Config{
		ConsistencyWeight: 0.5,
		GroundingWeight:   0.5,
		AnchorOverlapMin:  0.3,
		SearchTopK:        5,
	}
}

// #endregion config
