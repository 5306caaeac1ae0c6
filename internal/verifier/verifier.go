package verifier

import (
	"context"
	"fmt"
	"log"

	"github.com/kestrel-governance/spine-controller/internal/groundgraph"
	"github.com/kestrel-governance/spine-controller/internal/websource"
)

// #region verifier

// Verifier audits a draft against the constitution for hallucination and
// consistency. Descended from the teacher's retrieval.Retriever 3-gate
// idiom, replacing "should we retrieve" with "does this draft hold up":
// semantic consistency plays the role of Gate 2 (similarity) and the
// grounding check plays the role of Gate 3 (result hygiene).
type Verifier struct {
	embedder Embedder
	searcher Searcher
	graph    *groundgraph.Graph // optional; nil disables the persisted grounding-graph anchor kind
	config   Config
}

// NewVerifier constructs a Verifier. searcher and graph may be nil — the
// Verifier degrades to declared-sources-and-history anchoring only.
func NewVerifier(embedder Embedder, searcher Searcher, graph *groundgraph.Graph, config Config) *Verifier {
	return &Verifier{embedder: embedder, searcher: searcher, graph: graph, config: config}
}

// #endregion verifier

// #region input

// Input bundles everything one Verify call needs.
type Input struct {
	Draft          string
	PriorUtterance string
	Declared       []websource.Source
}

// #endregion input

// #region verify

// Verify produces a hallucination score and a consistency flag for one
// draft. Never returns an error: an unreachable embedder or searcher just
// degrades the signal it backs, per the same innocent-until-proven
// discipline the Sensor uses.
func (v *Verifier) Verify(ctx context.Context, in Input) Result {
	consistency := v.semanticConsistency(ctx, in.Draft, in.PriorUtterance)

	claims := extractClaims(in.Draft)
	anchors := v.collectAnchors(ctx, in)

	var unanchored []string
	claimIDs := make([]string, 0, len(claims))
	for _, claim := range claims {
		claimID := canonicalClaimID(claim)
		claimIDs = append(claimIDs, claimID)

		ok, anchorID := anchored(claim, anchors, v.config.AnchorOverlapMin)
		if !ok {
			// This turn's anchors don't cover it directly; ask the grounding
			// graph whether this exact claim was confirmed grounded in a
			// past turn, per the package's own "walk outward ... rather than
			// re-deriving grounding from scratch" intent.
			ok, anchorID = v.graphConfirmed(claimID)
		}
		if ok {
			v.recordEdge(claimID, anchorID, groundgraph.EdgeConfirmed)
		} else {
			unanchored = append(unanchored, claim)
		}
	}

	groundingMiss := 0.0
	if len(claims) > 0 {
		groundingMiss = float64(len(unanchored)) / float64(len(claims))
	}

	hallucination := v.config.ConsistencyWeight*(1-consistency) + v.config.GroundingWeight*groundingMiss
	if hallucination < 0 {
		hallucination = 0
	}
	if hallucination > 1 {
		hallucination = 1
	}

	details := fmt.Sprintf("consistency=%.4f claims=%d unanchored=%d", consistency, len(claims), len(unanchored))

	return Result{
		Hallucination:    hallucination,
		Consistent:       len(unanchored) == 0,
		Details:          details,
		UnanchoredClaims: unanchored,
		ClaimIDs:         claimIDs,
	}
}

// #endregion verify

// #region consistency

// semanticConsistency is cosine similarity between draft and the most
// recent user utterance when an embedder is available, falling back to
// Jaccard token overlap only when it is not — per the spec's Open Question
// 2, the embedding form is primary and Jaccard is the degraded fallback,
// never the default.
func (v *Verifier) semanticConsistency(ctx context.Context, draft, prior string) float64 {
	if v.embedder == nil || prior == "" {
		return jaccardSimilarity(draft, prior)
	}
	draftEmb, err := v.embedder.Embed(ctx, draft)
	if err != nil {
		log.Printf("[VERIFIER] embedder unavailable for draft, falling back to jaccard: %v", err)
		return jaccardSimilarity(draft, prior)
	}
	priorEmb, err := v.embedder.Embed(ctx, prior)
	if err != nil {
		log.Printf("[VERIFIER] embedder unavailable for prior utterance, falling back to jaccard: %v", err)
		return jaccardSimilarity(draft, prior)
	}
	return cosineSimilarity(draftEmb, priorEmb)
}

// #endregion consistency

// #region anchors

// collectAnchors gathers every candidate grounding source for this draft:
// declared sources the Drafter cited, the island's recent payloads (via the
// prior utterance), and a retrieval lookup when a Searcher is wired.
func (v *Verifier) collectAnchors(ctx context.Context, in Input) []Anchor {
	var anchors []Anchor

	for i, s := range in.Declared {
		text := s.Title
		if s.Snippet != "" {
			text = s.Title + " " + s.Snippet
		}
		anchors = append(anchors, Anchor{ID: fmt.Sprintf("declared:%d", i), Text: text})
	}

	if in.PriorUtterance != "" {
		anchors = append(anchors, Anchor{ID: "prior_utterance", Text: in.PriorUtterance})
	}

	if v.searcher != nil {
		hits, err := v.searcher.Search(ctx, in.Draft, v.config.SearchTopK)
		if err != nil {
			log.Printf("[VERIFIER] searcher unavailable, continuing without retrieval anchors: %v", err)
		} else {
			for _, h := range hits {
				anchors = append(anchors, Anchor{ID: h.ID, Text: h.Text})
			}
		}
	}

	return anchors
}

// recordEdge persists a confirmed claim-anchor link when a grounding graph
// is wired, then strengthens it — a claim re-confirmed across several turns
// should read as more trustworthy than one confirmed only once. Failures
// are logged, not propagated — the graph is an audit trail for future
// verifications, never a correctness dependency of this one.
func (v *Verifier) recordEdge(claimID, anchorID string, edgeType groundgraph.EdgeType) {
	if v.graph == nil || anchorID == "" {
		return
	}
	if err := v.graph.AddEdge(claimID, anchorID, edgeType, 0.5); err != nil {
		log.Printf("[VERIFIER] failed to record grounding edge, continuing: %v", err)
		return
	}
	if err := v.graph.IncrementEdge(claimID, anchorID, edgeType, 0.1); err != nil {
		log.Printf("[VERIFIER] failed to reinforce grounding edge, continuing: %v", err)
	}
}

// graphConfirmed asks the grounding graph whether claimID was confirmed
// grounded by some anchor in a past turn, widening the search transitively
// through Walk rather than a single direct lookup — a claim can inherit
// confidence from an anchor reached through another previously confirmed
// claim, not only one it was directly linked to itself.
func (v *Verifier) graphConfirmed(claimID string) (bool, string) {
	if v.graph == nil {
		return false, ""
	}
	result, err := v.graph.Walk(claimID, 3, v.config.AnchorOverlapMin, 10)
	if err != nil {
		log.Printf("[VERIFIER] grounding graph walk unavailable, continuing without history: %v", err)
		return false, ""
	}
	if len(result.IDs) < 2 {
		return false, ""
	}
	return true, result.IDs[1]
}

// Sever drops claimIDs from the grounding graph. Called when a draft is
// rolled back: its claims' confirmations must not bleed into a future
// turn's grounding check for the same wording.
func (v *Verifier) Sever(claimIDs []string) {
	if v.graph == nil {
		return
	}
	for _, id := range claimIDs {
		if err := v.graph.SeverClaim(id); err != nil {
			log.Printf("[VERIFIER] failed to sever rolled-back claim %q from grounding graph, continuing: %v", id, err)
		}
	}
}

// #endregion anchors
