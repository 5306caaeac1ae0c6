package verifier

import (
	"context"
	"testing"

	"github.com/kestrel-governance/spine-controller/internal/websource"
)

type stubEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (s stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 0}, nil
}

func TestVerify_ConsistentGroundedDraft(t *testing.T) {
	v := NewVerifier(
		stubEmbedder{vectors: map[string][]float32{
			"what is the capital of France?": {1, 0, 0},
			"The capital of France is Paris.": {1, 0, 0},
		}},
		nil, nil, DefaultConfig(),
	)

	result := v.Verify(context.Background(), Input{
		Draft:          "The capital of France is Paris.",
		PriorUtterance: "what is the capital of France?",
		Declared:       []websource.Source{{Title: "The capital of France is Paris."}},
	})

	if !result.Consistent {
		t.Errorf("expected consistent, got unanchored claims: %v", result.UnanchoredClaims)
	}
	if result.Hallucination > 0.3 {
		t.Errorf("expected low hallucination for grounded draft, got %.4f", result.Hallucination)
	}
}

func TestVerify_UnanchoredClaimRaisesHallucination(t *testing.T) {
	v := NewVerifier(
		stubEmbedder{vectors: map[string][]float32{
			"tell me about yourself": {1, 0, 0},
		}},
		nil, nil, DefaultConfig(),
	)

	result := v.Verify(context.Background(), Input{
		Draft:          "I was built in a secret underground facility in 1987 by a team of twelve rogue engineers.",
		PriorUtterance: "tell me about yourself",
	})

	if result.Consistent {
		t.Errorf("expected an unanchored claim to mark the draft inconsistent")
	}
	if len(result.UnanchoredClaims) == 0 {
		t.Errorf("expected at least one unanchored claim")
	}
}

func TestVerify_EmbedderUnavailableFallsBackToJaccard(t *testing.T) {
	v := NewVerifier(
		stubEmbedder{err: context.DeadlineExceeded},
		nil, nil, DefaultConfig(),
	)

	// High lexical overlap should still register as consistent via the
	// Jaccard fallback even though the embedder is down.
	result := v.Verify(context.Background(), Input{
		Draft:          "the weather today is sunny and warm",
		PriorUtterance: "what is the weather today",
		Declared:       []websource.Source{{Title: "the weather today is sunny and warm"}},
	})

	if result.Hallucination >= 1.0 {
		t.Errorf("expected fallback jaccard path to avoid maximal hallucination, got %.4f", result.Hallucination)
	}
}

func TestVerify_HedgedClaimsAreNotPenalized(t *testing.T) {
	v := NewVerifier(stubEmbedder{}, nil, nil, DefaultConfig())

	result := v.Verify(context.Background(), Input{
		Draft:          "I'm not sure, but it might be somewhere in Europe, I think.",
		PriorUtterance: "where is it",
	})

	if len(result.UnanchoredClaims) != 0 {
		t.Errorf("hedge-only draft should extract no factual claims, got %v", result.UnanchoredClaims)
	}
}
