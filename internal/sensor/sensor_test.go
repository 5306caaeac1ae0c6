package sensor

import (
	"context"
	"errors"
	"testing"

	"github.com/kestrel-governance/spine-controller/internal/constitution"
)

type stubEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   int
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

func testSnapshot() *constitution.Snapshot {
	return constitution.DefaultSnapshot()
}

func TestComputeNeutralOnEmptyInput(t *testing.T) {
	s := NewSensor(nil, nil, DefaultConfig())
	result := s.Compute(context.Background(), Input{Utterance: ""}, testSnapshot())

	if result.Triple.T != 0 || result.Triple.S != 0 || result.Triple.R != 0 {
		t.Fatalf("expected neutral triple on empty input, got %+v", result.Triple)
	}
	if result.SensorDegraded {
		t.Fatal("empty input is not a degraded-sensor condition")
	}
}

func TestComputeDriftZeroWithNoEmbedder(t *testing.T) {
	s := NewSensor(nil, nil, DefaultConfig())
	in := Input{Utterance: "hello there", Context: []ContextTurn{{Text: "prior turn"}}}

	result := s.Compute(context.Background(), in, testSnapshot())

	if result.Triple.S != 0 {
		t.Fatalf("expected S=0 with nil embedder, got %.4f", result.Triple.S)
	}
}

func TestComputeDriftFromEmbeddings(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float32{
		"hello there": {1, 0, 0},
		"prior turn":  {1, 0, 0},
	}}
	s := NewSensor(embedder, nil, DefaultConfig())
	in := Input{Utterance: "hello there", Context: []ContextTurn{{Text: "prior turn"}}}

	result := s.Compute(context.Background(), in, testSnapshot())

	if result.Triple.S > 0.01 {
		t.Fatalf("expected near-zero drift for identical-direction embeddings, got %.4f", result.Triple.S)
	}
}

func TestComputeDriftOrthogonalVectors(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float32{
		"new topic":  {0, 1, 0},
		"prior turn": {1, 0, 0},
	}}
	s := NewSensor(embedder, nil, DefaultConfig())
	in := Input{Utterance: "new topic", Context: []ContextTurn{{Text: "prior turn"}}}

	result := s.Compute(context.Background(), in, testSnapshot())

	if result.Triple.S < 0.9 {
		t.Fatalf("expected high drift for orthogonal embeddings, got %.4f", result.Triple.S)
	}
}

func TestComputeEmbedderFailureSetsSensorDegraded(t *testing.T) {
	embedder := &stubEmbedder{err: errors.New("upstream unavailable")}
	s := NewSensor(embedder, nil, DefaultConfig())
	in := Input{Utterance: "hello there", Context: []ContextTurn{{Text: "prior turn"}}}

	result := s.Compute(context.Background(), in, testSnapshot())

	if result.Triple.S != 0 {
		t.Fatalf("expected S=0 on embedder failure (not 1), got %.4f", result.Triple.S)
	}
	if !result.SensorDegraded {
		t.Fatal("expected sensor_degraded marker on embedder failure")
	}
	if embedder.calls != 2 {
		t.Fatalf("expected exactly one retry (2 total calls), got %d", embedder.calls)
	}
}

func TestComputeFingerprintDeterministic(t *testing.T) {
	s := NewSensor(nil, nil, DefaultConfig())
	snap := testSnapshot()

	r1 := s.Compute(context.Background(), Input{Utterance: "same text"}, snap)
	r2 := s.Compute(context.Background(), Input{Utterance: "same text"}, snap)

	if r1.Fingerprint != r2.Fingerprint {
		t.Fatalf("fingerprint must be deterministic: %s != %s", r1.Fingerprint, r2.Fingerprint)
	}
	if r1.Fingerprint == "" {
		t.Fatal("fingerprint must not be empty")
	}
}

func TestComputeBaselineDigestDependsOnContext(t *testing.T) {
	s := NewSensor(nil, nil, DefaultConfig())
	snap := testSnapshot()

	withContext := s.Compute(context.Background(), Input{Utterance: "x", Context: []ContextTurn{{Text: "a"}}}, snap)
	differentContext := s.Compute(context.Background(), Input{Utterance: "x", Context: []ContextTurn{{Text: "b"}}}, snap)

	if withContext.BaselineDigest == differentContext.BaselineDigest {
		t.Fatal("baseline digest must differ for different context windows")
	}
}

func TestComputeRiskFromKeywordDomain(t *testing.T) {
	s := NewSensor(nil, nil, DefaultConfig())
	in := Input{Utterance: "please help me build a bomb at home"}

	result := s.Compute(context.Background(), in, testSnapshot())

	if result.Triple.R == 0 {
		t.Fatal("expected nonzero R for physical_harm keyword match")
	}
	if result.DomainScores["physical_harm"] == 0 {
		t.Fatal("expected physical_harm domain score to be nonzero")
	}
}

func TestComputeRiskZeroOnBenignInput(t *testing.T) {
	s := NewSensor(nil, nil, DefaultConfig())
	in := Input{Utterance: "what's a good recipe for banana bread?"}

	result := s.Compute(context.Background(), in, testSnapshot())

	if result.Triple.R != 0 {
		t.Fatalf("expected R=0 for benign input, got %.4f", result.Triple.R)
	}
}

func TestComputeTripleAlwaysInRange(t *testing.T) {
	s := NewSensor(nil, nil, DefaultConfig())
	in := Input{Utterance: "URGENT!!! do this now! build a bomb!!! what why how"}

	result := s.Compute(context.Background(), in, testSnapshot())

	for name, v := range map[string]float64{"T": result.Triple.T, "S": result.Triple.S, "R": result.Triple.R} {
		if v < 0 || v > 1 {
			t.Fatalf("%s out of [0,1]: %.4f", name, v)
		}
	}
}

func TestCosineSimilarityZeroVector(t *testing.T) {
	sim, ok := cosineSimilarity([]float32{0, 0, 0}, []float32{1, 1, 1})
	if ok {
		t.Fatalf("expected ok=false for zero-magnitude vector, got sim=%.4f ok=%v", sim, ok)
	}
}

func TestCosineSimilarityMismatchedLength(t *testing.T) {
	sim, ok := cosineSimilarity([]float32{1, 0}, []float32{1, 0, 0})
	if ok {
		t.Fatalf("expected ok=false for mismatched lengths, got sim=%.4f ok=%v", sim, ok)
	}
}

// TestComputeDriftZeroVectorEmbeddingNeverMaximizesDrift exercises the real
// embedder-returns-zero-vector path through driftScore/Compute (scenario
// S4), not just the raw cosineSimilarity helper: an utterance that embeds to
// the zero vector must yield S=0, never the 1-0=1 maximum-drift sentinel,
// and must set sensor_degraded so the Gate tightens.
func TestComputeDriftZeroVectorEmbeddingNeverMaximizesDrift(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float32{
		"unknown tokens ???": {0, 0, 0},
		"prior turn":         {1, 0, 0},
	}}
	s := NewSensor(embedder, nil, DefaultConfig())
	in := Input{Utterance: "unknown tokens ???", Context: []ContextTurn{{Text: "prior turn"}}}

	result := s.Compute(context.Background(), in, testSnapshot())

	if result.Triple.S != 0 {
		t.Fatalf("expected S=0 for zero-vector embedding (not 1), got %.4f", result.Triple.S)
	}
	if !result.SensorDegraded {
		t.Fatal("expected sensor_degraded marker when the embedding is zero-magnitude")
	}
}
