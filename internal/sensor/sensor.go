package sensor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"math"
	"strings"
	"time"

	"github.com/kestrel-governance/spine-controller/internal/constitution"
	"github.com/kestrel-governance/spine-controller/internal/sensortype"
)

// #region sensor

// Sensor converts an utterance plus an island's recent context into a
// triple, a content fingerprint, and a baseline digest. Deterministic
// given the same inputs and constitution snapshot — the only
// non-determinism in the underlying algorithm (embedding lookups) is
// isolated behind the Embedder/Cache interfaces and always degrades to a
// fixed value (S=0) rather than an unpredictable one. Descended from the
// teacher's signals.Producer, replacing its sentiment/coherence/novelty
// triad with the spec's Tension/Drift/Risk triad.
type Sensor struct {
	embedder Embedder
	cache    Cache
	config   Config
}

// NewSensor constructs a Sensor. embedder may be nil, in which case S is
// always 0 and the sensor_degraded marker is not set (consistent with the
// teacher's signals.Producer.coherenceScore nil-embedder branch). cache may
// be nil.
func NewSensor(embedder Embedder, cache Cache, config Config) *Sensor {
	return &Sensor{embedder: embedder, cache: cache, config: config}
}

// #endregion sensor

// #region compute

// Compute produces one Result for utt against the given context window and
// constitution snapshot. Never returns an error: the "cannot form an
// embedding" case folds into S=0 plus the sensor_degraded marker rather
// than a distinct error channel, per the spec's explicit
// innocent-until-proven rule.
func (s *Sensor) Compute(ctx context.Context, in Input, snap *constitution.Snapshot) Result {
	fingerprint := hashText(in.Utterance)
	baseline := hashContext(in.Context)

	tension := tensionScore(in.Utterance, s.config.TypicalUtteranceLength)

	domainScores := make(map[string]float64, len(snap.RiskDomains))
	lower := strings.ToLower(in.Utterance)
	var risk float64
	for _, domain := range snap.RiskDomains {
		presence := domainPresence(lower, domain.Keywords)
		score := sensortype.Clamp(domain.Weight * presence)
		domainScores[domain.Name] = score
		if score > risk {
			risk = score
		}
	}

	drift, degraded := s.driftScore(ctx, in)

	return Result{
		Triple:         sensortype.Triple{T: sensortype.Clamp(tension), S: sensortype.Clamp(drift), R: sensortype.Clamp(risk)},
		Fingerprint:    fingerprint,
		BaselineDigest: baseline,
		SensorDegraded: degraded,
		DomainScores:   domainScores,
	}
}

// #endregion compute

// #region drift

// driftScore is 1-cos(v_utt, v_context) where v_context is the mean of the
// recent context embeddings. Returns (0, false) immediately when there is
// no embedder, no utterance text, or no context to compare against — none
// of those are failures, just nothing to measure drift against.
func (s *Sensor) driftScore(ctx context.Context, in Input) (float64, bool) {
	if s.embedder == nil || strings.TrimSpace(in.Utterance) == "" || len(in.Context) == 0 {
		return 0, false
	}

	utterEmb, err := s.embedWithRetry(ctx, in.Utterance)
	if err != nil {
		log.Printf("[SENSOR] embedder unavailable for utterance, S=0 sensor_degraded: %v", err)
		return 0, true
	}

	contextEmb, err := s.meanContextEmbedding(ctx, in.Context)
	if err != nil {
		log.Printf("[SENSOR] embedder unavailable for context, S=0 sensor_degraded: %v", err)
		return 0, true
	}

	sim, ok := cosineSimilarity(utterEmb, contextEmb)
	if !ok {
		// Zero-magnitude embedding on one side: there is nothing to measure
		// drift against, so S=0 (never the 1-0=1 maximum-drift sentinel) and
		// the marker tells the Gate to tighten, per §4.1/§9 and scenario S4.
		return 0, true
	}
	return 1 - sim, false
}

// meanContextEmbedding averages the embeddings of the context window.
func (s *Sensor) meanContextEmbedding(ctx context.Context, turns []ContextTurn) ([]float32, error) {
	var sum []float32
	var n int
	for _, turn := range turns {
		emb, err := s.embedWithRetry(ctx, turn.Text)
		if err != nil {
			return nil, err
		}
		if sum == nil {
			sum = make([]float32, len(emb))
		}
		for i := range emb {
			if i < len(sum) {
				sum[i] += emb[i]
			}
		}
		n++
	}
	if n == 0 {
		return nil, nil
	}
	for i := range sum {
		sum[i] /= float32(n)
	}
	return sum, nil
}

// embedWithRetry retries once with a short backoff on failure, per the
// spec's "Embedder timeout -> retry once with backoff" failure semantics.
// Cache-checked by content fingerprint first.
func (s *Sensor) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	fp := hashText(text)
	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, fp); ok {
			return cached, nil
		}
	}

	emb, err := s.embedder.Embed(ctx, text)
	if err != nil {
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		emb, err = s.embedder.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
	}

	if s.cache != nil {
		s.cache.Set(ctx, fp, emb)
	}
	return emb, nil
}

// #endregion drift

// #region hashing

// hashText returns the hex-encoded SHA-256 of text, used as the Sensor's
// fingerprint. The Ledger uses the same primitive (crypto/sha256) for its
// hash chain so a fingerprint can be verified independently of the Ledger.
func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// hashContext hashes the concatenation of the context window's texts in
// order, forming the baseline_digest the spec requires.
func hashContext(turns []ContextTurn) string {
	var b strings.Builder
	for _, t := range turns {
		b.WriteString(t.Text)
		b.WriteByte(0)
	}
	return hashText(b.String())
}

// #endregion hashing

// #region cosine

// cosineSimilarity returns (similarity, true) for two equal-length,
// non-empty, non-zero-magnitude vectors. The second return is false for
// zero-length, mismatched, or zero-magnitude vectors — callers must not
// treat that case as a similarity of 0, since 1-0 would read as maximum
// drift, the exact opposite of the spec's zero-vector edge case.
func cosineSimilarity(a, b []float32) (float64, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0, false
	}
	return dot / denom, true
}

// #endregion cosine
