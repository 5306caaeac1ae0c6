package spine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/kestrel-governance/spine-controller/internal/adapter"
	"github.com/kestrel-governance/spine-controller/internal/constitution"
	"github.com/kestrel-governance/spine-controller/internal/gate"
	"github.com/kestrel-governance/spine-controller/internal/ledger"
	"github.com/kestrel-governance/spine-controller/internal/sensor"
	"github.com/kestrel-governance/spine-controller/internal/sensortype"
	"github.com/kestrel-governance/spine-controller/internal/verifier"
	"github.com/kestrel-governance/spine-controller/internal/websource"
)

// #region spine

// Spine drives one utterance end to end through the
// RECEIVED→SENSED→GATED→DRAFTING→VERIFIED→GATED#2 state machine described
// in §4.7. Outstanding Drafter calls are bounded by a buffered-channel
// semaphore; within a single island, utterances are serialized by a
// per-island mutex to preserve sequence monotonicity, while different
// islands proceed fully in parallel.
type Spine struct {
	wiring Wiring
	config Config

	sem         chan struct{}
	islandLocks sync.Map // island_id -> *sync.Mutex
}

// New constructs a Spine from an explicit Wiring, mirroring the teacher's
// explicit store/codecClient/orchestrator construction rather than any
// runtime component discovery.
func New(w Wiring, cfg Config) *Spine {
	return &Spine{
		wiring: w,
		config: cfg,
		sem:    make(chan struct{}, cfg.MaxInFlight),
	}
}

// SetDrafter rewires the Spine's Drafter collaborator in place. Used by the
// replay harness to swap in a fresh canned-answer stub ahead of each fixture
// turn; production callers have no reason to call this after New.
func (s *Spine) SetDrafter(d adapter.Drafter) {
	s.wiring.Drafter = d
}

func (s *Spine) islandLock(islandID string) *sync.Mutex {
	v, _ := s.islandLocks.LoadOrStore(islandID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// #endregion spine

// #region island-lifecycle

// OpenIsland creates a fresh ACTIVE island and records its ISLAND_START.
func (s *Spine) OpenIsland(ctx context.Context) (string, error) {
	islandID, err := s.wiring.Ledger.CreateIsland(ctx)
	if err != nil {
		return "", fmt.Errorf("spine: open island: %w", err)
	}
	snap := s.wiring.Store.Current()
	_, err = s.wiring.Ledger.Append(ctx, islandID, ledger.KindIslandStart, map[string]interface{}{}, zeroTriple(), nil, nil, snap.Version)
	if err != nil {
		return "", fmt.Errorf("spine: record island start: %w", err)
	}
	return islandID, nil
}

// CloseIsland appends the sealing ISLAND_END record and closes the island.
func (s *Spine) CloseIsland(ctx context.Context, islandID string) error {
	lock := s.islandLock(islandID)
	lock.Lock()
	defer lock.Unlock()

	status, err := s.wiring.Ledger.Status(ctx, islandID)
	if err != nil {
		return fmt.Errorf("spine: close island: %w", err)
	}
	if status.State == ledger.StateActive {
		snap := s.wiring.Store.Current()
		if _, err := s.wiring.Ledger.Append(ctx, islandID, ledger.KindIslandEnd, map[string]interface{}{"reason": "caller_requested"}, zeroTriple(), nil, nil, snap.Version); err != nil {
			return fmt.Errorf("spine: record island end: %w", err)
		}
	}
	return s.wiring.Ledger.CloseIsland(ctx, islandID)
}

// Verify replays islandID's chain from disk and reports whether it is intact.
func (s *Spine) Verify(islandID string) (bool, error) {
	return s.wiring.Ledger.VerifyChain(islandID)
}

// Tip returns islandID's current tip hash.
func (s *Spine) Tip(ctx context.Context, islandID string) (string, error) {
	return s.wiring.Ledger.Tip(ctx, islandID)
}

// #endregion island-lifecycle

// #region submit

// Submit drives one utterance through the full governance pipeline. A
// constitution snapshot is captured once, at entry, and used for every
// downstream decision in this call — a concurrent Reload cannot change
// thresholds partway through an in-flight utterance.
func (s *Spine) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	default:
		return SubmitResult{}, ErrBackpressure
	}

	snap := s.wiring.Store.Current()

	islandID := req.IslandID
	if islandID == "" {
		var err error
		islandID, err = s.OpenIsland(ctx)
		if err != nil {
			return SubmitResult{}, err
		}
	}

	lock := s.islandLock(islandID)
	lock.Lock()
	defer lock.Unlock()

	status, err := s.wiring.Ledger.Status(ctx, islandID)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("spine: submit: %w", err)
	}
	if status.State != ledger.StateActive {
		if status.ConsecutiveRollbacks >= snap.ConsecutiveRollbackLimit {
			return SubmitResult{}, ErrIslandBreakerTripped
		}
		return SubmitResult{}, ErrIslandNotActive
	}

	// Integrity failures are fatal for the island: any mismatch forces a
	// close and reports ChainCorrupted rather than building further records
	// on a chain that no longer verifies.
	intact, err := s.wiring.Ledger.VerifyChain(islandID)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("spine: verify chain: %w", err)
	}
	if !intact {
		if _, appendErr := s.wiring.Ledger.Append(ctx, islandID, ledger.KindIslandEnd,
			map[string]interface{}{"reason": "chain_corrupted"}, zeroTriple(), nil, nil, snap.Version); appendErr != nil {
			log.Printf("[SPINE] failed to record chain_corrupted marker for island %s: %v", islandID, appendErr)
		}
		if closeErr := s.wiring.Ledger.CloseIsland(ctx, islandID); closeErr != nil {
			log.Printf("[SPINE] failed to close corrupted island %s: %v", islandID, closeErr)
		}
		return SubmitResult{}, ErrChainCorrupted
	}

	return s.runUtterance(ctx, islandID, snap, req)
}

// #endregion submit

// #region state-machine

// runUtterance implements RECEIVED through the terminal RESPONSE/FALLBACK
// record, holding islandID's lock for its whole duration.
func (s *Spine) runUtterance(ctx context.Context, islandID string, snap *constitution.Snapshot, req SubmitRequest) (SubmitResult, error) {
	contextTurns, contextTexts, err := s.recentContext(islandID, snap.SensorWindowTurns)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("spine: load context: %w", err)
	}

	// SENSED
	sensed := s.wiring.Sensor.Compute(ctx, sensor.Input{Utterance: req.Text, Context: contextTurns}, snap)

	if _, err := s.wiring.Ledger.Append(ctx, islandID, ledger.KindUserInput,
		map[string]interface{}{"text": req.Text, "sensor_degraded": sensed.SensorDegraded},
		sensed.Triple, nil, nil, snap.Version); err != nil {
		return SubmitResult{}, fmt.Errorf("spine: record user input: %w", err)
	}

	p0Rules := toGateRules(snap.P0Rules())
	presence := gate.DomainPresence(sensed.DomainScores)
	weights := toGateWeights(snap.POAVWeights)

	auditPassRate, err := s.wiring.History.AuditPassRate(ctx, s.config.AuditWindowSize, s.config.AuditHalfLifeHours)
	if err != nil {
		log.Printf("[SPINE] audit pass rate unavailable, using neutral prior: %v", err)
		auditPassRate = 0.5
	}

	// GATED (Gate #1): hallucination is not yet known, so the pre-draft
	// estimate assumes the best case (0) — only the P0 and critical-risk
	// checks can fire meaningfully here, exactly as §4.7 describes.
	preScores := gate.Scores{Hallucination: 0, AuditPassRate: auditPassRate}
	decision1 := s.wiring.Gate.Evaluate(sensed.Triple, presence, p0Rules, preScores, weights,
		snap.Thresholds.RiskCritical, snap.Thresholds.HallucCritical, snap.Thresholds.POAVPass, snap.Thresholds.POAVRewriteFloor,
		sensed.SensorDegraded)

	if _, err := s.appendGateDecision(ctx, islandID, snap, sensed.Triple, decision1); err != nil {
		return SubmitResult{}, err
	}

	switch decision1.Kind {
	case gate.Block:
		return s.emitFallback(ctx, islandID, snap, decision1)
	case gate.Rewrite:
		if snap.RewriteBudget <= 0 {
			return s.emitFallback(ctx, islandID, snap, decision1)
		}
	}

	return s.draftVerifyLoop(ctx, islandID, snap, req, sensed, contextTexts, p0Rules, presence, weights, auditPassRate, snap.RewriteBudget)
}

// draftVerifyLoop runs DRAFTING→VERIFIED→GATED#2, redrafting up to budget
// times on REWRITE before falling back to a deterministic safe response.
func (s *Spine) draftVerifyLoop(
	ctx context.Context,
	islandID string,
	snap *constitution.Snapshot,
	req SubmitRequest,
	sensed sensor.Result,
	contextTexts []string,
	p0Rules []gate.Rule,
	presence gate.DomainPresence,
	weights gate.POAVWeights,
	auditPassRate float64,
	budget int,
) (SubmitResult, error) {
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return s.emitCancelled(ctx, islandID, snap)
		}

		modulation := adapter.Modulate(sensed.Triple, snap.Thresholds.TensionDeescalate, snap.Thresholds.RiskCritical)
		draftReq := adapter.DraftRequest{Prompt: modulation.PromptModifier + req.Text, Context: contextTexts, Modulation: modulation}

		draftResult, err := s.generateWithRetry(ctx, draftReq)
		if err != nil {
			log.Printf("[SPINE] drafter unavailable after retry, emitting degraded fallback: %v", err)
			return s.emitDegradedDraft(ctx, islandID, snap)
		}

		if _, err := s.wiring.Ledger.Append(ctx, islandID, ledger.KindDraft,
			map[string]interface{}{"text": draftResult.Text, "band": modulation.Band, "attempt": attempt},
			sensed.Triple, nil, nil, snap.Version); err != nil {
			return SubmitResult{}, fmt.Errorf("spine: record draft: %w", err)
		}

		declared := req.Declared
		if parsed := websource.ParseDeclared(draftResult.Text, s.config.Websource); len(parsed) > 0 {
			declared = append(append([]websource.Source(nil), declared...), parsed...)
		}

		verifyResult := s.wiring.Verifier.Verify(ctx, verifier.Input{
			Draft:          draftResult.Text,
			PriorUtterance: req.Text,
			Declared:       declared,
		})

		if _, err := s.wiring.Ledger.Append(ctx, islandID, ledger.KindVerify,
			map[string]interface{}{
				"hallucination":     verifyResult.Hallucination,
				"consistent":        verifyResult.Consistent,
				"unanchored_claims": verifyResult.UnanchoredClaims,
			}, sensed.Triple, nil, nil, snap.Version); err != nil {
			return SubmitResult{}, fmt.Errorf("spine: record verify: %w", err)
		}

		scores := gate.Scores{Hallucination: verifyResult.Hallucination, AuditPassRate: auditPassRate}
		decision2 := s.wiring.Gate.Evaluate(sensed.Triple, presence, p0Rules, scores, weights,
			snap.Thresholds.RiskCritical, snap.Thresholds.HallucCritical, snap.Thresholds.POAVPass, snap.Thresholds.POAVRewriteFloor,
			sensed.SensorDegraded)

		if _, err := s.appendGateDecision(ctx, islandID, snap, sensed.Triple, decision2); err != nil {
			return SubmitResult{}, err
		}

		switch decision2.Kind {
		case gate.Pass:
			return s.emitResponse(ctx, islandID, snap, draftResult.Text, decision2)
		case gate.Rewrite:
			if budget <= 0 {
				return s.emitFallback(ctx, islandID, snap, decision2)
			}
			budget--
			continue
		case gate.Block:
			return s.rollbackAndFallback(ctx, islandID, snap, decision2, verifyResult.ClaimIDs)
		}
	}
}

// #endregion state-machine

// #region terminal-paths

// emitResponse records the accepted draft as the utterance's terminal
// RESPONSE record.
func (s *Spine) emitResponse(ctx context.Context, islandID string, snap *constitution.Snapshot, text string, decision gate.Decision) (SubmitResult, error) {
	rec, err := s.wiring.Ledger.Append(ctx, islandID, ledger.KindResponse,
		map[string]interface{}{"text": text}, zeroTriple(), decision.POAV, &decision, snap.Version)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("spine: record response: %w", err)
	}
	return SubmitResult{IslandID: islandID, Response: text, Decision: decision, RecordID: rec.RecordID}, nil
}

// emitFallback appends the deterministic constitution-provided FALLBACK
// text followed by a RESPONSE record pointing to it. Used for a Gate#1
// BLOCK, a Gate#1 REWRITE with an exhausted budget before any draft was
// attempted, and a Gate#2 REWRITE with an exhausted budget.
func (s *Spine) emitFallback(ctx context.Context, islandID string, snap *constitution.Snapshot, decision gate.Decision) (SubmitResult, error) {
	if _, err := s.wiring.Ledger.Append(ctx, islandID, ledger.KindFallback,
		map[string]interface{}{"reason": decision.Reason}, zeroTriple(), decision.POAV, &decision, snap.Version); err != nil {
		return SubmitResult{}, fmt.Errorf("spine: record fallback: %w", err)
	}
	return s.emitResponse(ctx, islandID, snap, snap.FallbackText, decision)
}

// emitDegradedDraft emits a safe response when the drafter is unreachable
// even after a retry. Surfaced as a normal response carrying a
// degraded_draft marker, never a Go error, per §7's upstream-failure rule.
func (s *Spine) emitDegradedDraft(ctx context.Context, islandID string, snap *constitution.Snapshot) (SubmitResult, error) {
	decision := gate.Decision{Kind: gate.Rewrite, Reason: "drafter_unavailable"}
	if _, err := s.wiring.Ledger.Append(ctx, islandID, ledger.KindFallback,
		map[string]interface{}{"reason": decision.Reason, "degraded_draft": true}, zeroTriple(), nil, &decision, snap.Version); err != nil {
		return SubmitResult{}, fmt.Errorf("spine: record degraded fallback: %w", err)
	}
	return s.emitResponse(ctx, islandID, snap, snap.FallbackText, decision)
}

// emitCancelled handles a context cancellation observed between Gate#1 and
// Gate#2, emitting FALLBACK + RESPONSE(kind=cancelled) rather than leaving
// an inconsistent half-state.
func (s *Spine) emitCancelled(ctx context.Context, islandID string, snap *constitution.Snapshot) (SubmitResult, error) {
	decision := gate.Decision{Kind: gate.Rewrite, Reason: "caller_deadline_exceeded"}
	bgCtx := context.Background()
	if _, err := s.wiring.Ledger.Append(bgCtx, islandID, ledger.KindFallback,
		map[string]interface{}{"reason": decision.Reason, "kind": "cancelled"}, zeroTriple(), nil, &decision, snap.Version); err != nil {
		return SubmitResult{}, fmt.Errorf("spine: record cancellation fallback: %w", err)
	}
	result, err := s.emitResponse(bgCtx, islandID, snap, snap.FallbackText, decision)
	if err != nil {
		return result, err
	}
	return result, ErrCallerDeadlineExceeded
}

// rollbackAndFallback implements the Rollback Reflex: a Gate#2 BLOCK after
// a draft/verify cycle appends a ROLLBACK record referencing the most
// recent draft, never rewriting or deleting it, then checks whether the
// circuit breaker must trip before emitting the usual fallback response.
// rolledClaimIDs severs the voided draft's claims from the grounding graph
// so a blocked draft's confirmations can never count toward a future turn's
// grounding check for the same wording.
func (s *Spine) rollbackAndFallback(ctx context.Context, islandID string, snap *constitution.Snapshot, decision gate.Decision, rolledClaimIDs []string) (SubmitResult, error) {
	payload := map[string]interface{}{"reason": decision.Reason}
	drafts, err := s.wiring.Ledger.RecentPayloads(islandID, 1, ledger.KindDraft)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("spine: find rolled-back draft: %w", err)
	}
	if len(drafts) == 1 {
		payload["rolled_back_record_id"] = drafts[0].RecordID
	}
	if _, err := s.wiring.Ledger.Append(ctx, islandID, ledger.KindRollback,
		payload, zeroTriple(), decision.POAV, &decision, snap.Version); err != nil {
		return SubmitResult{}, fmt.Errorf("spine: record rollback: %w", err)
	}
	s.wiring.Verifier.Sever(rolledClaimIDs)

	status, err := s.wiring.Ledger.Status(ctx, islandID)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("spine: read rollback status: %w", err)
	}

	if status.ConsecutiveRollbacks >= snap.ConsecutiveRollbackLimit {
		// Emit the fallback/response pair before the sealing ISLAND_END so
		// that the island's last record — and therefore its island_hash,
		// per §6 — is the breaker-trip seal, not the response.
		result, fbErr := s.emitFallback(ctx, islandID, snap, decision)
		if fbErr != nil {
			return result, fbErr
		}
		if _, err := s.wiring.Ledger.Append(ctx, islandID, ledger.KindIslandEnd,
			map[string]interface{}{"reason": "breaker_tripped"}, zeroTriple(), nil, nil, snap.Version); err != nil {
			return result, fmt.Errorf("spine: record breaker trip: %w", err)
		}
		if closeErr := s.wiring.Ledger.CloseIsland(ctx, islandID); closeErr != nil {
			log.Printf("[SPINE] failed to close breaker-tripped island %s: %v", islandID, closeErr)
		}
		return result, nil
	}

	return s.emitFallback(ctx, islandID, snap, decision)
}

// #endregion terminal-paths

// #region helpers

// appendGateDecision records one GATE_DECISION record for either Gate#1 or
// Gate#2's output.
func (s *Spine) appendGateDecision(ctx context.Context, islandID string, snap *constitution.Snapshot, triple sensortype.Triple, decision gate.Decision) (ledger.StepRecord, error) {
	rec, err := s.wiring.Ledger.Append(ctx, islandID, ledger.KindGateDecision,
		map[string]interface{}{"reason": decision.Reason}, triple, decision.POAV, &decision, snap.Version)
	if err != nil {
		return ledger.StepRecord{}, fmt.Errorf("spine: record gate decision: %w", err)
	}
	return rec, nil
}

// generateWithRetry calls the Drafter once, retries once after a short
// backoff on failure, and gives up otherwise — mirroring the Sensor's
// embedWithRetry idiom for the same "timeout -> retry once" failure rule.
func (s *Spine) generateWithRetry(ctx context.Context, req adapter.DraftRequest) (adapter.DraftResult, error) {
	result, err := s.wiring.Drafter.Generate(ctx, req)
	if err == nil {
		return result, nil
	}
	select {
	case <-time.After(100 * time.Millisecond):
	case <-ctx.Done():
		return adapter.DraftResult{}, ctx.Err()
	}
	return s.wiring.Drafter.Generate(ctx, req)
}

// recentContext loads the last n user-input/response texts for islandID,
// both as sensor.ContextTurn values (for the Sensor) and as plain strings
// (for the Drafter's prompt context).
func (s *Spine) recentContext(islandID string, n int) ([]sensor.ContextTurn, []string, error) {
	records, err := s.wiring.Ledger.RecentPayloads(islandID, n, ledger.KindUserInput, ledger.KindResponse)
	if err != nil {
		return nil, nil, err
	}
	turns := make([]sensor.ContextTurn, 0, len(records))
	texts := make([]string, 0, len(records))
	for _, r := range records {
		text, _ := r.Payload["text"].(string)
		if text == "" {
			continue
		}
		turns = append(turns, sensor.ContextTurn{Text: text})
		texts = append(texts, text)
	}
	return turns, texts, nil
}

// toGateRules converts constitution.Rule values to the gate package's
// narrower local Rule shape.
func toGateRules(rules []constitution.Rule) []gate.Rule {
	out := make([]gate.Rule, len(rules))
	for i, r := range rules {
		out[i] = gate.Rule{ID: r.ID, Domain: r.Domain, PresenceFloor: r.PresenceFloor}
	}
	return out
}

// toGateWeights converts constitution.POAVWeights to gate.POAVWeights.
func toGateWeights(w constitution.POAVWeights) gate.POAVWeights {
	return gate.POAVWeights{
		Precision:    w.Precision,
		Observation:  w.Observation,
		Avoidance:    w.Avoidance,
		Verification: w.Verification,
	}
}

func zeroTriple() sensortype.Triple {
	return sensortype.Neutral()
}

// #endregion helpers
