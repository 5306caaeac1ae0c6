package ledger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kestrel-governance/spine-controller/internal/gate"
	"github.com/kestrel-governance/spine-controller/internal/sensortype"
)

func newTestLedger(t *testing.T) *StepLedger {
	t.Helper()
	dir := t.TempDir()
	l, err := Open(filepath.Join(dir, "records"), filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func appendOrFatal(t *testing.T, l *StepLedger, islandID string, kind RecordKind, payload map[string]interface{}) StepRecord {
	t.Helper()
	rec, err := l.Append(context.Background(), islandID, kind, payload, sensortype.Neutral(), nil, nil, 1)
	if err != nil {
		t.Fatalf("Append(%s): %v", kind, err)
	}
	return rec
}

func TestAppend_HashChainLinksConsecutiveRecords(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	islandID, err := l.CreateIsland(ctx)
	if err != nil {
		t.Fatalf("CreateIsland: %v", err)
	}

	first := appendOrFatal(t, l, islandID, KindIslandStart, map[string]interface{}{"n": 1.0})
	if first.PreviousHash != genesisHash {
		t.Errorf("expected genesis previous_hash on first record, got %q", first.PreviousHash)
	}

	second := appendOrFatal(t, l, islandID, KindUserInput, map[string]interface{}{"text": "hello"})
	want := computePreviousHash(first.RecordID, first.ContentHash, first.Timestamp)
	if second.PreviousHash != want {
		t.Errorf("previous_hash mismatch: got %q want %q", second.PreviousHash, want)
	}
}

func TestAppend_SequenceNumsAreContiguousFromZero(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	islandID, _ := l.CreateIsland(ctx)

	for i := 0; i < 5; i++ {
		rec := appendOrFatal(t, l, islandID, KindUserInput, map[string]interface{}{"i": float64(i)})
		if rec.SequenceNum != i {
			t.Errorf("record %d: expected sequence_num %d, got %d", i, i, rec.SequenceNum)
		}
	}
}

func TestAppend_RejectsWriteToInactiveIsland(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	islandID, _ := l.CreateIsland(ctx)
	appendOrFatal(t, l, islandID, KindIslandStart, nil)

	if err := l.CloseIsland(ctx, islandID); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, err := l.Append(ctx, islandID, KindUserInput, nil, sensortype.Neutral(), nil, nil, 1)
	if err == nil {
		t.Fatal("expected Append on a CLOSED island to fail")
	}
}

func TestClose_IsIdempotent(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	islandID, _ := l.CreateIsland(ctx)
	appendOrFatal(t, l, islandID, KindIslandStart, nil)

	if err := l.CloseIsland(ctx, islandID); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := l.CloseIsland(ctx, islandID); err != nil {
		t.Fatalf("second Close should be a no-op, got error: %v", err)
	}

	status, err := l.Status(ctx, islandID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.State != StateClosed {
		t.Errorf("expected CLOSED, got %s", status.State)
	}
}

func TestSuspendResume_RoundTrips(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	islandID, _ := l.CreateIsland(ctx)
	appendOrFatal(t, l, islandID, KindIslandStart, nil)

	if err := l.Suspend(ctx, islandID); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	if _, err := l.Append(ctx, islandID, KindUserInput, nil, sensortype.Neutral(), nil, nil, 1); err == nil {
		t.Fatal("expected Append on a SUSPENDED island to fail")
	}
	if err := l.Resume(ctx, islandID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	appendOrFatal(t, l, islandID, KindUserInput, map[string]interface{}{"resumed": true})
}

func TestTip_ChangesAfterAppendAndIsStableBetweenAppends(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	islandID, _ := l.CreateIsland(ctx)
	appendOrFatal(t, l, islandID, KindIslandStart, map[string]interface{}{"a": 1.0})

	tip1, err := l.Tip(ctx, islandID)
	if err != nil {
		t.Fatalf("Tip: %v", err)
	}
	tip1Again, _ := l.Tip(ctx, islandID)
	if tip1 != tip1Again {
		t.Errorf("Tip changed without an intervening append: %q vs %q", tip1, tip1Again)
	}

	appendOrFatal(t, l, islandID, KindUserInput, map[string]interface{}{"b": 2.0})
	tip2, _ := l.Tip(ctx, islandID)
	if tip1 == tip2 {
		t.Errorf("expected Tip to change after append")
	}
}

func TestVerifyChain_TrueAfterLegalSequence(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	islandID, _ := l.CreateIsland(ctx)

	appendOrFatal(t, l, islandID, KindIslandStart, map[string]interface{}{"turn": 0.0})
	appendOrFatal(t, l, islandID, KindUserInput, map[string]interface{}{"text": "hi"})
	appendOrFatal(t, l, islandID, KindDraft, map[string]interface{}{"text": "hello there"})

	decision := &gate.Decision{Kind: gate.Pass, Reason: "ok"}
	poav := &gate.POAV{Composite: 0.9}
	_, err := l.Append(ctx, islandID, KindGateDecision, map[string]interface{}{"reason": "ok"}, sensortype.Neutral(), poav, decision, 1)
	if err != nil {
		t.Fatalf("Append gate decision: %v", err)
	}

	appendOrFatal(t, l, islandID, KindResponse, map[string]interface{}{"text": "hello there"})
	appendOrFatal(t, l, islandID, KindIslandEnd, map[string]interface{}{"reason": "complete"})
	if err := l.CloseIsland(ctx, islandID); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ok, err := l.VerifyChain(islandID)
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if !ok {
		t.Error("expected VerifyChain to report an intact chain")
	}
}

func TestVerifyChain_DetectsTamperedPayload(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	islandID, _ := l.CreateIsland(ctx)
	appendOrFatal(t, l, islandID, KindIslandStart, map[string]interface{}{"a": 1.0})
	appendOrFatal(t, l, islandID, KindUserInput, map[string]interface{}{"text": "original"})

	path := l.ndjsonPath(islandID)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	tampered := []byte(replaceFirst(string(raw), "original", "tampered!"))
	if err := os.WriteFile(path, tampered, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	ok, err := l.VerifyChain(islandID)
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if ok {
		t.Error("expected VerifyChain to detect the tampered payload")
	}
}

func replaceFirst(s, old, new string) string {
	idx := indexOf(s, old)
	if idx < 0 {
		return s
	}
	return s[:idx] + new + s[idx+len(old):]
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

func TestHandle_SurvivesProcessRestart(t *testing.T) {
	dir := t.TempDir()
	recordsDir := filepath.Join(dir, "records")
	dbPath := filepath.Join(dir, "index.db")

	l1, err := Open(recordsDir, dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	islandID, _ := l1.CreateIsland(ctx)
	appendOrFatal(t, l1, islandID, KindIslandStart, map[string]interface{}{"a": 1.0})
	tipBefore, _ := l1.Tip(ctx, islandID)
	l1.Close()

	l2, err := Open(recordsDir, dbPath)
	if err != nil {
		t.Fatalf("reopen Open: %v", err)
	}
	defer l2.Close()

	tipAfter, err := l2.Tip(ctx, islandID)
	if err != nil {
		t.Fatalf("Tip after restart: %v", err)
	}
	if tipAfter != tipBefore {
		t.Errorf("tip hash changed across restart: before=%q after=%q", tipBefore, tipAfter)
	}

	appendOrFatal(t, l2, islandID, KindUserInput, map[string]interface{}{"after_restart": true})

	ok, err := l2.VerifyChain(islandID)
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if !ok {
		t.Error("expected chain to remain verifiable across a restart and continued append")
	}
}

func TestGateHistory_AuditPassRateIsNeutralWhenEmpty(t *testing.T) {
	l := newTestLedger(t)
	gh := NewGateHistory(l)

	rate, err := gh.AuditPassRate(context.Background(), 50, 24)
	if err != nil {
		t.Fatalf("AuditPassRate: %v", err)
	}
	if rate != 0.5 {
		t.Errorf("expected neutral prior 0.5 on empty history, got %.4f", rate)
	}
}

func TestGateHistory_AuditPassRateReflectsDecisions(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	islandID, _ := l.CreateIsland(ctx)
	appendOrFatal(t, l, islandID, KindIslandStart, nil)

	pass := &gate.Decision{Kind: gate.Pass}
	block := &gate.Decision{Kind: gate.Block}
	for i := 0; i < 3; i++ {
		if _, err := l.Append(ctx, islandID, KindGateDecision, map[string]interface{}{"i": float64(i)}, sensortype.Neutral(), nil, pass, 1); err != nil {
			t.Fatalf("Append pass: %v", err)
		}
	}
	if _, err := l.Append(ctx, islandID, KindGateDecision, map[string]interface{}{"i": 3.0}, sensortype.Neutral(), nil, block, 1); err != nil {
		t.Fatalf("Append block: %v", err)
	}

	gh := NewGateHistory(l)
	rate, err := gh.AuditPassRate(ctx, 50, 24)
	if err != nil {
		t.Fatalf("AuditPassRate: %v", err)
	}
	if rate <= 0.5 {
		t.Errorf("expected pass rate above neutral prior with 3 passes and 1 block, got %.4f", rate)
	}
}

func TestConsecutiveRollbacks_IncrementsAndResetsOnPass(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	islandID, _ := l.CreateIsland(ctx)
	appendOrFatal(t, l, islandID, KindIslandStart, nil)

	appendOrFatal(t, l, islandID, KindRollback, map[string]interface{}{"reason": "rewrite_budget_exhausted"})
	appendOrFatal(t, l, islandID, KindRollback, map[string]interface{}{"reason": "rewrite_budget_exhausted"})

	status, err := l.Status(ctx, islandID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.ConsecutiveRollbacks != 2 {
		t.Errorf("expected 2 consecutive rollbacks, got %d", status.ConsecutiveRollbacks)
	}

	pass := &gate.Decision{Kind: gate.Pass}
	if _, err := l.Append(ctx, islandID, KindResponse, nil, sensortype.Neutral(), nil, pass, 1); err != nil {
		t.Fatalf("Append pass: %v", err)
	}

	status, _ = l.Status(ctx, islandID)
	if status.ConsecutiveRollbacks != 0 {
		t.Errorf("expected a PASS response to reset the rollback counter, got %d", status.ConsecutiveRollbacks)
	}
}
