package ledger

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/kestrel-governance/spine-controller/internal/gate"
	"github.com/kestrel-governance/spine-controller/internal/sensortype"
)

// #region schema

// schema mirrors the teacher's state.Store idiom: state_versions'
// version_id/parent_id chain becomes step_records' record_id/previous_hash
// chain; the active_state singleton becomes one row per island in islands
// carrying its current state/tip/sequence rather than a single pointer.
const schema = `
CREATE TABLE IF NOT EXISTS islands (
	island_id      TEXT PRIMARY KEY,
	state          TEXT NOT NULL,
	created_at     TEXT NOT NULL,
	sequence_num   INTEGER NOT NULL DEFAULT 0,
	tip_hash       TEXT NOT NULL DEFAULT '',
	context_digest TEXT NOT NULL DEFAULT '',
	last_record_id      TEXT NOT NULL DEFAULT '',
	last_content_hash   TEXT NOT NULL DEFAULT '',
	last_timestamp      TEXT NOT NULL DEFAULT '',
	consecutive_rollbacks INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS step_records (
	record_id     TEXT PRIMARY KEY,
	island_id     TEXT NOT NULL,
	sequence_num  INTEGER NOT NULL,
	kind          TEXT NOT NULL,
	timestamp     TEXT NOT NULL,
	content_hash  TEXT NOT NULL,
	previous_hash TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (island_id) REFERENCES islands(island_id)
);
CREATE INDEX IF NOT EXISTS idx_step_records_island ON step_records(island_id, sequence_num);

CREATE TABLE IF NOT EXISTS gate_history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	island_id   TEXT NOT NULL,
	sequence_num INTEGER NOT NULL,
	decision    TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_gate_history_island ON gate_history(island_id);
`

// #endregion schema

// #region handle

// islandHandle is the Ledger's in-memory, per-island writer state. mu is
// the single-exclusive-writer lock the spec's concurrency model requires:
// multiple islands append in parallel, but one island is serialized.
type islandHandle struct {
	mu sync.Mutex

	state         IslandState
	createdAt     time.Time
	nextSeq       int
	tipHash       string
	contextDigest string

	lastRecordID     string
	lastContentHash  string
	lastTimestamp    string
	consecutiveRollbacks int

	file *os.File
}

// #endregion handle

// #region ledger

// StepLedger is the durable, append-only, hash-chained record store, one
// chain per TimeIsland. The NDJSON file under dir/<island_id>.ndjson is the
// source of truth VerifyChain replays from scratch; the SQLite index at
// dbPath exists purely for fast lookups (Tip, Status, audit queries).
type StepLedger struct {
	dir string
	db  *sql.DB

	islands sync.Map // island_id -> *islandHandle
}

// Open creates the ledger directory and secondary index if needed and
// returns a ready StepLedger.
func Open(dir, dbPath string) (*StepLedger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ledger: create dir %s: %w", dir, err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("ledger: open index: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("ledger: pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("ledger: migrate: %w", err)
	}
	return &StepLedger{dir: dir, db: db}, nil
}

// Close releases the secondary index connection and every open island file.
func (l *StepLedger) Close() error {
	l.islands.Range(func(_, v interface{}) bool {
		h := v.(*islandHandle)
		h.file.Close()
		return true
	})
	return l.db.Close()
}

// #endregion ledger

// #region create-island

// CreateIsland opens a new ACTIVE island and returns its id.
func (l *StepLedger) CreateIsland(ctx context.Context) (string, error) {
	islandID := uuid.New().String()
	now := time.Now().UTC()

	f, err := os.OpenFile(l.ndjsonPath(islandID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", fmt.Errorf("ledger: open ndjson: %w", err)
	}

	h := &islandHandle{state: StateActive, createdAt: now, file: f}
	l.islands.Store(islandID, h)

	_, err = l.db.ExecContext(ctx,
		`INSERT INTO islands (island_id, state, created_at) VALUES (?, ?, ?)`,
		islandID, string(StateActive), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("ledger: register island: %w", err)
	}
	return islandID, nil
}

// #endregion create-island

// #region append

// Append writes one StepRecord to islandID's chain. payload and decision
// are kind-specific and may be nil/empty for kinds that carry no extra
// data. The append is synchronously committed to the NDJSON file before
// this call returns; it is additionally fsynced at island boundaries
// (ISLAND_START/ISLAND_END) and before BLOCK decisions, per §4.6.
func (l *StepLedger) Append(
	ctx context.Context,
	islandID string,
	kind RecordKind,
	payload map[string]interface{},
	triple sensortype.Triple,
	poav *gate.POAV,
	decision *gate.Decision,
	constitutionVersion int,
) (StepRecord, error) {
	h, ok := l.handle(islandID)
	if !ok {
		return StepRecord{}, fmt.Errorf("%w: %s", ErrIslandNotFound, islandID)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != StateActive {
		return StepRecord{}, fmt.Errorf("%w: island %s is %s", ErrIslandNotActive, islandID, h.state)
	}

	if payload == nil {
		payload = map[string]interface{}{}
	}

	contentHash, err := computeContentHash(payload)
	if err != nil {
		return StepRecord{}, fmt.Errorf("ledger: content hash: %w", err)
	}

	seq := h.nextSeq
	var previousHash string
	if seq == 0 {
		previousHash = genesisHash
	} else {
		previousHash = computePreviousHash(h.lastRecordID, h.lastContentHash, h.lastTimestamp)
	}

	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	if timestamp <= h.lastTimestamp {
		// Weak monotonicity (§4.6): never let wall-clock jitter move a
		// later record's timestamp behind the previous one.
		timestamp = h.lastTimestamp
	}

	record := StepRecord{
		RecordID:            uuid.New().String(),
		IslandID:            islandID,
		SequenceNum:         seq,
		Kind:                kind,
		Timestamp:           timestamp,
		Triple:              triple,
		POAV:                poav,
		Decision:            decision,
		Payload:             payload,
		ContentHash:         contentHash,
		PreviousHash:        previousHash,
		ConstitutionVersion: constitutionVersion,
	}

	line, err := canonicalJSON(record)
	if err != nil {
		return StepRecord{}, fmt.Errorf("ledger: canonicalize record: %w", err)
	}
	if _, err := h.file.Write(append(line, '\n')); err != nil {
		return StepRecord{}, fmt.Errorf("ledger: write record: %w", err)
	}

	mustFsync := kind == KindIslandStart || kind == KindIslandEnd ||
		(decision != nil && decision.Kind == gate.Block)
	if mustFsync {
		if err := h.file.Sync(); err != nil {
			return StepRecord{}, fmt.Errorf("ledger: fsync: %w", err)
		}
	}

	digest, err := rollDigest(h.contextDigest, payload)
	if err != nil {
		return StepRecord{}, fmt.Errorf("ledger: rolling digest: %w", err)
	}

	h.nextSeq = seq + 1
	h.tipHash = contentHash
	h.contextDigest = digest
	h.lastRecordID = record.RecordID
	h.lastContentHash = contentHash
	h.lastTimestamp = timestamp

	if kind == KindRollback {
		h.consecutiveRollbacks++
	} else if kind == KindResponse && decision != nil && decision.Kind == gate.Pass {
		// Only the terminal RESPONSE of a genuine Gate#2 PASS carries
		// decision.Kind == Pass here — emitFallback's RESPONSE always
		// carries the Block/Rewrite decision that drove it, so a rolled-
		// back utterance's Gate#1 PASS (which is recorded as a
		// GATE_DECISION, never a RESPONSE) can no longer reset the streak
		// it is about to start accumulating.
		h.consecutiveRollbacks = 0
	}

	if err := l.persistIndex(ctx, islandID, record, h); err != nil {
		return StepRecord{}, err
	}

	return record, nil
}

// persistIndex mirrors the just-written record and the island's updated
// bookkeeping into the secondary SQLite index.
func (l *StepLedger) persistIndex(ctx context.Context, islandID string, record StepRecord, h *islandHandle) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: begin index tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO step_records (record_id, island_id, sequence_num, kind, timestamp, content_hash, previous_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.RecordID, islandID, record.SequenceNum, string(record.Kind), record.Timestamp,
		record.ContentHash, record.PreviousHash, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("ledger: index record: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE islands SET sequence_num=?, tip_hash=?, context_digest=?,
		 last_record_id=?, last_content_hash=?, last_timestamp=?, consecutive_rollbacks=?
		 WHERE island_id=?`,
		h.nextSeq, h.tipHash, h.contextDigest, h.lastRecordID, h.lastContentHash, h.lastTimestamp,
		h.consecutiveRollbacks, islandID,
	)
	if err != nil {
		return fmt.Errorf("ledger: index island: %w", err)
	}

	if record.Kind == KindGateDecision && record.Decision != nil {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO gate_history (island_id, sequence_num, decision, created_at) VALUES (?, ?, ?, ?)`,
			islandID, record.SequenceNum, string(record.Decision.Kind), time.Now().UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("ledger: index gate history: %w", err)
		}
	}

	return tx.Commit()
}

// #endregion append

// #region transitions

// Suspend moves an ACTIVE island to SUSPENDED. No-op error if not ACTIVE.
func (l *StepLedger) Suspend(ctx context.Context, islandID string) error {
	h, ok := l.handle(islandID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrIslandNotFound, islandID)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateActive {
		return fmt.Errorf("%w: cannot suspend island %s in state %s", ErrIslandNotActive, islandID, h.state)
	}
	h.state = StateSuspended
	return l.setState(ctx, islandID, StateSuspended)
}

// Resume moves a SUSPENDED island back to ACTIVE.
func (l *StepLedger) Resume(ctx context.Context, islandID string) error {
	h, ok := l.handle(islandID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrIslandNotFound, islandID)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateSuspended {
		return fmt.Errorf("ledger: cannot resume island %s in state %s", islandID, h.state)
	}
	h.state = StateActive
	return l.setState(ctx, islandID, StateActive)
}

// CloseIsland moves an ACTIVE or SUSPENDED island to CLOSED, terminal and
// immutable. Idempotent: closing an already-CLOSED island is a no-op that
// returns success, per the spec's idempotence law. Callers that need a
// sealed ISLAND_END record must Append(KindIslandEnd, ...) before calling
// CloseIsland, since records are only appendable while ACTIVE.
func (l *StepLedger) CloseIsland(ctx context.Context, islandID string) error {
	h, ok := l.handle(islandID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrIslandNotFound, islandID)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateClosed {
		return nil
	}
	h.state = StateClosed
	if err := h.file.Sync(); err != nil {
		return fmt.Errorf("ledger: fsync on close: %w", err)
	}
	return l.setState(ctx, islandID, StateClosed)
}

func (l *StepLedger) setState(ctx context.Context, islandID string, state IslandState) error {
	_, err := l.db.ExecContext(ctx, `UPDATE islands SET state=? WHERE island_id=?`, string(state), islandID)
	if err != nil {
		return fmt.Errorf("ledger: persist state: %w", err)
	}
	return nil
}

// #endregion transitions

// #region queries

// Tip returns islandID's current island hash (the content_hash of its most
// recently appended record).
func (l *StepLedger) Tip(ctx context.Context, islandID string) (string, error) {
	h, ok := l.handle(islandID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrIslandNotFound, islandID)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tipHash, nil
}

// Status returns a read-only snapshot of islandID's bookkeeping.
func (l *StepLedger) Status(ctx context.Context, islandID string) (Status, error) {
	h, ok := l.handle(islandID)
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrIslandNotFound, islandID)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return Status{
		IslandID:             islandID,
		State:                h.state,
		SequenceNum:          h.nextSeq,
		TipHash:              h.tipHash,
		ContextDigest:        h.contextDigest,
		ConsecutiveRollbacks: h.consecutiveRollbacks,
	}, nil
}

// RecentPayloads returns the most recent n records of any of the given
// kinds for islandID, oldest first, read back from the NDJSON
// file. Used by the Spine to rebuild the Sensor's context window and by the
// Verifier for grounding anchors. An empty kinds list matches every kind.
func (l *StepLedger) RecentPayloads(islandID string, n int, kinds ...RecordKind) ([]StepRecord, error) {
	records, err := l.readAll(islandID)
	if err != nil {
		return nil, err
	}

	allowed := make(map[RecordKind]bool, len(kinds))
	for _, k := range kinds {
		allowed[k] = true
	}

	var matched []StepRecord
	for _, r := range records {
		if len(kinds) == 0 || allowed[r.Kind] {
			matched = append(matched, r)
		}
	}
	if len(matched) > n {
		matched = matched[len(matched)-n:]
	}
	return matched, nil
}

// #endregion queries

// #region verify

// VerifyChain recomputes every previous_hash from the NDJSON file on disk
// from scratch, independent of the secondary index and any in-memory
// state, and reports whether the chain is intact and sequence_num is
// contiguous from 0. This is the spec's primary tamper-detection surface.
func (l *StepLedger) VerifyChain(islandID string) (bool, error) {
	records, err := l.readAll(islandID)
	if err != nil {
		return false, err
	}

	for i, r := range records {
		if r.SequenceNum != i {
			return false, nil
		}

		payload := r.Payload
		if payload == nil {
			payload = map[string]interface{}{}
		}
		wantContent, err := computeContentHash(payload)
		if err != nil {
			return false, fmt.Errorf("ledger: recompute content hash: %w", err)
		}
		if wantContent != r.ContentHash {
			return false, nil
		}

		if i == 0 {
			if r.PreviousHash != genesisHash {
				return false, nil
			}
			continue
		}
		prev := records[i-1]
		wantPrev := computePreviousHash(prev.RecordID, prev.ContentHash, prev.Timestamp)
		if wantPrev != r.PreviousHash {
			return false, nil
		}
	}
	return true, nil
}

// readAll reads every line of islandID's NDJSON file back into StepRecords,
// in append order.
func (l *StepLedger) readAll(islandID string) ([]StepRecord, error) {
	f, err := os.Open(l.ndjsonPath(islandID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrIslandNotFound, islandID)
		}
		return nil, fmt.Errorf("ledger: open ndjson for read: %w", err)
	}
	defer f.Close()

	var records []StepRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r StepRecord
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("ledger: parse record: %w", err)
		}
		records = append(records, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ledger: scan ndjson: %w", err)
	}
	return records, nil
}

// #endregion verify

// #region handle-resolution

// handle returns islandID's in-memory handle, reopening it from the
// secondary index and NDJSON file if this process hasn't seen it yet (e.g.
// after a restart) — Durability requires an island to remain usable across
// a process lifetime, not just within one.
func (l *StepLedger) handle(islandID string) (*islandHandle, bool) {
	if v, ok := l.islands.Load(islandID); ok {
		return v.(*islandHandle), true
	}

	var stateStr, createdAtStr, tipHash, digest, lastRecordID, lastContentHash, lastTimestamp string
	var seq, rollbacks int
	err := l.db.QueryRow(
		`SELECT state, created_at, sequence_num, tip_hash, context_digest,
		        last_record_id, last_content_hash, last_timestamp, consecutive_rollbacks
		 FROM islands WHERE island_id = ?`, islandID,
	).Scan(&stateStr, &createdAtStr, &seq, &tipHash, &digest, &lastRecordID, &lastContentHash, &lastTimestamp, &rollbacks)
	if err != nil {
		return nil, false
	}

	f, err := os.OpenFile(l.ndjsonPath(islandID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, false
	}

	createdAt, _ := time.Parse(time.RFC3339Nano, createdAtStr)
	h := &islandHandle{
		state:                IslandState(stateStr),
		createdAt:            createdAt,
		nextSeq:              seq,
		tipHash:              tipHash,
		contextDigest:        digest,
		lastRecordID:         lastRecordID,
		lastContentHash:      lastContentHash,
		lastTimestamp:        lastTimestamp,
		consecutiveRollbacks: rollbacks,
		file:                 f,
	}
	actual, _ := l.islands.LoadOrStore(islandID, h)
	return actual.(*islandHandle), true
}

func (l *StepLedger) ndjsonPath(islandID string) string {
	return filepath.Join(l.dir, islandID+".ndjson")
}

// #endregion handle-resolution
