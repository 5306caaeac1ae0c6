package replay

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/kestrel-governance/spine-controller/internal/adapter"
	"github.com/kestrel-governance/spine-controller/internal/constitution"
	"github.com/kestrel-governance/spine-controller/internal/gate"
	"github.com/kestrel-governance/spine-controller/internal/ledger"
	"github.com/kestrel-governance/spine-controller/internal/sensor"
	"github.com/kestrel-governance/spine-controller/internal/spine"
	"github.com/kestrel-governance/spine-controller/internal/verifier"
)

// #region queue-drafter

// queueDrafter answers Generate calls from a fixed sequence of canned draft
// texts (or errors), one per expected Drafter call, falling back to an empty
// draft once the queue is exhausted. This stands in for the teacher's
// in-memory update/gate/eval pipeline stages: the whole point of a replay
// fixture is that the Drafter's answer is recorded data, not something
// generated live.
type queueDrafter struct {
	answers []fixtureAnswer
	pos     int
}

type fixtureAnswer struct {
	text string
	err  error
}

func (q *queueDrafter) Generate(ctx context.Context, req adapter.DraftRequest) (adapter.DraftResult, error) {
	if q.pos >= len(q.answers) {
		return adapter.DraftResult{Text: ""}, nil
	}
	a := q.answers[q.pos]
	q.pos++
	if a.err != nil {
		return adapter.DraftResult{}, a.err
	}
	return adapter.DraftResult{Text: a.text}, nil
}

// #endregion queue-drafter

// #region harness

// Harness drives one fixture through a real Spine built with in-process
// dependencies: a file-backed Ledger, a default-configured Sensor and
// Verifier (no embedder or searcher wired, so both degrade to their
// documented fallbacks), and a queueDrafter answering from the fixture's
// recorded draft text. Descended from the teacher's replay.Replay driver
// function, reworked from a pure in-memory state fold into a harness around
// the real orchestrator so replay exercises the same code path production
// does.
type Harness struct {
	Spine  *spine.Spine
	ledger *ledger.StepLedger
}

// NewHarness constructs a Harness backed by ledger files under dir.
func NewHarness(dir string, snap *constitution.Snapshot, drafter adapter.Drafter) (*Harness, error) {
	l, err := ledger.Open(filepath.Join(dir, "records"), filepath.Join(dir, "index.db"))
	if err != nil {
		return nil, fmt.Errorf("replay: open ledger: %w", err)
	}
	store, err := constitution.NewStore(snap)
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("replay: build constitution store: %w", err)
	}
	w := spine.Wiring{
		Sensor:   sensor.NewSensor(nil, nil, sensor.DefaultConfig()),
		Gate:     gate.NewGate(),
		Store:    store,
		Ledger:   l,
		History:  ledger.NewGateHistory(l),
		Drafter:  drafter,
		Verifier: verifier.NewVerifier(nil, nil, nil, verifier.DefaultConfig()),
	}
	return &Harness{Spine: spine.New(w, spine.DefaultConfig()), ledger: l}, nil
}

// Close releases the Harness's ledger handles.
func (h *Harness) Close() error {
	return h.ledger.Close()
}

// #endregion harness

// #region result

// Result is the outcome of replaying one fixture interaction.
type Result struct {
	TurnID   string
	Expected gate.DecisionKind
	Actual   gate.DecisionKind
	Matched  bool
	Response string
	Reason   string
}

// Summary aggregates a Run's results.
type Summary struct {
	TotalTurns int
	Matched    int
	Mismatched int
	ChainOK    bool
}

// #endregion result

// #region run

// Run opens one island, submits every interaction's prompt in order against
// a queueDrafter preloaded with that interaction's canned draft text, and
// verifies the resulting chain once at the end. A Drafter error in the
// fixture degrades that turn's submission the same way a live upstream
// outage would — Run never fails the whole replay on one bad turn, since a
// REWRITE/fallback outcome is itself a valid, checkable result.
func Run(ctx context.Context, h *Harness, f *Fixture) ([]Result, Summary, error) {
	islandID, err := h.Spine.OpenIsland(ctx)
	if err != nil {
		return nil, Summary{}, fmt.Errorf("replay: open island: %w", err)
	}

	results := make([]Result, 0, len(f.Interactions))
	for _, inter := range f.Interactions {
		queue := &queueDrafter{}
		if inter.DrafterErr != "" {
			// The Spine retries a failed Generate once, so the error answers
			// both attempts, as a live outage would.
			drafterErr := fmt.Errorf("replay: %s", inter.DrafterErr)
			queue.answers = []fixtureAnswer{{err: drafterErr}, {err: drafterErr}}
		} else {
			queue.answers = []fixtureAnswer{{text: inter.DraftText}}
		}
		h.swapDrafter(queue)

		submitResult, err := h.Spine.Submit(ctx, spine.SubmitRequest{IslandID: islandID, Text: inter.Prompt})
		if err != nil {
			return results, Summary{}, fmt.Errorf("replay: submit turn %s: %w", inter.TurnID, err)
		}

		expected := gate.DecisionKind(inter.Expected)
		results = append(results, Result{
			TurnID:   inter.TurnID,
			Expected: expected,
			Actual:   submitResult.Decision.Kind,
			Matched:  submitResult.Decision.Kind == expected,
			Response: submitResult.Response,
			Reason:   submitResult.Decision.Reason,
		})
	}

	chainOK, err := h.Spine.Verify(islandID)
	if err != nil {
		return results, Summary{}, fmt.Errorf("replay: verify chain: %w", err)
	}

	summary := Summarize(results)
	summary.ChainOK = chainOK
	return results, summary, nil
}

// swapDrafter replaces the Drafter a Harness's Spine was wired with. The
// queueDrafter is single-use per turn by design, so Run rewires a fresh one
// ahead of every Submit call rather than trying to make one queueDrafter
// span the whole fixture.
func (h *Harness) swapDrafter(d adapter.Drafter) {
	h.Spine.SetDrafter(d)
}

// Summarize computes aggregate match/mismatch counts from a Run's results.
func Summarize(results []Result) Summary {
	s := Summary{TotalTurns: len(results)}
	for _, r := range results {
		if r.Matched {
			s.Matched++
		} else {
			s.Mismatched++
		}
	}
	return s
}

// #endregion run
