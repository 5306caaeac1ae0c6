package ledger

import (
	"context"
	"fmt"
	"math"
	"time"
)

// #region gatehistory

// GateHistory answers audit-history questions over the gate_history table
// the StepLedger already maintains as part of its secondary index.
// Adapted from the teacher's orchestrator.StrategyMemory decay-weighted
// strategy_outcomes idiom, but repurposed: there is no "pick the better
// strategy" selection here, since the spec's Gate is stateless and must
// reach the same decision given the same triple and constitution snapshot
// every time. What survives is the decay-weighted recency query shape,
// retargeted at a single scalar the Gate's POAV formula needs: the rolling
// audit pass rate behind the Verification sub-score.
type GateHistory struct {
	ledger *StepLedger
}

// NewGateHistory wraps an existing StepLedger's secondary index.
func NewGateHistory(l *StepLedger) *GateHistory {
	return &GateHistory{ledger: l}
}

// #endregion gatehistory

// #region audit-pass-rate

// AuditPassRate returns the decay-weighted fraction of PASS decisions among
// the last windowSize gate_history rows across all islands, half-life
// halfLifeHours. Recent decisions dominate the estimate, so a constitution
// change or a burst of REWRITEs shows up quickly without the rate being
// reset to zero between islands. Returns 0.5 (a neutral prior) if there is
// no history yet, since a POAV Verification sub-score of exactly 0 or 1 on
// an empty ledger would be indistinguishable from genuinely perfect or
// broken behavior.
func (g *GateHistory) AuditPassRate(ctx context.Context, windowSize int, halfLifeHours float64) (float64, error) {
	rows, err := g.ledger.db.QueryContext(ctx,
		`SELECT decision, created_at FROM gate_history ORDER BY id DESC LIMIT ?`, windowSize)
	if err != nil {
		return 0, fmt.Errorf("ledger: query gate history: %w", err)
	}
	defer rows.Close()

	now := time.Now().UTC()
	var weightedPass, totalWeight float64
	var count int

	for rows.Next() {
		var decision, createdAtStr string
		if err := rows.Scan(&decision, &createdAtStr); err != nil {
			return 0, fmt.Errorf("ledger: scan gate history: %w", err)
		}
		createdAt, err := time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			continue
		}
		ageHours := now.Sub(createdAt).Hours()
		weight := math.Exp(-ageHours * math.Ln2 / halfLifeHours)

		if decision == "PASS" {
			weightedPass += weight
		}
		totalWeight += weight
		count++
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("ledger: iterate gate history: %w", err)
	}

	if count == 0 || totalWeight == 0 {
		return 0.5, nil
	}
	return weightedPass / totalWeight, nil
}

// #endregion audit-pass-rate

// #region rollback-counter

// ConsecutiveRollbacks returns islandID's persisted consecutive-rollback
// counter, the same value Status reports, but sourced from the index alone
// — useful for a cold-start circuit-breaker check before an island's
// in-memory handle has been reopened.
func (g *GateHistory) ConsecutiveRollbacks(ctx context.Context, islandID string) (int, error) {
	var n int
	err := g.ledger.db.QueryRowContext(ctx,
		`SELECT consecutive_rollbacks FROM islands WHERE island_id = ?`, islandID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ledger: query rollback counter: %w", err)
	}
	return n, nil
}

// #endregion rollback-counter
