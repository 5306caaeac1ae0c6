// Package groundgraph stores weighted edges between claims made in a draft
// response and the evidence anchors that support them, so the Verifier can
// walk outward from a claim to see how well-anchored it is over time rather
// than re-deriving grounding from scratch on every turn.
package groundgraph

import (
	"database/sql"
	"fmt"
	"math"
	"time"
)

// #region schema

const schema = `
CREATE TABLE IF NOT EXISTS ground_edges (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    claim_id    TEXT NOT NULL,
    anchor_id   TEXT NOT NULL,
    edge_type   TEXT NOT NULL,
    weight      REAL NOT NULL DEFAULT 0.1,
    created_at  TEXT NOT NULL,
    updated_at  TEXT NOT NULL,
    UNIQUE(claim_id, anchor_id, edge_type)
);
CREATE INDEX IF NOT EXISTS idx_ground_edges_claim ON ground_edges(claim_id);
CREATE INDEX IF NOT EXISTS idx_ground_edges_anchor ON ground_edges(anchor_id);
`

// #endregion schema

// #region types

// EdgeType names why a claim and an anchor are linked.
type EdgeType string

const (
	EdgeCited    EdgeType = "cited"    // drafter declared this anchor as its source
	EdgeRetrieved EdgeType = "retrieved" // verifier's retrieval surfaced this anchor for the claim
	EdgeConfirmed EdgeType = "confirmed" // a prior verification pass found the anchor actually supports the claim
)

// Edge is a weighted link between a claim and an evidence anchor.
type Edge struct {
	ID        int64
	ClaimID   string
	AnchorID  string
	EdgeType  EdgeType
	Weight    float64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WalkResult holds an ordered path from a graph walk, anchor IDs with the
// cumulative confidence accrued reaching each one.
type WalkResult struct {
	IDs    []string
	Scores []float64
}

// Graph manages the ground_edges table.
type Graph struct {
	db *sql.DB
}

// #endregion types

// #region constructor

// New creates the schema (idempotent) and returns a Graph over db.
func New(db *sql.DB) (*Graph, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("groundgraph schema: %w", err)
	}
	return &Graph{db: db}, nil
}

// #endregion constructor

// #region add-edge

// AddEdge inserts a new edge, ignored if (claim, anchor, type) already exists.
func (g *Graph) AddEdge(claimID, anchorID string, edgeType EdgeType, weight float64) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := g.db.Exec(
		`INSERT OR IGNORE INTO ground_edges (claim_id, anchor_id, edge_type, weight, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		claimID, anchorID, string(edgeType), weight, now, now,
	)
	return err
}

// #endregion add-edge

// #region increment-edge

// IncrementEdge raises an edge's weight by delta, capped at 1.0, creating it
// with weight=delta if absent. Used when a verification pass confirms a
// claim/anchor pairing, strengthening it for future turns.
func (g *Graph) IncrementEdge(claimID, anchorID string, edgeType EdgeType, delta float64) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := g.db.Exec(
		`INSERT INTO ground_edges (claim_id, anchor_id, edge_type, weight, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(claim_id, anchor_id, edge_type) DO UPDATE SET
		   weight = MIN(1.0, ground_edges.weight + ?),
		   updated_at = ?`,
		claimID, anchorID, string(edgeType), delta, now, now,
		delta, now,
	)
	return err
}

// #endregion increment-edge

// #region get-neighbors

// GetNeighbors returns all anchors linked to claimID with weight >= minWeight,
// ordered by weight descending.
func (g *Graph) GetNeighbors(claimID string, minWeight float64) ([]Edge, error) {
	rows, err := g.db.Query(
		`SELECT id, claim_id, anchor_id, edge_type, weight, created_at, updated_at
		 FROM ground_edges
		 WHERE claim_id = ? AND weight >= ?
		 ORDER BY weight DESC`,
		claimID, minWeight,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		var e Edge
		var edgeType, createdAt, updatedAt string
		if err := rows.Scan(&e.ID, &e.ClaimID, &e.AnchorID, &edgeType, &e.Weight, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		e.EdgeType = EdgeType(edgeType)
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		e.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// #endregion get-neighbors

// #region walk

// Walk does a BFS from claimID over edges with weight >= minWeight, up to
// maxDepth hops and maxNodes total, accumulating a confidence score as the
// product of traversed edge weights. The Verifier uses this to widen a
// grounding check beyond direct citations to anchors reached transitively
// through previously confirmed claims.
func (g *Graph) Walk(claimID string, maxDepth int, minWeight float64, maxNodes int) (WalkResult, error) {
	if maxDepth <= 0 {
		maxDepth = 5
	}
	if maxNodes <= 0 {
		maxNodes = 10
	}

	result := WalkResult{IDs: []string{claimID}, Scores: []float64{1.0}}
	visited := map[string]bool{claimID: true}

	type queueItem struct {
		id    string
		depth int
		score float64
	}
	queue := []queueItem{{claimID, 0, 1.0}}

	for len(queue) > 0 {
		if len(result.IDs) >= maxNodes {
			break
		}
		current := queue[0]
		queue = queue[1:]

		if current.depth >= maxDepth {
			continue
		}

		neighbors, err := g.GetNeighbors(current.id, minWeight)
		if err != nil {
			return result, fmt.Errorf("walk neighbors: %w", err)
		}

		for _, edge := range neighbors {
			if len(result.IDs) >= maxNodes {
				break
			}
			if visited[edge.AnchorID] {
				continue
			}
			visited[edge.AnchorID] = true
			cumScore := current.score * edge.Weight
			result.IDs = append(result.IDs, edge.AnchorID)
			result.Scores = append(result.Scores, cumScore)
			queue = append(queue, queueItem{edge.AnchorID, current.depth + 1, cumScore})
		}
	}

	return result, nil
}

// #endregion walk

// #region decay

// DecayAll exponentially decays every edge weight by age, deleting edges
// that fall below 0.01. Run periodically so stale citations don't keep
// inflating a claim's grounding confidence indefinitely.
func (g *Graph) DecayAll(halfLifeHours float64) (int64, error) {
	now := time.Now().UTC()
	halfLifeSec := halfLifeHours * 3600.0

	rows, err := g.db.Query(`SELECT id, weight, updated_at FROM ground_edges`)
	if err != nil {
		return 0, err
	}

	type decayItem struct {
		id        int64
		newWeight float64
	}
	var updates []decayItem
	var deletes []int64

	for rows.Next() {
		var id int64
		var weight float64
		var updatedAt string
		if err := rows.Scan(&id, &weight, &updatedAt); err != nil {
			rows.Close()
			return 0, err
		}
		t, _ := time.Parse(time.RFC3339, updatedAt)
		ageSec := now.Sub(t).Seconds()
		if ageSec <= 0 {
			continue
		}
		decayed := weight * math.Exp(-ageSec*math.Ln2/halfLifeSec)
		if decayed < 0.01 {
			deletes = append(deletes, id)
		} else {
			updates = append(updates, decayItem{id, decayed})
		}
	}
	rows.Close()

	nowStr := now.Format(time.RFC3339)
	for _, u := range updates {
		if _, err := g.db.Exec(`UPDATE ground_edges SET weight = ?, updated_at = ? WHERE id = ?`, u.newWeight, nowStr, u.id); err != nil {
			return 0, err
		}
	}
	for _, id := range deletes {
		if _, err := g.db.Exec(`DELETE FROM ground_edges WHERE id = ?`, id); err != nil {
			return 0, err
		}
	}

	return int64(len(deletes)), nil
}

// #endregion decay

// #region sever

// SeverClaim deletes every edge touching claimID, used when a claim is
// rewritten away and its grounding history should not bleed into the
// rewrite's own claim id.
func (g *Graph) SeverClaim(claimID string) error {
	_, err := g.db.Exec(`DELETE FROM ground_edges WHERE claim_id = ? OR anchor_id = ?`, claimID, claimID)
	return err
}

// #endregion sever
