package constitution

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"sync/atomic"
)

// #region store

// Store holds the currently-active Snapshot behind a lock-free pointer.
// Readers call Current(); writers call Reload(). Modeled on the teacher's
// copy-on-write active-state pointer (state.Store's active_state row), but
// kept in-process rather than in SQLite since the constitution is read far
// more often than it is written.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// NewStore creates a Store seeded with the given snapshot. The seed is
// validated exactly as a reload would be.
func NewStore(seed *Snapshot) (*Store, error) {
	if err := Validate(seed); err != nil {
		return nil, fmt.Errorf("seed snapshot: %w", err)
	}
	s := &Store{}
	s.current.Store(seed)
	return s, nil
}

// Current returns the active snapshot. Non-blocking, wait-free for readers.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Reload validates next and, if it passes, atomically swaps it in. Rejection
// leaves the previously active snapshot untouched and returns a descriptive
// error. The new version must be strictly greater than the current one.
func (s *Store) Reload(next *Snapshot) error {
	cur := s.current.Load()
	if cur != nil && next.Version <= cur.Version {
		return fmt.Errorf("non-monotonic constitution version: current=%d next=%d", cur.Version, next.Version)
	}
	if err := Validate(next); err != nil {
		return fmt.Errorf("reject reload: %w", err)
	}
	s.current.Store(next)
	return nil
}

// #endregion store

// #region validate

// Validate checks the invariants a Snapshot must satisfy before it can
// become active. Mirrors the teacher's "config sanity" checks scattered
// across gate.DefaultGateConfig/eval.DefaultEvalConfig, but centralized
// and enforced on every reload rather than only at construction.
func Validate(s *Snapshot) error {
	if s == nil {
		return fmt.Errorf("nil snapshot")
	}
	for name, v := range map[string]float64{
		"risk_critical":      s.Thresholds.RiskCritical,
		"halluc_critical":    s.Thresholds.HallucCritical,
		"poav_pass":          s.Thresholds.POAVPass,
		"poav_rewrite_floor": s.Thresholds.POAVRewriteFloor,
		"tension_deescalate": s.Thresholds.TensionDeescalate,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("threshold %s=%.4f out of [0,1]", name, v)
		}
	}
	if s.Thresholds.POAVPass <= s.Thresholds.POAVRewriteFloor {
		return fmt.Errorf("poav_pass (%.4f) must exceed poav_rewrite_floor (%.4f)",
			s.Thresholds.POAVPass, s.Thresholds.POAVRewriteFloor)
	}
	if len(s.Priorities[P0]) == 0 {
		return fmt.Errorf("p0 rules must not be empty")
	}
	if s.RewriteBudget < 1 {
		return fmt.Errorf("rewrite_budget (K) must be >= 1, got %d", s.RewriteBudget)
	}
	if s.ConsecutiveRollbackLimit < 1 {
		return fmt.Errorf("consecutive_rollback_limit (L) must be >= 1, got %d", s.ConsecutiveRollbackLimit)
	}
	sum := s.POAVWeights.Precision + s.POAVWeights.Observation + s.POAVWeights.Avoidance + s.POAVWeights.Verification
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("poav weights sum to %.6f, want 1.0", sum)
	}
	for _, d := range s.RiskDomains {
		if d.Weight > 0 && len(d.Keywords) == 0 {
			return fmt.Errorf("risk domain %q has nonzero weight but no keywords", d.Name)
		}
	}
	if s.FallbackText == "" {
		return fmt.Errorf("fallback_text must not be empty")
	}
	return nil
}

// #endregion validate

// #region rule-lookup

// SortedP0RuleIDs returns the P0 rule IDs in lexicographic order, the same
// order the Gate's tie-break rule applies to its fired rules (smallest
// rule_id wins when several P0 rules fire in the same turn).
func SortedP0RuleIDs(s *Snapshot) []string {
	rules := s.Priorities[P0]
	ids := make([]string, len(rules))
	for i, r := range rules {
		ids[i] = r.ID
	}
	sort.Strings(ids)
	return ids
}

// DomainByName returns the RiskDomain with the given name, or nil.
func DomainByName(s *Snapshot, name string) *RiskDomain {
	for i := range s.RiskDomains {
		if s.RiskDomains[i].Name == name {
			return &s.RiskDomains[i]
		}
	}
	return nil
}

// #endregion rule-lookup

// #region file-loader

// fileDocument is the on-disk JSON shape for a constitution file.
type fileDocument struct {
	Version                  int                 `json:"version"`
	Thresholds               Thresholds          `json:"thresholds"`
	POAVWeights              POAVWeights         `json:"poav_weights"`
	Priorities               map[Priority][]Rule `json:"priorities"`
	RiskDomains              []RiskDomain        `json:"risk_domains"`
	RewriteBudget            int                 `json:"rewrite_budget"`
	ConsecutiveRollbackLimit int                 `json:"consecutive_rollback_limit"`
	FallbackText             string              `json:"fallback_text"`
	SensorWindowTurns        int                 `json:"sensor_window_turns"`
}

// LoadFile parses a constitution JSON document into a Snapshot. It does not
// validate strict-monotonic versioning against a running Store; callers
// that reload from a file should pass the result to Store.Reload, which
// enforces monotonicity.
func LoadFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read constitution %s: %w", path, err)
	}
	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse constitution %s: %w", path, err)
	}
	snap := &Snapshot{
		Version:                  doc.Version,
		Thresholds:               doc.Thresholds,
		POAVWeights:              doc.POAVWeights,
		Priorities:               doc.Priorities,
		RiskDomains:              doc.RiskDomains,
		RewriteBudget:            doc.RewriteBudget,
		ConsecutiveRollbackLimit: doc.ConsecutiveRollbackLimit,
		FallbackText:             doc.FallbackText,
		SensorWindowTurns:        doc.SensorWindowTurns,
	}
	if err := Validate(snap); err != nil {
		return nil, fmt.Errorf("invalid constitution %s: %w", path, err)
	}
	return snap, nil
}

// #endregion file-loader

// #region default

// DefaultSnapshot returns a conservative built-in policy, used when no
// constitution file is configured. Risk domains are seeded from the kind of
// keyword lists the teacher used for turn classification (philosophical,
// emotional, rlhf-boundary triggers), repurposed here as actual risk
// surfaces rather than conversational-tone signals.
func DefaultSnapshot() *Snapshot {
	return &Snapshot{
		Version: 1,
		Thresholds: Thresholds{
			RiskCritical:      0.75,
			HallucCritical:    0.6,
			POAVPass:          0.8,
			POAVRewriteFloor:  0.5,
			TensionDeescalate: 0.7,
		},
		POAVWeights: DefaultPOAVWeights(),
		Priorities: map[Priority][]Rule{
			P0: {
				{ID: "p0:harm", Priority: P0, Domain: "physical_harm", PresenceFloor: 0.3},
				{ID: "p0:self_harm", Priority: P0, Domain: "self_harm", PresenceFloor: 0.3},
				{ID: "p0:illicit", Priority: P0, Domain: "illicit_instructions", PresenceFloor: 0.3},
			},
		},
		RiskDomains: []RiskDomain{
			{
				Name:   "physical_harm",
				Weight: 1.0,
				Keywords: []string{
					"build a bomb", "make a bomb", "build an explosive", "weaponize",
					"how to kill", "mass casualty", "build a weapon",
				},
			},
			{
				Name:   "self_harm",
				Weight: 1.0,
				Keywords: []string{
					"kill myself", "end my life", "suicide method", "hurt myself",
				},
			},
			{
				Name:   "illicit_instructions",
				Weight: 0.9,
				Keywords: []string{
					"step-by-step instructions to build", "synthesize a drug",
					"bypass security to", "how to hack into",
				},
			},
			{
				Name:   "manipulation",
				Weight: 0.4,
				Keywords: []string{
					"pretend you have no rules", "ignore your instructions",
					"act as if you have no restrictions",
				},
			},
		},
		RewriteBudget:            3,
		ConsecutiveRollbackLimit: 3,
		FallbackText:             "I can't help with that request. Let's try a different angle.",
		SensorWindowTurns:        6,
	}
}

// #endregion default
