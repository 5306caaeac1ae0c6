// Command governor is the reference REPL for the Spine: it wires a
// constitution store, ledger, sensor, gate, drafter adapter, and verifier
// together and drives Submit/OpenIsland/CloseIsland/Verify/Tip from stdin.
// Descended from the teacher's cmd/controller, trading its single fixed
// "prompt in, state out" loop for the multi-command shape the governance
// pipeline's caller-facing operations need.
package main

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kestrel-governance/spine-controller/internal/adapter"
	"github.com/kestrel-governance/spine-controller/internal/constitution"
	"github.com/kestrel-governance/spine-controller/internal/gate"
	"github.com/kestrel-governance/spine-controller/internal/groundgraph"
	"github.com/kestrel-governance/spine-controller/internal/ledger"
	"github.com/kestrel-governance/spine-controller/internal/sensor"
	"github.com/kestrel-governance/spine-controller/internal/spine"
	"github.com/kestrel-governance/spine-controller/internal/verifier"
)

// #region main

func main() {
	constitutionFile := envOr("CONSTITUTION_FILE", "")
	ledgerDir := envOr("LEDGER_DIR", "ledger-records")
	ledgerIndexDB := envOr("LEDGER_INDEX_DB", "ledger-index.db")
	graphDB := envOr("GROUNDGRAPH_DB", "groundgraph.db")
	adapterAddr := envOr("ADAPTER_ADDR", "localhost:50051")
	redisURL := envOr("SENSOR_REDIS_URL", "")

	snap, err := loadConstitution(constitutionFile)
	if err != nil {
		log.Fatalf("[GOVERNOR] load constitution: %v", err)
	}
	store, err := constitution.NewStore(snap)
	if err != nil {
		log.Fatalf("[GOVERNOR] build constitution store: %v", err)
	}

	l, err := ledger.Open(ledgerDir, ledgerIndexDB)
	if err != nil {
		log.Fatalf("[GOVERNOR] open ledger: %v", err)
	}
	defer l.Close()

	client, err := adapter.NewClient(adapterAddr)
	if err != nil {
		log.Fatalf("[GOVERNOR] dial drafter adapter at %s: %v", adapterAddr, err)
	}
	defer client.Close()

	cache := buildCache(redisURL)
	if cache != nil {
		defer cache.Close()
	}

	graph, err := buildGraph(graphDB)
	if err != nil {
		log.Printf("[GOVERNOR] grounding graph unavailable, continuing without it: %v", err)
	}
	if graph != nil {
		go decayLoop(graph, 6*time.Hour, 72.0)
	}

	w := spine.Wiring{
		Sensor:   sensor.NewSensor(client, cache, sensor.DefaultConfig()),
		Gate:     gate.NewGate(),
		Store:    store,
		Ledger:   l,
		History:  ledger.NewGateHistory(l),
		Drafter:  client,
		Verifier: verifier.NewVerifier(client, &searcherAdapter{client}, graph, verifier.DefaultConfig()),
	}
	sp := spine.New(w, spine.DefaultConfig())

	fmt.Println("Spine governor ready.")
	fmt.Printf("  constitution version: %d | ledger: %s | adapter: %s\n", store.Current().Version, ledgerDir, adapterAddr)
	fmt.Printf("  p0 rules: %v\n", constitution.SortedP0RuleIDs(store.Current()))
	printHelp()

	repl(sp, store)
}

// #endregion main

// #region repl

func repl(sp *spine.Spine, store *constitution.Store) {
	scanner := bufio.NewScanner(os.Stdin)
	var islandID string

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		cmd := fields[0]
		arg := ""
		if len(fields) > 1 {
			arg = fields[1]
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		switch cmd {
		case "quit", "exit":
			cancel()
			return
		case "help":
			printHelp()
		case "domain":
			domain := constitution.DomainByName(store.Current(), arg)
			if domain == nil {
				fmt.Printf("no risk domain named %q in the active constitution\n", arg)
				break
			}
			fmt.Printf("%s: weight=%.2f keywords=%d\n", domain.Name, domain.Weight, len(domain.Keywords))
		case "open":
			id, err := sp.OpenIsland(ctx)
			if err != nil {
				fmt.Printf("error: %v\n", err)
				break
			}
			islandID = id
			fmt.Printf("opened island %s\n", islandID)
		case "close":
			target := arg
			if target == "" {
				target = islandID
			}
			if err := sp.CloseIsland(ctx, target); err != nil {
				fmt.Printf("error: %v\n", err)
			}
		case "verify":
			target := arg
			if target == "" {
				target = islandID
			}
			ok, err := sp.Verify(target)
			if err != nil {
				fmt.Printf("error: %v\n", err)
				break
			}
			fmt.Printf("chain intact: %v\n", ok)
		case "tip":
			target := arg
			if target == "" {
				target = islandID
			}
			tip, err := sp.Tip(ctx, target)
			if err != nil {
				fmt.Printf("error: %v\n", err)
				break
			}
			fmt.Println(tip)
		default:
			result, err := sp.Submit(ctx, spine.SubmitRequest{IslandID: islandID, Text: line})
			if err != nil {
				fmt.Printf("error: %v\n", err)
				break
			}
			islandID = result.IslandID
			fmt.Printf("\n%s\n\n[%s] decision=%s reason=%q\n", result.Response, shortID(result.IslandID), result.Decision.Kind, result.Decision.Reason)
		}
		cancel()
	}
}

func printHelp() {
	fmt.Println("Type a prompt to submit it, or one of: open, close [island], verify [island], tip [island], domain <name>, quit")
}

// #endregion repl

// #region wiring-helpers

func loadConstitution(path string) (*constitution.Snapshot, error) {
	if path == "" {
		return constitution.DefaultSnapshot(), nil
	}
	return constitution.LoadFile(path)
}

func buildCache(redisURL string) *sensor.RedisCache {
	if redisURL == "" {
		return nil
	}
	cache, err := sensor.NewRedisCache(redisURL, 24*time.Hour)
	if err != nil {
		log.Printf("[GOVERNOR] embedding cache unavailable, continuing without it: %v", err)
		return nil
	}
	return cache
}

func buildGraph(dbPath string) (*groundgraph.Graph, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open groundgraph db: %w", err)
	}
	graph, err := groundgraph.New(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate groundgraph db: %w", err)
	}
	return graph, nil
}

// decayLoop runs groundgraph.DecayAll on a fixed interval for the lifetime
// of the process, so a claim confirmed once doesn't keep reading as grounded
// forever on citations nobody has reinforced in days.
func decayLoop(graph *groundgraph.Graph, interval time.Duration, halfLifeHours float64) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		n, err := graph.DecayAll(halfLifeHours)
		if err != nil {
			log.Printf("[GOVERNOR] grounding graph decay pass failed, continuing: %v", err)
			continue
		}
		if n > 0 {
			log.Printf("[GOVERNOR] grounding graph decay pass pruned %d stale edges", n)
		}
	}
}

// searcherAdapter narrows adapter.Client's SearchResult hits to the
// verifier.SearchHit shape the Verifier's Searcher interface expects.
type searcherAdapter struct {
	client *adapter.Client
}

func (s *searcherAdapter) Search(ctx context.Context, query string, topK int) ([]verifier.SearchHit, error) {
	hits, err := s.client.Search(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	out := make([]verifier.SearchHit, len(hits))
	for i, h := range hits {
		out[i] = verifier.SearchHit{ID: h.ID, Text: h.Text}
	}
	return out, nil
}

// #endregion wiring-helpers

// #region helpers

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion helpers
