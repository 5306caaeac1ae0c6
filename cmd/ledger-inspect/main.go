// Command ledger-inspect prints a TimeIsland's recorded steps and chain
// status, replaying the NDJSON file rather than trusting the SQLite index.
// Descended from the teacher's cmd/inspect, trading its state-version table
// for a per-island step listing and swapping the state-vector segment norms
// for the triple/POAV fields the Gate actually decided on.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/kestrel-governance/spine-controller/internal/ledger"
)

// #region main

func main() {
	dir := flag.String("dir", "", "path to the ledger's ndjson records directory")
	dbPath := flag.String("index-db", "", "path to the ledger's sqlite index")
	islandID := flag.String("island", "", "island id to inspect")
	jsonOut := flag.Bool("json", false, "output as JSON instead of a table")
	flag.Parse()

	if *dir == "" || *dbPath == "" || *islandID == "" {
		fmt.Fprintln(os.Stderr, "usage: ledger-inspect --dir path/to/records --index-db path/to/index.db --island <island_id> [--json]")
		os.Exit(2)
	}

	l, err := ledger.Open(*dir, *dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open ledger: %v\n", err)
		os.Exit(1)
	}
	defer l.Close()

	ctx := context.Background()
	status, err := l.Status(ctx, *islandID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		os.Exit(1)
	}

	intact, err := l.VerifyChain(*islandID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "verify chain: %v\n", err)
		os.Exit(1)
	}

	records, err := l.RecentPayloads(*islandID, status.SequenceNum)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read records: %v\n", err)
		os.Exit(1)
	}

	if *jsonOut {
		if err := printJSON(inspectOutput{Status: status, ChainIntact: intact, Records: records}); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	printTable(status, intact, records)
	if !intact {
		os.Exit(1)
	}
}

// #endregion main

// #region output

type inspectOutput struct {
	Status      ledger.Status      `json:"status"`
	ChainIntact bool               `json:"chain_intact"`
	Records     []ledger.StepRecord `json:"records"`
}

func printTable(status ledger.Status, intact bool, records []ledger.StepRecord) {
	fmt.Printf("Island:       %s\n", status.IslandID)
	fmt.Printf("State:        %s\n", status.State)
	fmt.Printf("Sequence:     %d\n", status.SequenceNum)
	fmt.Printf("Tip:          %s\n", shortHash(status.TipHash))
	fmt.Printf("Rollbacks:    %d\n", status.ConsecutiveRollbacks)
	fmt.Printf("Chain intact: %v\n\n", intact)

	fmt.Printf("%-4s  %-14s  %-8s  %-8s  %-8s  %s\n", "Seq", "Kind", "Tension", "Drift", "Risk", "Hash")
	fmt.Printf("%-4s+-%-14s+-%-8s+-%-8s+-%-8s+-%s\n", "----", "--------------", "--------", "--------", "--------", "--------------------")
	for _, r := range records {
		fmt.Printf("%-4d  %-14s  %-8.3f  %-8.3f  %-8.3f  %s\n",
			r.SequenceNum, r.Kind, r.Triple.T, r.Triple.S, r.Triple.R, shortHash(r.ContentHash))
	}
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// #endregion output
