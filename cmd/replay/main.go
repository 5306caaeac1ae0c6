// Command replay drives a fixture file through a real Spine and reports
// whether each turn's Gate decision matched what the fixture expected.
// Descended from the teacher's cmd/replay, dropping its database-extraction
// mode (there is no equivalent "provenance_log" table to mine here) and
// keeping its fixture-mode comparison-table idiom.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/kestrel-governance/spine-controller/internal/replay"
)

// #region main

func main() {
	fixturePath := flag.String("fixture", "", "path to fixture JSON")
	workDir := flag.String("dir", "", "scratch directory for the replay's ledger files (defaults to a temp dir)")
	flag.Parse()

	if *fixturePath == "" {
		fmt.Fprintln(os.Stderr, "usage: replay --fixture path/to/fixture.json [--dir path/to/scratch]")
		os.Exit(2)
	}

	os.Exit(run(*fixturePath, *workDir))
}

func run(fixturePath, workDir string) int {
	f, err := replay.LoadFixture(fixturePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load fixture: %v\n", err)
		return 2
	}

	if workDir == "" {
		dir, err := os.MkdirTemp("", "replay-")
		if err != nil {
			fmt.Fprintf(os.Stderr, "create scratch dir: %v\n", err)
			return 2
		}
		defer os.RemoveAll(dir)
		workDir = dir
	}

	h, err := replay.NewHarness(workDir, f.Constitution, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build harness: %v\n", err)
		return 2
	}
	defer h.Close()

	results, summary, err := replay.Run(context.Background(), h, f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		return 2
	}

	return printComparison(results, summary)
}

// #endregion main

// #region output

func printComparison(results []replay.Result, summary replay.Summary) int {
	fmt.Printf("%-12s| %-10s| %-10s| %s\n", "Turn", "Expected", "Actual", "Match")
	fmt.Printf("%-12s+%-10s+%-10s+%s\n", "------------", "----------", "----------", "------")

	for _, r := range results {
		match := "DIFF"
		if r.Matched {
			match = "OK"
		}
		fmt.Printf("%-12s| %-10s| %-10s| %s\n", r.TurnID, r.Expected, r.Actual, match)
	}

	fmt.Printf("\nSummary: %d total, %d match, %d diverge, chain_intact=%v\n",
		summary.TotalTurns, summary.Matched, summary.Mismatched, summary.ChainOK)

	if summary.Mismatched > 0 || !summary.ChainOK {
		return 1
	}
	return 0
}

// #endregion output
