package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/Beaconwise-Labs/tek/pkg/epack"
	"github.com/Beaconwise-Labs/tek/pkg/replay"
)

// runReplayCmd implements `tek replay` — re-derive every governed decision
// in a session's chain and report the determinism verdict.
//
// Exit codes:
//
//	0 = VERIFIED, or DRIFT without --strict
//	1 = TAMPER_DETECTED, or DRIFT with --strict
//	2 = runtime or usage error
func runReplayCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("replay", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		epacksPath string
		sessionID  string
		strict     bool
		jsonOutput bool
	)
	cmd.StringVar(&epacksPath, "epacks", "", "Path to a JSONL EPACK ledger (REQUIRED)")
	cmd.StringVar(&sessionID, "session", "", "Session ID within the ledger (REQUIRED)")
	cmd.BoolVar(&strict, "strict", false, "Treat drift as failure")
	cmd.BoolVar(&jsonOutput, "json", false, "Output per-record results as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if epacksPath == "" || sessionID == "" {
		fmt.Fprintln(stderr, "Error: --epacks and --session are required")
		cmd.Usage()
		return 2
	}

	sink := epack.NewFileSink(epacksPath)
	chain, err := sink.Records(context.Background(), sessionID)
	if err != nil {
		fmt.Fprintf(stderr, "Error: load chain: %v\n", err)
		return 2
	}

	results, err := replay.ReplayChain(chain, replay.Options{})
	if err != nil {
		fmt.Fprintf(stderr, "Error: replay: %v\n", err)
		return 2
	}
	summary := replay.Summarize(results)

	if jsonOutput {
		out := map[string]any{"results": results, "summary": summary}
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Fprintln(stdout, string(data))
	} else {
		fmt.Fprintf(stdout, "Records:           %d\n", summary.Total)
		fmt.Fprintf(stdout, "Determinism index: %.3f\n", summary.DeterminismIndex)
		fmt.Fprintf(stdout, "Governance match:  %.3f\n", summary.GovernanceMatchRate)
		fmt.Fprintf(stdout, "Chain link rate:   %.3f\n", summary.ChainLinkRate)
		if len(summary.TamperedRecords) > 0 {
			fmt.Fprintf(stdout, "Tampered records:  %v\n", summary.TamperedRecords)
		}
		fmt.Fprintf(stdout, "Outcome:           %s\n", summary.Outcome)
	}

	switch summary.Outcome {
	case replay.OutcomeVerified:
		return 0
	case replay.OutcomeDrift:
		if strict {
			return 1
		}
		return 0
	default:
		return 1
	}
}
