package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/Beaconwise-Labs/tek/pkg/config"
	"github.com/Beaconwise-Labs/tek/pkg/consensus"
	"github.com/Beaconwise-Labs/tek/pkg/governance"
	"github.com/Beaconwise-Labs/tek/pkg/ledger"
	"github.com/Beaconwise-Labs/tek/pkg/llm"
)

// runQueryCmd implements `tek query` — one governed consensus run from the
// command line, without the HTTP surface.
//
// Exit codes:
//
//	0 = run completed with PASS or REWRITE
//	1 = run refused or errored
//	2 = usage error
func runQueryCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("query", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		text       string
		highStakes bool
		jsonOutput bool
	)
	cmd.StringVar(&text, "text", "", "Query text (REQUIRED)")
	cmd.BoolVar(&highStakes, "high-stakes", false, "Run the debate flow with validators")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the full result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(text) == "" {
		fmt.Fprintln(stderr, "Error: --text is required")
		cmd.Usage()
		return 2
	}

	settings := config.Load()
	policy, err := governance.LoadPolicy(settings.PolicyPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: load policy: %v\n", err)
		return 2
	}
	cfg := consensus.ConfigFromPolicy(policy)
	orch := consensus.NewOrchestrator(llm.DefaultRegistry(), ledger.New())

	epackID := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	res := orch.Run(context.Background(), consensus.RunInput{
		UserQuery:  text,
		HighStakes: highStakes,
		EpackID:    epackID,
		Config:     cfg,
	})

	if jsonOutput {
		data, _ := json.MarshalIndent(res, "", "  ")
		fmt.Fprintln(stdout, string(data))
	} else {
		fmt.Fprintf(stdout, "%sStatus:%s  %s\n", ColorBold, ColorReset, res.Status)
		fmt.Fprintf(stdout, "%sRun:%s     %s\n", ColorBold, ColorReset, res.RunID)
		fmt.Fprintf(stdout, "%sEpack:%s   %s\n", ColorBold, ColorReset, res.Epack)
		if res.Output != nil {
			fmt.Fprintf(stdout, "\n%s\n", res.Output.AnswerText())
		}
		if res.Error != "" {
			fmt.Fprintf(stderr, "Error: %s\n", res.Error)
		}
	}

	if res.Status == consensus.DecisionRefuse || res.Error != "" {
		return 1
	}
	return 0
}
