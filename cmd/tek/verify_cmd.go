package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Beaconwise-Labs/tek/pkg/artifacts"
	"github.com/Beaconwise-Labs/tek/pkg/epack"
	"github.com/Beaconwise-Labs/tek/pkg/replay"
)

// runVerifyCmd implements `tek verify`.
//
// Three input modes, checked in order:
//
//	--bundle <file>          verify a replay package JSON file offline
//	--package <hash>         verify an archived package (TEK_ARTIFACT_STORE)
//	--epacks <p> --session <s>  verify a session chain from a JSONL ledger
//
// Exit codes:
//
//	0 = verification passed
//	1 = verification failed
//	2 = runtime or usage error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		bundle      string
		packageHash string
		epacksPath  string
		sessionID   string
		jsonOutput  bool
	)
	cmd.StringVar(&bundle, "bundle", "", "Path to a sealed replay package JSON file")
	cmd.StringVar(&packageHash, "package", "", "Package hash in the configured artifact archive")
	cmd.StringVar(&epacksPath, "epacks", "", "Path to a JSONL EPACK ledger")
	cmd.StringVar(&sessionID, "session", "", "Session ID within the ledger")
	cmd.BoolVar(&jsonOutput, "json", false, "Output results as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	switch {
	case bundle != "":
		return verifyBundle(bundle, jsonOutput, stdout, stderr)
	case packageHash != "":
		return verifyArchived(packageHash, jsonOutput, stdout, stderr)
	case epacksPath != "":
		if sessionID == "" {
			fmt.Fprintln(stderr, "Error: --epacks requires --session")
			return 2
		}
		return verifyChainFile(epacksPath, sessionID, jsonOutput, stdout, stderr)
	default:
		fmt.Fprintln(stderr, "Error: one of --bundle, --package, or --epacks is required")
		cmd.Usage()
		return 2
	}
}

func verifyBundle(path string, jsonOutput bool, stdout, stderr io.Writer) int {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	var pkg replay.Package
	if err := json.Unmarshal(data, &pkg); err != nil {
		fmt.Fprintf(stderr, "Error: decode package: %v\n", err)
		return 2
	}
	res, err := replay.Verify(pkg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	return reportVerify(res, jsonOutput, stdout)
}

func verifyArchived(hash string, jsonOutput bool, stdout, stderr io.Writer) int {
	ctx := context.Background()
	archive, err := artifacts.OpenArchiveFromEnv(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: open archive: %v\n", err)
		return 2
	}
	res, err := archive.Verify(ctx, hash)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	return reportVerify(res, jsonOutput, stdout)
}

func verifyChainFile(path, sessionID string, jsonOutput bool, stdout, stderr io.Writer) int {
	sink := epack.NewFileSink(path)
	chain, err := sink.Records(context.Background(), sessionID)
	if err != nil {
		fmt.Fprintf(stderr, "Error: load chain: %v\n", err)
		return 2
	}

	verifyErr := epack.VerifyChain(chain)
	if jsonOutput {
		out := map[string]any{
			"valid":        verifyErr == nil,
			"record_count": len(chain),
		}
		if verifyErr != nil {
			out["error"] = verifyErr.Error()
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Fprintln(stdout, string(data))
	} else if verifyErr != nil {
		fmt.Fprintf(stdout, "Chain verification failed: %v\n", verifyErr)
	} else {
		fmt.Fprintf(stdout, "Chain verified: %d records, head %s\n", len(chain), chain[len(chain)-1].Hash[:16])
	}

	if verifyErr != nil {
		return 1
	}
	return 0
}

func reportVerify(res replay.VerifyResult, jsonOutput bool, stdout io.Writer) int {
	if jsonOutput {
		data, _ := json.MarshalIndent(res, "", "  ")
		fmt.Fprintln(stdout, string(data))
	} else {
		for _, c := range res.Checks {
			mark := "PASS"
			if !c.OK {
				mark = "FAIL"
			}
			fmt.Fprintf(stdout, "  [%s] %-16s %s\n", mark, c.Name, c.Detail)
		}
		fmt.Fprintf(stdout, "Outcome: %s\n", res.Outcome)
	}
	if !res.OK {
		return 1
	}
	return 0
}
