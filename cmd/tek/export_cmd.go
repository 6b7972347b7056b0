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
	"github.com/Beaconwise-Labs/tek/pkg/kernel"
	"github.com/Beaconwise-Labs/tek/pkg/replay"
)

// runExportCmd implements `tek export` — build a sealed replay package from
// a session's chain and write it to a file, the artifact archive, or both.
//
// Exit codes:
//
//	0 = package built and written
//	2 = runtime or usage error
func runExportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		epacksPath string
		sessionID  string
		outPath    string
		toArchive  bool
		profile    string
		jsonOutput bool
	)
	cmd.StringVar(&epacksPath, "epacks", "", "Path to a JSONL EPACK ledger (REQUIRED)")
	cmd.StringVar(&sessionID, "session", "", "Session ID within the ledger (REQUIRED)")
	cmd.StringVar(&outPath, "out", "", "Output path for the package JSON")
	cmd.BoolVar(&toArchive, "archive", false, "Also store the package in TEK_ARTIFACT_STORE")
	cmd.StringVar(&profile, "profile", "A_STANDARD", "Governance profile recorded in the package")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if epacksPath == "" || sessionID == "" {
		fmt.Fprintln(stderr, "Error: --epacks and --session are required")
		cmd.Usage()
		return 2
	}
	if outPath == "" && !toArchive {
		fmt.Fprintln(stderr, "Error: provide --out, --archive, or both")
		cmd.Usage()
		return 2
	}

	ctx := context.Background()
	sink := epack.NewFileSink(epacksPath)
	chain, err := sink.Records(ctx, sessionID)
	if err != nil {
		fmt.Fprintf(stderr, "Error: load chain: %v\n", err)
		return 2
	}

	pkg, err := replay.Build(chain, replay.BuildOptions{
		KernelVersion:     kernel.KernelVersion,
		GovernanceProfile: profile,
		ValidatorSetID:    "vs-default",
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: build package: %v\n", err)
		return 2
	}

	if outPath != "" {
		data, err := json.MarshalIndent(pkg, "", "  ")
		if err != nil {
			fmt.Fprintf(stderr, "Error: encode package: %v\n", err)
			return 2
		}
		if err := os.WriteFile(outPath, data, 0o644); err != nil {
			fmt.Fprintf(stderr, "Error: write package: %v\n", err)
			return 2
		}
	}

	if toArchive {
		archive, err := artifacts.OpenArchiveFromEnv(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "Error: open archive: %v\n", err)
			return 2
		}
		if _, err := archive.Put(ctx, pkg); err != nil {
			fmt.Fprintf(stderr, "Error: archive package: %v\n", err)
			return 2
		}
	}

	if jsonOutput {
		out := map[string]any{
			"session_id":   sessionID,
			"package_hash": pkg.PackageHash,
			"record_count": len(chain),
			"out":          outPath,
			"archived":     toArchive,
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Fprintln(stdout, string(data))
	} else {
		fmt.Fprintf(stdout, "Package sealed: %s (%d records)\n", pkg.PackageHash, len(chain))
		if outPath != "" {
			fmt.Fprintf(stdout, "  written to %s\n", outPath)
		}
		if toArchive {
			fmt.Fprintln(stdout, "  archived")
		}
	}
	return 0
}
