package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/Beaconwise-Labs/tek/pkg/config"
	"github.com/Beaconwise-Labs/tek/pkg/governance"
)

// runPolicyCmd implements `tek policy` — load a governance policy file,
// merge it over the defaults, and validate it.
//
// Exit codes:
//
//	0 = policy valid
//	1 = policy invalid
//	2 = runtime error
func runPolicyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("policy", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		path       string
		jsonOutput bool
	)
	cmd.StringVar(&path, "path", "", "Policy file (defaults to BW_POLICY_PATH)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the merged policy and errors as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if path == "" {
		path = config.Load().PolicyPath
	}

	policy, err := governance.LoadPolicy(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	errs := governance.ValidatePolicy(policy)

	if jsonOutput {
		out := map[string]any{
			"path":   path,
			"valid":  len(errs) == 0,
			"errors": errs,
			"policy": policy,
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Fprintln(stdout, string(data))
	} else if len(errs) > 0 {
		fmt.Fprintf(stdout, "Policy %s is invalid:\n", path)
		for _, e := range errs {
			fmt.Fprintf(stdout, "  - %s\n", e)
		}
	} else {
		fmt.Fprintf(stdout, "Policy %s is valid (id=%v version=%v)\n", path, policy["policy_id"], policy["policy_version"])
	}

	if len(errs) > 0 {
		return 1
	}
	return 0
}
