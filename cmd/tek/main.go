package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/Beaconwise-Labs/tek/pkg/kernel"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests.
var startServer = runServe

// Run dispatches the subcommand and returns the process exit code.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return startServer(stdout, stderr)
	}

	switch args[1] {
	case "server", "serve":
		return startServer(stdout, stderr)
	case "query":
		return runQueryCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "replay":
		return runReplayCmd(args[2:], stdout, stderr)
	case "export":
		return runExportCmd(args[2:], stdout, stderr)
	case "policy":
		return runPolicyCmd(args[2:], stdout, stderr)
	case "manifest":
		return runManifestCmd(stdout, stderr)
	case "doctor":
		return runDoctorCmd(stdout, stderr)
	case "version", "--version":
		fmt.Fprintf(stdout, "%s %s\n", kernel.ProductName, kernel.KernelVersion)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if args[1][0] == '-' {
			return startServer(stdout, stderr)
		}
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// ANSI Colors
const (
	ColorReset = "\033[0m"
	ColorBold  = "\033[1m"
	ColorGreen = "\033[32m"
	ColorBlue  = "\033[34m"
	ColorCyan  = "\033[36m"
	ColorGray  = "\033[37m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sTEK Kernel %s%s\n", ColorBold+ColorBlue, kernel.KernelVersion, ColorReset)
	fmt.Fprintf(w, "%sEvery governed turn leaves a sealed trace.%s\n", ColorGray, ColorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	fmt.Fprintln(w, "  tek <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "KERNEL")
	printCommand(w, "serve", "Run the TEK API server (default)")
	printCommand(w, "query", "Run one governed query through the consensus pipeline")
	printCommand(w, "doctor", "Check configuration and storage health")

	printSection(w, "EVIDENCE & VERIFICATION")
	printCommand(w, "verify", "Verify an EPACK chain or an archived replay package")
	printCommand(w, "replay", "Replay a session's chain and report determinism")
	printCommand(w, "export", "Build and archive a sealed replay package")

	printSection(w, "GOVERNANCE")
	printCommand(w, "policy", "Validate a governance policy file")
	printCommand(w, "manifest", "Print the sealed build manifest")

	printSection(w, "UTILITIES")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorCyan, title, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-12s%s %s\n", ColorGreen, name, ColorReset, desc)
}

func runManifestCmd(stdout, stderr io.Writer) int {
	m, err := kernel.CurrentManifest()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	fmt.Fprintln(stdout, string(data))
	return 0
}
