package main

import (
	"context"
	"fmt"
	"io"
	"runtime"

	"github.com/Beaconwise-Labs/tek/pkg/artifacts"
	"github.com/Beaconwise-Labs/tek/pkg/config"
	"github.com/Beaconwise-Labs/tek/pkg/epack"
	"github.com/Beaconwise-Labs/tek/pkg/governance"
)

// runDoctorCmd implements `tek doctor` — configuration and storage health.
//
// Exit codes:
//
//	0 = all checks pass (warnings allowed)
//	1 = one or more checks failed
func runDoctorCmd(stdout, stderr io.Writer) int {
	type checkResult struct {
		Name   string
		Status string // "ok", "warn", "fail"
		Detail string
	}

	settings := config.Load()
	var results []checkResult
	allOK := true

	results = append(results, checkResult{
		Name:   "go_runtime",
		Status: "ok",
		Detail: fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH),
	})

	results = append(results, checkResult{
		Name:   "kernel_mode",
		Status: "ok",
		Detail: fmt.Sprintf("%s (%s deployment)", settings.KernelMode, settings.DeploymentMode),
	})

	if settings.APITokenSecret == "" {
		results = append(results, checkResult{
			Name:   "api_token_secret",
			Status: "warn",
			Detail: "TEK_API_TOKEN_SECRET not set; mutating endpoints reject all requests",
		})
	} else {
		results = append(results, checkResult{Name: "api_token_secret", Status: "ok", Detail: "set"})
	}

	policy, err := governance.LoadPolicy(settings.PolicyPath)
	switch {
	case err != nil:
		results = append(results, checkResult{Name: "policy", Status: "fail", Detail: err.Error()})
		allOK = false
	case len(governance.ValidatePolicy(policy)) > 0:
		results = append(results, checkResult{
			Name:   "policy",
			Status: "fail",
			Detail: fmt.Sprintf("%s fails validation", settings.PolicyPath),
		})
		allOK = false
	default:
		results = append(results, checkResult{Name: "policy", Status: "ok", Detail: settings.PolicyPath})
	}

	_, backend, err := epack.OpenSink(context.Background(), epack.StoreConfig{
		PostgresDSN: settings.PostgresDSN,
		SQLitePath:  settings.EpackDBPath,
		FilePath:    settings.EpackStorePath,
		Persist:     settings.PersistEpacks,
	})
	if err != nil {
		results = append(results, checkResult{Name: "evidence_store", Status: "fail", Detail: err.Error()})
		allOK = false
	} else {
		results = append(results, checkResult{Name: "evidence_store", Status: "ok", Detail: backend})
	}

	if settings.ArtifactStore == "" {
		results = append(results, checkResult{
			Name:   "artifact_store",
			Status: "warn",
			Detail: "TEK_ARTIFACT_STORE not set; export defaults to ./artifacts",
		})
	} else if _, err := artifacts.OpenArchive(context.Background(), settings.ArtifactStore); err != nil {
		results = append(results, checkResult{Name: "artifact_store", Status: "fail", Detail: err.Error()})
		allOK = false
	} else {
		results = append(results, checkResult{Name: "artifact_store", Status: "ok", Detail: settings.ArtifactStore})
	}

	if settings.RedisAddr != "" {
		results = append(results, checkResult{Name: "redis", Status: "ok", Detail: settings.RedisAddr})
	}

	fmt.Fprintf(stdout, "\n%sTEK Doctor%s\n", ColorBold+ColorBlue, ColorReset)
	fmt.Fprintln(stdout, "──────────")
	for _, r := range results {
		icon := "✅"
		if r.Status == "warn" {
			icon = "⚠️ "
		} else if r.Status == "fail" {
			icon = "❌"
		}
		fmt.Fprintf(stdout, "  %s  %-18s %s%s%s\n", icon, r.Name, ColorGray, r.Detail, ColorReset)
	}

	if allOK {
		fmt.Fprintf(stdout, "\n%sAll checks passed.%s\n", ColorGreen+ColorBold, ColorReset)
		return 0
	}
	return 1
}
