package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Beaconwise-Labs/tek/pkg/epack"
	"github.com/Beaconwise-Labs/tek/pkg/stablehash"
)

func TestRunDispatch(t *testing.T) {
	served := false
	orig := startServer
	startServer = func(stdout, stderr io.Writer) int {
		served = true
		return 0
	}
	defer func() { startServer = orig }()

	var out, errOut bytes.Buffer

	if code := Run([]string{"tek"}, &out, &errOut); code != 0 || !served {
		t.Fatalf("bare invocation: code=%d served=%v", code, served)
	}

	served = false
	if code := Run([]string{"tek", "serve"}, &out, &errOut); code != 0 || !served {
		t.Fatalf("serve: code=%d served=%v", code, served)
	}

	if code := Run([]string{"tek", "help"}, &out, &errOut); code != 0 {
		t.Fatalf("help: code=%d", code)
	}
	if !strings.Contains(out.String(), "USAGE") {
		t.Fatalf("help output missing usage: %q", out.String())
	}

	errOut.Reset()
	if code := Run([]string{"tek", "frobnicate"}, &out, &errOut); code != 2 {
		t.Fatalf("unknown command: code=%d", code)
	}
	if !strings.Contains(errOut.String(), "Unknown command") {
		t.Fatalf("stderr = %q", errOut.String())
	}
}

func TestVersionCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := Run([]string{"tek", "version"}, &out, &errOut); code != 0 {
		t.Fatalf("code = %d", code)
	}
	if !strings.Contains(out.String(), "v1.9.0") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestManifestCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := Run([]string{"tek", "manifest"}, &out, &errOut); code != 0 {
		t.Fatalf("code = %d stderr=%s", code, errOut.String())
	}
	var m map[string]any
	if err := json.Unmarshal(out.Bytes(), &m); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if m["kernel_version"] != "v1.9.0" {
		t.Fatalf("kernel_version = %v", m["kernel_version"])
	}
	hash, _ := m["manifest_hash"].(string)
	if len(hash) != 64 {
		t.Fatalf("manifest_hash = %q", hash)
	}
}

func TestPolicyCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	policy := "policy_id: cli-test\npolicy_version: \"2\"\n"
	if err := os.WriteFile(path, []byte(policy), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	var out, errOut bytes.Buffer
	if code := Run([]string{"tek", "policy", "--path", path, "--json"}, &out, &errOut); code != 0 {
		t.Fatalf("code = %d stderr=%s", code, errOut.String())
	}
	var res map[string]any
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res["valid"] != true {
		t.Fatalf("errors = %v", res["errors"])
	}
}

func writeLedger(t *testing.T, sessionID string, n int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "epacks.jsonl")
	sink := epack.NewFileSink(path)
	prev := epack.Genesis
	for i := 1; i <= n; i++ {
		rec, err := epack.New(i, prev, map[string]any{
			"interaction":    i,
			"route":          "TDM",
			"user_text_hash": stablehash.HashBytes([]byte("cli fixture")),
		})
		if err != nil {
			t.Fatalf("seal record %d: %v", i, err)
		}
		if err := sink.Append(t.Context(), sessionID, rec); err != nil {
			t.Fatalf("append: %v", err)
		}
		prev = rec.Hash
	}
	return path
}

func TestExportAndVerifyRoundTrip(t *testing.T) {
	ledgerPath := writeLedger(t, "sess-cli", 3)
	outPath := filepath.Join(t.TempDir(), "package.json")
	t.Setenv("TEK_ARTIFACT_STORE", "file://"+t.TempDir())

	var out, errOut bytes.Buffer
	code := Run([]string{
		"tek", "export",
		"--epacks", ledgerPath, "--session", "sess-cli",
		"--out", outPath, "--archive", "--json",
	}, &out, &errOut)
	if code != 0 {
		t.Fatalf("export code = %d stderr=%s", code, errOut.String())
	}
	var res map[string]any
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("decode export result: %v", err)
	}
	hash, _ := res["package_hash"].(string)
	if len(hash) != 64 {
		t.Fatalf("package_hash = %q", hash)
	}

	out.Reset()
	if code := Run([]string{"tek", "verify", "--bundle", outPath}, &out, &errOut); code != 0 {
		t.Fatalf("verify bundle code = %d stderr=%s", code, errOut.String())
	}
	if !strings.Contains(out.String(), "Outcome: VERIFIED") {
		t.Fatalf("verify output = %q", out.String())
	}

	out.Reset()
	if code := Run([]string{"tek", "verify", "--package", hash}, &out, &errOut); code != 0 {
		t.Fatalf("verify archived code = %d stderr=%s", code, errOut.String())
	}

	if code := Run([]string{"tek", "verify", "--epacks", ledgerPath, "--session", "sess-cli"}, &out, &errOut); code != 0 {
		t.Fatalf("verify chain code = %d stderr=%s", code, errOut.String())
	}
}

func TestVerifyDetectsTamperedBundle(t *testing.T) {
	ledgerPath := writeLedger(t, "sess-tamper", 2)
	outPath := filepath.Join(t.TempDir(), "package.json")

	var out, errOut bytes.Buffer
	if code := Run([]string{"tek", "export", "--epacks", ledgerPath, "--session", "sess-tamper", "--out", outPath}, &out, &errOut); code != 0 {
		t.Fatalf("export code = %d stderr=%s", code, errOut.String())
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read package: %v", err)
	}
	data = bytes.Replace(data, []byte(`"v1.9.0"`), []byte(`"v9.9.9"`), 1)
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		t.Fatalf("write tampered package: %v", err)
	}

	out.Reset()
	if code := Run([]string{"tek", "verify", "--bundle", outPath}, &out, &errOut); code != 1 {
		t.Fatalf("tampered bundle code = %d output=%s", code, out.String())
	}
}

func TestReplayCommand(t *testing.T) {
	ledgerPath := writeLedger(t, "sess-replay", 2)

	var out, errOut bytes.Buffer
	code := Run([]string{"tek", "replay", "--epacks", ledgerPath, "--session", "sess-replay", "--json"}, &out, &errOut)
	if code != 0 {
		t.Fatalf("replay code = %d stderr=%s", code, errOut.String())
	}
	var res struct {
		Summary struct {
			Total   int    `json:"total"`
			Outcome string `json:"outcome"`
		} `json:"summary"`
	}
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Summary.Total != 2 {
		t.Fatalf("total = %d", res.Summary.Total)
	}

	// Minimal fixture payloads drift; strict mode turns that into failure.
	code = Run([]string{"tek", "replay", "--epacks", ledgerPath, "--session", "sess-replay", "--strict"}, &out, &errOut)
	if code != 1 {
		t.Fatalf("strict replay code = %d", code)
	}
}

func TestMissingFlagsAreUsageErrors(t *testing.T) {
	var out, errOut bytes.Buffer
	cases := [][]string{
		{"tek", "query"},
		{"tek", "verify"},
		{"tek", "replay"},
		{"tek", "export"},
		{"tek", "export", "--epacks", "x.jsonl", "--session", "s"},
	}
	for _, args := range cases {
		if code := Run(args, &out, &errOut); code != 2 {
			t.Fatalf("%v: code = %d", args[1:], code)
		}
	}
}
