package replay

import (
	"testing"
	"time"

	"github.com/Beaconwise-Labs/tek/pkg/epack"
	"github.com/Beaconwise-Labs/tek/pkg/stablehash"
)

func testClock() func() time.Time {
	base := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	n := 0
	return func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

// sealedPayload builds a turn payload with a properly self-sealed
// decision object, mirroring what the turn engine records.
func sealedPayload(t *testing.T, interaction int, route string) map[string]any {
	t.Helper()
	decision := map[string]any{
		"interaction": interaction,
		"route":       route,
		"verdict":     "ANSWERED",
		"integrity":   map[string]any{"canonical_payload_hash": ""},
	}
	dh, err := stablehash.Hash(decision)
	if err != nil {
		t.Fatalf("hash decision: %v", err)
	}
	decision["integrity"] = map[string]any{"canonical_payload_hash": dh}
	return map[string]any{
		"interaction":    interaction,
		"route":          route,
		"profile":        "STANDARD",
		"user_text_hash": stablehash.HashBytes([]byte("hello")),
		"decision_hash":  dh,
		"decision_object": map[string]any{
			"interaction": interaction,
			"route":       route,
			"verdict":     "ANSWERED",
			"integrity":   map[string]any{"canonical_payload_hash": dh},
		},
		"build_manifest": map[string]any{"manifest_hash": "ab12"},
		"extra": map[string]any{
			"input_vector": map[string]any{"stage1_ok": true, "safe": true},
		},
	}
}

func buildChain(t *testing.T, n int) []epack.Record {
	t.Helper()
	clock := testClock()
	prev := epack.Genesis
	var chain []epack.Record
	for i := 1; i <= n; i++ {
		rec, err := epack.New(i, prev, sealedPayload(t, i, "TDM"), epack.WithClock(clock))
		if err != nil {
			t.Fatalf("seal record %d: %v", i, err)
		}
		chain = append(chain, rec)
		prev = rec.Hash
	}
	return chain
}

func TestCleanChainReplaysVerified(t *testing.T) {
	chain := buildChain(t, 5)
	results, err := ReplayChain(chain, Options{Clock: testClock()})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	for _, r := range results {
		if r.Outcome != OutcomeVerified {
			t.Fatalf("seq %d: outcome = %s, want VERIFIED", r.EpackSeq, r.Outcome)
		}
		if r.DeterminismIndex != 100.0 {
			t.Fatalf("seq %d: determinism index = %v, want 100.0", r.EpackSeq, r.DeterminismIndex)
		}
	}
	sum := Summarize(results)
	if sum.Outcome != OutcomeVerified || sum.DeterminismIndex != 100.0 {
		t.Fatalf("summary = %+v", sum)
	}
	if len(sum.TamperedRecords) != 0 {
		t.Fatalf("tampered records = %v, want none", sum.TamperedRecords)
	}
}

func TestMutatedFieldDetectedAsTamper(t *testing.T) {
	chain := buildChain(t, 5)
	// Flip one byte of the sealed payload in turn 3.
	chain[2].Payload["route"] = "BOUND"

	results, err := ReplayChain(chain, Options{Clock: testClock()})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if results[2].Outcome != OutcomeTamper {
		t.Fatalf("seq 3 outcome = %s, want TAMPER_DETECTED", results[2].Outcome)
	}
	for _, i := range []int{0, 1} {
		if results[i].Outcome != OutcomeVerified {
			t.Fatalf("seq %d outcome = %s, want VERIFIED", i+1, results[i].Outcome)
		}
	}
	sum := Summarize(results)
	if sum.Outcome != OutcomeTamper {
		t.Fatalf("summary outcome = %s", sum.Outcome)
	}
	if len(sum.TamperedRecords) != 1 || sum.TamperedRecords[0] != 3 {
		t.Fatalf("tampered records = %v, want [3]", sum.TamperedRecords)
	}
}

func TestDeletedRecordBreaksLinkage(t *testing.T) {
	chain := buildChain(t, 4)
	truncated := append([]epack.Record{chain[0]}, chain[2:]...)
	results, err := ReplayChain(truncated, Options{Clock: testClock()})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if results[1].ChainLinkMatch {
		t.Fatal("record after deletion should fail chain linkage")
	}
	if results[1].Outcome != OutcomeTamper {
		t.Fatalf("outcome = %s, want TAMPER_DETECTED", results[1].Outcome)
	}
}

func TestDuplicatedRecordBreaksLinkage(t *testing.T) {
	chain := buildChain(t, 3)
	dup := append(chain[:2:2], chain[1], chain[2])
	results, err := ReplayChain(dup, Options{Clock: testClock()})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if results[2].ChainLinkMatch {
		t.Fatal("duplicated record should fail chain linkage")
	}
}

func TestReorderedChainBreaksLinkage(t *testing.T) {
	chain := buildChain(t, 3)
	chain[1], chain[2] = chain[2], chain[1]
	results, err := ReplayChain(chain, Options{Clock: testClock()})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if results[1].ChainLinkMatch && results[2].ChainLinkMatch {
		t.Fatal("reordered chain should fail linkage somewhere")
	}
}

func TestRoutingRecheckMismatchIsDrift(t *testing.T) {
	chain := buildChain(t, 1)
	results, err := ReplayChain(chain, Options{
		Clock:        testClock(),
		RecheckRoute: func(iv map[string]any) string { return "REFLECT" },
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if results[0].Outcome != OutcomeDrift {
		t.Fatalf("outcome = %s, want DRIFT", results[0].Outcome)
	}
	if results[0].GovernanceMatch {
		t.Fatal("governance match should be false on route drift")
	}
}

func TestRoutingRecheckMatchStaysVerified(t *testing.T) {
	chain := buildChain(t, 1)
	results, err := ReplayChain(chain, Options{
		Clock:         testClock(),
		RecheckRoute:  func(iv map[string]any) string { return "TDM" },
		RecheckSafety: func(iv map[string]any) bool { return true },
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if results[0].Outcome != OutcomeVerified {
		t.Fatalf("outcome = %s, want VERIFIED", results[0].Outcome)
	}
}

func TestMissingProvenanceIsDrift(t *testing.T) {
	clock := testClock()
	payload := sealedPayload(t, 1, "TDM")
	delete(payload, "build_manifest")
	rec, err := epack.New(1, epack.Genesis, payload, epack.WithClock(clock))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	res, err := Replay(rec, Options{Clock: clock})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if res.Outcome != OutcomeDrift {
		t.Fatalf("outcome = %s, want DRIFT", res.Outcome)
	}
}

func TestPackageSealAndVerify(t *testing.T) {
	chain := buildChain(t, 3)
	pkg, err := Build(chain, BuildOptions{
		KernelVersion:     "v1.9.0",
		GovernanceProfile: "STANDARD",
		ValidatorSetID:    "vs-default",
		Clock:             testClock(),
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if pkg.EpackHeadHash != chain[2].Hash {
		t.Fatal("head hash should be last record hash")
	}
	if pkg.InputMetadata["epack_count"] != 3 {
		t.Fatalf("epack_count = %v", pkg.InputMetadata["epack_count"])
	}
	if pkg.InputPayloadHash == "" {
		t.Fatal("input payload hash should come from first record")
	}

	res, err := Verify(pkg)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.OK || res.Outcome != OutcomeVerified {
		t.Fatalf("verify result = %+v", res)
	}
}

func TestPackageSealDetectsMutation(t *testing.T) {
	chain := buildChain(t, 2)
	pkg, err := Build(chain, BuildOptions{KernelVersion: "v1.9.0", Clock: testClock()})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	pkg.GovernanceProfile = "HIGH_SCRUTINY"
	res, err := Verify(pkg)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.OK {
		t.Fatal("mutated package should fail verification")
	}
	if res.Outcome != OutcomeTamper {
		t.Fatalf("outcome = %s, want TAMPER_DETECTED", res.Outcome)
	}
}

func TestPackageChainTamperDetected(t *testing.T) {
	chain := buildChain(t, 3)
	pkg, err := Build(chain, BuildOptions{KernelVersion: "v1.9.0", Clock: testClock()})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	pkg.EpackChain[1].Payload["route"] = "BOUND"
	if err := pkg.Seal(); err != nil {
		t.Fatalf("reseal: %v", err)
	}
	res, err := Verify(pkg)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	var chainCheck *Check
	for i := range res.Checks {
		if res.Checks[i].Name == "chain_integrity" {
			chainCheck = &res.Checks[i]
		}
	}
	if chainCheck == nil || chainCheck.OK {
		t.Fatal("chain integrity check should fail after in-chain mutation")
	}
	if res.Outcome != OutcomeTamper {
		t.Fatalf("outcome = %s, want TAMPER_DETECTED", res.Outcome)
	}
}

func TestPackageMissingKernelVersionIsDrift(t *testing.T) {
	chain := buildChain(t, 1)
	pkg, err := Build(chain, BuildOptions{Clock: testClock()})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	res, err := Verify(pkg)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.OK {
		t.Fatal("package without kernel_version should not verify")
	}
	if res.Outcome != OutcomeDrift {
		t.Fatalf("outcome = %s, want DRIFT", res.Outcome)
	}
}

func TestBuildRejectsEmptyChain(t *testing.T) {
	if _, err := Build(nil, BuildOptions{}); err != ErrEmptyChain {
		t.Fatalf("err = %v, want ErrEmptyChain", err)
	}
}
