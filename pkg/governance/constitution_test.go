package governance

import (
	"strings"
	"testing"

	"github.com/Beaconwise-Labs/tek/pkg/epack"
)

func TestConstitutionCatalogue(t *testing.T) {
	invs := Constitution()
	if len(invs) != 13 {
		t.Fatalf("invariant count = %d, want 13", len(invs))
	}

	seen := map[string]bool{}
	for _, inv := range invs {
		if seen[inv.ID] {
			t.Fatalf("duplicate invariant id %s", inv.ID)
		}
		seen[inv.ID] = true
		switch inv.Severity {
		case SeverityCritical, SeverityWarning, SeverityAdvisory:
		default:
			t.Fatalf("%s: unknown severity %q", inv.ID, inv.Severity)
		}
		if inv.Name == "" || inv.Description == "" || inv.Category == "" || inv.CheckFn == "" {
			t.Fatalf("%s: incomplete invariant", inv.ID)
		}
	}
	for _, id := range []string{"INV-DET-001", "INV-AUD-001", "INV-CAP-001", "INV-SAF-001", "INV-EVO-001"} {
		if !seen[id] {
			t.Fatalf("missing invariant %s", id)
		}
	}
}

func TestConstitutionHashStable(t *testing.T) {
	h1, err := ConstitutionHash()
	if err != nil {
		t.Fatal(err)
	}
	h2, err := ConstitutionHash()
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatalf("constitution hash unstable: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Fatalf("hash length = %d, want 64", len(h1))
	}
}

func TestCheckAuditCompleteness(t *testing.T) {
	if r := CheckAuditCompleteness(5, 5); !r.Passed {
		t.Fatalf("complete audit should pass: %s", r.Message)
	}
	r := CheckAuditCompleteness(5, 3)
	if r.Passed {
		t.Fatal("missing records should fail")
	}
	if !strings.Contains(r.Message, "5 interactions but only 3 records") {
		t.Fatalf("message = %q", r.Message)
	}
}

func buildChain(t *testing.T, n int) []epack.Record {
	t.Helper()
	chain := make([]epack.Record, 0, n)
	prev := epack.Genesis
	for i := 0; i < n; i++ {
		rec, err := epack.New(i, prev, map[string]any{"turn": i})
		if err != nil {
			t.Fatal(err)
		}
		chain = append(chain, rec)
		prev = rec.Hash
	}
	return chain
}

func TestCheckHashChainIntegrity(t *testing.T) {
	if r := CheckHashChainIntegrity(nil); !r.Passed {
		t.Fatal("empty chain should be trivially valid")
	}

	chain := buildChain(t, 3)
	if r := CheckHashChainIntegrity(chain); !r.Passed {
		t.Fatalf("clean chain should pass: %s", r.Message)
	}

	chain[1].Payload["turn"] = 99
	if r := CheckHashChainIntegrity(chain); r.Passed {
		t.Fatal("tampered chain should fail")
	}
}

func TestCheckProvenanceManifest(t *testing.T) {
	if r := CheckProvenanceManifest(map[string]any{}); r.Passed {
		t.Fatal("missing manifest should fail")
	}
	r := CheckProvenanceManifest(map[string]any{
		"build_manifest": map[string]any{"kernel_version": "v1.9.0"},
	})
	if r.Passed {
		t.Fatal("manifest without seal should fail")
	}
	if !strings.Contains(r.Message, "manifest_hash") {
		t.Fatalf("message = %q", r.Message)
	}
	r = CheckProvenanceManifest(map[string]any{
		"build_manifest": map[string]any{"kernel_version": "v1.9.0", "manifest_hash": "abc"},
	})
	if !r.Passed {
		t.Fatalf("sealed manifest should pass: %s", r.Message)
	}
}

func TestCheckValidationBeforeDelivery(t *testing.T) {
	ok := true
	notOK := false

	if r := CheckValidationBeforeDelivery(true, &ok, true); !r.Passed {
		t.Fatal("validated delivery should pass")
	}
	if r := CheckValidationBeforeDelivery(false, nil, true); r.Passed {
		t.Fatal("unvalidated delivery should fail")
	}
	if r := CheckValidationBeforeDelivery(true, &notOK, true); r.Passed {
		t.Fatal("failed-validation delivery should fail")
	}
	// A withheld output is always compliant.
	if r := CheckValidationBeforeDelivery(true, &notOK, false); !r.Passed {
		t.Fatal("withheld output should pass")
	}
}

func TestCheckVendorNeutrality(t *testing.T) {
	if r := CheckVendorNeutrality([]string{"openai", "openai"}); r.Passed {
		t.Fatal("single provider should fail")
	}
	if r := CheckVendorNeutrality([]string{"openai", "anthropic"}); !r.Passed {
		t.Fatal("two providers should pass")
	}
}

func TestRunChecksAndCriticalAggregation(t *testing.T) {
	chain := buildChain(t, 2)
	ok := true
	results := RunChecks(CheckInput{
		InteractionCount: 2,
		Chain:            chain,
		ValidationRan:    true,
		ValidationOK:     &ok,
		AdapterProviders: []string{"openai", "anthropic"},
	})
	if len(results) != 4 {
		t.Fatalf("result count = %d, want 4", len(results))
	}
	if AnyCriticalViolations(results) {
		t.Fatal("healthy sweep should have no critical violations")
	}

	// Vendor capture is a critical violation.
	results = RunChecks(CheckInput{
		InteractionCount: 0,
		ValidationRan:    true,
		ValidationOK:     &ok,
		AdapterProviders: []string{"openai"},
	})
	if !AnyCriticalViolations(results) {
		t.Fatal("single-provider sweep should flag a critical violation")
	}
}

func TestWarningViolationIsNotCritical(t *testing.T) {
	results := []CheckResult{{InvariantID: "INV-AUD-002", Passed: false, Message: "missing manifest"}}
	if AnyCriticalViolations(results) {
		t.Fatal("INV-AUD-002 is a warning, not critical")
	}
}
