package resilience

import (
	"strings"
	"testing"
)

func TestVerifyImprovement(t *testing.T) {
	v := NewVerifier(DefaultVerificationConfig(), DefaultTargets())
	res := v.Verify(Plan{Name: "reroute"}, 0.65, 0.72, nil)
	if !res.TSIImproved || res.RecommendRollback {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Reasons) != 1 || res.Reasons[0] != "recovery_verified_ok" {
		t.Fatalf("reasons = %v", res.Reasons)
	}
}

func TestVerifyFlatDelta(t *testing.T) {
	v := NewVerifier(DefaultVerificationConfig(), DefaultTargets())
	res := v.Verify(Plan{Name: "reroute"}, 0.70, 0.71, nil)
	if res.TSIImproved || res.RecommendRollback {
		t.Fatalf("result = %+v", res)
	}
	if !strings.HasPrefix(res.Reasons[0], "tsi_flat:") {
		t.Fatalf("reasons = %v", res.Reasons)
	}
}

func TestVerifyDegradationRollback(t *testing.T) {
	v := NewVerifier(DefaultVerificationConfig(), DefaultTargets())
	res := v.Verify(Plan{Name: "reroute"}, 0.75, 0.68, nil)
	if !res.RecommendRollback {
		t.Fatalf("result = %+v", res)
	}
	found := false
	for _, r := range res.Reasons {
		if r == "rollback:tsi_degradation_exceeds_threshold" {
			found = true
		}
	}
	if !found {
		t.Fatalf("reasons = %v", res.Reasons)
	}
}

func TestVerifyStillCriticalRollback(t *testing.T) {
	v := NewVerifier(DefaultVerificationConfig(), DefaultTargets())
	res := v.Verify(Plan{Name: "reroute"}, 0.45, 0.50, nil)
	if !res.RecommendRollback {
		t.Fatalf("improvement below critical must still roll back: %+v", res)
	}
}

func TestVerifyGovernanceMismatchRollback(t *testing.T) {
	v := NewVerifier(DefaultVerificationConfig(), DefaultTargets())
	samples := []ReplaySample{
		{GovernanceMatch: true, DeterminismIndex: 100},
		{GovernanceMatch: false, DeterminismIndex: 83.3},
		{GovernanceMatch: true, DeterminismIndex: 100},
	}
	res := v.Verify(Plan{Name: "reroute"}, 0.65, 0.72, samples)
	if res.MVIPassed || !res.RecommendRollback {
		t.Fatalf("result = %+v", res)
	}
	if res.SamplesChecked != 3 {
		t.Fatalf("samples checked = %d", res.SamplesChecked)
	}
	found := false
	for _, r := range res.Reasons {
		if r == "mvi_failed:1/3_governance_mismatches" {
			found = true
		}
	}
	if !found {
		t.Fatalf("reasons = %v", res.Reasons)
	}
}
