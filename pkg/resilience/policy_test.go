package resilience

import (
	"testing"

	"gopkg.in/yaml.v3"
)

const resiliencePolicyYAML = `
policy_id: bw-enterprise-1
resilience_policy:
  enabled: true
  targets:
    tsi:
      target: 0.78
      min: 0.72
      critical: 0.50
    recovery:
      max_minutes: 10
  budgets:
    latency_ms_max: 600
    cost_usd_max: 0.25
  scoring:
    weights:
      diversity_bonus: 0.20
      cost_penalty_per_usd: 0.30
    tier_penalties:
      tier_1: 0.0
      tier_2: 0.04
      tier_3: 0.10
  plans:
    tier_1:
      - name: reroute_backup
        predicted:
          tsi_median: 0.76
          tsi_low: 0.71
          latency_ms: 120
          cost_usd: 0.01
          independence_gain: 0.15
        routing_patch:
          provider: backup
    tier_2:
      - id: add_validator
        predicted:
          tsi_median: 0.79
          latency_ms: 350
  damping:
    enabled: true
    pid:
      kp: 0.6
      ki: 0.25
    max_oscillation: 0.20
    cooldown_seconds: 90
  audit:
    verify_post_recovery:
      replay_samples: 5
      mvi_check: true
`

func decodePolicy(t *testing.T, doc string) map[string]any {
	t.Helper()
	var policy map[string]any
	if err := yaml.Unmarshal([]byte(doc), &policy); err != nil {
		t.Fatalf("decode policy: %v", err)
	}
	return policy
}

func TestCompilePolicy(t *testing.T) {
	compiled := CompilePolicy(decodePolicy(t, resiliencePolicyYAML))
	if !compiled.Enabled || compiled.Runtime == nil {
		t.Fatalf("compiled = %+v", compiled)
	}
	if len(compiled.Errors) != 0 {
		t.Fatalf("errors = %v", compiled.Errors)
	}

	rt := compiled.Runtime
	if rt.Engine.Targets.TSITarget != 0.78 || rt.Engine.Targets.TSIMin != 0.72 {
		t.Fatalf("targets = %+v", rt.Engine.Targets)
	}
	if rt.Engine.Budgets.LatencyMSMax != 600 || rt.Engine.Budgets.CostUSDMax != 0.25 {
		t.Fatalf("budgets = %+v", rt.Engine.Budgets)
	}
	if rt.Engine.Scoring.DiversityBonus != 0.20 || rt.Engine.Scoring.CostPenaltyPerUSD != 0.30 {
		t.Fatalf("scoring = %+v", rt.Engine.Scoring)
	}
	// Unspecified weights keep their defaults.
	if rt.Engine.Scoring.ConfidenceLowPenalty != 0.30 {
		t.Fatalf("confidence penalty = %v", rt.Engine.Scoring.ConfidenceLowPenalty)
	}
	if rt.Engine.Scoring.TierPenalties[2] != 0.04 {
		t.Fatalf("tier penalties = %v", rt.Engine.Scoring.TierPenalties)
	}

	if len(rt.Plans) != 2 {
		t.Fatalf("plans = %+v", rt.Plans)
	}
	first := rt.Plans[0]
	if first.Name != "reroute_backup" || first.Tier != 1 || first.PredictedLatencyMS != 120 {
		t.Fatalf("plan = %+v", first)
	}
	if first.RoutingPatch["provider"] != "backup" {
		t.Fatalf("routing patch = %v", first.RoutingPatch)
	}
	second := rt.Plans[1]
	if second.Name != "add_validator" || second.Tier != 2 {
		t.Fatalf("plan = %+v", second)
	}
	// Missing predicted fields default.
	if second.PredictedTSILow != 0.65 || second.PredictedCostUSD != 0.01 {
		t.Fatalf("plan defaults = %+v", second)
	}

	if rt.Damping == nil {
		t.Fatal("damping should be compiled")
	}
	if rt.Damping.pid.KP != 0.6 || rt.Damping.pid.KI != 0.25 || rt.Damping.pid.KD != 0.1 {
		t.Fatalf("pid = %+v", rt.Damping.pid)
	}
	if rt.Verifier.cfg.ReplaySamples != 5 {
		t.Fatalf("verify config = %+v", rt.Verifier.cfg)
	}
}

func TestCompilePolicyDisabled(t *testing.T) {
	compiled := CompilePolicy(decodePolicy(t, "resilience_policy:\n  enabled: false\n"))
	if compiled.Enabled || compiled.Runtime != nil {
		t.Fatalf("compiled = %+v", compiled)
	}
	compiled = CompilePolicy(map[string]any{})
	if compiled.Enabled {
		t.Fatal("absent block must compile disabled")
	}
}

func TestCompilePolicyMalformedPlanCollected(t *testing.T) {
	doc := `
resilience_policy:
  enabled: true
  plans:
    tier_1:
      - just_a_string
      - name: good_plan
        predicted:
          tsi_median: 0.75
`
	compiled := CompilePolicy(decodePolicy(t, doc))
	if !compiled.Enabled {
		t.Fatal("malformed plan must not disable the block")
	}
	if len(compiled.Errors) != 1 {
		t.Fatalf("errors = %v", compiled.Errors)
	}
	if len(compiled.Runtime.Plans) != 1 || compiled.Runtime.Plans[0].Name != "good_plan" {
		t.Fatalf("plans = %+v", compiled.Runtime.Plans)
	}
}
