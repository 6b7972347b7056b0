package resilience

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Compiled is the runtime built from a policy document's
// resilience_policy block.
type Compiled struct {
	Enabled bool
	Runtime *Runtime
	Raw     map[string]any
	Errors  []string
}

// CompilePolicy builds the full resilience runtime from a decoded policy
// document. Missing fields default; a disabled or absent block yields an
// inert Compiled with no runtime.
func CompilePolicy(policy map[string]any) Compiled {
	raw := section(policy, "resilience_policy")
	if !boolIn(raw, "enabled", false) {
		return Compiled{Raw: raw}
	}

	var errs []string

	targetsBlock := section(raw, "targets")
	tsiCfg := section(targetsBlock, "tsi")
	recCfg := section(targetsBlock, "recovery")
	targets := Targets{
		TSITarget:          floatIn(tsiCfg, "target", 0.75),
		TSIMin:             floatIn(tsiCfg, "min", 0.70),
		TSICritical:        floatIn(tsiCfg, "critical", 0.55),
		MaxRecoveryMinutes: intIn(recCfg, "max_minutes", 15),
	}

	budgetsBlock := section(raw, "budgets")
	budgets := Budgets{
		LatencyMSMax: intIn(budgetsBlock, "latency_ms_max", 800),
		CostUSDMax:   floatIn(budgetsBlock, "cost_usd_max", 0.50),
	}

	scoringBlock := section(raw, "scoring")
	weights := section(scoringBlock, "weights")
	scoring := Scoring{
		DiversityBonus:       floatIn(weights, "diversity_bonus", 0.15),
		LatencyPenaltyPerMS:  floatIn(weights, "latency_penalty_per_ms", 0.0005),
		CostPenaltyPerUSD:    floatIn(weights, "cost_penalty_per_usd", 0.25),
		ConfidenceLowPenalty: floatIn(weights, "confidence_low_penalty", 0.30),
		TierPenalties:        tierPenalties(section(scoringBlock, "tier_penalties")),
	}
	engine := NewEngine(budgets, targets, scoring)

	plans, planErrs := parsePlans(section(raw, "plans"))
	errs = append(errs, planErrs...)

	opts := []RuntimeOption{}
	dcfg := section(raw, "damping")
	if boolIn(dcfg, "enabled", true) {
		pidCfg := section(dcfg, "pid")
		pid := PIDParams{
			KP:          floatIn(pidCfg, "kp", 0.5),
			KI:          floatIn(pidCfg, "ki", 0.2),
			KD:          floatIn(pidCfg, "kd", 0.1),
			IntegralCap: floatIn(pidCfg, "integral_cap", 2.0),
		}
		opts = append(opts, WithDamping(NewStabilizer(
			pid,
			floatIn(dcfg, "max_oscillation", 0.15),
			time.Duration(intIn(dcfg, "cooldown_seconds", 60))*time.Second,
		)))
	}

	runtime := NewRuntime(engine, plans, opts...)

	auditCfg := section(raw, "audit")
	verifyCfg := section(auditCfg, "verify_post_recovery")
	runtime.Verifier = NewVerifier(VerificationConfig{
		ReplaySamples: intIn(verifyCfg, "replay_samples", 3),
		MVICheck:      boolIn(verifyCfg, "mvi_check", true),
	}, targets)

	return Compiled{Enabled: true, Runtime: runtime, Raw: raw, Errors: errs}
}

// parsePlans reads tier_1/tier_2/tier_3 plan lists from the plans block.
func parsePlans(block map[string]any) ([]Plan, []string) {
	var plans []Plan
	var errs []string
	for tier := 1; tier <= 3; tier++ {
		key := fmt.Sprintf("tier_%d", tier)
		list, ok := block[key].([]any)
		if !ok {
			continue
		}
		for i, item := range list {
			p, ok := item.(map[string]any)
			if !ok {
				errs = append(errs, fmt.Sprintf("plans.%s[%d]: not a mapping", key, i))
				continue
			}
			name := strIn(p, "name", "")
			if name == "" {
				name = strIn(p, "id", fmt.Sprintf("unnamed_%s", key))
			}
			pred := section(p, "predicted")
			patch, _ := p["routing_patch"].(map[string]any)
			plans = append(plans, Plan{
				Name:                      name,
				Tier:                      tier,
				PredictedTSIMedian:        floatIn(pred, "tsi_median", 0.72),
				PredictedTSILow:           floatIn(pred, "tsi_low", 0.65),
				PredictedTSIHigh:          floatIn(pred, "tsi_high", 0.80),
				PredictedLatencyMS:        intIn(pred, "latency_ms", 200),
				PredictedCostUSD:          floatIn(pred, "cost_usd", 0.01),
				PredictedIndependenceGain: floatIn(pred, "independence_gain", 0),
				RoutingPatch:              patch,
			})
		}
	}
	return plans, errs
}

func tierPenalties(block map[string]any) map[int]float64 {
	if len(block) == 0 {
		return nil
	}
	out := map[int]float64{}
	for k, v := range block {
		tier, err := strconv.Atoi(strings.TrimPrefix(k, "tier_"))
		if err != nil {
			continue
		}
		out[tier] = toFloat(v, 0)
	}
	return out
}

func section(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	sub, _ := m[key].(map[string]any)
	return sub
}

func boolIn(m map[string]any, key string, def bool) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return def
}

func strIn(m map[string]any, key, def string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return def
}

func floatIn(m map[string]any, key string, def float64) float64 {
	v, ok := m[key]
	if !ok {
		return def
	}
	return toFloat(v, def)
}

func intIn(m map[string]any, key string, def int) int {
	return int(floatIn(m, key, float64(def)))
}

func toFloat(v any, def float64) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return def
}
