package governance

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/Beaconwise-Labs/tek/pkg/challenger"
	"github.com/Beaconwise-Labs/tek/pkg/kernel"
	"github.com/Beaconwise-Labs/tek/pkg/resilience"
)

// Policy is a decoded governance DSL document. Missing fields are filled
// from PolicyDefaults; unknown fields pass through untouched so forward
// revisions of the DSL stay readable.
type Policy map[string]any

// PolicyDefaults returns the baseline policy document. Every loader path
// deep-merges the decoded file over this.
func PolicyDefaults() Policy {
	return Policy{
		"policy_id": "default",
		"consensus": map[string]any{
			"min_validators":   1,
			"independence_min": 0.6,
			"primary":          map[string]any{"provider": "openai", "model": "gpt-4o-mini"},
			"validators": []any{
				map[string]any{"provider": "grok", "model": "grok-2"},
			},
		},
		"challenger": map[string]any{
			"enabled":  true,
			"provider": "groq",
			"model":    "compound-beta",
			"triggers": map[string]any{
				"high_stakes":            true,
				"disagreement_threshold": 0.22,
				"on_gate":                true,
				"low_evidence":           true,
			},
			"limits": map[string]any{
				"timeout_s":      6,
				"max_tokens":     400,
				"max_challenges": 10,
			},
		},
		"evidence_rules": map[string]any{
			"min_strength": "E1",
		},
		"replay": map[string]any{
			"strict_required": false,
			"retention_years": 7,
		},
		"resilience_policy": map[string]any{
			"version": "0.1",
			"enabled": false,
			"targets": map[string]any{
				"tsi":      map[string]any{"target": 0.75, "min": 0.70, "critical": 0.55},
				"recovery": map[string]any{"max_minutes": 15, "verify_after_minutes": 15},
			},
			"budgets":         map[string]any{"latency_ms_max": 800, "cost_usd_max": 0.50},
			"dependency_caps": map[string]any{"max_mass": 0.70, "min_diversity": 0.30, "max_density": 0.40},
			"triggers": []any{
				map[string]any{"id": "tsi_forecast_drop", "when": "tsi_forecast_15m < targets.tsi.min"},
				map[string]any{"id": "concentration_high", "when": "concentration_index >= 0.70 and tsi_forecast_15m < targets.tsi.target"},
				map[string]any{"id": "system_degraded", "when": "system_status in ['degraded','incident']"},
			},
			"plans": map[string]any{"tier_1": []any{}, "tier_2": []any{}, "tier_3": []any{}},
			"scoring": map[string]any{
				"weights": map[string]any{
					"diversity_bonus":        0.15,
					"latency_penalty_per_ms": 0.0005,
					"cost_penalty_per_usd":   0.25,
					"confidence_low_penalty": 0.30,
				},
				"tier_penalties": map[string]any{"1": 0.00, "2": 0.05, "3": 0.12},
				"tie_breakers":   []any{"predicted_independence_gain", "-tier"},
			},
			"damping": map[string]any{
				"enabled":          true,
				"max_oscillation":  0.15,
				"cooldown_seconds": 60,
				"pid":              map[string]any{"kp": 0.5, "ki": 0.2, "kd": 0.1, "integral_cap": 2.0},
			},
			"adaptive_tuning": map[string]any{"enabled": false, "method": "heuristic", "max_delta": 0.10},
			"human_override":  map[string]any{"enabled": true, "approvers": []any{"ciso", "sre_oncall"}, "break_glass": true},
			"audit": map[string]any{
				"epack_event_types":  []any{"RECOVERY_DECISION", "RECOVERY_APPLIED", "RECOVERY_VERIFIED", "TUNING_EVENT"},
				"verify_with_replay": true,
				"verify_with_mvi":    true,
			},
		},
	}
}

// LoadPolicy reads a YAML or JSON policy file and deep-merges it over the
// defaults. A missing file yields the defaults unchanged.
func LoadPolicy(path string) (Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return PolicyDefaults(), nil
		}
		return nil, fmt.Errorf("governance: read policy %s: %w", path, err)
	}

	var data map[string]any
	if strings.HasSuffix(path, ".json") {
		err = json.Unmarshal(raw, &data)
	} else {
		err = yaml.Unmarshal(raw, &data)
	}
	if err != nil {
		return nil, fmt.Errorf("governance: decode policy %s: %w", path, err)
	}
	return mergeDefaults(data, PolicyDefaults()), nil
}

// mergeDefaults deep-merges data over defaults. Nested maps merge key by
// key; every other value in data wins outright.
func mergeDefaults(data map[string]any, defaults map[string]any) map[string]any {
	out := make(map[string]any, len(defaults)+len(data))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range data {
		dv, haveDefault := out[k]
		dm, dok := dv.(map[string]any)
		vm, vok := v.(map[string]any)
		if haveDefault && dok && vok {
			out[k] = mergeDefaults(vm, dm)
		} else {
			out[k] = v
		}
	}
	return out
}

// ValidatePolicy checks structural requirements and returns a list of
// error strings. An empty list means the policy is valid; validation
// never aborts the caller.
func ValidatePolicy(p Policy) []string {
	var errs []string

	if _, ok := p["policy_id"]; !ok {
		errs = append(errs, "Missing required field: policy_id")
	}

	consensus, _ := p["consensus"].(map[string]any)
	if asInt(consensus["min_validators"], 0) < 1 {
		errs = append(errs, "consensus.min_validators must be >= 1")
	}
	indep := asFloat(consensus["independence_min"], 0)
	if indep < 0.0 || indep > 1.0 {
		errs = append(errs, "consensus.independence_min must be between 0.0 and 1.0")
	}

	if raw, ok := p["min_kernel_version"]; ok {
		s, _ := raw.(string)
		min, err := semver.NewVersion(s)
		if err != nil {
			errs = append(errs, fmt.Sprintf("min_kernel_version %q is not a valid semantic version", s))
		} else if semver.MustParse(kernel.KernelVersion).LessThan(min) {
			errs = append(errs, fmt.Sprintf("min_kernel_version %s exceeds kernel version %s", s, kernel.KernelVersion))
		}
	}

	ch, _ := p["challenger"].(map[string]any)
	if enabled, _ := ch["enabled"].(bool); enabled {
		limits, _ := ch["limits"].(map[string]any)
		if asInt(limits["timeout_s"], 6) < 1 {
			errs = append(errs, "challenger.limits.timeout_s must be >= 1")
		}
		if asInt(limits["max_tokens"], 400) < 50 {
			errs = append(errs, "challenger.limits.max_tokens must be >= 50")
		}
	}

	return errs
}

// ChallengerRules extracts the challenger trigger policy from a loaded
// document.
func ChallengerRules(p Policy) challenger.Rules {
	ch, _ := p["challenger"].(map[string]any)
	triggers, _ := ch["triggers"].(map[string]any)
	limits, _ := ch["limits"].(map[string]any)

	threshold := asFloat(triggers["disagreement_threshold"], 0.22)
	return challenger.Rules{
		Enabled:                 asBool(ch["enabled"], true),
		TriggerOnHighStakes:     asBool(triggers["high_stakes"], true),
		TriggerOnDisagreement:   threshold > 0,
		DisagreementThreshold:   threshold,
		TriggerOnGate:           asBool(triggers["on_gate"], true),
		TriggerOnLowEvidence:    asBool(triggers["low_evidence"], true),
		MaxChallengesPerSession: asInt(limits["max_challenges"], 10),
		Timeout:                 time.Duration(asInt(limits["timeout_s"], 6)) * time.Second,
		MaxTokens:               asInt(limits["max_tokens"], 400),
	}
}

// CompileResilience compiles the resilience_policy block into a live
// runtime. Trigger guard expressions are compiled separately; see Guards.
func CompileResilience(p Policy) resilience.Compiled {
	return resilience.CompilePolicy(p)
}

func asBool(v any, def bool) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return def
}

func asInt(v any, def int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return def
}

func asFloat(v any, def float64) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return def
}
