// Package consensus runs the two-stage consensus layer: a primary (or
// debate pair plus synthesizer) generation with JSON repair, anchor
// checks, and a deterministic scope gate with one rewrite round.
package consensus

import (
	"fmt"
	"time"
)

// ARU labels the requested answer mode.
const (
	ARUAnswer    = "ANSWER"
	ARUVerify    = "VERIFY"
	ARURefuse    = "REFUSE"
	ARUConsensus = "CONSENSUS"
)

// ModelSpec names a concrete model under a provider.
type ModelSpec struct {
	Provider string         `json:"provider"`
	Model    string         `json:"model"`
	Family   string         `json:"family,omitempty"`
	Timeout  time.Duration  `json:"-"`
	Extra    map[string]any `json:"extra,omitempty"`
}

func (m ModelSpec) String() string { return m.Provider + ":" + m.Model }

// PromptBundle holds the two controlled templates. Placeholders use the
// {NAME} form and are substituted verbatim.
type PromptBundle struct {
	PrimaryTemplate string
	RepairTemplate  string
}

// DebateConfig names the three models of the two-pass debate.
type DebateConfig struct {
	CriticModel      ModelSpec
	DefenderModel    ModelSpec
	SynthesizerModel ModelSpec
}

// Config is a fully resolved consensus run configuration.
type Config struct {
	ProfileName        string
	Primary            ModelSpec
	Validators         []ModelSpec
	PrimaryTemperature float64
	PrimaryTimeout     time.Duration
	MaxRepairAttempts  int
	Prompts            PromptBundle
	EnableDebate       bool
	Debate             *DebateConfig
}

// PresetFast: single validator, short budget, one repair attempt.
func PresetFast(prompts PromptBundle, primary ModelSpec, validators []ModelSpec) Config {
	return Config{
		ProfileName:       "FAST",
		Prompts:           prompts,
		Primary:           primary,
		Validators:        capValidators(validators, 1),
		PrimaryTimeout:    35 * time.Second,
		MaxRepairAttempts: 1,
	}
}

// PresetHighAssurance: up to two validators, a minute of budget.
func PresetHighAssurance(prompts PromptBundle, primary ModelSpec, validators []ModelSpec) Config {
	return Config{
		ProfileName:       "HIGH_ASSURANCE",
		Prompts:           prompts,
		Primary:           primary,
		Validators:        capValidators(validators, 2),
		PrimaryTimeout:    60 * time.Second,
		MaxRepairAttempts: 2,
	}
}

// PresetConsensus: up to three validators, optional debate.
func PresetConsensus(prompts PromptBundle, primary ModelSpec, validators []ModelSpec, debate *DebateConfig) Config {
	return Config{
		ProfileName:       "CONSENSUS",
		Prompts:           prompts,
		Primary:           primary,
		Validators:        capValidators(validators, 3),
		PrimaryTimeout:    75 * time.Second,
		MaxRepairAttempts: 2,
		EnableDebate:      debate != nil,
		Debate:            debate,
	}
}

// PresetForVerification routes a verification context to a preset:
// unverified or tier 1 stays FAST, tier 2 gets HIGH_ASSURANCE, tier 3 and
// above gets full CONSENSUS.
func PresetForVerification(prompts PromptBundle, primary ModelSpec, validators []ModelSpec, verification VerificationContext, debate *DebateConfig) Config {
	if !verification.Verified || verification.RoleLevel <= 1 {
		return PresetFast(prompts, primary, validators)
	}
	if verification.RoleLevel == 2 {
		return PresetHighAssurance(prompts, primary, validators)
	}
	return PresetConsensus(prompts, primary, validators, debate)
}

func capValidators(validators []ModelSpec, n int) []ModelSpec {
	if len(validators) > n {
		return validators[:n]
	}
	return validators
}

// Defaults used by tests and demos.
var (
	DefaultPrimary    = ModelSpec{Provider: "mock", Model: "mock-primary", Family: "mock"}
	DefaultValidators = []ModelSpec{
		{Provider: "mock", Model: "mock-validator-a", Family: "mock"},
		{Provider: "mock", Model: "mock-validator-b", Family: "mock"},
	}
	DefaultPrompts = PromptBundle{
		PrimaryTemplate: "You are the Transparency Ecosphere Consensus Layer primary model.\n" +
			"Return ONLY valid JSON for PrimaryOutput with fields: run_id, epack, aru, answer, reasoning_trace, claims, overall_confidence, uncertainty_flags, next_step.\n" +
			"Use these context variables: VERIFIED={VERIFIED} ROLE={ROLE} ROLE_LEVEL={ROLE_LEVEL} SCOPE={SCOPE}.\n" +
			"RUN_ID={RUN_ID} EPACK={EPACK} ARU={ARU}.\n" +
			"User query:\n{USER_QUERY}\n",
		RepairTemplate: "The following text was supposed to be JSON for PrimaryOutput, but it was invalid.\n" +
			"Rewrite it as valid JSON ONLY, matching PrimaryOutput exactly.\n" +
			"RUN_ID={RUN_ID} EPACK={EPACK} ARU={ARU}.\n" +
			"Invalid text:\n{BAD_TEXT}\n",
	}
)

// PresetFastDefault wires the default stack, mainly for tests.
func PresetFastDefault() Config {
	return PresetFast(DefaultPrompts, DefaultPrimary, DefaultValidators)
}

// ConfigFromPolicy resolves a consensus configuration from a governance
// policy document. Two shapes are accepted: a flat consensus.primary /
// consensus.validators block, and the nested consensus.providers form.
// Unknown keys are ignored; anything unresolvable falls back to defaults.
func ConfigFromPolicy(policy map[string]any) Config {
	consensusBlock, ok := policy["consensus"].(map[string]any)
	if !ok {
		return PresetFastDefault()
	}

	providers, _ := consensusBlock["providers"].(map[string]any)

	primaryDict, ok := lookupDict(providers, "primary")
	if !ok {
		primaryDict, _ = lookupDict(consensusBlock, "primary")
	}
	primary := modelSpecFromDict(primaryDict, DefaultPrimary)

	validatorList, ok := lookupList(providers, "validators")
	if !ok {
		validatorList, _ = lookupList(consensusBlock, "validators")
	}
	var validators []ModelSpec
	for _, item := range validatorList {
		d, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if ms, ok := modelSpecFromDictStrict(d); ok {
			validators = append(validators, ms)
		}
	}
	if len(validators) == 0 {
		validators = append([]ModelSpec{}, DefaultValidators...)
	}

	timeout := clampInt(intFrom(consensusBlock["primary_timeout_s"], 60), 5, 300)
	maxRepair := intFrom(consensusBlock["max_repair_attempts"], 2)

	policyID, _ := policy["policy_id"].(string)
	if policyID == "" {
		policyID = "unknown"
	}
	return Config{
		ProfileName:       fmt.Sprintf("policy:%s", policyID),
		Primary:           primary,
		Validators:        validators,
		Prompts:           DefaultPrompts,
		PrimaryTimeout:    time.Duration(timeout) * time.Second,
		MaxRepairAttempts: maxRepair,
	}
}

func lookupDict(m map[string]any, key string) (map[string]any, bool) {
	if m == nil {
		return nil, false
	}
	d, ok := m[key].(map[string]any)
	return d, ok
}

func lookupList(m map[string]any, key string) ([]any, bool) {
	if m == nil {
		return nil, false
	}
	l, ok := m[key].([]any)
	return l, ok
}

func modelSpecFromDict(d map[string]any, fallback ModelSpec) ModelSpec {
	if ms, ok := modelSpecFromDictStrict(d); ok {
		return ms
	}
	return fallback
}

func modelSpecFromDictStrict(d map[string]any) (ModelSpec, bool) {
	if d == nil {
		return ModelSpec{}, false
	}
	provider, _ := d["provider"].(string)
	model, _ := d["model"].(string)
	if provider == "" || model == "" {
		return ModelSpec{}, false
	}
	family, _ := d["family"].(string)
	ms := ModelSpec{Provider: provider, Model: model, Family: family}
	if t := intFrom(d["timeout_s"], 0); t > 0 {
		ms.Timeout = time.Duration(t) * time.Second
	}
	return ms, true
}

func intFrom(v any, def int) int {
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

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
