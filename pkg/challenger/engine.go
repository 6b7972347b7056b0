package challenger

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/Beaconwise-Labs/tek/pkg/contracts"
	"github.com/Beaconwise-Labs/tek/pkg/stablehash"
)

// Trigger reasons.
const (
	ReasonHighStakes   = "high_stakes_domain"
	ReasonDisagreement = "primary_validator_disagreement"
	ReasonGateHit      = "scope_gate_rewrite_or_refuse"
	ReasonLowEvidence  = "low_evidence_level"
	ReasonPolicy       = "policy_mandated"
)

// TriggerResult says whether and why the challenger should fire.
type TriggerResult struct {
	ShouldTrigger     bool     `json:"should_trigger"`
	Reasons           []string `json:"reasons"`
	DisagreementScore float64  `json:"disagreement_score"`
}

var negationWords = map[string]bool{
	"not": true, "no": true, "never": true, "cannot": true,
	"shouldn't": true, "don't": true, "won't": true, "isn't": true, "aren't": true,
}

// DisagreementScore estimates how far apart the primary and validator
// answers are without embeddings: Jaccard distance over word sets, a
// negation-mismatch bonus, and a length-ratio penalty. 0 means identical,
// 1 total disagreement.
func DisagreementScore(primaryText, validatorText string) float64 {
	if primaryText == "" || validatorText == "" {
		return 0
	}
	pWords := wordSet(primaryText)
	vWords := wordSet(validatorText)
	if len(pWords) == 0 || len(vWords) == 0 {
		return 0
	}

	intersection := 0
	for w := range pWords {
		if vWords[w] {
			intersection++
		}
	}
	union := len(pWords) + len(vWords) - intersection
	disagreement := 1.0
	if union > 0 {
		disagreement = 1.0 - float64(intersection)/float64(union)
	}

	if !sameNegation(pWords, vWords) {
		disagreement = math.Min(1.0, disagreement+0.15)
	}

	shorter, longer := len(primaryText), len(validatorText)
	if shorter > longer {
		shorter, longer = longer, shorter
	}
	if float64(shorter)/float64(longer) < 0.3 {
		disagreement = math.Min(1.0, disagreement+0.1)
	}

	return math.Round(disagreement*1000) / 1000
}

func wordSet(s string) map[string]bool {
	out := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(s)) {
		out[w] = true
	}
	return out
}

func sameNegation(a, b map[string]bool) bool {
	for w := range negationWords {
		if a[w] != b[w] {
			return false
		}
	}
	return true
}

// TriggerInput is the turn context the trigger decision looks at.
type TriggerInput struct {
	Domain                string
	DisagreementScore     float64
	ScopeGateDecision     string
	EvidenceLevel         string
	ChallengesThisSession int
}

// ShouldTrigger is the pure trigger decision.
func ShouldTrigger(rules Rules, in TriggerInput) TriggerResult {
	if !rules.Enabled {
		return TriggerResult{}
	}
	if in.ChallengesThisSession >= rules.MaxChallengesPerSession {
		return TriggerResult{Reasons: []string{"max_challenges_reached"}}
	}

	var reasons []string
	if rules.TriggerOnHighStakes && in.Domain == "HIGH_STAKES" {
		reasons = append(reasons, ReasonHighStakes)
	}
	if rules.TriggerOnDisagreement && in.DisagreementScore >= rules.DisagreementThreshold {
		reasons = append(reasons, ReasonDisagreement)
	}
	if rules.TriggerOnGate && (in.ScopeGateDecision == "REWRITE" || in.ScopeGateDecision == "REFUSE") {
		reasons = append(reasons, ReasonGateHit)
	}
	if rules.TriggerOnLowEvidence && in.Domain == "HIGH_STAKES" && (in.EvidenceLevel == "E0" || in.EvidenceLevel == "E1") {
		reasons = append(reasons, ReasonLowEvidence)
	}

	return TriggerResult{
		ShouldTrigger:     len(reasons) > 0,
		Reasons:           reasons,
		DisagreementScore: in.DisagreementScore,
	}
}

// ParsePack parses raw model output into a ChallengePack, stripping
// markdown fences when present.
func ParsePack(rawText string) (*ChallengePack, error) {
	text := strings.TrimSpace(rawText)
	if strings.HasPrefix(text, "```") {
		var kept []string
		for _, line := range strings.Split(text, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				continue
			}
			kept = append(kept, line)
		}
		text = strings.TrimSpace(strings.Join(kept, "\n"))
	}

	var pack ChallengePack
	if err := json.Unmarshal([]byte(text), &pack); err != nil {
		return nil, fmt.Errorf("challenger: parse pack: %w", err)
	}
	if pack.RecommendedAction == "" {
		pack.RecommendedAction = "PASS"
	}
	return &pack, nil
}

// ArbitrationResult is the outcome of applying challenger constraints.
type ArbitrationResult struct {
	FinalAction          contracts.GateAction `json:"final_action"`
	ChallengerApplied    bool                 `json:"challenger_applied"`
	ConstraintsApplied   []string             `json:"constraints_applied"`
	OriginalGateDecision string               `json:"original_gate_decision"`
	RewriteInstructions  []string             `json:"rewrite_instructions"`
}

// ArbitrationInput is the context arbitration sees.
type ArbitrationInput struct {
	ScopeGateDecision string
	RoleLevel         int
	Domain            string
}

// Arbitrate applies a ChallengePack as deterministic constraints. Actions
// only ever upgrade in strictness, with one exception: a challenger REFUSE
// is downgraded to REWRITE for verified experts whose scope gate passed.
func Arbitrate(pack *ChallengePack, in ArbitrationInput) ArbitrationResult {
	var constraints []string
	action := contracts.ActionPass
	rewriteInstr := append([]string{}, pack.RewriteInstructions...)

	if pack.ForcesRefuse() {
		if in.RoleLevel >= 3 && in.ScopeGateDecision == "PASS" {
			action = contracts.ActionRewrite
			constraints = append(constraints, "challenger_refuse_downgraded_for_expert")
			rewriteInstr = append(rewriteInstr, "Add expert-only caveat and verification reminder")
		} else {
			return ArbitrationResult{
				FinalAction:          contracts.ActionRefuse,
				ChallengerApplied:    true,
				ConstraintsApplied:   []string{"challenger_refuse_enforced"},
				OriginalGateDecision: in.ScopeGateDecision,
				RewriteInstructions:  rewriteInstr,
			}
		}
	}

	if pack.HasHighRiskClaims() && in.RoleLevel < 2 {
		action = action.Upgrade(contracts.ActionRewrite)
		constraints = append(constraints, "high_risk_claims_for_low_tier")
		rewriteInstr = append(rewriteInstr,
			"Remove or soften high-risk clinical claims",
			"Add mandatory disclaimer for non-professional tier")
	}

	if pack.HasConflicts() && in.Domain == "HIGH_STAKES" {
		action = action.Upgrade(contracts.ActionRewrite)
		constraints = append(constraints, "conflicts_on_high_stakes")
		rewriteInstr = append(rewriteInstr,
			"Add explicit uncertainty language",
			"Present alternative hypotheses where models disagree")
	}

	if len(pack.MissingEvidence) > 0 && in.Domain == "HIGH_STAKES" {
		action = action.Upgrade(contracts.ActionRewrite)
		constraints = append(constraints, "missing_evidence_high_stakes")
		rewriteInstr = append(rewriteInstr, "Reframe to E1-safe (general information only)")
	}

	if pack.ForcesRewrite() && action == contracts.ActionPass {
		action = contracts.ActionRewrite
		constraints = append(constraints, "challenger_rewrite_recommended")
	}

	return ArbitrationResult{
		FinalAction:          action,
		ChallengerApplied:    true,
		ConstraintsApplied:   constraints,
		OriginalGateDecision: in.ScopeGateDecision,
		RewriteInstructions:  rewriteInstr,
	}
}

// EventTriggered builds the tecl.challenger.triggered evidence payload.
func EventTriggered(tr TriggerResult) map[string]any {
	return map[string]any{
		"stage":              "tecl.challenger.triggered",
		"reasons":            tr.Reasons,
		"disagreement_score": tr.DisagreementScore,
	}
}

// EventSkipped builds the tecl.challenger.skipped evidence payload.
func EventSkipped(reason string) map[string]any {
	if reason == "" {
		reason = "not_triggered"
	}
	return map[string]any{"stage": "tecl.challenger.skipped", "reason": reason}
}

// EventOutput builds the tecl.arbitration.applied_constraints payload,
// committing to the pack by hash rather than embedding it.
func EventOutput(pack *ChallengePack, arb ArbitrationResult) (map[string]any, error) {
	packHash, err := stablehash.Hash(pack)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"stage":               "tecl.arbitration.applied_constraints",
		"challenge_pack_hash": packHash,
		"recommended_action":  pack.RecommendedAction,
		"final_action":        string(arb.FinalAction),
		"constraints_applied": arb.ConstraintsApplied,
		"attack_surface":      pack.AttackSurface,
	}, nil
}
