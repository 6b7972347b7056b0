// Package challenger produces adversarial governance pressure: it decides
// when to invoke an adversarial reviewer, parses its structured critique,
// and applies that critique as deterministic arbitration constraints.
// The challenger never answers the user's question.
package challenger

import (
	"fmt"
	"strings"
	"time"
)

// Rules control when and how the challenger fires.
type Rules struct {
	Enabled               bool    `json:"enabled"`
	TriggerOnHighStakes   bool    `json:"trigger_on_high_stakes"`
	TriggerOnDisagreement bool    `json:"trigger_on_disagreement"`
	DisagreementThreshold float64 `json:"disagreement_threshold"`
	// TriggerOnGate fires when the scope gate said REWRITE or REFUSE.
	TriggerOnGate bool `json:"trigger_on_gate"`
	// TriggerOnLowEvidence fires on E0/E1 evidence in high-stakes domains.
	TriggerOnLowEvidence    bool          `json:"trigger_on_low_evidence"`
	MaxChallengesPerSession int           `json:"max_challenges_per_session"`
	Timeout                 time.Duration `json:"-"`
	MaxTokens               int           `json:"max_tokens"`
}

// DefaultRules is the production trigger policy.
func DefaultRules() Rules {
	return Rules{
		Enabled:                 true,
		TriggerOnHighStakes:     true,
		TriggerOnDisagreement:   true,
		DisagreementThreshold:   0.22,
		TriggerOnGate:           true,
		TriggerOnLowEvidence:    true,
		MaxChallengesPerSession: 10,
		Timeout:                 6 * time.Second,
		MaxTokens:               400,
	}
}

// CriticalClaim is a claim flagged for scrutiny.
type CriticalClaim struct {
	Claim          string `json:"claim"`
	Risk           string `json:"risk"` // low, medium, high, critical
	Why            string `json:"why"`
	EvidenceNeeded string `json:"evidence_needed"` // E0..E3
}

// Conflict records a disagreement between primary and a validator.
type Conflict struct {
	Between []string `json:"between"`
	Topic   string   `json:"topic"`
	Impact  string   `json:"impact"` // low, medium, high
}

// MissingEvidence is an evidence gap the challenger identified.
type MissingEvidence struct {
	ForClaim         string   `json:"for"`
	SuggestedSources []string `json:"suggested_sources"`
}

// ChallengePack is the challenger's structured critique. It becomes
// governance pressure on the arbitration stage, never user-facing text.
type ChallengePack struct {
	AttackSurface       []string          `json:"attack_surface"`
	CriticalClaims      []CriticalClaim   `json:"critical_claims"`
	Conflicts           []Conflict        `json:"conflicts"`
	MissingEvidence     []MissingEvidence `json:"missing_evidence"`
	QuestionsForPrimary []string          `json:"questions_for_primary"`
	RecommendedAction   string            `json:"recommended_action"` // PASS, REWRITE, REFUSE
	RewriteInstructions []string          `json:"rewrite_instructions"`
}

// HasHighRiskClaims reports any claim rated high or critical.
func (p *ChallengePack) HasHighRiskClaims() bool {
	for _, c := range p.CriticalClaims {
		if c.Risk == "high" || c.Risk == "critical" {
			return true
		}
	}
	return false
}

func (p *ChallengePack) HasConflicts() bool { return len(p.Conflicts) > 0 }
func (p *ChallengePack) ForcesRewrite() bool {
	return p.RecommendedAction == "REWRITE"
}
func (p *ChallengePack) ForcesRefuse() bool {
	return p.RecommendedAction == "REFUSE"
}

// IsClean reports a pack with nothing to press on.
func (p *ChallengePack) IsClean() bool {
	return p.RecommendedAction == "PASS" && !p.HasHighRiskClaims() && !p.HasConflicts()
}

// SystemPrompt instructs the adversarial reviewer model.
const SystemPrompt = `You are an adversarial governance reviewer for BeaconWise, a deterministic AI governance system.

Your role is to find weaknesses, not to answer the user's question. You NEVER produce answers for the user.

You receive:
- The original user query
- The primary model's response
- The validator model's response (if available)
- The user's verification context (role, tier level)

You MUST respond with ONLY a valid JSON object matching this schema:
{
  "attack_surface": ["list of vulnerability categories found"],
  "critical_claims": [{"claim": "...", "risk": "high|medium|low", "why": "...", "evidence_needed": "E0|E1|E2|E3"}],
  "conflicts": [{"between": ["primary", "validator_1"], "topic": "...", "impact": "high|medium|low"}],
  "missing_evidence": [{"for": "...", "suggested_sources": ["guideline", "peer_review"]}],
  "questions_for_primary": ["What assumptions...?"],
  "recommended_action": "PASS|REWRITE|REFUSE",
  "rewrite_instructions": ["Add disclaimer...", "Remove diagnostic language..."]
}

Rules:
- Output ONLY valid JSON. No prose, no markdown, no explanation.
- Be aggressive about flagging risks. False positives are acceptable; false negatives are not.
- If the primary and validator agree and content is safe for the user's tier: recommended_action = "PASS"
- If content needs modification for the user's tier: recommended_action = "REWRITE"
- If content is unsafe at any tier: recommended_action = "REFUSE"
`

// PromptInput carries the material the challenger reviews.
type PromptInput struct {
	UserQuery         string
	PrimaryResponse   string
	ValidatorResponse string
	Role              string
	RoleLevel         int
	Domain            string
}

// BuildPrompt renders the challenger input. Long texts are truncated to
// keep the critique focused and cheap.
func BuildPrompt(in PromptInput) string {
	domain := in.Domain
	if domain == "" {
		domain = "GENERAL"
	}
	role := in.Role
	if role == "" {
		role = "public"
	}
	parts := []string{
		"DOMAIN: " + domain,
		"USER QUERY:\n" + clip(in.UserQuery, 1000),
		"\nPRIMARY RESPONSE:\n" + clip(in.PrimaryResponse, 2000),
	}
	if in.ValidatorResponse != "" {
		parts = append(parts, "\nVALIDATOR RESPONSE:\n"+clip(in.ValidatorResponse, 2000))
	}
	parts = append(parts,
		fmt.Sprintf("\nUSER CONTEXT: role=%s, tier_level=%d", role, in.RoleLevel),
		"\nProduce your ChallengePack JSON now.",
	)
	return strings.Join(parts, "\n")
}

func clip(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
