package consensus

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Beaconwise-Labs/tek/pkg/ledger"
)

// Gate decisions, ordered by strictness.
const (
	DecisionPass    = "PASS"
	DecisionRewrite = "REWRITE"
	DecisionRefuse  = "REFUSE"
)

// BlockRule triggers when its pattern matches output text and the caller's
// role level is below MinLevel.
type BlockRule struct {
	Pattern  string `json:"pattern"`
	MinLevel int    `json:"min_level"`
	Reason   string `json:"reason"`

	compiled *regexp.Regexp
}

// ScopeGateConfig is the per-domain content guard configuration.
type ScopeGateConfig struct {
	Domain                   string
	BlockRules               []BlockRule
	RequireDisclaimerLowTier bool
	LowTierDisclaimer        string
}

// DefaultScopeGateConfig returns the general-domain rule set. Patterns are
// kept specific to limit false positives.
func DefaultScopeGateConfig() ScopeGateConfig {
	return ScopeGateConfig{
		Domain: "general",
		BlockRules: []BlockRule{
			{Pattern: `\b(you are diagnosed with|diagnosis|prognosis|treatment plan)\b`, MinLevel: 3, Reason: "Diagnostic/prognostic language"},
			{Pattern: `\b(expected return\s*\d+%|portfolio allocation|buy\s+[A-Z]{1,5}|sell\s+[A-Z]{1,5}|tax strategy)\b`, MinLevel: 3, Reason: "Investment advice"},
			{Pattern: `\b(file a lawsuit|you should sue|settlement range|liability exposure)\b`, MinLevel: 3, Reason: "Legal strategy/advice"},
			{Pattern: `\b(p-value|confidence interval|statistical significance|replication)\b`, MinLevel: 4, Reason: "Advanced statistical detail"},
		},
		RequireDisclaimerLowTier: true,
		LowTierDisclaimer:        "This is general information only and not professional advice. Consult a qualified expert.",
	}
}

func (c *ScopeGateConfig) compile() {
	for i := range c.BlockRules {
		if c.BlockRules[i].compiled == nil {
			c.BlockRules[i].compiled = regexp.MustCompile("(?i)" + c.BlockRules[i].Pattern)
		}
	}
}

// Violation records one triggered block rule.
type Violation struct {
	Pattern       string   `json:"pattern"`
	Matches       []string `json:"matches"`
	RequiredLevel int      `json:"required_level"`
	Reason        string   `json:"reason"`
}

// GateResult is the scope gate's verdict plus supporting detail.
type GateResult struct {
	Decision         string      `json:"decision"`
	Reason           string      `json:"reason"`
	Violations       []Violation `json:"violations,omitempty"`
	DisclaimerIssue  string      `json:"disclaimer_issue,omitempty"`
	SuggestedRewrite string      `json:"suggested_rewrite_prompt,omitempty"`
}

// ScopeGate applies the deterministic post-generation content guard.
// role_level >= 2 earns a rewrite attempt; below that, violations refuse.
func ScopeGate(lg *ledger.Ledger, output Output, verification VerificationContext, cfg ScopeGateConfig, epackID, runID string) GateResult {
	cfg.compile()
	fullText := output.FullText()
	roleLevel := verification.RoleLevel

	var violations []Violation
	for _, rule := range cfg.BlockRules {
		matches := rule.compiled.FindAllString(fullText, 3)
		if len(matches) > 0 && roleLevel < rule.MinLevel {
			violations = append(violations, Violation{
				Pattern:       rule.Pattern,
				Matches:       matches,
				RequiredLevel: rule.MinLevel,
				Reason:        rule.Reason,
			})
		}
	}

	disclaimerIssue := ""
	if cfg.RequireDisclaimerLowTier && roleLevel <= 2 {
		if !strings.Contains(strings.ToLower(fullText), strings.ToLower(cfg.LowTierDisclaimer)) {
			disclaimerIssue = "Missing required low-tier disclaimer"
		}
	}

	if len(violations) == 0 && disclaimerIssue == "" {
		if lg != nil {
			_, _ = lg.Emit(runID, epackID, "tecl.scope_gate.pass", map[string]any{
				"domain": cfg.Domain, "role_level": roleLevel,
			})
		}
		return GateResult{Decision: DecisionPass, Reason: "Content appropriate for verified role"}
	}

	if lg != nil {
		vPayload := make([]map[string]any, 0, len(violations))
		for _, v := range violations {
			vPayload = append(vPayload, map[string]any{
				"pattern": v.Pattern, "matches": v.Matches,
				"required_level": v.RequiredLevel, "reason": v.Reason,
			})
		}
		_, _ = lg.Emit(runID, epackID, "tecl.scope_gate.violation", map[string]any{
			"domain":     cfg.Domain,
			"role_level": roleLevel,
			"verification": map[string]any{
				"verified": verification.Verified, "role": verification.Role,
			},
			"violations":       vPayload,
			"disclaimer_issue": disclaimerIssue,
		})
	}

	if roleLevel >= 2 {
		excerpt := fullText
		if len(excerpt) > 800 {
			excerpt = excerpt[:800]
		}
		return GateResult{
			Decision:        DecisionRewrite,
			Reason:          "Scope violations for role_level " + strconv.Itoa(roleLevel),
			Violations:      violations,
			DisclaimerIssue: disclaimerIssue,
			SuggestedRewrite: "Rewrite the output to be safe and appropriate for role_level " + strconv.Itoa(roleLevel) +
				" (" + verification.Role + "). " +
				"Remove diagnostic, prognostic, prescriptive, strategic, or probabilistic language. " +
				`Add this disclaimer at the top: "` + cfg.LowTierDisclaimer + `". ` +
				"Keep helpful general information only. Be concise. " +
				"Original output: " + excerpt + "...",
		}
	}
	return GateResult{
		Decision:        DecisionRefuse,
		Reason:          "Output contains content unsafe for public/unverified users",
		Violations:      violations,
		DisclaimerIssue: disclaimerIssue,
	}
}
