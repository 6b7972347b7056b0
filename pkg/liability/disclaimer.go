// Package liability produces the containment metadata attached to DEFER
// and high-stakes outputs: disclaimers, responsibility tags, and the
// combined liability block.
package liability

import "strings"

// GenerateDisclaimer composes the disclaimer text for a domain and risk
// level. Sensitive domains add the professional-advice clause; elevated
// risk adds the expert-review clause.
func GenerateDisclaimer(domain, riskLevel string) string {
	d := strings.ToUpper(domain)
	if d == "" {
		d = "GENERAL"
	}
	r := strings.ToUpper(riskLevel)
	if r == "" {
		r = "UNKNOWN"
	}

	msg := "This output is AI-assisted and provided for informational purposes."
	switch d {
	case "HIGH_STAKES", "MEDICAL", "LEGAL", "FINANCIAL":
		msg += " It is not professional advice."
	}
	switch r {
	case "ELEVATED", "HIGH", "CRITICAL":
		msg += " Independent expert review is required before acting."
	}
	return msg
}

// ResponsibilityTag states who answers for an output. A human override
// puts responsibility on the human; a human-final decision shares it;
// otherwise the automation carries it.
func ResponsibilityTag(humanFinal, humanOverride bool) string {
	if humanOverride {
		return "human"
	}
	if humanFinal {
		return "shared"
	}
	return "automation"
}

// Metadata is the liability block carried on governed outputs.
type Metadata struct {
	Domain         string `json:"domain"`
	RiskLevel      string `json:"risk_level"`
	Responsibility string `json:"responsibility"`
	Disclaimer     string `json:"disclaimer"`
}

// NewMetadata builds the full liability block.
func NewMetadata(domain, riskLevel string, humanFinal, humanOverride bool) Metadata {
	return Metadata{
		Domain:         domain,
		RiskLevel:      riskLevel,
		Responsibility: ResponsibilityTag(humanFinal, humanOverride),
		Disclaimer:     GenerateDisclaimer(domain, riskLevel),
	}
}
