package governance

import (
	"fmt"
	"strings"
	"time"

	"github.com/Beaconwise-Labs/tek/pkg/stablehash"
)

// FailureSeverity grades how badly governance degraded.
type FailureSeverity string

const (
	// FailureDegraded means partial functionality, still safe.
	FailureDegraded FailureSeverity = "degraded"
	// FailureSafetyUncertain means safety could not be verified.
	FailureSafetyUncertain FailureSeverity = "safety_uncertain"
	// FailureGovernanceBreach means a constitutional invariant was violated.
	FailureGovernanceBreach FailureSeverity = "governance_breach"
	// FailureSystem means supporting infrastructure is down.
	FailureSystem FailureSeverity = "system_failure"
)

// FailureAction is the mandated response to a failure.
type FailureAction string

const (
	ActionRefuseAndLog     FailureAction = "refuse_and_log"
	ActionDegradeAndLog    FailureAction = "degrade_and_log"
	ActionAlertAndContinue FailureAction = "alert_and_continue"
	ActionHalt             FailureAction = "halt"
)

// actionFor maps severity to its mandated action. Unknown severities
// refuse; silent fallback to permissive behavior is prohibited.
func actionFor(sev FailureSeverity) FailureAction {
	switch sev {
	case FailureDegraded:
		return ActionDegradeAndLog
	case FailureSafetyUncertain:
		return ActionRefuseAndLog
	case FailureGovernanceBreach, FailureSystem:
		return ActionHalt
	default:
		return ActionRefuseAndLog
	}
}

// FailureDisclosure is a structured failure artifact suitable for
// internal review, regulatory reporting, or public transparency.
type FailureDisclosure struct {
	FailureID          string         `json:"failure_id"`
	Severity           string         `json:"severity"`
	ActionTaken        string         `json:"action_taken"`
	Reason             string         `json:"reason"`
	Component          string         `json:"component"`
	Timestamp          float64        `json:"timestamp"`
	PartialAuditHash   string         `json:"partial_audit_hash"`
	InvariantsAffected []string       `json:"invariants_affected"`
	Remediation        string         `json:"remediation,omitempty"`
	Details            map[string]any `json:"details,omitempty"`
}

// SealHash returns the canonical hash of the disclosure.
func (f FailureDisclosure) SealHash() (string, error) {
	return stablehash.Hash(f)
}

// FailureParams collects the inputs to a disclosure.
type FailureParams struct {
	Severity           FailureSeverity
	Reason             string
	Component          string
	PartialAuditData   map[string]any
	InvariantsAffected []string
	Remediation        string
	Details            map[string]any
	Now                time.Time
}

// NewFailureDisclosure creates a sealed failure artifact. The failure id
// is derived from the timestamp, reason, and component so independent
// observers of the same failure converge on the same id.
func NewFailureDisclosure(p FailureParams) (FailureDisclosure, error) {
	now := p.Now
	if now.IsZero() {
		now = time.Now()
	}
	ts := float64(now.UnixNano()) / 1e9

	partialHash := ""
	if p.PartialAuditData != nil {
		h, err := stablehash.Hash(p.PartialAuditData)
		if err != nil {
			return FailureDisclosure{}, fmt.Errorf("governance: hash partial audit: %w", err)
		}
		partialHash = h
	}

	id, err := stablehash.Hash(map[string]any{
		"ts":        ts,
		"reason":    p.Reason,
		"component": p.Component,
	})
	if err != nil {
		return FailureDisclosure{}, fmt.Errorf("governance: failure id: %w", err)
	}

	invariants := p.InvariantsAffected
	if invariants == nil {
		invariants = []string{}
	}

	return FailureDisclosure{
		FailureID:          id[:16],
		Severity:           string(p.Severity),
		ActionTaken:        string(actionFor(p.Severity)),
		Reason:             p.Reason,
		Component:          p.Component,
		Timestamp:          ts,
		PartialAuditHash:   partialHash,
		InvariantsAffected: invariants,
		Remediation:        p.Remediation,
		Details:            p.Details,
	}, nil
}

// Explanation is one step of a human-readable account of how governance
// processed an interaction.
type Explanation struct {
	Step      int    `json:"step"`
	Layer     string `json:"layer"`
	Action    string `json:"action"`
	Reason    string `json:"reason"`
	Outcome   string `json:"outcome"`
	LearnMore string `json:"learn_more"`
}

// ExplainParams is the decision evidence an explanation is built from.
type ExplainParams struct {
	Route             string
	SafetyStage1OK    bool
	SafetyStage2OK    bool
	SafetyStage2Score float64
	Domain            string
	Complexity        int
	Profile           string
	ValidationOK      bool
	ScopeDecision     string
}

// ExplainDecision walks the governance layers in order and narrates what
// each one did with the turn, step by step.
func ExplainDecision(p ExplainParams) []Explanation {
	var steps []Explanation

	s1 := "passed"
	s1Gate := "cleared"
	if !p.SafetyStage1OK {
		s1 = "flagged as unsafe"
		s1Gate = "blocked at"
	}
	steps = append(steps, Explanation{
		Step:    1,
		Layer:   "TSL (Safety Layer)",
		Action:  fmt.Sprintf("Stage 1 pattern screening: %s", s1),
		Reason:  "Regex patterns check for known harmful content categories",
		Outcome: fmt.Sprintf("Input %s first safety gate", s1Gate),
		LearnMore: "Stage 1 uses compiled regular expressions against known violation patterns. " +
			"This is fast and deterministic: same input always gets same result.",
	})

	if p.SafetyStage1OK {
		s2 := "passed"
		s2Gate := "cleared"
		if !p.SafetyStage2OK {
			s2 = "flagged"
			s2Gate = "blocked at"
		}
		steps = append(steps, Explanation{
			Step:    2,
			Layer:   "TSL (Safety Layer)",
			Action:  fmt.Sprintf("Stage 2 semantic screening: score=%.3f, %s", p.SafetyStage2Score, s2),
			Reason:  "Cosine similarity against frozen violation exemplars",
			Outcome: fmt.Sprintf("Input %s semantic safety gate", s2Gate),
			LearnMore: "Stage 2 compares input embeddings against known-bad exemplars. " +
				"The exemplars are frozen at build time; the model cannot change them.",
		})
	}

	routeOutcomes := map[string]string{
		"BOUND":    "Input was blocked by safety layers. No further processing occurs.",
		"DEFER":    "This is a high-stakes topic requiring verified expertise before proceeding.",
		"REFLECT":  "This question is complex enough to need your confirmation before proceeding.",
		"SCAFFOLD": "This requires a multi-step plan for approval before execution.",
		"TDM":      "Normal generation with validation checks.",
	}
	firstRoute, _, _ := strings.Cut(p.Route, ",")
	if firstRoute == "" {
		firstRoute = "TDM"
	}
	outcome, ok := routeOutcomes[firstRoute]
	if !ok {
		outcome = "Proceeding through standard pipeline"
	}
	steps = append(steps, Explanation{
		Step:    len(steps) + 1,
		Layer:   "RIL (Routing Layer)",
		Action:  fmt.Sprintf("Route selected: %s", firstRoute),
		Reason:  fmt.Sprintf("Domain=%s, complexity=%d, profile=%s", p.Domain, p.Complexity, p.Profile),
		Outcome: outcome,
		LearnMore: "Routing is a pure function of input properties. Given the same input, " +
			"the same route is always chosen.",
	})

	if firstRoute == "TDM" {
		verdict := "PASS"
		valOutcome := "Output passed all checks"
		if !p.ValidationOK {
			verdict = "FAIL"
			valOutcome = "Output failed validation; a CLARIFY was sent instead"
		}
		steps = append(steps, Explanation{
			Step:    len(steps) + 1,
			Layer:   "TDM (Dialogue Manager)",
			Action:  fmt.Sprintf("Validation: %s", verdict),
			Reason:  "All outputs must pass schema and alignment validation before delivery",
			Outcome: valOutcome,
			LearnMore: "Validation-before-delivery means you never see unvalidated model output. " +
				"If validation fails, you get a CLARIFY message instead of bad content.",
		})
	}

	if p.ScopeDecision != "" && p.ScopeDecision != "N/A" {
		scopeOutcome := "restricted"
		if p.ScopeDecision == "PASS" {
			scopeOutcome = "approved"
		}
		steps = append(steps, Explanation{
			Step:    len(steps) + 1,
			Layer:   "TE-CL (Consensus Layer)",
			Action:  fmt.Sprintf("Scope gate decision: %s", p.ScopeDecision),
			Reason:  "Output filtered based on your verified role and credential level",
			Outcome: fmt.Sprintf("Content %s for your access tier", scopeOutcome),
			LearnMore: "The scope gate ensures you only receive content appropriate for your " +
				"verified expertise level.",
		})
	}

	steps = append(steps, Explanation{
		Step:    len(steps) + 1,
		Layer:   "EPACK (Audit Layer)",
		Action:  "Interaction sealed into tamper-evident audit record",
		Reason:  "Every governed interaction produces a hash-chained audit record",
		Outcome: "This interaction is now permanently auditable",
		LearnMore: "EPACK records form a chain where each record's hash depends on the " +
			"previous one; tampering with any record breaks the chain.",
	})

	return steps
}
