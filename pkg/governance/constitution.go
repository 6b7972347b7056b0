// Package governance carries the constitutional layer of the kernel:
// the invariant catalogue and its runtime checks, the policy DSL loader,
// proof and receipt generation, the schema registry, anomaly detection,
// and structured failure disclosure.
//
// Invariants here are non-negotiable. They cannot be overridden by
// configuration, deployment, or integration.
package governance

import (
	"fmt"
	"time"

	"github.com/Beaconwise-Labs/tek/pkg/epack"
	"github.com/Beaconwise-Labs/tek/pkg/stablehash"
)

// Severity grades an invariant violation.
type Severity string

const (
	// SeverityCritical means the system must halt or refuse.
	SeverityCritical Severity = "critical"
	// SeverityWarning means log and continue with caution.
	SeverityWarning Severity = "warning"
	// SeverityAdvisory is informational only.
	SeverityAdvisory Severity = "advisory"
)

// Invariant is a single constitutional rule.
type Invariant struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	CheckFn     string   `json:"check_fn_name"`
	Category    string   `json:"category"`
}

// constitution is the fixed invariant catalogue. Order is stable; the
// constitution hash commits to it.
var constitution = []Invariant{
	{
		ID:   "INV-DET-001",
		Name: "Deterministic Routing",
		Description: "All routing decisions must be pure functions of their inputs. " +
			"Given the same InputVector and SessionState, the same route must be chosen.",
		Severity: SeverityCritical,
		CheckFn:  "check_deterministic_routing",
		Category: "determinism",
	},
	{
		ID:   "INV-DET-002",
		Name: "No Hidden State",
		Description: "No governance decision may depend on state not captured in the EPACK chain. " +
			"All decision-relevant state must be auditable.",
		Severity: SeverityCritical,
		CheckFn:  "check_no_hidden_state",
		Category: "determinism",
	},
	{
		ID:   "INV-TRA-001",
		Name: "Audit Chain Completeness",
		Description: "Every governed interaction must produce an EPACK record. " +
			"No interaction may bypass the audit chain.",
		Severity: SeverityCritical,
		CheckFn:  "check_audit_completeness",
		Category: "transparency",
	},
	{
		ID:   "INV-TRA-002",
		Name: "Failure Transparency",
		Description: "When governance cannot determine safety, uncertainty must be " +
			"explicitly signaled. Silent fallback is prohibited.",
		Severity: SeverityCritical,
		CheckFn:  "check_failure_transparency",
		Category: "transparency",
	},
	{
		ID:   "INV-TRA-003",
		Name: "Non-Persuasion",
		Description: "The kernel must not optimize for persuasion, engagement, or " +
			"behavioral influence. Any output-influencing capability must include " +
			"corresponding transparency and user override controls.",
		Severity: SeverityCritical,
		CheckFn:  "check_non_persuasion",
		Category: "transparency",
	},
	{
		ID:   "INV-AUD-001",
		Name: "Hash Chain Integrity",
		Description: "EPACK records must form a tamper-evident hash chain. " +
			"Each record's prev_hash must equal the prior record's hash.",
		Severity: SeverityCritical,
		CheckFn:  "check_hash_chain_integrity",
		Category: "audit",
	},
	{
		ID:   "INV-AUD-002",
		Name: "Provenance Manifests",
		Description: "Every EPACK record must include a build manifest with kernel version " +
			"and feature flags, sealed with a manifest hash.",
		Severity: SeverityWarning,
		CheckFn:  "check_provenance_manifest",
		Category: "audit",
	},
	{
		ID:   "INV-CAP-001",
		Name: "Vendor Neutrality",
		Description: "No single AI provider, cloud platform, or organization may gain " +
			"privileged governance control. Adapters must be provider-agnostic.",
		Severity: SeverityCritical,
		CheckFn:  "check_vendor_neutrality",
		Category: "anti-capture",
	},
	{
		ID:   "INV-CAP-002",
		Name: "Fork Continuity",
		Description: "Audit chains must survive forks. Any fork of the kernel must " +
			"preserve the existing audit chain and governance proofs.",
		Severity: SeverityWarning,
		CheckFn:  "check_fork_continuity",
		Category: "anti-capture",
	},
	{
		ID:   "INV-CAP-003",
		Name: "Configuration Transparency",
		Description: "All governance configuration changes must produce audit events. " +
			"No silent reconfiguration is permitted.",
		Severity: SeverityCritical,
		CheckFn:  "check_config_transparency",
		Category: "anti-capture",
	},
	{
		ID:   "INV-SAF-001",
		Name: "Validation Before Delivery",
		Description: "No model output may reach the user without validation. " +
			"Validation failure must result in CLARIFY or REFUSE, never passthrough.",
		Severity: SeverityCritical,
		CheckFn:  "check_validation_before_delivery",
		Category: "safety",
	},
	{
		ID:   "INV-SAF-002",
		Name: "Human Override Preservation",
		Description: "Governance infrastructure must augment human judgment, not replace it. " +
			"Meaningful human override capability must always be preserved.",
		Severity: SeverityCritical,
		CheckFn:  "check_human_override",
		Category: "safety",
	},
	{
		ID:   "INV-EVO-001",
		Name: "Backward Compatibility",
		Description: "Upgrades must preserve backward compatibility of audit formats, " +
			"governance proofs, and interoperability schemas wherever feasible.",
		Severity: SeverityWarning,
		CheckFn:  "check_backward_compatibility",
		Category: "evolution",
	},
}

// Constitution returns the invariant catalogue in canonical order.
func Constitution() []Invariant {
	out := make([]Invariant, len(constitution))
	copy(out, constitution)
	return out
}

// ConstitutionHash is the stable hash of the full catalogue. It serves as
// the compatibility anchor exposed over GET /constitution.
func ConstitutionHash() (string, error) {
	return stablehash.Hash(constitution)
}

// CheckResult is the outcome of one invariant check.
type CheckResult struct {
	InvariantID string         `json:"invariant_id"`
	Passed      bool           `json:"passed"`
	Message     string         `json:"message"`
	Timestamp   float64        `json:"timestamp"`
	Details     map[string]any `json:"details,omitempty"`
}

func result(id string, passed bool, msg string, details map[string]any) CheckResult {
	return CheckResult{
		InvariantID: id,
		Passed:      passed,
		Message:     msg,
		Timestamp:   float64(time.Now().UnixNano()) / 1e9,
		Details:     details,
	}
}

// CheckAuditCompleteness enforces INV-TRA-001: EPACK count must cover
// every governed interaction.
func CheckAuditCompleteness(interactionCount, epackCount int) CheckResult {
	if epackCount >= interactionCount {
		return result("INV-TRA-001", true, "OK", map[string]any{
			"interaction_count": interactionCount, "epack_count": epackCount,
		})
	}
	msg := fmt.Sprintf("Missing EPACKs: %d interactions but only %d records", interactionCount, epackCount)
	return result("INV-TRA-001", false, msg, map[string]any{
		"interaction_count": interactionCount, "epack_count": epackCount,
	})
}

// CheckHashChainIntegrity enforces INV-AUD-001 by recomputing every
// record hash and walking the prev_hash links.
func CheckHashChainIntegrity(chain []epack.Record) CheckResult {
	if len(chain) == 0 {
		return result("INV-AUD-001", true, "Empty chain (trivially valid)", nil)
	}
	if err := epack.VerifyChain(chain); err != nil {
		return result("INV-AUD-001", false, err.Error(), nil)
	}
	return result("INV-AUD-001", true, fmt.Sprintf("Chain verified: %d records", len(chain)), nil)
}

// CheckProvenanceManifest enforces INV-AUD-002: the payload must carry a
// sealed build manifest.
func CheckProvenanceManifest(payload map[string]any) CheckResult {
	manifest, ok := payload["build_manifest"].(map[string]any)
	if !ok || len(manifest) == 0 {
		return result("INV-AUD-002", false, "Missing build_manifest in EPACK payload", nil)
	}
	if _, ok := manifest["manifest_hash"]; !ok {
		return result("INV-AUD-002", false, "Build manifest missing manifest_hash", nil)
	}
	return result("INV-AUD-002", true, "OK", nil)
}

// CheckValidationBeforeDelivery enforces INV-SAF-001. validationOK may be
// nil when validation never produced a verdict.
func CheckValidationBeforeDelivery(validationRan bool, validationOK *bool, outputDelivered bool) CheckResult {
	if outputDelivered && !validationRan {
		return result("INV-SAF-001", false, "Output delivered without validation", nil)
	}
	if outputDelivered && validationOK != nil && !*validationOK {
		return result("INV-SAF-001", false, "Failed validation output was delivered", nil)
	}
	return result("INV-SAF-001", true, "OK", nil)
}

// CheckVendorNeutrality enforces INV-CAP-001: at least two distinct
// adapter providers must be registered.
func CheckVendorNeutrality(providers []string) CheckResult {
	unique := map[string]bool{}
	for _, p := range providers {
		unique[p] = true
	}
	names := make([]string, 0, len(unique))
	for p := range unique {
		names = append(names, p)
	}
	if len(unique) < 2 {
		msg := fmt.Sprintf("Only %d adapter provider(s) registered; minimum 2 required", len(unique))
		return result("INV-CAP-001", false, msg, map[string]any{"providers": names})
	}
	return result("INV-CAP-001", true,
		fmt.Sprintf("OK: %d providers registered", len(unique)),
		map[string]any{"providers": names})
}

// CheckInput bundles the runtime evidence the constitutional sweep needs.
type CheckInput struct {
	InteractionCount int
	Chain            []epack.Record
	Payload          map[string]any
	ValidationRan    bool
	ValidationOK     *bool
	OutputDelivered  bool
	AdapterProviders []string
}

// RunChecks runs every applicable invariant check. Checks with no runtime
// evidence (determinism, non-persuasion, human override) are enforced
// structurally and have no sweep entry.
func RunChecks(in CheckInput) []CheckResult {
	providers := in.AdapterProviders
	if len(providers) == 0 {
		providers = []string{"anthropic", "openai", "mock"}
	}

	results := []CheckResult{
		CheckAuditCompleteness(in.InteractionCount, len(in.Chain)),
		CheckHashChainIntegrity(in.Chain),
	}
	if in.Payload != nil {
		results = append(results, CheckProvenanceManifest(in.Payload))
	}
	results = append(results,
		CheckValidationBeforeDelivery(in.ValidationRan, in.ValidationOK, in.OutputDelivered),
		CheckVendorNeutrality(providers),
	)
	return results
}

// AnyCriticalViolations reports whether any failed check maps to a
// critical invariant.
func AnyCriticalViolations(results []CheckResult) bool {
	critical := map[string]bool{}
	for _, inv := range constitution {
		if inv.Severity == SeverityCritical {
			critical[inv.ID] = true
		}
	}
	for _, r := range results {
		if !r.Passed && critical[r.InvariantID] {
			return true
		}
	}
	return false
}
