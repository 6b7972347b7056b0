package kernel

import (
	"encoding/json"
	"runtime"

	"github.com/Beaconwise-Labs/tek/pkg/stablehash"
)

// KernelVersion is the provenance anchor embedded in every sealed turn.
const KernelVersion = "v1.9.0"

// ProductName identifies the kernel in manifests and API responses.
const ProductName = "BeaconWise Transparency Ecosphere Kernel (TEK)"

// BuildManifest states exactly which kernel capabilities were compiled in.
// Its seal hash anchors EPACK payload compatibility across releases.
type BuildManifest struct {
	KernelVersion string `json:"kernel_version"`
	ProductName   string `json:"product_name"`
	Runtime       string `json:"runtime"`
	Platform      string `json:"platform"`

	TokenLengthProfiles      bool `json:"pr5_4_tokenlen"`
	StructuredRevisionRender bool `json:"pr5_5_structured_revision_render"`
	WorkflowQueue            bool `json:"pr5_6_workflow_queue"`
	SessionBinding           bool `json:"pr5_7_session_binding"`
	Persistence              bool `json:"pr5_8_persistence"`
	Redaction                bool `json:"pr5_9_redaction"`
	ToolSandbox              bool `json:"pr5_10_tool_sandbox"`
	Manifest                 bool `json:"pr5_11_manifest"`
	Stage2FrozenExemplars    bool `json:"pr6_stage2_frozen_exemplars"`
	SchemaRetryLoop          bool `json:"pr6_schema_retry_loop"`
	ProtectedRegionIntegrity bool `json:"pr6_protected_region_integrity"`
	ProfileEscalation        bool `json:"pr6_profile_escalation"`

	GovernanceProofProtocol bool `json:"v7_governance_proof_protocol"`
	UniversalAdapterLayer   bool `json:"v7_universal_adapter_layer"`
	AntiCaptureSafeguards   bool `json:"v7_anti_capture_safeguards"`
	InteropSchemaStandard   bool `json:"v7_interop_schema_standard"`
	AdversarialDefense      bool `json:"v7_adversarial_defense"`
	GovernanceConstitution  bool `json:"v7_governance_constitution"`
	ZeroTrustDefault        bool `json:"v7_zero_trust_default"`
	GovernanceMetrics       bool `json:"v7_governance_metrics"`
	FailureDisclosure       bool `json:"v7_failure_disclosure"`
	EducationalMode         bool `json:"v7_educational_mode"`

	ChallengerArchitecture bool `json:"v8_challenger_architecture"`
	ThreeRoleConsensus     bool `json:"v8_three_role_consensus"`
	HTTPBackend            bool `json:"v8_http_backend"`
	ReplayEngine           bool `json:"v8_replay_engine"`
	GovernanceDSL          bool `json:"v8_governance_dsl"`
	CostAwareTriggers      bool `json:"v8_cost_aware_triggers"`
	ArbitrationEngine      bool `json:"v8_arbitration_engine"`
	EnterpriseDeployment   bool `json:"v8_enterprise_deployment"`

	ResiliencePolicy  bool `json:"v9_resilience_policy"`
	RecoveryEngine    bool `json:"v9_recovery_engine"`
	DampingStabilizer bool `json:"v9_damping_stabilizer"`
	AdaptiveTuning    bool `json:"v9_adaptive_tuning"`
}

// SealHash returns the canonical hash of the manifest.
func (m BuildManifest) SealHash() (string, error) {
	return stablehash.Hash(m)
}

// CurrentManifest returns the manifest of this build as a payload map with
// manifest_hash included.
func CurrentManifest() (map[string]any, error) {
	m := BuildManifest{
		KernelVersion: KernelVersion,
		ProductName:   ProductName,
		Runtime:       runtime.Version(),
		Platform:      runtime.GOOS + "-" + runtime.GOARCH,

		TokenLengthProfiles:      true,
		StructuredRevisionRender: true,
		WorkflowQueue:            true,
		SessionBinding:           true,
		Persistence:              true,
		Redaction:                true,
		ToolSandbox:              true,
		Manifest:                 true,
		Stage2FrozenExemplars:    true,
		SchemaRetryLoop:          true,
		ProtectedRegionIntegrity: true,
		ProfileEscalation:        true,

		GovernanceProofProtocol: true,
		UniversalAdapterLayer:   true,
		AntiCaptureSafeguards:   true,
		InteropSchemaStandard:   true,
		AdversarialDefense:      true,
		GovernanceConstitution:  true,
		ZeroTrustDefault:        true,
		GovernanceMetrics:       true,
		FailureDisclosure:       true,
		EducationalMode:         true,

		ChallengerArchitecture: true,
		ThreeRoleConsensus:     true,
		HTTPBackend:            true,
		ReplayEngine:           true,
		GovernanceDSL:          true,
		CostAwareTriggers:      true,
		ArbitrationEngine:      true,
		EnterpriseDeployment:   true,

		ResiliencePolicy:  true,
		RecoveryEngine:    true,
		DampingStabilizer: true,
		AdaptiveTuning:    true,
	}
	seal, err := m.SealHash()
	if err != nil {
		return nil, err
	}
	canonical, err := stablehash.Canonical(m)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(canonical, &out); err != nil {
		return nil, err
	}
	out["manifest_hash"] = seal
	return out, nil
}
