package contracts

import (
	"time"

	"github.com/google/uuid"

	"github.com/Beaconwise-Labs/tek/pkg/stablehash"
)

const (
	DecisionSchemaID      = "beaconwise-governance/decision"
	DecisionSchemaVersion = 1
)

// DecisionContext identifies who and where a decision was made for.
type DecisionContext struct {
	SessionID   string  `json:"session_id"`
	WorkspaceID *string `json:"workspace_id"`
	UserID      *string `json:"user_id"`
	Profile     string  `json:"profile"`
}

// DecisionInput commits to the governed input without storing it.
type DecisionInput struct {
	PromptHash  string   `json:"prompt_hash"`
	Attachments []string `json:"attachments"`
}

// DecisionRouting records how the turn was routed.
type DecisionRouting struct {
	Mode      string   `json:"mode"`
	Strategy  string   `json:"strategy"`
	Providers []string `json:"providers"`
}

// DecisionPolicy records the policy governing the turn.
type DecisionPolicy struct {
	PolicyID           string   `json:"policy_id"`
	PolicyHash         string   `json:"policy_hash"`
	Profile            string   `json:"profile"`
	ConstraintsApplied []string `json:"constraints_applied"`
}

// DecisionOutput commits to what was delivered.
type DecisionOutput struct {
	FinalTextHash string         `json:"final_text_hash"`
	FinalFormat   *string        `json:"final_format"`
	Confidence    *float64       `json:"confidence"`
	Dissent       map[string]any `json:"dissent"`
}

// DecisionIntegrity carries the self-referential seal.
type DecisionIntegrity struct {
	CanonicalPayloadHashAlg string  `json:"canonical_payload_hash_alg"`
	CanonicalPayloadHash    string  `json:"canonical_payload_hash"`
	PrevDecisionHash        *string `json:"prev_decision_hash"`
	EpackBlockHash          *string `json:"epack_block_hash"`
}

// DecisionBuild pins the kernel build that produced the decision.
type DecisionBuild struct {
	Kernel        string `json:"kernel"`
	KernelVersion string `json:"kernel_version"`
	ManifestHash  string `json:"manifest_hash"`
}

// DecisionObject is the canonicalized, self-sealed description of one
// governance decision. Its canonical hash is the EPACK chain commitment.
//
// Seal rule: canonical_payload_hash equals the canonical-JSON hash of
// the object with canonical_payload_hash set to the empty string.
type DecisionObject struct {
	SchemaID      string            `json:"schema_id"`
	SchemaVersion int               `json:"schema_version"`
	DecisionID    string            `json:"decision_id"`
	CreatedAt     string            `json:"created_at"`
	Context       DecisionContext   `json:"context"`
	Input         DecisionInput     `json:"input"`
	Routing       DecisionRouting   `json:"routing"`
	Policy        DecisionPolicy    `json:"policy"`
	Stages        map[string]any    `json:"stages"`
	Output        DecisionOutput    `json:"output"`
	Integrity     DecisionIntegrity `json:"integrity"`
	Build         DecisionBuild     `json:"build"`
}

// DecisionParams carries the turn artifacts a DecisionObject is built from.
type DecisionParams struct {
	SessionID        string
	Profile          string
	Prompt           string
	Attachments      []string
	Routing          DecisionRouting
	PolicyID         string
	PolicyHash       string
	Constraints      []string
	Stages           map[string]any
	AssistantText    string
	FinalFormat      *string
	Confidence       *float64
	Dissent          map[string]any
	PrevDecisionHash *string
	KernelVersion    string
	ManifestHash     string
	Now              time.Time
}

// BuildDecisionObject assembles and seals a Decision Object, returning it
// together with its canonical payload hash.
func BuildDecisionObject(p DecisionParams) (DecisionObject, string, error) {
	if p.Routing.Mode == "" {
		p.Routing.Mode = "Balanced"
	}
	if p.Routing.Strategy == "" {
		p.Routing.Strategy = "Balanced"
	}
	if p.Routing.Providers == nil {
		p.Routing.Providers = []string{}
	}
	if p.Stages == nil {
		p.Stages = map[string]any{}
	}
	if p.Dissent == nil {
		p.Dissent = map[string]any{}
	}
	if p.Constraints == nil {
		p.Constraints = []string{}
	}
	if p.Attachments == nil {
		p.Attachments = []string{}
	}
	d := DecisionObject{
		SchemaID:      DecisionSchemaID,
		SchemaVersion: DecisionSchemaVersion,
		DecisionID:    uuid.NewString(),
		CreatedAt:     p.Now.UTC().Format(time.RFC3339Nano),
		Context: DecisionContext{
			SessionID: p.SessionID,
			Profile:   p.Profile,
		},
		Input: DecisionInput{
			PromptHash:  stablehash.HashBytes([]byte(p.Prompt)),
			Attachments: p.Attachments,
		},
		Routing: p.Routing,
		Policy: DecisionPolicy{
			PolicyID:           p.PolicyID,
			PolicyHash:         p.PolicyHash,
			Profile:            p.Profile,
			ConstraintsApplied: p.Constraints,
		},
		Stages: p.Stages,
		Output: DecisionOutput{
			FinalTextHash: stablehash.HashBytes([]byte(p.AssistantText)),
			FinalFormat:   p.FinalFormat,
			Confidence:    p.Confidence,
			Dissent:       p.Dissent,
		},
		Integrity: DecisionIntegrity{
			CanonicalPayloadHashAlg: string(stablehash.Default),
			CanonicalPayloadHash:    "",
			PrevDecisionHash:        p.PrevDecisionHash,
		},
		Build: DecisionBuild{
			Kernel:        "tek-kernel",
			KernelVersion: p.KernelVersion,
			ManifestHash:  p.ManifestHash,
		},
	}

	h, err := stablehash.Hash(d)
	if err != nil {
		return DecisionObject{}, "", err
	}
	d.Integrity.CanonicalPayloadHash = h
	return d, h, nil
}

// SealHash recomputes the canonical payload hash of a decision object,
// zeroing the integrity field first. Replay verification uses this to
// check the commitment without trusting the stored value.
func (d DecisionObject) SealHash() (string, error) {
	d.Integrity.CanonicalPayloadHash = ""
	return stablehash.Hash(d)
}
