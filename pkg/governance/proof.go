package governance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/Beaconwise-Labs/tek/pkg/epack"
	"github.com/Beaconwise-Labs/tek/pkg/stablehash"
)

// ProofMode selects governance proof depth.
type ProofMode string

const (
	// ProofLightweight carries the hash chain and routing proof only.
	ProofLightweight ProofMode = "lightweight"
	// ProofStandard adds a signed receipt and belief-state snapshot hash.
	ProofStandard ProofMode = "standard"
	// ProofForensic adds full state replay data and input vectors.
	ProofForensic ProofMode = "forensic"
)

// RoutingProof is a deterministic record of why a specific route was
// taken. Its seal hash commits to every field.
type RoutingProof struct {
	InputHash         string   `json:"input_hash"`
	RouteSequence     []string `json:"route_sequence"`
	RouteReason       string   `json:"route_reason"`
	SafetyStage1OK    bool     `json:"safety_stage1_ok"`
	SafetyStage2OK    bool     `json:"safety_stage2_ok"`
	SafetyStage2Score float64  `json:"safety_stage2_score"`
	Domain            string   `json:"domain"`
	Complexity        int      `json:"complexity"`
	Profile           string   `json:"profile"`
	Timestamp         float64  `json:"timestamp"`
}

// Seal returns the canonical hash of the routing proof.
func (p RoutingProof) Seal() (string, error) {
	return stablehash.Hash(p)
}

// Receipt is a tamper-evident attestation for one governed interaction.
// The signature is an HMAC over the canonical form of every other field.
type Receipt struct {
	ReceiptID         string  `json:"receipt_id"`
	EpackHash         string  `json:"epack_hash"`
	RoutingProofHash  string  `json:"routing_proof_hash"`
	ManifestHash      string  `json:"manifest_hash"`
	TSVSnapshotHash   string  `json:"tsv_snapshot_hash"`
	ScopeGateDecision string  `json:"scope_gate_decision"`
	Profile           string  `json:"profile"`
	Mode              string  `json:"mode"`
	Timestamp         float64 `json:"timestamp"`
	Signature         string  `json:"signature"`
}

func signReceiptFields(r Receipt, key []byte) (string, error) {
	payload, err := stablehash.Canonical(map[string]any{
		"receipt_id":          r.ReceiptID,
		"epack_hash":          r.EpackHash,
		"routing_proof_hash":  r.RoutingProofHash,
		"manifest_hash":       r.ManifestHash,
		"tsv_snapshot_hash":   r.TSVSnapshotHash,
		"scope_gate_decision": r.ScopeGateDecision,
		"profile":             r.Profile,
		"mode":                r.Mode,
		"timestamp":           r.Timestamp,
	})
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify reports whether the receipt's signature checks out under key.
func (r Receipt) Verify(key []byte) bool {
	expected, err := signReceiptFields(r, key)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(r.Signature), []byte(expected))
}

// SignReceipt fills in the timestamp and signature of an unsigned
// receipt.
func SignReceipt(r Receipt, key []byte, now time.Time) (Receipt, error) {
	r.Timestamp = float64(now.UnixNano()) / 1e9
	r.Signature = ""
	sig, err := signReceiptFields(r, key)
	if err != nil {
		return Receipt{}, fmt.Errorf("governance: sign receipt: %w", err)
	}
	r.Signature = sig
	return r, nil
}

// Proof is a complete governance proof bundle for one interaction.
type Proof struct {
	Version          string         `json:"version"`
	Mode             string         `json:"mode"`
	EpackChainHashes []string       `json:"epack_chain_hashes"`
	Receipt          *Receipt       `json:"receipt,omitempty"`
	RoutingProof     *RoutingProof  `json:"routing_proof,omitempty"`
	StateReplay      map[string]any `json:"state_replay,omitempty"`
}

// ProofParams gathers the evidence a proof bundle is built from.
type ProofParams struct {
	Mode              ProofMode
	Chain             []epack.Record
	RoutingProof      *RoutingProof
	ManifestHash      string
	TSVSnapshot       map[string]any
	ScopeGateDecision string
	Profile           string
	SigningKey        []byte
	StateReplay       map[string]any
	Now               time.Time
}

// GenerateProof builds a proof bundle at the requested depth. Standard
// and forensic modes sign a receipt when a key is present; forensic mode
// additionally carries the state replay data.
func GenerateProof(p ProofParams) (Proof, error) {
	chainHashes := make([]string, len(p.Chain))
	for i, r := range p.Chain {
		chainHashes[i] = r.Hash
	}
	epackHash := ""
	if len(chainHashes) > 0 {
		epackHash = chainHashes[len(chainHashes)-1]
	}

	now := p.Now
	if now.IsZero() {
		now = time.Now()
	}

	proof := Proof{
		Version:          GovernanceVersion,
		Mode:             string(p.Mode),
		EpackChainHashes: chainHashes,
		RoutingProof:     p.RoutingProof,
	}

	if (p.Mode == ProofStandard || p.Mode == ProofForensic) && len(p.SigningKey) > 0 {
		receiptID, err := stablehash.Hash(map[string]any{
			"epack_hash": epackHash,
			"ts":         float64(now.UnixNano()) / 1e9,
		})
		if err != nil {
			return Proof{}, fmt.Errorf("governance: receipt id: %w", err)
		}

		routingHash := ""
		if p.RoutingProof != nil {
			routingHash, err = p.RoutingProof.Seal()
			if err != nil {
				return Proof{}, fmt.Errorf("governance: seal routing proof: %w", err)
			}
		}
		tsvHash := ""
		if p.TSVSnapshot != nil {
			tsvHash, err = stablehash.Hash(p.TSVSnapshot)
			if err != nil {
				return Proof{}, fmt.Errorf("governance: hash tsv snapshot: %w", err)
			}
		}

		scope := p.ScopeGateDecision
		if scope == "" {
			scope = "N/A"
		}
		receipt, err := SignReceipt(Receipt{
			ReceiptID:         receiptID[:16],
			EpackHash:         epackHash,
			RoutingProofHash:  routingHash,
			ManifestHash:      p.ManifestHash,
			TSVSnapshotHash:   tsvHash,
			ScopeGateDecision: scope,
			Profile:           p.Profile,
			Mode:              string(p.Mode),
		}, p.SigningKey, now)
		if err != nil {
			return Proof{}, err
		}
		proof.Receipt = &receipt
	}

	if p.Mode == ProofForensic && p.StateReplay != nil {
		proof.StateReplay = p.StateReplay
	}

	return proof, nil
}

// VerifyRoutingProof checks a routing proof for internal consistency:
// an input failing either safety stage must have routed to BOUND first.
func VerifyRoutingProof(p RoutingProof) (bool, string) {
	if !p.SafetyStage1OK || !p.SafetyStage2OK {
		if len(p.RouteSequence) > 0 && p.RouteSequence[0] != "BOUND" {
			return false, "Unsafe input should route to BOUND"
		}
	}
	seal, err := p.Seal()
	if err != nil || seal == "" {
		return false, "Proof seal is empty"
	}
	return true, "OK"
}

// AuditAnnotation is one record's verification status from a forensic
// chain replay.
type AuditAnnotation struct {
	Seq               int     `json:"seq"`
	Ts                float64 `json:"ts"`
	Hash              string  `json:"hash"`
	Verified          bool    `json:"verified"`
	HashOK            bool    `json:"hash_ok"`
	LinkOK            bool    `json:"link_ok"`
	VerificationError string  `json:"verification_error,omitempty"`
}

// ReplayAuditChain re-verifies a chain record by record, annotating each
// with hash and link status rather than stopping at the first failure.
func ReplayAuditChain(chain []epack.Record) []AuditAnnotation {
	out := make([]AuditAnnotation, 0, len(chain))
	for i, rec := range chain {
		recomputed, err := epack.RecomputeHash(rec)
		hashOK := err == nil && recomputed == rec.Hash
		linkOK := true
		if i > 0 {
			linkOK = rec.PrevHash == chain[i-1].Hash
		}

		ann := AuditAnnotation{
			Seq:      rec.Seq,
			Ts:       rec.Ts,
			Hash:     rec.Hash,
			Verified: hashOK && linkOK,
			HashOK:   hashOK,
			LinkOK:   linkOK,
		}
		if !hashOK {
			ann.VerificationError = "hash mismatch"
		} else if !linkOK {
			ann.VerificationError = "chain link broken"
		}
		out = append(out, ann)
	}
	return out
}
