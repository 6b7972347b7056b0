package replay

import (
	"errors"
	"fmt"
	"time"

	"github.com/Beaconwise-Labs/tek/pkg/epack"
	"github.com/Beaconwise-Labs/tek/pkg/stablehash"
)

// ErrEmptyChain is returned when a package is built from no records.
var ErrEmptyChain = errors.New("replay: empty epack chain")

// Package is a sealed, portable bundle sufficient to re-verify a session
// offline. PackageHash commits to every other field.
type Package struct {
	PackageVersion    string           `json:"package_version"`
	CreatedAt         float64          `json:"created_at"`
	KernelVersion     string           `json:"kernel_version"`
	GovernanceProfile string           `json:"governance_profile_id"`
	ValidatorSetID    string           `json:"validator_set_id"`
	DeterminismPolicy string           `json:"determinism_policy"`
	InputPayloadHash  string           `json:"input_payload_hash"`
	InputMetadata     map[string]any   `json:"input_metadata"`
	RoutingDecisions  []map[string]any `json:"routing_decisions"`
	EpackChain        []epack.Record   `json:"epack_chain"`
	EpackHeadHash     string           `json:"epack_head_hash"`
	ValidatorResults  []map[string]any `json:"validator_results"`
	ConsensusResult   map[string]any   `json:"consensus_result"`
	Environment       map[string]any   `json:"environment"`
	PackageHash       string           `json:"package_hash"`
}

// BuildOptions parameterize package construction.
type BuildOptions struct {
	KernelVersion     string
	GovernanceProfile string
	ValidatorSetID    string
	RoutingDecisions  []map[string]any
	ValidatorResults  []map[string]any
	ConsensusResult   map[string]any
	Environment       map[string]any
	Clock             func() time.Time
}

// Build assembles and seals a package from a session's record chain.
func Build(chain []epack.Record, opts BuildOptions) (Package, error) {
	if len(chain) == 0 {
		return Package{}, ErrEmptyChain
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	inputHash := ""
	if uth, ok := chain[0].Payload["user_text_hash"].(string); ok {
		inputHash = uth
	}
	pkg := Package{
		PackageVersion:    "1.0",
		CreatedAt:         float64(clock().UnixMilli()) / 1000.0,
		KernelVersion:     opts.KernelVersion,
		GovernanceProfile: opts.GovernanceProfile,
		ValidatorSetID:    opts.ValidatorSetID,
		DeterminismPolicy: "strict",
		InputPayloadHash:  inputHash,
		InputMetadata:     map[string]any{"epack_count": len(chain)},
		RoutingDecisions:  opts.RoutingDecisions,
		EpackChain:        chain,
		EpackHeadHash:     chain[len(chain)-1].Hash,
		ValidatorResults:  opts.ValidatorResults,
		ConsensusResult:   opts.ConsensusResult,
		Environment:       opts.Environment,
	}
	if pkg.RoutingDecisions == nil {
		pkg.RoutingDecisions = []map[string]any{}
	}
	if pkg.ValidatorResults == nil {
		pkg.ValidatorResults = []map[string]any{}
	}
	if pkg.ConsensusResult == nil {
		pkg.ConsensusResult = map[string]any{}
	}
	if pkg.Environment == nil {
		pkg.Environment = map[string]any{}
	}
	if err := pkg.Seal(); err != nil {
		return Package{}, err
	}
	return pkg, nil
}

// Seal recomputes PackageHash over every other field.
func (p *Package) Seal() error {
	h, err := p.bodyHash()
	if err != nil {
		return err
	}
	p.PackageHash = h
	return nil
}

// VerifySeal reports whether PackageHash matches the package body.
func (p *Package) VerifySeal() (bool, error) {
	h, err := p.bodyHash()
	if err != nil {
		return false, err
	}
	return h == p.PackageHash, nil
}

func (p *Package) bodyHash() (string, error) {
	clone := *p
	clone.PackageHash = ""
	body, err := stablehash.Canonical(clone)
	if err != nil {
		return "", fmt.Errorf("replay: canonicalize package: %w", err)
	}
	return stablehash.HashBytes(body), nil
}

// Check is one package-level verification finding.
type Check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail"`
}

// VerifyResult is the full offline verification verdict for a package.
type VerifyResult struct {
	OK      bool    `json:"ok"`
	Checks  []Check `json:"checks"`
	Outcome Outcome `json:"outcome"`
}

// Verify runs the four offline package checks: seal, chain integrity,
// head hash, and required provenance fields. Chain integrity recomputes
// every record hash and linkage from scratch.
func Verify(p Package) (VerifyResult, error) {
	var checks []Check

	sealOK, err := p.VerifySeal()
	if err != nil {
		return VerifyResult{}, err
	}
	checks = append(checks, Check{
		Name:   "package_seal",
		OK:     sealOK,
		Detail: detail(sealOK, "Package hash matches body", "TAMPERED: package hash mismatch"),
	})

	chainOK := true
	chainDetail := "All record hashes and links verified"
	if len(p.EpackChain) == 0 {
		chainOK = false
		chainDetail = "BROKEN: empty chain"
	} else if err := epack.VerifyChain(p.EpackChain); err != nil {
		chainOK = false
		chainDetail = fmt.Sprintf("BROKEN: %v", err)
	}
	checks = append(checks, Check{Name: "chain_integrity", OK: chainOK, Detail: chainDetail})

	headOK := len(p.EpackChain) > 0 && p.EpackChain[len(p.EpackChain)-1].Hash == p.EpackHeadHash
	checks = append(checks, Check{
		Name:   "head_hash",
		OK:     headOK,
		Detail: detail(headOK, "Head hash matches last record", "BROKEN: head hash mismatch"),
	})

	fieldsOK := p.KernelVersion != "" && p.InputPayloadHash != ""
	checks = append(checks, Check{
		Name:   "required_fields",
		OK:     fieldsOK,
		Detail: detail(fieldsOK, "Provenance fields present", "DRIFT: missing kernel_version or input_payload_hash"),
	})

	res := VerifyResult{OK: true, Checks: checks, Outcome: OutcomeVerified}
	for _, c := range checks {
		if c.OK {
			continue
		}
		res.OK = false
		if c.Name == "required_fields" {
			if res.Outcome == OutcomeVerified {
				res.Outcome = OutcomeDrift
			}
		} else {
			res.Outcome = OutcomeTamper
		}
	}
	return res, nil
}
