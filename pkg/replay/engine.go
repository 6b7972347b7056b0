// Package replay verifies that sealed governance decisions reproduce
// bit-for-bit from their EPACK records. Replay never invokes a model and
// never touches the network; every verdict is derived from the record.
package replay

import (
	"fmt"
	"time"

	"github.com/Beaconwise-Labs/tek/pkg/epack"
	"github.com/Beaconwise-Labs/tek/pkg/stablehash"
)

// Outcome is the terminal replay classification. Silent divergence is
// forbidden: every replay ends in exactly one of these.
type Outcome string

const (
	OutcomeVerified Outcome = "VERIFIED"
	OutcomeDrift    Outcome = "DRIFT"
	OutcomeTamper   Outcome = "TAMPER_DETECTED"
)

// Step is one verification step's verdict.
type Step struct {
	StepName      string `json:"step_name"`
	OriginalValue string `json:"original_value"`
	ReplayedValue string `json:"replayed_value"`
	Match         bool   `json:"match"`
	Detail        string `json:"detail"`
	// HashBased steps distinguish tamper from drift on failure.
	HashBased bool `json:"hash_based"`
}

// Result is the replay verdict for one record.
type Result struct {
	ReplayID         string  `json:"replay_id"`
	EpackSeq         int     `json:"epack_seq"`
	Steps            []Step  `json:"steps"`
	DeterminismIndex float64 `json:"determinism_index"`
	GovernanceMatch  bool    `json:"governance_match"`
	ChainLinkMatch   bool    `json:"chain_link_match"`
	Outcome          Outcome `json:"outcome"`
	Timestamp        float64 `json:"timestamp"`
}

// Options carries the optional determinism rechecks. Both functions must
// be pure; they see only recorded values.
type Options struct {
	// ExpectedPrevHash enables the chain-linkage step.
	ExpectedPrevHash *string
	// RecheckRoute, when set, is invoked with the recorded input-vector
	// map and must return the recorded route.
	RecheckRoute func(iv map[string]any) string
	// RecheckSafety, when set, must reproduce the recorded stage-1 verdict
	// from the recorded text hash metadata.
	RecheckSafety func(iv map[string]any) bool
	// Clock for replay ids; defaults to time.Now.
	Clock func() time.Time
}

func truncate(s string) string {
	if s == "" {
		return "MISSING"
	}
	if len(s) > 16 {
		return s[:16] + "..."
	}
	return s
}

// Replay verifies a single EPACK record.
func Replay(rec epack.Record, opts Options) (Result, error) {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	var steps []Step
	payload := rec.Payload

	// 1. EPACK hash integrity.
	recomputed, err := epack.RecomputeHash(rec)
	if err != nil {
		return Result{}, fmt.Errorf("replay: recompute hash: %w", err)
	}
	hashOK := recomputed == rec.Hash
	steps = append(steps, Step{
		StepName:      "epack_hash_integrity",
		OriginalValue: truncate(rec.Hash),
		ReplayedValue: truncate(recomputed),
		Match:         hashOK,
		Detail:        detail(hashOK, "Hash chain integrity", "TAMPERED: hash mismatch"),
		HashBased:     true,
	})

	// 2. Chain linkage.
	chainLink := true
	if opts.ExpectedPrevHash != nil {
		chainLink = rec.PrevHash == *opts.ExpectedPrevHash
		steps = append(steps, Step{
			StepName:      "chain_linkage",
			OriginalValue: truncate(rec.PrevHash),
			ReplayedValue: truncate(*opts.ExpectedPrevHash),
			Match:         chainLink,
			Detail:        detail(chainLink, "Chain continuity", "BROKEN: prev_hash mismatch"),
			HashBased:     true,
		})
	}

	// 3. Commitment: payload_hash must equal the recorded decision hash.
	decisionHash, _ := payload["decision_hash"].(string)
	if decisionHash != "" {
		ok := rec.PayloadHash == decisionHash
		steps = append(steps, Step{
			StepName:      "commitment_payload_hash_equals_decision_hash",
			OriginalValue: truncate(rec.PayloadHash),
			ReplayedValue: truncate(decisionHash),
			Match:         ok,
			Detail:        detail(ok, "Decision commitment", "BROKEN: payload_hash != decision_hash"),
			HashBased:     true,
		})
	}

	// 4. Decision Object canonical hash.
	if decisionObj, ok := payload["decision_object"].(map[string]any); ok {
		rehash, err := recomputeDecisionHash(decisionObj)
		if err != nil {
			return Result{}, fmt.Errorf("replay: decision hash: %w", err)
		}
		match := rehash == decisionHash && rehash == rec.PayloadHash
		steps = append(steps, Step{
			StepName:      "decision_object_canonical_hash",
			OriginalValue: truncate(decisionHash),
			ReplayedValue: truncate(rehash),
			Match:         match,
			Detail:        detail(match, "Decision object canonical hash", "BROKEN: decision object hash mismatch"),
			HashBased:     true,
		})
	}

	// 5/6. Optional determinism rechecks over the recorded input vector.
	if iv, ok := extraInputVector(payload); ok {
		if opts.RecheckRoute != nil {
			recorded, _ := extraRoute(payload)
			rerouted := opts.RecheckRoute(iv)
			match := rerouted == recorded
			steps = append(steps, Step{
				StepName:      "routing_determinism",
				OriginalValue: recorded,
				ReplayedValue: rerouted,
				Match:         match,
				Detail:        detail(match, "Routing reproduced", "DRIFT: route differs"),
			})
		}
		if opts.RecheckSafety != nil {
			recorded, _ := iv["stage1_ok"].(bool)
			replayed := opts.RecheckSafety(iv)
			match := replayed == recorded
			steps = append(steps, Step{
				StepName:      "safety_determinism",
				OriginalValue: fmt.Sprintf("%t", recorded),
				ReplayedValue: fmt.Sprintf("%t", replayed),
				Match:         match,
				Detail:        detail(match, "Stage-1 verdict reproduced", "DRIFT: safety verdict differs"),
			})
		}
	}

	// 7. Profile and manifest presence.
	profileOK := false
	if p, ok := payload["profile"].(string); ok && p != "" {
		profileOK = true
	}
	manifestOK := false
	if bm, ok := payload["build_manifest"].(map[string]any); ok {
		if mh, ok := bm["manifest_hash"].(string); ok && mh != "" {
			manifestOK = true
		}
	}
	presenceOK := profileOK && manifestOK
	steps = append(steps, Step{
		StepName:      "profile_and_manifest_presence",
		OriginalValue: fmt.Sprintf("profile=%t manifest=%t", profileOK, manifestOK),
		ReplayedValue: "profile=true manifest=true",
		Match:         presenceOK,
		Detail:        detail(presenceOK, "Provenance present", "DRIFT: provenance incomplete"),
	})

	matched := 0
	allMatch := true
	tampered := false
	for _, s := range steps {
		if s.Match {
			matched++
			continue
		}
		allMatch = false
		if s.HashBased {
			tampered = true
		}
	}

	outcome := OutcomeVerified
	if tampered {
		outcome = OutcomeTamper
	} else if !allMatch {
		outcome = OutcomeDrift
	}

	now := clock()
	idHash, err := stablehash.Hash(map[string]any{"seq": rec.Seq, "ts": now.UnixNano()})
	if err != nil {
		return Result{}, err
	}
	idx := float64(matched) / float64(len(steps)) * 100
	return Result{
		ReplayID:         idHash[:16],
		EpackSeq:         rec.Seq,
		Steps:            steps,
		DeterminismIndex: roundTenth(idx),
		GovernanceMatch:  allMatch,
		ChainLinkMatch:   chainLink,
		Outcome:          outcome,
		Timestamp:        float64(now.UnixMilli()) / 1000.0,
	}, nil
}

// ReplayChain walks a chain in order, threading the expected prev hash.
// The first record is expected to link to GENESIS.
func ReplayChain(chain []epack.Record, opts Options) ([]Result, error) {
	results := make([]Result, 0, len(chain))
	expected := epack.Genesis
	for _, rec := range chain {
		o := opts
		prev := expected
		o.ExpectedPrevHash = &prev
		res, err := Replay(rec, o)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
		expected = rec.Hash
	}
	return results, nil
}

// Summary aggregates chain replay results.
type Summary struct {
	Total               int     `json:"total"`
	DeterminismIndex    float64 `json:"determinism_index"`
	GovernanceMatchRate float64 `json:"governance_match_rate"`
	ChainLinkRate       float64 `json:"chain_link_rate"`
	TamperedRecords     []int   `json:"tampered_records"`
	Outcome             Outcome `json:"outcome"`
}

// Summarize folds per-record results into a chain verdict. The chain
// outcome is the worst record outcome.
func Summarize(results []Result) Summary {
	if len(results) == 0 {
		return Summary{Outcome: OutcomeVerified, TamperedRecords: []int{}}
	}
	s := Summary{Total: len(results), TamperedRecords: []int{}, Outcome: OutcomeVerified}
	var idxSum float64
	var govMatch, linkMatch int
	for _, r := range results {
		idxSum += r.DeterminismIndex
		if r.GovernanceMatch {
			govMatch++
		}
		if r.ChainLinkMatch {
			linkMatch++
		}
		if r.Outcome == OutcomeTamper {
			s.TamperedRecords = append(s.TamperedRecords, r.EpackSeq)
			s.Outcome = OutcomeTamper
		} else if r.Outcome == OutcomeDrift && s.Outcome != OutcomeTamper {
			s.Outcome = OutcomeDrift
		}
	}
	s.DeterminismIndex = roundTenth(idxSum / float64(len(results)))
	s.GovernanceMatchRate = float64(govMatch) / float64(len(results))
	s.ChainLinkRate = float64(linkMatch) / float64(len(results))
	return s
}

func detail(ok bool, pass, fail string) string {
	if ok {
		return pass
	}
	return fail
}

func roundTenth(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}

// recomputeDecisionHash reapplies the self-referential seal rule to a
// decision object payload map.
func recomputeDecisionHash(obj map[string]any) (string, error) {
	clone := make(map[string]any, len(obj))
	for k, v := range obj {
		clone[k] = v
	}
	integ := map[string]any{}
	if orig, ok := obj["integrity"].(map[string]any); ok {
		for k, v := range orig {
			integ[k] = v
		}
	}
	integ["canonical_payload_hash"] = ""
	clone["integrity"] = integ
	return stablehash.Hash(clone)
}

func extraInputVector(payload map[string]any) (map[string]any, bool) {
	extra, ok := payload["extra"].(map[string]any)
	if !ok {
		return nil, false
	}
	iv, ok := extra["input_vector"].(map[string]any)
	return iv, ok
}

func extraRoute(payload map[string]any) (string, bool) {
	r, ok := payload["route"].(string)
	return r, ok
}
