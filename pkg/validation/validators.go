package validation

import (
	"regexp"
	"strings"

	"github.com/Beaconwise-Labs/tek/pkg/kernel"
	"github.com/Beaconwise-Labs/tek/pkg/stablehash"
)

// Attempt is one validation stage's outcome. Attempts are recorded in
// order; a hard failure stops the pipeline.
type Attempt struct {
	Attempt int     `json:"attempt"`
	OK      bool    `json:"ok"`
	Reason  string  `json:"reason"`
	Score   float64 `json:"score"`
}

// evidenceClaimRe triggers citation gating when output implies studies,
// trials, reviews, or guidelines. Conservative on purpose.
var evidenceClaimRe = regexp.MustCompile(`(?i)\b(studies show|research shows|evidence suggests|systematic review|meta-analys(?:is|es)|randomi[sz]ed (?:trial|controlled trial)|RCT\b|clinical guideline|guidelines (?:recommend|suggest)|according to (?:a|the) (?:study|trial|review|meta-analysis))\b`)

var (
	fenceRe     = regexp.MustCompile("```[\\s\\S]*?```")
	jsonBlockRe = regexp.MustCompile(`\{[\s\S]*?\}`)
)

// ProtectedRegionsHash fingerprints the regions a rewrite must not alter:
// code fences and JSON-like blocks, concatenated in document order.
func ProtectedRegionsHash(text string) string {
	regions := fenceRe.FindAllString(text, -1)
	regions = append(regions, jsonBlockRe.FindAllString(text, -1)...)
	h, err := stablehash.Hash(strings.Join(regions, "\n"))
	if err != nil {
		// A string always canonicalizes; treat failure as empty regions.
		h, _ = stablehash.Hash("")
	}
	return h[:16]
}

// AlignmentScore is the deterministic alignment heuristic. Short requests
// align slightly better than long ones.
func AlignmentScore(userText string) float64 {
	if len(userText) < 200 {
		return 0.92
	}
	return 0.88
}

// Config controls optional gates.
type Config struct {
	// RequireEvidenceCitations enables the evidence-claim gate.
	RequireEvidenceCitations bool
}

// DefaultConfig matches production defaults: evidence claims need citations.
func DefaultConfig() Config {
	return Config{RequireEvidenceCitations: true}
}

// ValidateOutput runs the four-stage pipeline: schema, evidence-claim
// gate, alignment, protected regions. It returns every attempt made;
// stages after a hard schema or evidence failure are not attempted.
func ValidateOutput(cfg Config, userText, rawOutput string, threshold float64) []Attempt {
	var attempts []Attempt

	okSchema, obj, reason := CheckSchema(rawOutput)
	attempts = append(attempts, Attempt{1, okSchema, reason, boolScore(okSchema)})
	if !okSchema {
		return attempts
	}
	text, _ := obj["text"].(string)

	if cfg.RequireEvidenceCitations && evidenceClaimRe.MatchString(text) {
		cites, _ := obj["citations"].([]any)
		okEv := len(cites) > 0
		attempts = append(attempts, Attempt{2, okEv, "evidence_claim_requires_citations", boolScore(okEv)})
		if !okEv {
			return attempts
		}
	} else {
		attempts = append(attempts, Attempt{2, true, "evidence_claim_gate_skipped", 1.0})
	}

	score := AlignmentScore(userText)
	attempts = append(attempts, Attempt{3, score >= threshold, "alignment_check", score})

	okRegions := ProtectedRegionsHash(userText) == ProtectedRegionsHash(text)
	attempts = append(attempts, Attempt{4, okRegions, "protected_regions", boolScore(okRegions)})

	return attempts
}

func boolScore(ok bool) float64 {
	if ok {
		return 1.0
	}
	return 0.0
}

// Validator adapts the pipeline to the turn engine's validation contract.
type Validator struct {
	cfg Config
}

// NewValidator returns a turn-engine validator with the given gates.
func NewValidator(cfg Config) *Validator {
	return &Validator{cfg: cfg}
}

// Validate collapses the attempt list into a single verdict: the first
// failing attempt, or the final attempt when all pass.
func (v *Validator) Validate(userText, raw string, threshold float64) kernel.Verdict {
	attempts := ValidateOutput(v.cfg, userText, raw, threshold)
	for _, a := range attempts {
		if !a.OK {
			return kernel.Verdict{OK: false, Reason: a.Reason, Score: a.Score}
		}
	}
	last := attempts[len(attempts)-1]
	return kernel.Verdict{OK: true, Reason: last.Reason, Score: lowestScore(attempts)}
}

func lowestScore(attempts []Attempt) float64 {
	low := 1.0
	for _, a := range attempts {
		if a.Score < low {
			low = a.Score
		}
	}
	return low
}
