package consensus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// PrimaryOutput is the structured answer the primary (or debate) model
// must emit. Unknown fields are rejected.
type PrimaryOutput struct {
	RunID             string           `json:"run_id"`
	Epack             string           `json:"epack"`
	ARU               string           `json:"aru"`
	Answer            string           `json:"answer"`
	ReasoningTrace    []string         `json:"reasoning_trace"`
	Claims            []map[string]any `json:"claims"`
	OverallConfidence float64          `json:"overall_confidence"`
	UncertaintyFlags  []string         `json:"uncertainty_flags"`
	NextStep          *string          `json:"next_step"`
}

// ValidatorOutput is a validator model's verdict on a primary output.
type ValidatorOutput struct {
	RunID      string  `json:"run_id"`
	Epack      string  `json:"epack"`
	ARU        string  `json:"aru"`
	Verdict    string  `json:"verdict"`
	Notes      string  `json:"notes"`
	Confidence float64 `json:"confidence"`
}

// SynthesizerOutput is the arbiter's merged answer in debate mode.
type SynthesizerOutput struct {
	RunID             string   `json:"run_id"`
	Epack             string   `json:"epack"`
	ARU               string   `json:"aru"`
	Answer            string   `json:"answer"`
	ReasoningTrace    []string `json:"reasoning_trace"`
	OverallConfidence float64  `json:"overall_confidence"`
}

// Output is what a consensus run ultimately carries: either a primary or
// a synthesizer output. Anchors and answer text are common to both.
type Output interface {
	Anchors() (runID, epackID string)
	AnswerText() string
	FullText() string
}

func (p *PrimaryOutput) Anchors() (string, string) { return p.RunID, p.Epack }
func (p *PrimaryOutput) AnswerText() string        { return p.Answer }

// FullText joins the answer with its reasoning trace, the surface the
// scope gate inspects.
func (p *PrimaryOutput) FullText() string {
	if len(p.ReasoningTrace) == 0 {
		return p.Answer
	}
	return p.Answer + " " + strings.Join(p.ReasoningTrace, " ")
}

func (s *SynthesizerOutput) Anchors() (string, string) { return s.RunID, s.Epack }
func (s *SynthesizerOutput) AnswerText() string        { return s.Answer }
func (s *SynthesizerOutput) FullText() string {
	if len(s.ReasoningTrace) == 0 {
		return s.Answer
	}
	return s.Answer + " " + strings.Join(s.ReasoningTrace, " ")
}

func strictDecode(data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

// ParsePrimaryOutput strictly decodes and validates a primary output.
func ParsePrimaryOutput(data []byte) (*PrimaryOutput, error) {
	var p PrimaryOutput
	if err := strictDecode(data, &p); err != nil {
		return nil, fmt.Errorf("primary output: %w", err)
	}
	if p.RunID == "" || p.Epack == "" || p.ARU == "" || p.Answer == "" {
		return nil, fmt.Errorf("primary output: missing required field")
	}
	if p.OverallConfidence < 0 || p.OverallConfidence > 1 {
		return nil, fmt.Errorf("primary output: confidence %v out of range", p.OverallConfidence)
	}
	return &p, nil
}

// ParseValidatorOutput strictly decodes and validates a validator verdict.
func ParseValidatorOutput(data []byte) (*ValidatorOutput, error) {
	var v ValidatorOutput
	if err := strictDecode(data, &v); err != nil {
		return nil, fmt.Errorf("validator output: %w", err)
	}
	switch v.Verdict {
	case "AGREE", "DISAGREE", "UNCERTAIN":
	case "":
		v.Verdict = "UNCERTAIN"
	default:
		return nil, fmt.Errorf("validator output: unknown verdict %q", v.Verdict)
	}
	if v.RunID == "" || v.Epack == "" {
		return nil, fmt.Errorf("validator output: missing anchors")
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return nil, fmt.Errorf("validator output: confidence %v out of range", v.Confidence)
	}
	return &v, nil
}

// ParseSynthesizerOutput strictly decodes and validates an arbiter output.
func ParseSynthesizerOutput(data []byte) (*SynthesizerOutput, error) {
	var s SynthesizerOutput
	if err := strictDecode(data, &s); err != nil {
		return nil, fmt.Errorf("synthesizer output: %w", err)
	}
	if s.RunID == "" || s.Epack == "" || s.ARU == "" || s.Answer == "" {
		return nil, fmt.Errorf("synthesizer output: missing required field")
	}
	if s.OverallConfidence < 0 || s.OverallConfidence > 1 {
		return nil, fmt.Errorf("synthesizer output: confidence %v out of range", s.OverallConfidence)
	}
	return &s, nil
}
