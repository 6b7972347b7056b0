// Package tsv tracks per-session skill beliefs from observed evidence.
// Beliefs gate high-stakes routing: a session earns HIGH_STAKES access by
// accumulating strong verification evidence, never by asserting it.
package tsv

import (
	"sync"
	"time"
)

// EvidenceType classifies where a piece of evidence came from.
type EvidenceType string

const (
	EvSelfAssertion    EvidenceType = "EV_SELF_ASSERTION"
	EvPerformance      EvidenceType = "EV_PERFORMANCE"
	EvCompliance       EvidenceType = "EV_COMPLIANCE"
	EvErrorPattern     EvidenceType = "EV_ERROR_PATTERN"
	EvVerificationStep EvidenceType = "EV_VERIFICATION_STEP"
)

// Strength is the evidence strength ladder E0..E3.
type Strength string

const (
	E0 Strength = "E0"
	E1 Strength = "E1"
	E2 Strength = "E2"
	E3 Strength = "E3"
)

// Skill names match the belief fields.
const (
	SkillClarity           = "clarity"
	SkillContext           = "context"
	SkillVerification      = "verification"
	SkillConstraints       = "constraints"
	SkillTranslationIntent = "translation_intent"
)

// DefaultEvidenceWindow is how long evidence stays live.
const DefaultEvidenceWindow = 7 * 24 * time.Hour

// StrengthWeight returns the belief update rate for a strength. Unknown
// strengths weigh nothing.
func StrengthWeight(s Strength) float64 {
	switch s {
	case E1:
		return 0.10
	case E2:
		return 0.25
	case E3:
		return 0.55
	default:
		return 0.0
	}
}

// CapStrength limits self-assertions to E1. A model cannot talk its way
// into strong evidence.
func CapStrength(evType EvidenceType, s Strength) Strength {
	if evType == EvSelfAssertion && (s == E2 || s == E3) {
		return E1
	}
	return s
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// Evidence is one observed signal about a skill.
type Evidence struct {
	Skill     string         `json:"skill"`
	Type      EvidenceType   `json:"evidence_type"`
	Strength  Strength       `json:"strength"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Beliefs are the per-skill confidence values, each in [0, 1].
type Beliefs struct {
	Clarity           float64 `json:"clarity"`
	Context           float64 `json:"context"`
	Verification      float64 `json:"verification"`
	Constraints       float64 `json:"constraints"`
	TranslationIntent float64 `json:"translation_intent"`
}

func defaultBeliefs() Beliefs {
	return Beliefs{
		Clarity: 0.50, Context: 0.50, Verification: 0.50,
		Constraints: 0.50, TranslationIntent: 0.50,
	}
}

func (b *Beliefs) get(skill string) float64 {
	switch skill {
	case SkillClarity:
		return b.Clarity
	case SkillContext:
		return b.Context
	case SkillVerification:
		return b.Verification
	case SkillConstraints:
		return b.Constraints
	case SkillTranslationIntent:
		return b.TranslationIntent
	default:
		return 0.50
	}
}

func (b *Beliefs) set(skill string, v float64) {
	switch skill {
	case SkillClarity:
		b.Clarity = v
	case SkillContext:
		b.Context = v
	case SkillVerification:
		b.Verification = v
	case SkillConstraints:
		b.Constraints = v
	case SkillTranslationIntent:
		b.TranslationIntent = v
	}
}

// State holds one session's beliefs and its live evidence log. Safe for
// concurrent use.
type State struct {
	mu       sync.Mutex
	beliefs  Beliefs
	evidence []Evidence
	window   time.Duration
	clock    func() time.Time
}

// Option configures a State.
type Option func(*State)

// WithClock overrides wall-clock access for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(s *State) { s.clock = clock }
}

// WithWindow overrides the evidence expiry window.
func WithWindow(d time.Duration) Option {
	return func(s *State) { s.window = d }
}

func NewState(opts ...Option) *State {
	s := &State{
		beliefs: defaultBeliefs(),
		window:  DefaultEvidenceWindow,
		clock:   time.Now,
	}
	for _, fn := range opts {
		fn(s)
	}
	return s
}

// AddEvidence records evidence and moves the skill belief toward the
// evidence target at the strength's rate. Expired evidence is pruned on
// every add.
func (s *State) AddEvidence(ev Evidence) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev.Strength = CapStrength(ev.Type, ev.Strength)
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.clock()
	}
	s.evidence = append(s.evidence, ev)
	s.pruneLocked()

	var target float64
	switch ev.Type {
	case EvPerformance:
		if success, _ := ev.Details["success"].(bool); success {
			target = 1.0
		}
	case EvErrorPattern:
		target = 0.0
	case EvVerificationStep:
		target = 1.0
	default:
		target = 1.0
		if positive, ok := ev.Details["positive"].(bool); ok && !positive {
			target = 0.0
		}
	}

	w := StrengthWeight(ev.Strength)
	current := s.beliefs.get(ev.Skill)
	s.beliefs.set(ev.Skill, clamp01(current+w*(target-current)))
}

func (s *State) pruneLocked() {
	now := s.clock()
	live := s.evidence[:0]
	for _, ev := range s.evidence {
		if now.Sub(ev.Timestamp) <= s.window {
			live = append(live, ev)
		}
	}
	s.evidence = live
}

// HasE3 reports whether any live evidence for skill is strength E3.
func (s *State) HasE3(skill string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasE3Locked(skill)
}

func (s *State) hasE3Locked(skill string) bool {
	for _, ev := range s.evidence {
		if ev.Skill == skill && ev.Strength == E3 {
			return true
		}
	}
	return false
}

// HighStakesReady reports whether the session may take the HIGH_STAKES
// path: clarity, constraints and verification beliefs at or above 0.70
// plus at least one live E3 verification evidence.
func (s *State) HighStakesReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := s.beliefs.Clarity >= 0.70 &&
		s.beliefs.Constraints >= 0.70 &&
		s.beliefs.Verification >= 0.70
	return ok && s.hasE3Locked(SkillVerification)
}

// Beliefs returns a copy of the current belief values.
func (s *State) Beliefs() Beliefs {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.beliefs
}

// SetBelief overwrites one skill belief. Used by replay restoration and
// tests; normal operation goes through AddEvidence.
func (s *State) SetBelief(skill string, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beliefs.set(skill, clamp01(v))
}

// Snapshot returns the evidence-pruned state for EPACK payloads: belief
// values, the last 20 evidence entries and the E3 verification flag.
func (s *State) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()

	recent := s.evidence
	if len(recent) > 20 {
		recent = recent[len(recent)-20:]
	}
	entries := make([]map[string]any, len(recent))
	for i, ev := range recent {
		entries[i] = map[string]any{
			"skill":         ev.Skill,
			"evidence_type": string(ev.Type),
			"strength":      string(ev.Strength),
			"timestamp":     float64(ev.Timestamp.UnixMilli()) / 1000.0,
			"details":       ev.Details,
		}
	}
	return map[string]any{
		"beliefs": map[string]any{
			"clarity":            s.beliefs.Clarity,
			"context":            s.beliefs.Context,
			"verification":       s.beliefs.Verification,
			"constraints":        s.beliefs.Constraints,
			"translation_intent": s.beliefs.TranslationIntent,
		},
		"evidence_window_s":   int(s.window / time.Second),
		"evidence_recent":     entries,
		"has_e3_verification": s.hasE3Locked(SkillVerification),
	}
}
