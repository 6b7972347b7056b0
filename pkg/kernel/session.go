// Package kernel is the governed turn engine: input vectorization,
// deterministic routing, the confirmation gate lifecycle, tool dispatch,
// profile escalation and evidence sealing.
package kernel

import (
	"github.com/Beaconwise-Labs/tek/pkg/contracts"
	"github.com/Beaconwise-Labs/tek/pkg/epack"
	"github.com/Beaconwise-Labs/tek/pkg/tsv"
)

// PendingGate names the active confirmation gate, if any.
type PendingGate string

const (
	GateNone            PendingGate = "NONE"
	GateReflectConfirm  PendingGate = "REFLECT_CONFIRM"
	GateScaffoldApprove PendingGate = "SCAFFOLD_APPROVE"
)

// StateTrace records one gate or profile transition for audit.
type StateTrace struct {
	StateBefore string         `json:"state_before"`
	StateAfter  string         `json:"state_after"`
	Event       string         `json:"event"`
	Gate        string         `json:"gate"`
	Interaction int            `json:"interaction"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// PendingGateState carries everything needed to verify a confirmation:
// the frozen payload, its hash, the confirm token, the scoped nonce and
// the replay-rejection set.
type PendingGateState struct {
	Gate                 PendingGate     `json:"gate"`
	CreatedAtInteraction int             `json:"created_at_interaction"`
	ExpiresAfterTurns    int             `json:"expires_after_turns"`
	Payload              map[string]any  `json:"payload"`
	PayloadHash          string          `json:"payload_hash"`
	ConfirmToken         string          `json:"confirm_token"`
	RequireTokenBinding  bool            `json:"require_token_binding"`
	Nonce                string          `json:"nonce"`
	ConsumedNonces       map[string]bool `json:"consumed_nonces"`
	PromptCacheHash      string          `json:"prompt_cache_hash"`
}

// Active reports whether a gate is pending.
func (p *PendingGateState) Active() bool {
	return p.Gate != GateNone && p.Gate != ""
}

// Expired reports whether the gate's turn budget has run out.
func (p *PendingGateState) Expired(interactionCount int) bool {
	if !p.Active() {
		return false
	}
	return interactionCount-p.CreatedAtInteraction >= p.ExpiresAfterTurns
}

// Session is one conversation's governed state. The engine serializes
// turns per session; Session itself is not concurrent-safe.
type Session struct {
	SessionID        string
	InteractionCount int
	CurrentProfile   contracts.Profile

	PendingGate PendingGateState
	Traces      []StateTrace

	ReflectConfirmed bool
	ScaffoldApproved bool

	WorkflowQueue []string

	TSV *tsv.State

	EpackSeq      int
	EpackPrevHash string
	Epacks        []epack.Record

	LastFailureInteraction int

	secret string
}

// NewSession creates session state with a fresh scoped secret.
func NewSession(sessionID string) (*Session, error) {
	secret, err := NewSessionSecret()
	if err != nil {
		return nil, err
	}
	return &Session{
		SessionID:      sessionID,
		CurrentProfile: contracts.ProfileStandard,
		PendingGate:    PendingGateState{Gate: GateNone, ExpiresAfterTurns: 3, ConsumedNonces: map[string]bool{}},
		TSV:            tsv.NewState(),
		EpackPrevHash:  epack.Genesis,
		secret:         secret,
	}, nil
}

// Scope returns the session's gate scope derivation, or "noscope" when the
// session carries no secret (restored legacy state).
func (s *Session) Scope() string {
	if s.secret == "" {
		return "noscope"
	}
	return DeriveScoped(s.SessionID, s.secret, "gate_scope")
}

// Trace appends a state transition to the session audit tail.
func (s *Session) Trace(before, after, event string, meta map[string]any) {
	if meta == nil {
		meta = map[string]any{}
	}
	s.Traces = append(s.Traces, StateTrace{
		StateBefore: before,
		StateAfter:  after,
		Event:       event,
		Gate:        string(s.PendingGate.Gate),
		Interaction: s.InteractionCount,
		Meta:        meta,
	})
}
