// Package ledger records consensus stage events in an append-only,
// hash-chained log keyed by run id. Every orchestrator stage (primary
// output, debate rounds, synthesis, rewrites, recovery actions) drops an
// event here so a run can be audited end to end.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/Beaconwise-Labs/tek/pkg/stablehash"
)

const genesisHash = "genesis"

// StageEvent is one entry in a run's stage chain.
type StageEvent struct {
	RunID     string         `json:"run_id"`
	Epack     string         `json:"epack"`
	Stage     string         `json:"stage"`
	TsMs      int64          `json:"ts_ms"`
	Payload   map[string]any `json:"payload"`
	PrevHash  string         `json:"prev_hash"`
	EventHash string         `json:"event_hash"`
}

// Ledger is an in-process stage-event log. Safe for concurrent use.
type Ledger struct {
	mu       sync.Mutex
	runs     map[string][]StageEvent
	clock    func() time.Time
	onAppend func(StageEvent)
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides wall-clock access for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) { l.clock = clock }
}

// WithObserver registers a callback invoked after every append, outside
// the critical section. Used to mirror stage events into metrics.
func WithObserver(fn func(StageEvent)) Option {
	return func(l *Ledger) { l.onAppend = fn }
}

func New(opts ...Option) *Ledger {
	l := &Ledger{runs: make(map[string][]StageEvent), clock: time.Now}
	for _, fn := range opts {
		fn(l)
	}
	return l
}

// Emit appends a stage event for the given run and returns the sealed
// event. The event hash covers every field except the hash itself.
func (l *Ledger) Emit(runID, epackID, stage string, payload map[string]any) (StageEvent, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	l.mu.Lock()
	chain := l.runs[runID]
	prev := genesisHash
	if len(chain) > 0 {
		prev = chain[len(chain)-1].EventHash
	}
	ev := StageEvent{
		RunID:    runID,
		Epack:    epackID,
		Stage:    stage,
		TsMs:     l.clock().UnixMilli(),
		Payload:  payload,
		PrevHash: prev,
	}
	h, err := stablehash.Hash(map[string]any{
		"run_id":    ev.RunID,
		"epack":     ev.Epack,
		"stage":     ev.Stage,
		"ts_ms":     ev.TsMs,
		"payload":   ev.Payload,
		"prev_hash": ev.PrevHash,
	})
	if err != nil {
		l.mu.Unlock()
		return StageEvent{}, fmt.Errorf("ledger: seal stage event: %w", err)
	}
	ev.EventHash = h
	l.runs[runID] = append(chain, ev)
	l.mu.Unlock()

	if l.onAppend != nil {
		l.onAppend(ev)
	}
	return ev, nil
}

// Events returns a copy of the run's stage chain in append order.
func (l *Ledger) Events(runID string) []StageEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	chain := l.runs[runID]
	out := make([]StageEvent, len(chain))
	copy(out, chain)
	return out
}

// Verify walks a run's chain and reports the first broken link or hash.
func (l *Ledger) Verify(runID string) error {
	chain := l.Events(runID)
	prev := genesisHash
	for i, ev := range chain {
		if ev.PrevHash != prev {
			return fmt.Errorf("ledger: broken link at event %d (%s)", i, ev.Stage)
		}
		h, err := stablehash.Hash(map[string]any{
			"run_id":    ev.RunID,
			"epack":     ev.Epack,
			"stage":     ev.Stage,
			"ts_ms":     ev.TsMs,
			"payload":   ev.Payload,
			"prev_hash": ev.PrevHash,
		})
		if err != nil {
			return err
		}
		if h != ev.EventHash {
			return fmt.Errorf("ledger: hash mismatch at event %d (%s)", i, ev.Stage)
		}
		prev = ev.EventHash
	}
	return nil
}

// Stages returns the stage names of a run in order, for assertions and
// run summaries.
func (l *Ledger) Stages(runID string) []string {
	chain := l.Events(runID)
	out := make([]string, len(chain))
	for i, ev := range chain {
		out[i] = ev.Stage
	}
	return out
}
