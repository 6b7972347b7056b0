// Package epack implements the Evidence PACKet chain: one sealed,
// hash-chained, append-only record per governed turn.
//
// The chain hash of a record is the canonical-JSON hash of the five-field
// form {seq, ts, prev_hash, payload_hash, payload}. payload_hash is the
// cryptographic commitment to the governed Decision Object when one is
// present, otherwise a hash of the payload itself.
package epack

import (
	"errors"
	"fmt"
	"time"

	"github.com/Beaconwise-Labs/tek/pkg/stablehash"
)

// Genesis is the prev_hash of the first record in every session chain.
const Genesis = "GENESIS"

// ErrTamper indicates a record whose stored hash does not recompute.
var ErrTamper = errors.New("epack: record hash mismatch")

// ErrBrokenLink indicates a prev_hash that does not match its predecessor.
var ErrBrokenLink = errors.New("epack: chain link broken")

// Record is a single sealed evidence packet.
type Record struct {
	SessionID   string         `json:"session_id,omitempty"`
	Seq         int            `json:"seq"`
	Ts          float64        `json:"ts"`
	PrevHash    string         `json:"prev_hash"`
	PayloadHash string         `json:"payload_hash"`
	Hash        string         `json:"hash"`
	Payload     map[string]any `json:"payload"`
}

// chainBody is the exact five-field form the chain hash commits to.
type chainBody struct {
	Seq         int            `json:"seq"`
	Ts          float64        `json:"ts"`
	PrevHash    string         `json:"prev_hash"`
	PayloadHash string         `json:"payload_hash"`
	Payload     map[string]any `json:"payload"`
}

// Option configures record construction.
type Option func(*options)

type options struct {
	payloadHashOverride string
	clock               func() time.Time
}

// WithPayloadHash overrides the payload commitment. The turn engine uses
// this to commit the chain to the Decision Object's canonical hash.
func WithPayloadHash(h string) Option {
	return func(o *options) { o.payloadHashOverride = h }
}

// WithClock overrides wall-clock access for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// New seals a new EPACK record. prevHash must be Genesis for seq 1 and the
// prior record's hash otherwise.
func New(seq int, prevHash string, payload map[string]any, opts ...Option) (Record, error) {
	o := options{clock: time.Now}
	for _, fn := range opts {
		fn(&o)
	}

	payloadHash := o.payloadHashOverride
	if payloadHash == "" {
		if dh, ok := payload["decision_hash"].(string); ok && dh != "" {
			payloadHash = dh
		} else {
			h, err := stablehash.Hash(payload)
			if err != nil {
				return Record{}, fmt.Errorf("epack: hash payload: %w", err)
			}
			payloadHash = h
		}
	}

	ts := float64(o.clock().UnixMilli()) / 1000.0
	h, err := stablehash.Hash(chainBody{
		Seq: seq, Ts: ts, PrevHash: prevHash, PayloadHash: payloadHash, Payload: payload,
	})
	if err != nil {
		return Record{}, fmt.Errorf("epack: seal record: %w", err)
	}
	return Record{
		Seq: seq, Ts: ts, PrevHash: prevHash,
		PayloadHash: payloadHash, Hash: h, Payload: payload,
	}, nil
}

// RecomputeHash re-derives the chain hash of a record from its fields.
func RecomputeHash(r Record) (string, error) {
	return stablehash.Hash(chainBody{
		Seq: r.Seq, Ts: r.Ts, PrevHash: r.PrevHash,
		PayloadHash: r.PayloadHash, Payload: r.Payload,
	})
}

// Verify checks a single record's hash integrity.
func Verify(r Record) error {
	h, err := RecomputeHash(r)
	if err != nil {
		return err
	}
	if h != r.Hash {
		return fmt.Errorf("%w: seq=%d", ErrTamper, r.Seq)
	}
	return nil
}

// VerifyChain walks a chain in order and checks per-record hashes plus
// prev_hash linkage. The first record must link to Genesis.
func VerifyChain(chain []Record) error {
	prev := Genesis
	for i, r := range chain {
		if err := Verify(r); err != nil {
			return err
		}
		if r.PrevHash != prev {
			return fmt.Errorf("%w: seq=%d (record %d)", ErrBrokenLink, r.Seq, i)
		}
		prev = r.Hash
	}
	return nil
}
