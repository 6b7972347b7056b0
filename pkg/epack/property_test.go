//go:build property
// +build property

package epack

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func buildPropertyChain(t *testing.T, payloads []string) []Record {
	t.Helper()
	prev := Genesis
	chain := make([]Record, 0, len(payloads))
	for i, text := range payloads {
		rec, err := New(i+1, prev, map[string]any{"text": text, "interaction": i + 1})
		if err != nil {
			t.Fatalf("seal record %d: %v", i+1, err)
		}
		chain = append(chain, rec)
		prev = rec.Hash
	}
	return chain
}

// Any payload mutation after sealing must break chain verification, and
// untouched chains must always verify.
func TestChainTamperDetection(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 150
	properties := gopter.NewProperties(parameters)

	payloadGen := gen.SliceOfN(4, gen.AlphaString())

	properties.Property("clean chains always verify", prop.ForAll(
		func(payloads []string) bool {
			chain := buildPropertyChain(t, payloads)
			return VerifyChain(chain) == nil
		},
		payloadGen,
	))

	properties.Property("any payload edit is detected", prop.ForAll(
		func(payloads []string, victim int, injected string) bool {
			chain := buildPropertyChain(t, payloads)
			idx := victim % len(chain)
			chain[idx].Payload["text"] = injected + "-tampered"
			return VerifyChain(chain) != nil
		},
		payloadGen,
		gen.IntRange(0, 3),
		gen.AlphaString(),
	))

	properties.Property("rehashing a tampered record breaks linkage", prop.ForAll(
		func(payloads []string, victim int) bool {
			chain := buildPropertyChain(t, payloads)
			// Tamper an interior record and reseal it so its own hash is
			// consistent again; the successor's prev_hash must still expose it.
			idx := victim % (len(chain) - 1)
			chain[idx].Payload["interaction"] = -1
			h, err := RecomputeHash(chain[idx])
			if err != nil {
				return false
			}
			chain[idx].Hash = h
			return VerifyChain(chain) != nil
		},
		payloadGen,
		gen.IntRange(0, 2),
	))

	properties.TestingRun(t)
}
