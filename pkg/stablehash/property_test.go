//go:build property
// +build property

package stablehash_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Beaconwise-Labs/tek/pkg/stablehash"
)

// Key insertion order must never influence a digest.
func TestHashKeyOrderInvariance(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("hash ignores key insertion order", prop.ForAll(
		func(keys []string, values []string) bool {
			forward := make(map[string]any)
			for i := 0; i < len(keys) && i < len(values); i++ {
				forward[keys[i]] = values[i]
			}
			backward := make(map[string]any)
			for i := len(keys) - 1; i >= 0; i-- {
				if i < len(values) {
					backward[keys[i]] = values[i]
				}
			}

			h1, err1 := stablehash.Hash(forward)
			h2, err2 := stablehash.Hash(backward)
			if err1 != nil || err2 != nil {
				return err1 != nil && err2 != nil
			}
			return h1 == h2
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("hash is a pure function", prop.ForAll(
		func(a string, b int64, flag bool) bool {
			v := map[string]any{"a": a, "b": b, "flag": flag}
			h1, err1 := stablehash.Hash(v)
			h2, err2 := stablehash.Hash(v)
			return err1 == nil && err2 == nil && h1 == h2
		},
		gen.AnyString(),
		gen.Int64(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestTaggedVerifyProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("tagged hashes always verify against their source", prop.ForAll(
		func(s string, n int64) bool {
			v := map[string]any{"s": s, "n": n}
			for _, alg := range []stablehash.Algorithm{stablehash.SHA256, stablehash.SHA384, stablehash.SHA512} {
				tagged, err := stablehash.Tagged(alg, v)
				if err != nil {
					return false
				}
				ok, err := stablehash.VerifyTagged(tagged, v)
				if err != nil || !ok {
					return false
				}
			}
			return true
		},
		gen.AnyString(),
		gen.Int64(),
	))

	properties.TestingRun(t)
}
