// Package stablehash provides RFC 8785 (JSON Canonicalization Scheme)
// serialization and tagged hashing for TEK governance artifacts.
//
// Every hash that participates in an EPACK chain, a Decision Object seal,
// or a replay verdict goes through this package so that key order and
// whitespace can never influence a digest.
package stablehash

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"strings"

	"github.com/gowebpki/jcs"
)

// Algorithm names a supported digest algorithm.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	SHA384 Algorithm = "sha384"
	SHA512 Algorithm = "sha512"
)

// Default is the chain algorithm unless ECOSPHERE_HASH_ALGORITHM overrides it.
const Default = SHA256

// ParseAlgorithm validates a user-supplied algorithm name.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(name))) {
	case SHA256:
		return SHA256, nil
	case SHA384:
		return SHA384, nil
	case SHA512:
		return SHA512, nil
	case "":
		return Default, nil
	default:
		return "", fmt.Errorf("stablehash: unsupported algorithm %q", name)
	}
}

func (a Algorithm) digest() hash.Hash {
	switch a {
	case SHA384:
		return sha512.New384()
	case SHA512:
		return sha512.New()
	default:
		return sha256.New()
	}
}

// Canonical returns the RFC 8785 canonical JSON encoding of v.
//
// v is first marshaled with encoding/json (so struct tags apply), then
// transformed: keys sorted by UTF-16 code units, numbers in shortest
// round-trip form, minimal string escaping, no insignificant whitespace.
func Canonical(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("stablehash: marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("stablehash: canonicalize: %w", err)
	}
	return out, nil
}

// CanonicalString is Canonical as a string.
func CanonicalString(v interface{}) (string, error) {
	b, err := Canonical(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// HashWith returns the hex digest of the canonical form of v under alg.
func HashWith(alg Algorithm, v interface{}) (string, error) {
	b, err := Canonical(v)
	if err != nil {
		return "", err
	}
	d := alg.digest()
	d.Write(b)
	return hex.EncodeToString(d.Sum(nil)), nil
}

// Hash returns the SHA-256 hex digest of the canonical form of v.
func Hash(v interface{}) (string, error) {
	return HashWith(Default, v)
}

// Tagged returns "algo:hexdigest" so chains can migrate algorithms
// without breaking existing SHA-256 records.
func Tagged(alg Algorithm, v interface{}) (string, error) {
	h, err := HashWith(alg, v)
	if err != nil {
		return "", err
	}
	return string(alg) + ":" + h, nil
}

// VerifyTagged recomputes a tagged hash and compares. Untagged values are
// treated as SHA-256 for backward compatibility.
func VerifyTagged(tagged string, v interface{}) (bool, error) {
	alg, digest := splitTag(tagged)
	got, err := HashWith(alg, v)
	if err != nil {
		return false, err
	}
	return got == digest, nil
}

// Suffix returns the last n characters of a (possibly tagged) hash. Gate
// confirm tokens are built this way.
func Suffix(h string, n int) string {
	_, digest := splitTag(h)
	if n <= 0 || n >= len(digest) {
		return digest
	}
	return digest[len(digest)-n:]
}

// HashBytes returns the SHA-256 hex digest of raw bytes without
// canonicalization. Used for opaque blobs (attachments, archives).
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func splitTag(h string) (Algorithm, string) {
	if i := strings.IndexByte(h, ':'); i > 0 {
		if alg, err := ParseAlgorithm(h[:i]); err == nil {
			return alg, h[i+1:]
		}
	}
	return Default, h
}
