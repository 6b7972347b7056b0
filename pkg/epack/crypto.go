package epack

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Signer produces and checks HMAC-SHA256 attestations over record hashes.
// Signatures ride alongside the chain; they are not part of the chain hash.
type Signer struct {
	key []byte
}

// NewSigner returns a Signer keyed with the given secret.
func NewSigner(key []byte) *Signer {
	return &Signer{key: key}
}

// Sign returns the hex HMAC-SHA256 of the given record hash.
func (s *Signer) Sign(recordHash string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(recordHash))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySig reports whether sig is a valid attestation of recordHash.
func (s *Signer) VerifySig(recordHash, sig string) bool {
	want := s.Sign(recordHash)
	return subtle.ConstantTimeCompare([]byte(want), []byte(sig)) == 1
}
