package kernel

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// NewSessionSecret returns a fresh 32-hex session secret. The secret never
// leaves the session; only scoped derivations of it appear in gate state.
func NewSessionSecret() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("kernel: session secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// DeriveScoped derives a 16-hex purpose-bound value from the session
// secret via HKDF-SHA256. Gate nonces use purpose "gate_scope" so a nonce
// from one session can never validate in another.
func DeriveScoped(sessionID, sessionSecret, purpose string) string {
	r := hkdf.New(sha256.New, []byte(sessionSecret), []byte(sessionID), []byte(purpose))
	out := make([]byte, 8)
	if _, err := io.ReadFull(r, out); err != nil {
		// HKDF cannot fail for an 8-byte read; keep the signature clean.
		return ""
	}
	return hex.EncodeToString(out)
}
