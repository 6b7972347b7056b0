package consensus

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/Beaconwise-Labs/tek/pkg/ledger"
)

// VerificationContext is the universal credential-verification context.
// Defaults fail closed to the unverified public tier.
type VerificationContext struct {
	Verified bool `json:"verified"`
	// Role is the verified role name, or "public".
	Role string `json:"role"`
	// RoleLevel tiers: 1 public, 2 mid-level pro, 3 licensed pro,
	// 4 senior, 5 expert.
	RoleLevel int    `json:"role_level"`
	Scope     string `json:"scope,omitempty"`
	ExpiresTs int64  `json:"expires_ts,omitempty"`
	// CredentialHash carries a digest of the credential identifier. Raw
	// identifiers are never stored.
	CredentialHash string         `json:"credential_hash,omitempty"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// PublicContext is the fail-closed default.
func PublicContext() VerificationContext {
	return VerificationContext{Verified: false, Role: "public", RoleLevel: 1}
}

// IsVerifiedPro reports verified at licensed-professional tier or above.
func (v VerificationContext) IsVerifiedPro() bool {
	return v.Verified && v.RoleLevel >= 3
}

func (v VerificationContext) String() string {
	return fmt.Sprintf("VerificationContext(verified=%t, role=%s, level=%d)", v.Verified, v.Role, v.RoleLevel)
}

// VerifyFromFile is the dev-only credential verifier: it looks up userID
// in a JSON credential file and falls back to the public context on any
// failure, emitting a stage event for the failure path taken.
func VerifyFromFile(lg *ledger.Ledger, userID, credentialFile, epackID, runID string) VerificationContext {
	emit := func(stage string, payload map[string]any) {
		if lg != nil {
			_, _ = lg.Emit(runID, epackID, stage, payload)
		}
	}

	raw, err := os.ReadFile(credentialFile)
	if err != nil {
		emit("tecl.verification.missing_file", map[string]any{"file": credentialFile})
		return PublicContext()
	}
	var creds map[string]struct {
		Verified       bool           `json:"verified"`
		Role           string         `json:"role"`
		RoleLevel      int            `json:"role_level"`
		Scope          string         `json:"scope"`
		ExpiresTs      int64          `json:"expires_ts"`
		CredentialHash string         `json:"credential_hash"`
		Extra          map[string]any `json:"extra"`
	}
	if err := json.Unmarshal(raw, &creds); err != nil {
		emit("tecl.verification.load_error", map[string]any{"file": credentialFile, "error": err.Error()})
		return PublicContext()
	}
	user, ok := creds[userID]
	if !ok {
		emit("tecl.verification.user_not_found", map[string]any{"user_id": userID})
		return PublicContext()
	}
	if user.ExpiresTs != 0 && user.ExpiresTs < time.Now().Unix() {
		emit("tecl.verification.expired", map[string]any{"user_id": userID, "expires_ts": user.ExpiresTs})
		return PublicContext()
	}

	vc := VerificationContext{
		Verified:       user.Verified,
		Role:           user.Role,
		RoleLevel:      user.RoleLevel,
		Scope:          user.Scope,
		ExpiresTs:      user.ExpiresTs,
		CredentialHash: user.CredentialHash,
		Extra:          user.Extra,
	}
	if vc.Role == "" {
		vc.Role = "public"
	}
	if vc.RoleLevel < 1 {
		vc.RoleLevel = 1
	}
	emit("tecl.verification.success", map[string]any{
		"user_id": userID, "role": vc.Role, "role_level": vc.RoleLevel,
		"verified": vc.Verified, "scope": vc.Scope,
	})
	return vc
}
