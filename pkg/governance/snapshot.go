package governance

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPolicyPath is used when no policy path environment variable is
// set.
const DefaultPolicyPath = "policies/default.yaml"

// PolicySnapshot pins the exact policy a decision was made under. It is
// embedded in EPACK payloads and Decision Objects.
type PolicySnapshot struct {
	PolicyID      string `json:"policy_id"`
	PolicyVersion string `json:"policy_version"`
	PolicySHA256  string `json:"policy_sha256,omitempty"`
	PolicyPath    string `json:"policy_path"`
	PolicyError   string `json:"policy_error,omitempty"`
}

// PolicyPathFromEnv resolves the configured policy path. BW_POLICY_PATH
// wins over COMMONS_POLICY_PATH; both default to DefaultPolicyPath.
func PolicyPathFromEnv() string {
	if p := os.Getenv("BW_POLICY_PATH"); p != "" {
		return p
	}
	if p := os.Getenv("COMMONS_POLICY_PATH"); p != "" {
		return p
	}
	return DefaultPolicyPath
}

// CurrentPolicySnapshot reads and hashes the configured policy file. A
// missing or unreadable file yields unknown fields with the error noted,
// never a failure; snapshots must be sealable under any condition.
func CurrentPolicySnapshot() PolicySnapshot {
	return SnapshotPolicyFile(PolicyPathFromEnv())
}

// SnapshotPolicyFile builds a deterministic snapshot of one policy file.
func SnapshotPolicyFile(path string) PolicySnapshot {
	unknown := func(err error) PolicySnapshot {
		return PolicySnapshot{
			PolicyID:      "unknown",
			PolicyVersion: "unknown",
			PolicyPath:    path,
			PolicyError:   err.Error(),
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return unknown(err)
	}
	sum := sha256.Sum256(raw)

	var obj map[string]any
	if err := yaml.Unmarshal(raw, &obj); err != nil {
		return unknown(err)
	}
	if obj == nil {
		obj = map[string]any{}
	}

	pid := stringOr(obj["policy_id"], "")
	if pid == "" {
		base := filepath.Base(path)
		pid = strings.TrimSuffix(base, filepath.Ext(base))
	}
	pver := stringOr(obj["policy_version"], "")
	if pver == "" {
		pver = stringOr(obj["version"], "0")
	}

	return PolicySnapshot{
		PolicyID:      pid,
		PolicyVersion: pver,
		PolicySHA256:  hex.EncodeToString(sum[:]),
		PolicyPath:    path,
	}
}

func stringOr(v any, def string) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return def
	default:
		return fmt.Sprintf("%v", s)
	}
}
