package epack

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// publicEvidencePaths are payload subtrees kept in the clear in public
// evidence exports. Everything else that is a string gets replaced with a
// redaction marker carrying its digest, so chains remain checkable without
// exposing content.
var publicEvidencePaths = map[string]bool{
	"extra":                  true,
	"gen_meta":               true,
	"citation_verification":  true,
	"citation_cache_updates": true,
}

// RedactPayload returns a deep copy of payload with every non-exempt string
// replaced by {"_redacted": true, "sha256": <digest>}.
func RedactPayload(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if publicEvidencePaths[k] {
			out[k] = v
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

// RedactRecord returns a copy of r with a redacted payload. Chain fields are
// preserved; the record no longer verifies against its hash and is intended
// for disclosure, not replay.
func RedactRecord(r Record) Record {
	r.Payload = RedactPayload(r.Payload)
	return r
}

func redactValue(v any) any {
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return t
		}
		sum := sha256.Sum256([]byte(t))
		return map[string]any{"_redacted": true, "sha256": hex.EncodeToString(sum[:])}
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = redactValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = redactValue(vv)
		}
		return out
	default:
		return v
	}
}
