package kernel

import (
	"fmt"
	"strings"

	"github.com/Beaconwise-Labs/tek/pkg/stablehash"
)

// AppendRevision returns a copy of a gate payload with one revision entry
// added to its history. Only the 16-hex text digest is stored; the revision
// text itself stays out of the frozen payload.
func AppendRevision(payload map[string]any, step *int, text string) (map[string]any, error) {
	out := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		out[k] = v
	}
	var hist []any
	if prev, ok := payload["revision_history"].([]any); ok {
		hist = append(hist, prev...)
	}
	h, err := stablehash.Hash(text)
	if err != nil {
		return nil, fmt.Errorf("kernel: hash revision: %w", err)
	}
	entry := map[string]any{"step": nil, "text_hash16": h[:16]}
	if step != nil {
		entry["step"] = *step
	}
	out["revision_history"] = append(hist, entry)
	return out, nil
}

// RenderRevisionBlock renders the last 10 revisions, latest first, for
// inclusion in gate prompts. Empty history renders nothing.
func RenderRevisionBlock(payload map[string]any) string {
	hist, _ := payload["revision_history"].([]any)
	if len(hist) > 10 {
		hist = hist[len(hist)-10:]
	}
	if len(hist) == 0 {
		return ""
	}
	lines := []string{"Revisions applied (latest first):"}
	for i := len(hist) - 1; i >= 0; i-- {
		item, _ := hist[i].(map[string]any)
		h, _ := item["text_hash16"].(string)
		switch step := item["step"].(type) {
		case int:
			lines = append(lines, fmt.Sprintf("- Step %d: (revision hash %s)", step, h))
		case float64:
			lines = append(lines, fmt.Sprintf("- Step %d: (revision hash %s)", int(step), h))
		default:
			lines = append(lines, fmt.Sprintf("- (revision hash %s)", h))
		}
	}
	return strings.Join(lines, "\n")
}
