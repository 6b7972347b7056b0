// Package safety implements the two-stage pre-routing input screen.
// Stage 1 is a fast lexical pass over known-bad phrases; stage 2 is a
// semantic screen against frozen exemplar sets using deterministic
// embeddings, so identical inputs always produce identical verdicts.
package safety

import (
	"fmt"
	"regexp"
	"strings"
)

// Stage1Result is the outcome of the lexical screen.
type Stage1Result struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason"`
}

var stage1Patterns = []*regexp.Regexp{
	regexp.MustCompile(`\bignore previous instructions\b`),
	regexp.MustCompile(`\breveal system prompt\b`),
	regexp.MustCompile(`\bhow to make a bomb\b`),
	regexp.MustCompile(`\bkill myself\b`),
}

// Stage1 screens text against the lexical deny list. Matching is
// case-insensitive; the first hit wins.
func Stage1(text string) Stage1Result {
	low := strings.ToLower(text)
	for _, p := range stage1Patterns {
		if p.MatchString(low) {
			return Stage1Result{OK: false, Reason: fmt.Sprintf("matched:%s", p.String())}
		}
	}
	return Stage1Result{OK: true, Reason: "pass"}
}
