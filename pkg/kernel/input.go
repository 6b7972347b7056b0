package kernel

import (
	"strings"

	"github.com/Beaconwise-Labs/tek/pkg/contracts"
	"github.com/Beaconwise-Labs/tek/pkg/stablehash"
)

// Complexity thresholds on the bucketed token count. Reflect fires first;
// scaffold requires the larger bucket.
const (
	reflectThreshold  = 3
	scaffoldThreshold = 5
)

var highStakesTerms = []string{
	"diagnos", "treatment", "medication", "dosage", "lawsuit", "legal advice",
	"contract", "liability", "investment", "tax", "mortgage", "suicide",
	"surgery", "prescri",
}

var technicalTerms = []string{
	"code", "function", "compile", "algorithm", "database", "server",
	"deploy", "kubernetes", "api", "regex", "sql", "debug",
}

// classifyDomain tags the input by keyword class. HIGH_STAKES wins over
// TECHNICAL when both match.
func classifyDomain(text string) contracts.Domain {
	low := strings.ToLower(text)
	for _, term := range highStakesTerms {
		if strings.Contains(low, term) {
			return contracts.DomainHighStakes
		}
	}
	for _, term := range technicalTerms {
		if strings.Contains(low, term) {
			return contracts.DomainTechnical
		}
	}
	return contracts.DomainGeneral
}

// complexityBucket maps a whitespace token count to an integer bucket.
func complexityBucket(text string) int {
	n := len(strings.Fields(text))
	switch {
	case n <= 8:
		return 1
	case n <= 20:
		return 2
	case n <= 40:
		return 3
	case n <= 80:
		return 4
	case n <= 160:
		return 5
	default:
		return 6
	}
}

// SafetyScreen is the capability the engine needs from the safety package.
type SafetyScreen interface {
	Check(text string) contracts.SafetyVerdict
	Meta(v contracts.SafetyVerdict) map[string]any
}

// BuildInputVector screens and classifies user text. Routing sees only
// this vector and the session state.
func BuildInputVector(screen SafetyScreen, text string) contracts.InputVector {
	verdict := screen.Check(text)
	complexity := complexityBucket(text)
	return contracts.InputVector{
		Text:             text,
		TextHash:         stablehash.HashBytes([]byte(text)),
		Safe:             verdict.Stage1OK && verdict.Stage2OK,
		Safety:           verdict,
		Domain:           classifyDomain(text),
		Complexity:       complexity,
		RequiresReflect:  complexity >= reflectThreshold,
		RequiresScaffold: complexity >= scaffoldThreshold,
	}
}
