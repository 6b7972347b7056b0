package governance

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

// AnomalySignal is one detected governance anomaly.
type AnomalySignal struct {
	SignalType  string         `json:"signal_type"`
	Severity    string         `json:"severity"`
	Description string         `json:"description"`
	Timestamp   float64        `json:"timestamp"`
	Details     map[string]any `json:"details,omitempty"`
}

var severityOrder = map[string]int{"low": 0, "medium": 1, "high": 2, "critical": 3}

// AnomalyDetector tracks governance telemetry and flags patterns that
// look like manipulation: confidence spikes, route flipping, validation
// failure bursts, and consensus divergence. Safe for concurrent use.
type AnomalyDetector struct {
	mu sync.Mutex

	windowSize         int
	confidenceHistory  []float64
	routeHistory       []string
	validationFailures int
	totalInteractions  int
	signals            []AnomalySignal
	clock              func() time.Time
}

// NewAnomalyDetector returns a detector with the given rolling window
// size; zero or negative means the default of 50.
func NewAnomalyDetector(windowSize int) *AnomalyDetector {
	if windowSize <= 0 {
		windowSize = 50
	}
	return &AnomalyDetector{windowSize: windowSize, clock: time.Now}
}

// AnomalyInput is one governed interaction's telemetry.
type AnomalyInput struct {
	Confidence      float64
	Route           string
	ValidationOK    bool
	ConsensusScores []float64
}

// Record folds an interaction into the detector and returns any new
// anomaly signals it raised.
func (d *AnomalyDetector) Record(in AnomalyInput) []AnomalySignal {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.totalInteractions++

	d.confidenceHistory = append(d.confidenceHistory, in.Confidence)
	if len(d.confidenceHistory) > d.windowSize {
		d.confidenceHistory = d.confidenceHistory[1:]
	}
	d.routeHistory = append(d.routeHistory, in.Route)
	if len(d.routeHistory) > d.windowSize {
		d.routeHistory = d.routeHistory[1:]
	}
	if !in.ValidationOK {
		d.validationFailures++
	}

	var fresh []AnomalySignal
	if sig := d.checkConfidence(in.Confidence); sig != nil {
		fresh = append(fresh, *sig)
	}
	if sig := d.checkRouteFlipping(); sig != nil {
		fresh = append(fresh, *sig)
	}
	if sig := d.checkValidationRate(); sig != nil {
		fresh = append(fresh, *sig)
	}
	if len(in.ConsensusScores) > 0 {
		if sig := d.checkConsensusDivergence(in.ConsensusScores); sig != nil {
			fresh = append(fresh, *sig)
		}
	}

	d.signals = append(d.signals, fresh...)
	return fresh
}

func (d *AnomalyDetector) now() float64 {
	return float64(d.clock().UnixNano()) / 1e9
}

// checkConfidence flags a score more than 0.3 away from the recent mean,
// a signature of model manipulation.
func (d *AnomalyDetector) checkConfidence(current float64) *AnomalySignal {
	if len(d.confidenceHistory) < 5 {
		return nil
	}
	recent := d.confidenceHistory[len(d.confidenceHistory)-5:]
	var mean float64
	for _, c := range recent {
		mean += c
	}
	mean /= float64(len(recent))
	if math.Abs(current-mean) <= 0.3 {
		return nil
	}
	return &AnomalySignal{
		SignalType:  "confidence_spike",
		Severity:    "medium",
		Description: fmt.Sprintf("Confidence %.2f deviates from recent mean %.2f", current, mean),
		Timestamp:   d.now(),
		Details:     map[string]any{"current": current, "mean": mean, "delta": math.Abs(current - mean)},
	}
}

// checkRouteFlipping flags four or more route changes in the last six
// interactions, a signature of adversarial input probing.
func (d *AnomalyDetector) checkRouteFlipping() *AnomalySignal {
	if len(d.routeHistory) < 6 {
		return nil
	}
	recent := d.routeHistory[len(d.routeHistory)-6:]
	changes := 0
	for i := 1; i < len(recent); i++ {
		if recent[i] != recent[i-1] {
			changes++
		}
	}
	if changes < 4 {
		return nil
	}
	return &AnomalySignal{
		SignalType:  "route_flip",
		Severity:    "high",
		Description: fmt.Sprintf("Route changed %d times in last 6 interactions", changes),
		Timestamp:   d.now(),
		Details:     map[string]any{"route_history": append([]string{}, recent...), "changes": changes},
	}
}

func (d *AnomalyDetector) checkValidationRate() *AnomalySignal {
	if d.totalInteractions < 10 {
		return nil
	}
	rate := float64(d.validationFailures) / float64(d.totalInteractions)
	if rate <= 0.4 {
		return nil
	}
	return &AnomalySignal{
		SignalType:  "validation_failure_rate",
		Severity:    "high",
		Description: fmt.Sprintf("Validation failure rate %.1f%% exceeds 40%% threshold", rate*100),
		Timestamp:   d.now(),
		Details:     map[string]any{"failures": d.validationFailures, "total": d.totalInteractions, "rate": rate},
	}
}

// checkConsensusDivergence flags a validator score spread wide enough to
// indicate consensus poisoning.
func (d *AnomalyDetector) checkConsensusDivergence(scores []float64) *AnomalySignal {
	if len(scores) < 2 {
		return nil
	}
	var mean float64
	for _, s := range scores {
		mean += s
	}
	mean /= float64(len(scores))
	var variance float64
	for _, s := range scores {
		variance += (s - mean) * (s - mean)
	}
	variance /= float64(len(scores))
	std := math.Sqrt(variance)
	if std <= 0.35 {
		return nil
	}
	return &AnomalySignal{
		SignalType:  "consensus_divergence",
		Severity:    "critical",
		Description: fmt.Sprintf("Consensus standard deviation %.2f indicates potential poisoning", std),
		Timestamp:   d.now(),
		Details:     map[string]any{"scores": append([]float64{}, scores...), "mean": mean, "std": std},
	}
}

// Signals returns all recorded anomalies at or above minSeverity.
func (d *AnomalyDetector) Signals(minSeverity string) []AnomalySignal {
	d.mu.Lock()
	defer d.mu.Unlock()
	threshold := severityOrder[minSeverity]
	var out []AnomalySignal
	for _, s := range d.signals {
		if severityOrder[s.Severity] >= threshold {
			out = append(out, s)
		}
	}
	return out
}

// Reset clears all tracking state.
func (d *AnomalyDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.confidenceHistory = nil
	d.routeHistory = nil
	d.validationFailures = 0
	d.totalInteractions = 0
	d.signals = nil
}

// bypassPatterns are governance-specific bypass phrasings, checked on
// top of the stage 1/2 safety pipeline.
var bypassPatterns = []struct {
	pattern string
	reason  string
}{
	{"ignore governance", "Attempt to disable governance"},
	{"skip validation", "Attempt to bypass validation"},
	{"disable audit", "Attempt to suppress audit chain"},
	{"bypass safety", "Attempt to circumvent safety layers"},
	{"override constitution", "Attempt to override constitutional invariants"},
	{"turn off logging", "Attempt to suppress telemetry"},
	{"act without restriction", "Attempt to remove all constraints"},
	{"pretend you have no rules", "Social engineering governance bypass"},
}

// DetectGovernanceBypass reports whether the input attempts to disable a
// governance mechanism, with the matched reason.
func DetectGovernanceBypass(text string) (bool, string) {
	lower := strings.ToLower(text)
	for _, bp := range bypassPatterns {
		if strings.Contains(lower, bp.pattern) {
			return true, bp.reason
		}
	}
	return false, ""
}

// VerifyOutputProvenance checks that the model reported in an output's
// provenance matches the model the adapter was asked to use. Detects
// model substitution.
func VerifyOutputProvenance(expectedModel, reportedModel string) (bool, string) {
	if expectedModel != "" && reportedModel != "" && expectedModel != reportedModel {
		return false, fmt.Sprintf("Model mismatch: expected %s, got %s", expectedModel, reportedModel)
	}
	return true, "OK"
}
