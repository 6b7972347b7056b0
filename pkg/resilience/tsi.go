// Package resilience is the closed-loop trust control plane: a
// sliding-window trust-signal tracker, a deterministic recovery plan
// selector, PID-damped rollout, per-plan circuit breakers, a
// post-recovery verifier, and a meta-validation index. Everything here
// is deterministic and offline; no component makes network calls.
package resilience

import (
	"math"
	"sync"
	"time"
)

// InteractionOutcome is one governed turn's result as seen by the tracker.
type InteractionOutcome struct {
	Timestamp          time.Time `json:"timestamp"`
	Status             string    `json:"status"` // PASS, WARN, REFUSE, ERROR
	ValidatorAgreement float64   `json:"validator_agreement"`
	LatencyMS          int       `json:"latency_ms"`
	ChallengerFired    bool      `json:"challenger_fired"`
	RecoveryActive     bool      `json:"recovery_active"`
}

// Signal is the tracker's aggregated trust output.
type Signal struct {
	TSICurrent   float64 `json:"tsi_current"`
	TSIForecast  float64 `json:"tsi_forecast_15m"`
	WindowSize   int     `json:"window_size"`
	PassRate     float64 `json:"pass_rate"`
	RefuseRate   float64 `json:"refuse_rate"`
	ErrorRate    float64 `json:"error_rate"`
	AvgAgreement float64 `json:"avg_agreement"`
	TrendSlope   float64 `json:"trend_slope"`
}

// statusBase is the raw trust contribution per outcome status.
var statusBase = map[string]float64{
	"PASS":   0.90,
	"WARN":   0.70,
	"REFUSE": 0.45,
	"ERROR":  0.30,
}

// TrackerConfig tunes the sliding-window aggregation.
type TrackerConfig struct {
	WindowSize         int
	DecayLambda        float64
	AgreementWeight    float64
	LatencyPenaltyPerS float64
	ChallengerPenalty  float64
}

// DefaultTrackerConfig matches the production tuning.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		WindowSize:         20,
		DecayLambda:        0.1,
		AgreementWeight:    0.20,
		LatencyPenaltyPerS: 0.02,
		ChallengerPenalty:  0.03,
	}
}

// Tracker is a fixed-capacity sliding window over interaction outcomes
// producing an exponentially decayed trust-signal index.
type Tracker struct {
	mu     sync.Mutex
	cfg    TrackerConfig
	buffer []InteractionOutcome
	clock  func() time.Time
}

// NewTracker builds a tracker; window sizes below 5 are raised to 5.
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.WindowSize < 5 {
		cfg.WindowSize = 5
	}
	return &Tracker{cfg: cfg, clock: time.Now}
}

// WithClock overrides the time source, for tests.
func (t *Tracker) WithClock(clock func() time.Time) *Tracker {
	t.clock = clock
	return t
}

// Record pushes an outcome into the window, evicting the oldest at capacity.
func (t *Tracker) Record(o InteractionOutcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.buffer) == t.cfg.WindowSize {
		copy(t.buffer, t.buffer[1:])
		t.buffer = t.buffer[:len(t.buffer)-1]
	}
	t.buffer = append(t.buffer, o)
}

// Clear empties the window.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buffer = t.buffer[:0]
}

// Signal computes the current trust signal. An empty window reports the
// neutral priors 0.82 current / 0.80 forecast.
func (t *Tracker) Signal() Signal {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.buffer) == 0 {
		return Signal{TSICurrent: 0.82, TSIForecast: 0.80}
	}
	now := t.clock()

	type weighted struct{ weight, score float64 }
	scores := make([]weighted, 0, len(t.buffer))
	totalWeight := 0.0
	statusCounts := map[string]int{}
	agreementSum := 0.0

	for _, o := range t.buffer {
		ageS := math.Max(0, now.Sub(o.Timestamp).Seconds())
		weight := math.Exp(-t.cfg.DecayLambda * ageS / 60.0)

		base, ok := statusBase[o.Status]
		if !ok {
			base = 0.50
		}
		agreementMod := t.cfg.AgreementWeight * (o.ValidatorAgreement - 0.5)
		latPen := t.cfg.LatencyPenaltyPerS * (float64(o.LatencyMS) / 1000.0)
		chPen := 0.0
		if o.ChallengerFired {
			chPen = t.cfg.ChallengerPenalty
		}

		score := clamp01(base + agreementMod - latPen - chPen)
		scores = append(scores, weighted{weight, score})
		totalWeight += weight

		statusCounts[o.Status]++
		agreementSum += o.ValidatorAgreement
	}

	tsi := 0.50
	if totalWeight > 0 {
		sum := 0.0
		for _, ws := range scores {
			sum += ws.weight * ws.score
		}
		tsi = sum / totalWeight
	}

	n := len(t.buffer)
	slope := trendSlope(scores, func(w weighted) float64 { return w.score })

	return Signal{
		TSICurrent:   round4(tsi),
		TSIForecast:  round4(clamp01(tsi + slope*2.0)),
		WindowSize:   n,
		PassRate:     round3(float64(statusCounts["PASS"]) / float64(n)),
		RefuseRate:   round3(float64(statusCounts["REFUSE"]) / float64(n)),
		ErrorRate:    round3(float64(statusCounts["ERROR"]) / float64(n)),
		AvgAgreement: round3(agreementSum / float64(n)),
		TrendSlope:   round5(slope),
	}
}

// trendSlope is a least-squares slope over the most recent up-to-10 scores.
func trendSlope[T any](items []T, score func(T) float64) float64 {
	n := len(items)
	if n > 10 {
		items = items[n-10:]
		n = 10
	}
	if n < 3 {
		return 0
	}
	xMean := float64(n-1) / 2.0
	yMean := 0.0
	for _, it := range items {
		yMean += score(it)
	}
	yMean /= float64(n)

	num, den := 0.0, 0.0
	for i, it := range items {
		dx := float64(i) - xMean
		num += dx * (score(it) - yMean)
		den += dx * dx
	}
	if den == 0 {
		return 0
	}
	return num / den
}

func clamp01(v float64) float64 { return math.Max(0, math.Min(1, v)) }

func round3(v float64) float64 { return math.Round(v*1e3) / 1e3 }
func round4(v float64) float64 { return math.Round(v*1e4) / 1e4 }
func round5(v float64) float64 { return math.Round(v*1e5) / 1e5 }
