package resilience

import (
	"sync"
	"time"
)

// TrustSnapshot is the live signal bundle a recovery cycle decides on.
type TrustSnapshot struct {
	TSICurrent            float64 `json:"tsi_current"`
	TSIForecast           float64 `json:"tsi_forecast_15m"`
	DERDensity            float64 `json:"der_density"`
	DepConcentrationIndex float64 `json:"dep_concentration_index"`
	Degraded              bool    `json:"degraded"`
}

// Runtime wires the tracker, engine, damping, breaker, and verifier into
// one closed recovery loop. It holds the only mutable cross-component
// state: the last decision and the plan currently in flight.
type Runtime struct {
	mu sync.Mutex

	Engine   *Engine
	Plans    []Plan
	Damping  *Stabilizer
	Breaker  *CircuitBreaker
	Tracker  *Tracker
	Verifier *Verifier
	Enabled  bool

	clock func() time.Time

	lastDecision    *Decision
	lastAppliedPlan *Plan
	tsiAtRecovery   float64
	recoveryActive  bool
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithRuntimeClock overrides the runtime's time source.
func WithRuntimeClock(clock func() time.Time) RuntimeOption {
	return func(r *Runtime) { r.clock = clock }
}

// WithDamping attaches a damping stabilizer.
func WithDamping(s *Stabilizer) RuntimeOption {
	return func(r *Runtime) { r.Damping = s }
}

// NewRuntime assembles a resilience runtime; nil components get defaults.
func NewRuntime(engine *Engine, plans []Plan, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		Engine:  engine,
		Plans:   plans,
		Breaker: NewCircuitBreaker(DefaultBreakerConfig()),
		Tracker: NewTracker(DefaultTrackerConfig()),
		Enabled: true,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.Verifier == nil {
		r.Verifier = NewVerifier(DefaultVerificationConfig(), engine.Targets)
	}
	return r
}

// RecordOutcome feeds one governed turn's result into the TSI tracker.
func (r *Runtime) RecordOutcome(status string, validatorAgreement float64, latencyMS int, challengerFired bool) {
	r.mu.Lock()
	active := r.recoveryActive
	now := r.clock()
	r.mu.Unlock()
	r.Tracker.Record(InteractionOutcome{
		Timestamp:          now,
		Status:             status,
		ValidatorAgreement: validatorAgreement,
		LatencyMS:          latencyMS,
		ChallengerFired:    challengerFired,
		RecoveryActive:     active,
	})
}

// CurrentSignal returns the tracker's live trust signal.
func (r *Runtime) CurrentSignal() Signal {
	return r.Tracker.Signal()
}

// DependencyMetrics computes (density, concentration) from normalized
// provider weights. Concentration is an HHI over the weight shares: 1.0
// means a single provider carries all traffic.
func DependencyMetrics(providerWeights map[string]float64) (density, concentration float64) {
	if len(providerWeights) == 0 {
		return 0, 1.0
	}
	total := 0.0
	for _, w := range providerWeights {
		total += w
	}
	if total == 0 {
		total = 1.0
	}
	hhi := 0.0
	for _, w := range providerWeights {
		share := w / total
		hhi += share * share
	}
	concentration = clamp01(hhi)

	n := len(providerWeights)
	if n > 1 {
		density = float64(n-1) / float64(n*(n-1))
	}
	return density, concentration
}

// MaybeRecover checks triggers and potentially selects one recovery plan.
// A nil return means the loop is disabled or damping is in cooldown; a
// non-nil decision may still carry no chosen plan.
func (r *Runtime) MaybeRecover(snapshot TrustSnapshot) *Decision {
	if !r.Enabled {
		return nil
	}
	if r.Damping != nil && r.Damping.InCooldown() {
		return nil
	}

	status := "ok"
	if snapshot.Degraded {
		status = "degraded"
	}
	state := State{
		TSICurrent:         snapshot.TSICurrent,
		TSIForecast:        snapshot.TSIForecast,
		DERDensity:         snapshot.DERDensity,
		ConcentrationIndex: snapshot.DepConcentrationIndex,
		SystemStatus:       status,
	}

	excluded := r.Breaker.ExcludedPlans(r.clock())
	decision := r.Engine.Decide(state, r.Plans, DecideOptions{
		NowMS:         r.clock().UnixMilli(),
		ExcludedPlans: excluded,
	})

	if decision.Chosen != nil && r.Damping != nil {
		damped := r.Damping.DampPlan(state, *decision.Chosen, r.Engine.Targets)
		decision.Chosen = &damped
	}

	r.mu.Lock()
	r.lastDecision = &decision
	if decision.Chosen != nil {
		r.lastAppliedPlan = decision.Chosen
		r.tsiAtRecovery = snapshot.TSICurrent
		r.recoveryActive = true
	}
	r.mu.Unlock()

	return &decision
}

// VerifyRecovery checks whether the last applied plan actually improved
// trust and updates the circuit breaker. A nil return means no recovery
// is in flight.
func (r *Runtime) VerifyRecovery(currentTSI float64, samples []ReplaySample) *VerificationResult {
	r.mu.Lock()
	plan := r.lastAppliedPlan
	tsiBefore := r.tsiAtRecovery
	r.mu.Unlock()
	if plan == nil {
		return nil
	}

	result := r.Verifier.Verify(*plan, tsiBefore, currentTSI, samples)

	now := r.clock()
	if result.TSIImproved {
		r.Breaker.RecordSuccess(plan.Name, now)
	} else {
		r.Breaker.RecordFailure(plan.Name, now)
	}

	if result.RecommendRollback {
		r.mu.Lock()
		r.lastAppliedPlan = nil
		r.tsiAtRecovery = 0
		r.recoveryActive = false
		r.mu.Unlock()
	}

	return &result
}

// LastDecision returns the most recent recovery decision, if any.
func (r *Runtime) LastDecision() *Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastDecision
}

// AppliedPlan returns the plan currently in flight, if any.
func (r *Runtime) AppliedPlan() *Plan {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastAppliedPlan
}
