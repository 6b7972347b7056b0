package resilience

import (
	"math"
	"sync"
	"time"
)

// PIDParams are the damping controller gains.
type PIDParams struct {
	KP          float64 `json:"kp"`
	KI          float64 `json:"ki"`
	KD          float64 `json:"kd"`
	IntegralCap float64 `json:"integral_cap"`
}

// DefaultPIDParams is the production tuning.
func DefaultPIDParams() PIDParams {
	return PIDParams{KP: 0.5, KI: 0.2, KD: 0.1, IntegralCap: 2.0}
}

// DampingHints are the rollout controls injected into a plan's routing patch.
type DampingHints struct {
	CanaryPct       float64 `json:"canary_pct"`
	CooldownSeconds int     `json:"cooldown_seconds"`
	Note            string  `json:"note"`
}

// Stabilizer applies PID-style damping to recovery rollout velocity so
// consecutive recoveries don't overshoot or oscillate.
type Stabilizer struct {
	mu             sync.Mutex
	pid            PIDParams
	maxOscillation float64
	cooldown       time.Duration
	integral       float64
	prevError      float64
	lastApplied    time.Time
	clock          func() time.Time
}

// NewStabilizer builds a damping stabilizer.
func NewStabilizer(pid PIDParams, maxOscillation float64, cooldown time.Duration) *Stabilizer {
	if maxOscillation <= 0 {
		maxOscillation = 0.15
	}
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	return &Stabilizer{pid: pid, maxOscillation: maxOscillation, cooldown: cooldown, clock: time.Now}
}

// WithClock overrides the time source, for tests.
func (s *Stabilizer) WithClock(clock func() time.Time) *Stabilizer {
	s.clock = clock
	return s
}

// InCooldown reports whether a damped rollout is still settling.
func (s *Stabilizer) InCooldown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastApplied.IsZero() {
		return false
	}
	return s.clock().Sub(s.lastApplied) < s.cooldown
}

// DampPlan returns a copy of the plan with canary/cooldown hints injected
// under routing_patch.rds. The canary percentage tracks the PID output:
// wider rollouts when the forecast is far below target, narrower when the
// signal is oscillating.
func (s *Stabilizer) DampPlan(state State, plan Plan, targets Targets) Plan {
	s.mu.Lock()
	defer s.mu.Unlock()

	errVal := math.Max(0, targets.TSITarget-state.TSIForecast)
	s.integral = math.Max(-s.pid.IntegralCap, math.Min(s.pid.IntegralCap, s.integral+errVal))
	deriv := errVal - s.prevError
	s.prevError = errVal
	u := s.pid.KP*errVal + s.pid.KI*s.integral + s.pid.KD*deriv

	canary := 0.15 + math.Min(0.85, math.Max(0, u))
	if state.ConcentrationIndex >= 0.75 || state.TSIForecast < targets.TSICritical {
		canary = math.Min(1.0, canary+0.15)
	}
	if state.OscillationIndex > s.maxOscillation {
		canary = math.Max(0.15, canary*0.8)
	}

	s.lastApplied = s.clock()

	patch := make(map[string]any, len(plan.RoutingPatch)+1)
	for k, v := range plan.RoutingPatch {
		patch[k] = v
	}
	patch["rds"] = map[string]any{
		"canary_pct":       round3(canary),
		"cooldown_seconds": int(s.cooldown.Seconds()),
		"note":             "pid_damped",
	}
	plan.RoutingPatch = patch
	return plan
}

// Reset clears the controller state after a manual override.
func (s *Stabilizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.integral = 0
	s.prevError = 0
	s.lastApplied = time.Time{}
}
