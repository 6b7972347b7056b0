package resilience

import (
	"sync"
	"time"
)

// Breaker states.
const (
	BreakerClosed   = "CLOSED"
	BreakerOpen     = "OPEN"
	BreakerHalfOpen = "HALF_OPEN"
)

// BreakerConfig tunes the per-plan circuit breakers.
type BreakerConfig struct {
	FailureThreshold    int           `json:"failure_threshold"`
	Cooldown            time.Duration `json:"-"`
	HalfOpenMaxAttempts int           `json:"half_open_max_attempts"`
}

// DefaultBreakerConfig is the production breaker tuning.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 3, Cooldown: 120 * time.Second, HalfOpenMaxAttempts: 1}
}

// PlanBreakerState is an auditable snapshot of one plan's breaker.
type PlanBreakerState struct {
	PlanName            string    `json:"plan_name"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TotalFailures       int       `json:"total_failures"`
	TotalSuccesses      int       `json:"total_successes"`
	LastFailure         time.Time `json:"last_failure_ts"`
	LastSuccess         time.Time `json:"last_success_ts"`
}

type planBreaker struct {
	PlanBreakerState
	halfOpenAttempts int
}

// CircuitBreaker keeps per-plan failure state so the recovery engine
// stops re-selecting plans that keep failing. Operations are O(1) and
// guarded by a single lock.
type CircuitBreaker struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	breakers map[string]*planBreaker
}

// NewCircuitBreaker builds a breaker table.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultBreakerConfig().Cooldown
	}
	if cfg.HalfOpenMaxAttempts <= 0 {
		cfg.HalfOpenMaxAttempts = DefaultBreakerConfig().HalfOpenMaxAttempts
	}
	return &CircuitBreaker{cfg: cfg, breakers: map[string]*planBreaker{}}
}

func (cb *CircuitBreaker) get(planName string) *planBreaker {
	b, ok := cb.breakers[planName]
	if !ok {
		b = &planBreaker{PlanBreakerState: PlanBreakerState{PlanName: planName, State: BreakerClosed}}
		cb.breakers[planName] = b
	}
	return b
}

// maybeTransition moves OPEN to HALF_OPEN once the cooldown expires.
func (cb *CircuitBreaker) maybeTransition(b *planBreaker, now time.Time) {
	if b.State == BreakerOpen && now.Sub(b.LastFailure) >= cb.cfg.Cooldown {
		b.State = BreakerHalfOpen
		b.halfOpenAttempts = 0
	}
}

// ExcludedPlans returns the plans currently blocked: OPEN breakers plus
// HALF_OPEN breakers whose probe budget is exhausted.
func (cb *CircuitBreaker) ExcludedPlans(now time.Time) map[string]bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if now.IsZero() {
		now = time.Now()
	}
	blocked := map[string]bool{}
	for _, b := range cb.breakers {
		cb.maybeTransition(b, now)
		if b.State == BreakerOpen {
			blocked[b.PlanName] = true
		} else if b.State == BreakerHalfOpen && b.halfOpenAttempts >= cb.cfg.HalfOpenMaxAttempts {
			blocked[b.PlanName] = true
		}
	}
	return blocked
}

// RecordSuccess resets a plan's breaker to CLOSED.
func (cb *CircuitBreaker) RecordSuccess(planName string, now time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if now.IsZero() {
		now = time.Now()
	}
	b := cb.get(planName)
	b.ConsecutiveFailures = 0
	b.State = BreakerClosed
	b.LastSuccess = now
	b.halfOpenAttempts = 0
	b.TotalSuccesses++
}

// RecordFailure counts a failure; at the threshold (or during a failed
// HALF_OPEN probe) the breaker trips to OPEN.
func (cb *CircuitBreaker) RecordFailure(planName string, now time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if now.IsZero() {
		now = time.Now()
	}
	b := cb.get(planName)
	b.ConsecutiveFailures++
	b.TotalFailures++
	b.LastFailure = now

	if b.State == BreakerHalfOpen {
		b.State = BreakerOpen
		b.halfOpenAttempts = 0
	} else if b.ConsecutiveFailures >= cb.cfg.FailureThreshold {
		b.State = BreakerOpen
	}
}

// RecordHalfOpenAttempt consumes one probe attempt during HALF_OPEN.
func (cb *CircuitBreaker) RecordHalfOpenAttempt(planName string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	b := cb.get(planName)
	if b.State == BreakerHalfOpen {
		b.halfOpenAttempts++
	}
}

// StateOf reports a plan's current breaker state name.
func (cb *CircuitBreaker) StateOf(planName string, now time.Time) string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if now.IsZero() {
		now = time.Now()
	}
	b, ok := cb.breakers[planName]
	if !ok {
		return BreakerClosed
	}
	cb.maybeTransition(b, now)
	return b.State
}

// Snapshot returns an auditable copy of every plan's breaker state.
func (cb *CircuitBreaker) Snapshot() []PlanBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	out := make([]PlanBreakerState, 0, len(cb.breakers))
	for _, b := range cb.breakers {
		out = append(out, b.PlanBreakerState)
	}
	return out
}

// Reset clears one plan's breaker, or all of them when planName is empty.
func (cb *CircuitBreaker) Reset(planName string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if planName == "" {
		cb.breakers = map[string]*planBreaker{}
		return
	}
	delete(cb.breakers, planName)
}
