package resilience

import (
	"testing"
	"time"
)

func TestDampPlanInjectsCanaryHints(t *testing.T) {
	s := NewStabilizer(DefaultPIDParams(), 0.15, 60*time.Second)
	state := State{TSICurrent: 0.65, TSIForecast: 0.60}
	plan := Plan{Name: "reroute", RoutingPatch: map[string]any{"provider": "backup"}}

	damped := s.DampPlan(state, plan, DefaultTargets())
	rds, ok := damped.RoutingPatch["rds"].(map[string]any)
	if !ok {
		t.Fatalf("routing patch missing rds hints: %v", damped.RoutingPatch)
	}
	canary := rds["canary_pct"].(float64)
	if canary < 0.15 || canary > 1.0 {
		t.Fatalf("canary_pct = %v", canary)
	}
	if rds["cooldown_seconds"].(int) != 60 {
		t.Fatalf("cooldown_seconds = %v", rds["cooldown_seconds"])
	}
	if damped.RoutingPatch["provider"] != "backup" {
		t.Fatal("existing patch entries must survive")
	}
	if _, ok := plan.RoutingPatch["rds"]; ok {
		t.Fatal("original plan must not be mutated")
	}
}

func TestDampPlanCriticalForecastWidensRollout(t *testing.T) {
	targets := DefaultTargets()
	mild := NewStabilizer(DefaultPIDParams(), 0.15, time.Minute).
		DampPlan(State{TSIForecast: 0.68}, Plan{Name: "p"}, targets)
	critical := NewStabilizer(DefaultPIDParams(), 0.15, time.Minute).
		DampPlan(State{TSIForecast: 0.40}, Plan{Name: "p"}, targets)

	mildPct := mild.RoutingPatch["rds"].(map[string]any)["canary_pct"].(float64)
	critPct := critical.RoutingPatch["rds"].(map[string]any)["canary_pct"].(float64)
	if critPct <= mildPct {
		t.Fatalf("critical forecast should widen rollout: %v <= %v", critPct, mildPct)
	}
}

func TestDampPlanOscillationNarrowsRollout(t *testing.T) {
	targets := DefaultTargets()
	steady := NewStabilizer(DefaultPIDParams(), 0.15, time.Minute).
		DampPlan(State{TSIForecast: 0.60}, Plan{Name: "p"}, targets)
	wobbling := NewStabilizer(DefaultPIDParams(), 0.15, time.Minute).
		DampPlan(State{TSIForecast: 0.60, OscillationIndex: 0.30}, Plan{Name: "p"}, targets)

	steadyPct := steady.RoutingPatch["rds"].(map[string]any)["canary_pct"].(float64)
	wobblePct := wobbling.RoutingPatch["rds"].(map[string]any)["canary_pct"].(float64)
	if wobblePct >= steadyPct {
		t.Fatalf("oscillation should narrow rollout: %v >= %v", wobblePct, steadyPct)
	}
}

func TestStabilizerCooldown(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	current := now
	s := NewStabilizer(DefaultPIDParams(), 0.15, time.Minute).
		WithClock(func() time.Time { return current })

	if s.InCooldown() {
		t.Fatal("fresh stabilizer should not be in cooldown")
	}
	s.DampPlan(State{TSIForecast: 0.60}, Plan{Name: "p"}, DefaultTargets())
	if !s.InCooldown() {
		t.Fatal("damping should start the cooldown")
	}
	current = now.Add(2 * time.Minute)
	if s.InCooldown() {
		t.Fatal("cooldown should expire")
	}
	s.Reset()
	if s.InCooldown() {
		t.Fatal("reset clears cooldown")
	}
}
