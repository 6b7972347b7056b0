package governance

import (
	"testing"
)

func defaultTriggers(t *testing.T) []Trigger {
	t.Helper()
	triggers := TriggersFromPolicy(PolicyDefaults())
	if len(triggers) != 3 {
		t.Fatalf("trigger count = %d, want 3", len(triggers))
	}
	return triggers
}

func TestTriggersFromPolicySkipsMalformed(t *testing.T) {
	p := Policy{
		"resilience_policy": map[string]any{
			"triggers": []any{
				map[string]any{"id": "ok", "when": "tsi < 0.5"},
				map[string]any{"id": "no_guard"},
				"not a mapping",
			},
		},
	}
	triggers := TriggersFromPolicy(p)
	if len(triggers) != 1 || triggers[0].ID != "ok" {
		t.Fatalf("triggers = %+v", triggers)
	}
}

func TestGuardEvaluatorForecastDrop(t *testing.T) {
	g, err := NewGuardEvaluator()
	if err != nil {
		t.Fatal(err)
	}
	in := GuardInput{
		TSI:            0.74,
		TSIForecast15m: 0.60,
		SystemStatus:   "healthy",
		TSITarget:      0.75,
		TSIMin:         0.70,
		TSICritical:    0.55,
	}
	ok, err := g.Evaluate("tsi_forecast_15m < targets.tsi.min", in)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("forecast below min should fire")
	}

	in.TSIForecast15m = 0.72
	ok, err = g.Evaluate("tsi_forecast_15m < targets.tsi.min", in)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("forecast above min should not fire")
	}
}

func TestGuardEvaluatorWordOperators(t *testing.T) {
	g, err := NewGuardEvaluator()
	if err != nil {
		t.Fatal(err)
	}
	in := GuardInput{
		TSIForecast15m: 0.72,
		Concentration:  0.80,
		SystemStatus:   "healthy",
		TSITarget:      0.75,
		TSIMin:         0.70,
	}
	// DSL word form, normalized to expression syntax before compile.
	ok, err := g.Evaluate("concentration_index >= 0.70 and tsi_forecast_15m < targets.tsi.target", in)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("concentration guard should fire")
	}
}

func TestGuardEvaluatorStatusMembership(t *testing.T) {
	g, err := NewGuardEvaluator()
	if err != nil {
		t.Fatal(err)
	}
	in := GuardInput{SystemStatus: "incident"}
	ok, err := g.Evaluate("system_status in ['degraded','incident']", in)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("incident status should fire")
	}

	in.SystemStatus = "healthy"
	ok, err = g.Evaluate("system_status in ['degraded','incident']", in)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("healthy status should not fire")
	}
}

func TestGuardEvaluatorBadExpressionNeverFires(t *testing.T) {
	g, err := NewGuardEvaluator()
	if err != nil {
		t.Fatal(err)
	}
	if ok, err := g.Evaluate("no_such_variable > 1.0", GuardInput{}); err == nil || ok {
		t.Fatal("unknown variable must error, not fire")
	}
	if ok, err := g.Evaluate("tsi + 1.0", GuardInput{}); err == nil || ok {
		t.Fatal("non-boolean guard must error, not fire")
	}
}

func TestFiredAgainstDefaultPolicy(t *testing.T) {
	g, err := NewGuardEvaluator()
	if err != nil {
		t.Fatal(err)
	}
	triggers := defaultTriggers(t)

	in := GuardInput{
		TSI:            0.74,
		TSIForecast15m: 0.68,
		Concentration:  0.75,
		SystemStatus:   "degraded",
		TSITarget:      0.75,
		TSIMin:         0.70,
		TSICritical:    0.55,
	}
	fired, errs := g.Fired(triggers, in)
	if len(errs) != 0 {
		t.Fatalf("errors: %v", errs)
	}
	want := []string{"tsi_forecast_drop", "concentration_high", "system_degraded"}
	if len(fired) != len(want) {
		t.Fatalf("fired = %v", fired)
	}
	for i, id := range want {
		if fired[i] != id {
			t.Fatalf("fired[%d] = %s, want %s", i, fired[i], id)
		}
	}

	healthy := GuardInput{
		TSI:            0.85,
		TSIForecast15m: 0.86,
		Concentration:  0.30,
		SystemStatus:   "healthy",
		TSITarget:      0.75,
		TSIMin:         0.70,
		TSICritical:    0.55,
	}
	fired, errs = g.Fired(triggers, healthy)
	if len(fired) != 0 || len(errs) != 0 {
		t.Fatalf("healthy: fired=%v errs=%v", fired, errs)
	}
}
