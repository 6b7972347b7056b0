package resilience

import "testing"

func testEngine() *Engine {
	return NewEngine(DefaultBudgets(), DefaultTargets(), DefaultScoring())
}

func testPlans() []Plan {
	return []Plan{
		{
			Name: "reroute_backup", Tier: 1,
			PredictedTSIMedian: 0.74, PredictedTSILow: 0.70, PredictedTSIHigh: 0.78,
			PredictedLatencyMS: 150, PredictedCostUSD: 0.01,
			PredictedIndependenceGain: 0.10,
		},
		{
			Name: "add_validator", Tier: 2,
			PredictedTSIMedian: 0.78, PredictedTSILow: 0.72, PredictedTSIHigh: 0.85,
			PredictedLatencyMS: 400, PredictedCostUSD: 0.05,
			PredictedIndependenceGain: 0.25,
		},
		{
			Name: "full_failover", Tier: 3,
			PredictedTSIMedian: 0.80, PredictedTSILow: 0.60, PredictedTSIHigh: 0.90,
			PredictedLatencyMS: 700, PredictedCostUSD: 0.30,
			PredictedIndependenceGain: 0.40,
		},
	}
}

func degradedState() State {
	return State{TSICurrent: 0.60, TSIForecast: 0.58, ConcentrationIndex: 0.5, SystemStatus: "ok"}
}

func TestEngineNoTriggerWhenHealthy(t *testing.T) {
	e := testEngine()
	d := e.Decide(State{TSICurrent: 0.85, TSIForecast: 0.84, SystemStatus: "ok"}, testPlans(), DecideOptions{NowMS: 1})
	if d.Chosen != nil {
		t.Fatalf("healthy state chose %q", d.Chosen.Name)
	}
	if d.Reason != "no_trigger" {
		t.Fatalf("reason = %q", d.Reason)
	}
	if len(d.Evaluated) != 0 {
		t.Fatalf("evaluated %d plans without a trigger", len(d.Evaluated))
	}
}

func TestEngineTriggersOnLowForecast(t *testing.T) {
	e := testEngine()
	d := e.Decide(degradedState(), testPlans(), DecideOptions{NowMS: 1})
	if d.Chosen == nil {
		t.Fatal("low forecast should select a plan")
	}
	if len(d.Evaluated) != 3 {
		t.Fatalf("evaluated = %d", len(d.Evaluated))
	}
}

func TestEngineTriggersOnSystemStatus(t *testing.T) {
	e := testEngine()
	state := State{TSICurrent: 0.85, TSIForecast: 0.84, SystemStatus: "incident"}
	d := e.Decide(state, testPlans(), DecideOptions{NowMS: 1})
	if d.Reason != "triggered:system_status=incident" {
		t.Fatalf("reason = %q", d.Reason)
	}
}

func TestEngineTriggersOnConcentration(t *testing.T) {
	e := testEngine()
	state := State{TSICurrent: 0.73, TSIForecast: 0.72, ConcentrationIndex: 0.80, SystemStatus: "ok"}
	d := e.Decide(state, testPlans(), DecideOptions{NowMS: 1})
	if d.Reason != "triggered:concentration_high+tsi_below_target" {
		t.Fatalf("reason = %q", d.Reason)
	}
}

func TestEngineBudgetRejections(t *testing.T) {
	e := NewEngine(Budgets{LatencyMSMax: 300, CostUSDMax: 0.02}, DefaultTargets(), DefaultScoring())
	d := e.Decide(degradedState(), testPlans(), DecideOptions{NowMS: 1})
	if d.Chosen == nil || d.Chosen.Name != "reroute_backup" {
		t.Fatalf("chosen = %+v, want only plan within budget", d.Chosen)
	}
	rejected := map[string]string{}
	for _, sp := range d.Evaluated {
		if sp.Rejected != "" {
			rejected[sp.Plan.Name] = sp.Rejected
		}
	}
	if rejected["add_validator"] != "latency_budget" || rejected["full_failover"] != "latency_budget" {
		t.Fatalf("rejections = %v", rejected)
	}
}

func TestEngineCircuitBreakerExclusion(t *testing.T) {
	e := testEngine()
	base := e.Decide(degradedState(), testPlans(), DecideOptions{NowMS: 1})
	if base.Chosen == nil {
		t.Fatal("expected a chosen plan")
	}
	d := e.Decide(degradedState(), testPlans(), DecideOptions{
		NowMS:         1,
		ExcludedPlans: map[string]bool{base.Chosen.Name: true},
	})
	if d.Chosen == nil || d.Chosen.Name == base.Chosen.Name {
		t.Fatalf("excluded plan was re-chosen: %+v", d.Chosen)
	}
	for _, sp := range d.Evaluated {
		if sp.Plan.Name == base.Chosen.Name && sp.Rejected != "circuit_breaker_open" {
			t.Fatalf("excluded plan rejection = %q", sp.Rejected)
		}
	}
}

func TestEngineNoViablePlans(t *testing.T) {
	e := NewEngine(Budgets{LatencyMSMax: 1, CostUSDMax: 0.001}, DefaultTargets(), DefaultScoring())
	d := e.Decide(degradedState(), testPlans(), DecideOptions{NowMS: 1})
	if d.Chosen != nil {
		t.Fatalf("chose %q with no viable plans", d.Chosen.Name)
	}
	if d.Reason != "triggered:tsi_forecast_15m<0.70|no_viable_plans" {
		t.Fatalf("reason = %q", d.Reason)
	}
}

func TestEngineDeterministicSelection(t *testing.T) {
	e := testEngine()
	state := degradedState()
	plans := testPlans()
	first := ""
	for i := 0; i < 5; i++ {
		d := e.Decide(state, plans, DecideOptions{NowMS: 1000000})
		if d.Chosen == nil {
			t.Fatal("expected a chosen plan")
		}
		if i == 0 {
			first = d.Chosen.Name
		} else if d.Chosen.Name != first {
			t.Fatalf("trial %d chose %q, trial 0 chose %q", i, d.Chosen.Name, first)
		}
	}
}

func TestEngineTiebreakPrefersIndependenceThenLowerTier(t *testing.T) {
	e := testEngine()
	// Two plans engineered to the same score: identical gain and zero
	// penalties except tier, offset through the cost penalty.
	plans := []Plan{
		{Name: "tier2_plan", Tier: 2, PredictedTSIMedian: 0.75, PredictedTSILow: 0.75, PredictedIndependenceGain: 0.2},
		{Name: "tier1_plan", Tier: 1, PredictedTSIMedian: 0.75, PredictedTSILow: 0.75, PredictedIndependenceGain: 0.2, PredictedCostUSD: 0.2},
	}
	// tier1: gain 0.15 + 0.03 − 0.05 cost − 0.00 tier = 0.13
	// tier2: gain 0.15 + 0.03 − 0.05 tier = 0.13
	d := e.Decide(degradedState(), plans, DecideOptions{NowMS: 1})
	if d.Chosen == nil || d.Chosen.Name != "tier1_plan" {
		t.Fatalf("chosen = %+v, want tier asc tiebreak", d.Chosen)
	}
}

func TestEngineOscillationPenalizesTier3(t *testing.T) {
	e := testEngine()
	state := degradedState()
	state.OscillationIndex = 0.25
	d := e.Decide(state, testPlans(), DecideOptions{NowMS: 1})
	for _, sp := range d.Evaluated {
		if sp.Plan.Name != "full_failover" {
			continue
		}
		calm := e.scorePlan(degradedState(), sp.Plan)
		if sp.Score >= calm {
			t.Fatalf("oscillation should penalize tier 3: %v >= %v", sp.Score, calm)
		}
	}
}
