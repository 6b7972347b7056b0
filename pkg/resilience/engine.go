package resilience

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Targets are the trust levels the recovery loop steers toward.
type Targets struct {
	TSITarget          float64 `json:"tsi_target"`
	TSIMin             float64 `json:"tsi_min"`
	TSICritical        float64 `json:"tsi_critical"`
	MaxRecoveryMinutes int     `json:"max_recovery_minutes"`
}

// DefaultTargets is the production steering band.
func DefaultTargets() Targets {
	return Targets{TSITarget: 0.75, TSIMin: 0.70, TSICritical: 0.55, MaxRecoveryMinutes: 15}
}

// Budgets cap what a recovery plan may cost to apply.
type Budgets struct {
	LatencyMSMax int     `json:"latency_ms_max"`
	CostUSDMax   float64 `json:"cost_usd_max"`
}

// DefaultBudgets is the production budget envelope.
func DefaultBudgets() Budgets {
	return Budgets{LatencyMSMax: 800, CostUSDMax: 0.50}
}

// Plan is a named, immutable recovery action with predicted effects.
type Plan struct {
	Name                      string         `json:"name"`
	Tier                      int            `json:"tier"`
	PredictedTSIMedian        float64        `json:"predicted_tsi_median"`
	PredictedTSILow           float64        `json:"predicted_tsi_low"`
	PredictedTSIHigh          float64        `json:"predicted_tsi_high"`
	PredictedLatencyMS        int            `json:"predicted_latency_ms"`
	PredictedCostUSD          float64        `json:"predicted_cost_usd"`
	PredictedIndependenceGain float64        `json:"predicted_independence_gain"`
	RoutingPatch              map[string]any `json:"routing_patch"`
}

// State is the trust picture a recovery decision is made against.
type State struct {
	TSICurrent         float64 `json:"tsi_current"`
	TSIForecast        float64 `json:"tsi_forecast_15m"`
	DERDensity         float64 `json:"der_density"`
	ConcentrationIndex float64 `json:"concentration_index"`
	SystemStatus       string  `json:"system_status"` // ok, degraded, incident
	OscillationIndex   float64 `json:"oscillation_index"`
}

// ScoredPlan is a plan plus its evaluation, for the audit trail.
type ScoredPlan struct {
	Plan     Plan    `json:"plan"`
	Score    float64 `json:"score"`
	Rejected string  `json:"rejected,omitempty"`
}

// Decision is one recovery evaluation, chosen plan optional.
type Decision struct {
	DecisionID  string       `json:"decision_id"`
	TimestampMS int64        `json:"timestamp_ms"`
	Reason      string       `json:"reason"`
	TSIBefore   float64      `json:"tsi_before"`
	TSIForecast float64      `json:"tsi_forecast"`
	Evaluated   []ScoredPlan `json:"evaluated"`
	Chosen      *Plan        `json:"chosen,omitempty"`
}

// Scoring holds the plan-scoring weights.
type Scoring struct {
	DiversityBonus       float64         `json:"diversity_bonus"`
	LatencyPenaltyPerMS  float64         `json:"latency_penalty_per_ms"`
	CostPenaltyPerUSD    float64         `json:"cost_penalty_per_usd"`
	ConfidenceLowPenalty float64         `json:"confidence_low_penalty"`
	TierPenalties        map[int]float64 `json:"tier_penalties"`
}

// DefaultScoring is the production weight set.
func DefaultScoring() Scoring {
	return Scoring{
		DiversityBonus:       0.15,
		LatencyPenaltyPerMS:  0.0005,
		CostPenaltyPerUSD:    0.25,
		ConfidenceLowPenalty: 0.30,
		TierPenalties:        map[int]float64{1: 0.00, 2: 0.05, 3: 0.12},
	}
}

// Engine deterministically selects at most one recovery plan per cycle.
// It performs no I/O; the same inputs always yield the same decision.
type Engine struct {
	Budgets Budgets
	Targets Targets
	Scoring Scoring
}

// NewEngine builds an engine, filling zero-value tier penalties.
func NewEngine(budgets Budgets, targets Targets, scoring Scoring) *Engine {
	if scoring.TierPenalties == nil {
		scoring.TierPenalties = DefaultScoring().TierPenalties
	}
	return &Engine{Budgets: budgets, Targets: targets, Scoring: scoring}
}

// ShouldTrigger reports whether the state warrants recovery, and why.
func (e *Engine) ShouldTrigger(state State) (bool, string) {
	if state.SystemStatus == "degraded" || state.SystemStatus == "incident" {
		return true, "triggered:system_status=" + state.SystemStatus
	}
	if state.TSIForecast < e.Targets.TSIMin {
		return true, fmt.Sprintf("triggered:tsi_forecast_15m<%.2f", e.Targets.TSIMin)
	}
	if state.ConcentrationIndex >= 0.70 && state.TSIForecast < e.Targets.TSITarget {
		return true, "triggered:concentration_high+tsi_below_target"
	}
	return false, "no_trigger"
}

// DecideOptions adjust a single Decide call.
type DecideOptions struct {
	NowMS         int64
	ExcludedPlans map[string]bool
}

// Decide evaluates every plan against the state and picks the best viable
// one. Excluded plans (circuit breaker) and budget violations are kept in
// the evaluated list with a rejection reason for the audit record.
func (e *Engine) Decide(state State, plans []Plan, opts DecideOptions) Decision {
	nowMS := opts.NowMS
	if nowMS == 0 {
		nowMS = time.Now().UnixMilli()
	}
	decisionID := uuid.NewString()

	ok, reason := e.ShouldTrigger(state)
	decision := Decision{
		DecisionID:  decisionID,
		TimestampMS: nowMS,
		Reason:      reason,
		TSIBefore:   state.TSICurrent,
		TSIForecast: state.TSIForecast,
	}
	if !ok {
		return decision
	}

	var viable []ScoredPlan
	for _, p := range plans {
		switch {
		case opts.ExcludedPlans[p.Name]:
			decision.Evaluated = append(decision.Evaluated, ScoredPlan{Plan: p, Score: math.Inf(-1), Rejected: "circuit_breaker_open"})
		case p.PredictedLatencyMS > e.Budgets.LatencyMSMax:
			decision.Evaluated = append(decision.Evaluated, ScoredPlan{Plan: p, Score: math.Inf(-1), Rejected: "latency_budget"})
		case p.PredictedCostUSD > e.Budgets.CostUSDMax:
			decision.Evaluated = append(decision.Evaluated, ScoredPlan{Plan: p, Score: math.Inf(-1), Rejected: "cost_budget"})
		default:
			scored := ScoredPlan{Plan: p, Score: e.scorePlan(state, p)}
			decision.Evaluated = append(decision.Evaluated, scored)
			viable = append(viable, scored)
		}
	}

	if len(viable) == 0 {
		decision.Reason = reason + "|no_viable_plans"
		return decision
	}

	// Tiebreak order is normative: score desc, independence gain desc,
	// tier asc.
	sort.SliceStable(viable, func(i, j int) bool {
		if viable[i].Score != viable[j].Score {
			return viable[i].Score > viable[j].Score
		}
		if viable[i].Plan.PredictedIndependenceGain != viable[j].Plan.PredictedIndependenceGain {
			return viable[i].Plan.PredictedIndependenceGain > viable[j].Plan.PredictedIndependenceGain
		}
		return viable[i].Plan.Tier < viable[j].Plan.Tier
	})

	chosen := viable[0].Plan
	decision.Chosen = &chosen
	return decision
}

func (e *Engine) scorePlan(state State, p Plan) float64 {
	gain := math.Max(0, p.PredictedTSIMedian-state.TSICurrent)
	lowRisk := math.Max(0, e.Targets.TSIMin-p.PredictedTSILow)
	confidencePen := e.Scoring.ConfidenceLowPenalty * lowRisk
	latencyPen := e.Scoring.LatencyPenaltyPerMS * float64(p.PredictedLatencyMS)
	costPen := e.Scoring.CostPenaltyPerUSD * p.PredictedCostUSD
	tierPen, ok := e.Scoring.TierPenalties[p.Tier]
	if !ok {
		tierPen = 0.1
	}
	diversityBonus := e.Scoring.DiversityBonus * p.PredictedIndependenceGain
	oscPen := 0.0
	if state.OscillationIndex > 0.15 && p.Tier >= 3 {
		oscPen = 0.10
	}
	return gain + diversityBonus - (latencyPen + costPen + confidencePen + tierPen + oscPen)
}
