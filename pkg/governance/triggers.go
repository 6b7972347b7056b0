package governance

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

// Trigger is one recovery trigger from the resilience_policy block: a
// stable id plus a guard expression over live trust telemetry.
type Trigger struct {
	ID   string `json:"id"`
	When string `json:"when"`
}

// TriggersFromPolicy extracts the declared recovery triggers. Malformed
// entries are skipped.
func TriggersFromPolicy(p Policy) []Trigger {
	rp, _ := p["resilience_policy"].(map[string]any)
	raw, _ := rp["triggers"].([]any)
	out := make([]Trigger, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["id"].(string)
		when, _ := m["when"].(string)
		if id == "" || when == "" {
			continue
		}
		out = append(out, Trigger{ID: id, When: when})
	}
	return out
}

// GuardInput is the telemetry a guard expression may reference.
type GuardInput struct {
	TSI            float64
	TSIForecast15m float64
	Concentration  float64
	Oscillation    float64
	SystemStatus   string
	TSITarget      float64
	TSIMin         float64
	TSICritical    float64
}

// GuardEvaluator compiles and evaluates trigger guard expressions.
// Programs are cached per expression; the cache is safe for concurrent
// use.
type GuardEvaluator struct {
	env *cel.Env

	mu       sync.RWMutex
	prgCache map[string]cel.Program
}

// NewGuardEvaluator builds the evaluation environment with the trigger
// variable set.
func NewGuardEvaluator() (*GuardEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("tsi", cel.DoubleType),
		cel.Variable("tsi_forecast_15m", cel.DoubleType),
		cel.Variable("concentration_index", cel.DoubleType),
		cel.Variable("oscillation", cel.DoubleType),
		cel.Variable("system_status", cel.StringType),
		cel.Variable("targets", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("governance: cel env: %w", err)
	}
	return &GuardEvaluator{env: env, prgCache: map[string]cel.Program{}}, nil
}

// normalizeGuard rewrites the DSL's word-form boolean operators into
// expression syntax. Everything else passes through untouched.
func normalizeGuard(expr string) string {
	expr = strings.ReplaceAll(expr, " and ", " && ")
	expr = strings.ReplaceAll(expr, " or ", " || ")
	expr = strings.ReplaceAll(expr, " not ", " !")
	return expr
}

// Evaluate runs one guard expression against the given telemetry. A
// compile or eval failure returns an error and never fires the trigger.
func (g *GuardEvaluator) Evaluate(expr string, in GuardInput) (bool, error) {
	normalized := normalizeGuard(expr)

	g.mu.RLock()
	prg, hit := g.prgCache[normalized]
	g.mu.RUnlock()

	if !hit {
		g.mu.Lock()
		if prg, hit = g.prgCache[normalized]; !hit {
			ast, issues := g.env.Compile(normalized)
			if issues != nil && issues.Err() != nil {
				g.mu.Unlock()
				return false, fmt.Errorf("compile: %w", issues.Err())
			}
			p, err := g.env.Program(ast,
				cel.InterruptCheckFrequency(100),
				cel.CostLimit(10000),
			)
			if err != nil {
				g.mu.Unlock()
				return false, fmt.Errorf("program: %w", err)
			}
			g.prgCache[normalized] = p
			prg = p
		}
		g.mu.Unlock()
	}

	out, _, err := prg.Eval(map[string]any{
		"tsi":                 in.TSI,
		"tsi_forecast_15m":    in.TSIForecast15m,
		"concentration_index": in.Concentration,
		"oscillation":         in.Oscillation,
		"system_status":       in.SystemStatus,
		"targets": map[string]any{
			"tsi": map[string]any{
				"target":   in.TSITarget,
				"min":      in.TSIMin,
				"critical": in.TSICritical,
			},
		},
	})
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("guard result not bool")
	}
	return val, nil
}

// Fired evaluates every trigger and returns the ids that fired plus any
// evaluation errors. A trigger whose expression fails never fires.
func (g *GuardEvaluator) Fired(triggers []Trigger, in GuardInput) (fired []string, errs []string) {
	for _, t := range triggers {
		ok, err := g.Evaluate(t.When, in)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", t.ID, err))
			continue
		}
		if ok {
			fired = append(fired, t.ID)
		}
	}
	return fired, errs
}
