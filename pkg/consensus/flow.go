package consensus

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Beaconwise-Labs/tek/pkg/ledger"
	"github.com/Beaconwise-Labs/tek/pkg/llm"
)

// Result is the outcome of one consensus run.
type Result struct {
	Status  string             `json:"status"`
	RunID   string             `json:"run_id"`
	Epack   string             `json:"epack"`
	ARU     string             `json:"aru"`
	Output  Output             `json:"output,omitempty"`
	Gate    map[string]any     `json:"gate,omitempty"`
	Error   string             `json:"error,omitempty"`
	Timings map[string]float64 `json:"timings,omitempty"`
}

// RunInput parameterizes a consensus run.
type RunInput struct {
	UserQuery    string
	ARU          string
	HighStakes   bool
	EpackID      string
	Config       Config
	Verification *VerificationContext
	// RunID is assigned when empty.
	RunID string
}

// Orchestrator drives consensus runs against a provider registry, writing
// every stage to the run ledger.
type Orchestrator struct {
	registry *llm.Registry
	ledger   *ledger.Ledger
	scopeCfg ScopeGateConfig
	clock    func() time.Time
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithScopeGateConfig overrides the default scope rules.
func WithScopeGateConfig(cfg ScopeGateConfig) OrchestratorOption {
	return func(o *Orchestrator) { o.scopeCfg = cfg }
}

// WithClock overrides wall-clock access for deterministic tests.
func WithClock(clock func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.clock = clock }
}

// NewOrchestrator wires an orchestrator to its registry and ledger.
func NewOrchestrator(registry *llm.Registry, lg *ledger.Ledger, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		ledger:   lg,
		scopeCfg: DefaultScopeGateConfig(),
		clock:    time.Now,
	}
	for _, fn := range opts {
		fn(o)
	}
	return o
}

// Run executes the full consensus flow: generation (single or debate),
// JSON parse with repair, anchor checks, scope gate, and at most one
// rewrite round.
func (o *Orchestrator) Run(ctx context.Context, in RunInput) Result {
	rid := in.RunID
	if rid == "" {
		rid = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	aru := in.ARU
	if aru == "" {
		aru = ARUAnswer
	}
	verification := PublicContext()
	if in.Verification != nil {
		verification = *in.Verification
	}
	cfg := in.Config

	t0 := o.clock()
	timings := map[string]float64{}
	total := func() map[string]float64 {
		timings["total_s"] = o.clock().Sub(t0).Seconds()
		return timings
	}
	refuse := func(gate map[string]any, errMsg string, output Output) Result {
		return Result{
			Status: DecisionRefuse, RunID: rid, Epack: in.EpackID, ARU: aru,
			Output: output, Gate: gate, Error: errMsg, Timings: total(),
		}
	}

	o.emit(rid, in.EpackID, "tecl.start", map[string]any{
		"aru":         aru,
		"high_stakes": in.HighStakes,
		"verification": map[string]any{
			"verified": verification.Verified, "role": verification.Role, "role_level": verification.RoleLevel,
		},
		"primary_model": cfg.Primary.String(),
	})

	var primary Output
	gate := map[string]any{}

	if cfg.EnableDebate && cfg.Debate != nil {
		out, debateGate, err := o.runDebate(ctx, rid, in.EpackID, aru, in.UserQuery, cfg, verification, timings)
		if err != nil {
			return refuse(map[string]any{"parse_error": err.Error()}, "Failed to parse debate outputs", nil)
		}
		primary = out
		for k, v := range debateGate {
			gate[k] = v
		}
	} else {
		adapter, err := o.registry.Build(cfg.Primary.Provider, cfg.Primary.Model)
		if err != nil {
			return refuse(map[string]any{"adapter_error": err.Error()}, "Adapter unavailable", nil)
		}
		prompt := renderPrompt(cfg.Prompts.PrimaryTemplate, o.promptVars(rid, in.EpackID, aru, in.UserQuery, verification))

		t1 := o.clock()
		raw, meta, err := adapter.GenerateText(ctx, prompt, cfg.PrimaryTemperature, cfg.PrimaryTimeout)
		timings["primary_s"] = o.clock().Sub(t1).Seconds()
		if err != nil {
			return refuse(map[string]any{"adapter_error": err.Error()}, "Primary generation failed", nil)
		}
		o.emit(rid, in.EpackID, "tecl.primary.raw", map[string]any{"meta": meta, "raw_preview": preview(raw)})

		out, err := o.parseWithRepair(ctx, rid, in.EpackID, aru, adapter, raw, cfg, parsePrimary)
		if err != nil {
			return refuse(map[string]any{"parse_error": err.Error()}, "Failed to parse model output", nil)
		}
		primary = out
	}

	// Anchor checks: the model must echo the run and chain identities.
	gotRun, gotEpack := primary.Anchors()
	if gotRun != rid || gotEpack != in.EpackID {
		return refuse(map[string]any{
			"anchor_mismatch": map[string]any{
				"expected": map[string]any{"run_id": rid, "epack": in.EpackID},
				"got":      map[string]any{"run_id": gotRun, "epack": gotEpack},
			},
		}, "Anchor mismatch", nil)
	}

	scope := ScopeGate(o.ledger, primary, verification, o.scopeCfg, in.EpackID, rid)
	gate["scope"] = scope

	if scope.Decision == DecisionPass {
		return Result{Status: DecisionPass, RunID: rid, Epack: in.EpackID, ARU: aru, Output: primary, Gate: gate, Timings: total()}
	}

	if scope.Decision == DecisionRewrite {
		rewritten, err := o.rewriteOnce(ctx, rid, in.EpackID, primary, scope.SuggestedRewrite, cfg, verification)
		gate["rewrite_attempted"] = true
		if err != nil {
			gate["rewrite_error"] = err.Error()
		} else {
			recheck := ScopeGate(o.ledger, rewritten, verification, o.scopeCfg, in.EpackID, rid)
			gate["scope_after_rewrite"] = recheck
			if recheck.Decision == DecisionPass {
				return Result{Status: DecisionPass, RunID: rid, Epack: in.EpackID, ARU: aru, Output: rewritten, Gate: gate, Timings: total()}
			}
		}
	}

	return refuse(gate, "Scope gate refused output", primary)
}

func (o *Orchestrator) runDebate(ctx context.Context, rid, epackID, aru, userQuery string, cfg Config, verification VerificationContext, timings map[string]float64) (Output, map[string]any, error) {
	debate := cfg.Debate

	defender, err := o.registry.Build(debate.DefenderModel.Provider, debate.DefenderModel.Model)
	if err != nil {
		return nil, nil, err
	}
	critic, err := o.registry.Build(debate.CriticModel.Provider, debate.CriticModel.Model)
	if err != nil {
		return nil, nil, err
	}

	vars := o.promptVars(rid, epackID, aru, "", verification)
	defenderVars := cloneVars(vars)
	defenderVars["USER_QUERY"] = userQuery + "\n\n(ROLE: DEFENDER — provide the best direct answer.)"
	criticVars := cloneVars(vars)
	criticVars["USER_QUERY"] = userQuery + "\n\n(ROLE: CRITIC — challenge assumptions, note uncertainties, propose alternatives.)"

	var rawDef, rawCri string
	var metaDef, metaCri map[string]any

	t1 := o.clock()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rawDef, metaDef, err = defender.GenerateText(gctx, renderPrompt(cfg.Prompts.PrimaryTemplate, defenderVars), cfg.PrimaryTemperature, cfg.PrimaryTimeout)
		return err
	})
	g.Go(func() error {
		var err error
		rawCri, metaCri, err = critic.GenerateText(gctx, renderPrompt(cfg.Prompts.PrimaryTemplate, criticVars), cfg.PrimaryTemperature, cfg.PrimaryTimeout)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	timings["debate_primary_s"] = o.clock().Sub(t1).Seconds()

	o.emit(rid, epackID, "tecl.debate.defender.raw", map[string]any{"meta": metaDef, "raw_preview": preview(rawDef)})
	o.emit(rid, epackID, "tecl.debate.critic.raw", map[string]any{"meta": metaCri, "raw_preview": preview(rawCri)})

	defenderOut, err := o.parseWithRepair(ctx, rid, epackID, aru, defender, rawDef, cfg, parsePrimary)
	if err != nil {
		return nil, nil, err
	}
	criticOut, err := o.parseWithRepair(ctx, rid, epackID, aru, critic, rawCri, cfg, parsePrimary)
	if err != nil {
		return nil, nil, err
	}

	synth, err := o.registry.Build(debate.SynthesizerModel.Provider, debate.SynthesizerModel.Model)
	if err != nil {
		return nil, nil, err
	}
	synthPrompt := "You are the Transparency Ecosphere Consensus Layer synthesizer (arbiter).\n" +
		"Return ONLY valid JSON for SynthesizerOutput with fields: run_id, epack, aru, answer, reasoning_trace, overall_confidence.\n" +
		"Use the user query + the two independent model outputs below.\n" +
		"Prefer evidence-backed claims, highlight uncertainty, and resolve conflicts.\n" +
		"RUN_ID=" + rid + " EPACK=" + epackID + " ARU=" + aru + ".\n\n" +
		"USER_QUERY:\n" + userQuery + "\n\n" +
		"DEFENDER_OUTPUT (PrimaryOutput JSON):\n" + mustJSON(defenderOut) + "\n\n" +
		"CRITIC_OUTPUT (PrimaryOutput JSON):\n" + mustJSON(criticOut) + "\n"

	t2 := o.clock()
	rawSynth, metaSynth, err := synth.GenerateText(ctx, synthPrompt, 0, cfg.PrimaryTimeout)
	timings["synthesizer_s"] = o.clock().Sub(t2).Seconds()
	if err != nil {
		return nil, nil, err
	}
	o.emit(rid, epackID, "tecl.synthesizer.raw", map[string]any{"meta": metaSynth, "raw_preview": preview(rawSynth)})

	merged, err := o.parseWithRepair(ctx, rid, epackID, aru, synth, rawSynth, cfg, parseSynthesizer)
	if err != nil {
		return nil, nil, err
	}

	gate := map[string]any{
		"debate_models": map[string]any{
			"defender":    debate.DefenderModel.String(),
			"critic":      debate.CriticModel.String(),
			"synthesizer": debate.SynthesizerModel.String(),
		},
	}
	return merged, gate, nil
}

// parseWithRepair extracts JSON from raw text, re-prompting the adapter
// with the repair template up to the configured budget.
func (o *Orchestrator) parseWithRepair(ctx context.Context, rid, epackID, aru string, adapter llm.Adapter, raw string, cfg Config, parse func([]byte) (Output, error)) (Output, error) {
	if out, err := tryParse(raw, parse); err == nil {
		return out, nil
	}

	bad := raw
	for attempt := 0; attempt < cfg.MaxRepairAttempts; attempt++ {
		excerpt := bad
		if len(excerpt) > 4000 {
			excerpt = excerpt[:4000]
		}
		prompt := renderPrompt(cfg.Prompts.RepairTemplate, map[string]string{
			"RUN_ID": rid, "EPACK": epackID, "ARU": aru, "BAD_TEXT": excerpt,
		})
		fixed, _, err := adapter.GenerateText(ctx, prompt, 0, 30*time.Second)
		if err != nil {
			return nil, err
		}
		if out, err := tryParse(fixed, parse); err == nil {
			return out, nil
		}
		bad = fixed
	}
	return nil, errParseExhausted
}

var errParseExhausted = &parseError{"failed to parse output as valid JSON after repair attempts"}

type parseError struct{ msg string }

func (e *parseError) Error() string { return e.msg }

func tryParse(text string, parse func([]byte) (Output, error)) (Output, error) {
	candidate := text
	if obj, ok := llm.TryParseJSON(text); ok {
		candidate = mustJSON(obj)
	}
	return parse([]byte(candidate))
}

func parsePrimary(data []byte) (Output, error) {
	return ParsePrimaryOutput(data)
}

func parseSynthesizer(data []byte) (Output, error) {
	return ParseSynthesizerOutput(data)
}

func (o *Orchestrator) rewriteOnce(ctx context.Context, rid, epackID string, original Output, rewritePrompt string, cfg Config, verification VerificationContext) (Output, error) {
	adapter, err := o.registry.Build(cfg.Primary.Provider, cfg.Primary.Model)
	if err != nil {
		return nil, err
	}

	o.emit(rid, epackID, "tecl.rewrite.request", map[string]any{"role_level": verification.RoleLevel})

	raw, meta, err := adapter.GenerateText(ctx, rewritePrompt, 0, cfg.PrimaryTimeout)
	if err != nil {
		return nil, err
	}
	o.emit(rid, epackID, "tecl.rewrite.raw", map[string]any{"meta": meta, "raw_preview": preview(raw)})

	parse := parsePrimary
	if _, ok := original.(*SynthesizerOutput); ok {
		parse = parseSynthesizer
	}
	rewritten, err := tryParse(raw, parse)
	if err != nil {
		return nil, &parseError{"rewrite did not produce valid JSON"}
	}
	gotRun, gotEpack := rewritten.Anchors()
	if gotRun != rid || gotEpack != epackID {
		return nil, &parseError{"rewritten output run_id/epack mismatch"}
	}
	return rewritten, nil
}

func (o *Orchestrator) promptVars(rid, epackID, aru, userQuery string, verification VerificationContext) map[string]string {
	verified := "false"
	if verification.Verified {
		verified = "true"
	}
	scope := verification.Scope
	if scope == "" {
		scope = "none"
	}
	return map[string]string{
		"RUN_ID":     rid,
		"EPACK":      epackID,
		"ARU":        aru,
		"USER_QUERY": userQuery,
		"VERIFIED":   verified,
		"ROLE":       verification.Role,
		"ROLE_LEVEL": strconv.Itoa(verification.RoleLevel),
		"SCOPE":      scope,
	}
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func (o *Orchestrator) emit(rid, epackID, stage string, payload map[string]any) {
	if o.ledger != nil {
		_, _ = o.ledger.Emit(rid, epackID, stage, payload)
	}
}

// renderPrompt substitutes {NAME} placeholders. Templates are controlled
// by the repo, so unknown placeholders pass through unchanged.
func renderPrompt(template string, vars map[string]string) string {
	out := template
	for name, value := range vars {
		out = strings.ReplaceAll(out, "{"+name+"}", value)
	}
	return out
}

func cloneVars(vars map[string]string) map[string]string {
	out := make(map[string]string, len(vars))
	for k, v := range vars {
		out[k] = v
	}
	return out
}

func preview(s string) string {
	if len(s) > 200 {
		return s[:200]
	}
	return s
}
