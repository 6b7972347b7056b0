package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Beaconwise-Labs/tek/pkg/contracts"
	"github.com/Beaconwise-Labs/tek/pkg/epack"
	"github.com/Beaconwise-Labs/tek/pkg/stablehash"
	"github.com/Beaconwise-Labs/tek/pkg/tsv"
)

// Generator is the model-provider capability the engine needs for the TDM
// path. Implementations live in the llm package; tests substitute fakes.
type Generator interface {
	GenerateText(ctx context.Context, prompt string, temperature float64, timeout time.Duration) (string, map[string]any, error)
}

// Verdict is one validation attempt's outcome.
type Verdict struct {
	OK     bool    `json:"ok"`
	Reason string  `json:"reason"`
	Score  float64 `json:"score"`
}

// Validator checks a raw model response against the output contract for
// the given user text and alignment threshold.
type Validator interface {
	Validate(userText, raw string, threshold float64) Verdict
}

// TurnResult is what one governed turn produces.
type TurnResult struct {
	AssistantText string
	Route         contracts.Route
	Record        epack.Record
	Extra         map[string]any
}

// Engine drives governed turns. One Engine serves many sessions; per
// session, turns are strictly sequential.
type Engine struct {
	screen     SafetyScreen
	generator  Generator
	validator  Validator
	tools      *ToolRegistry
	sink       epack.Sink
	persist    bool
	redact     bool
	policyID   string
	policyHash string
	clock      func() time.Time
	log        *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineClock overrides wall-clock access for deterministic tests.
func WithEngineClock(clock func() time.Time) EngineOption {
	return func(e *Engine) { e.clock = clock }
}

// WithSink attaches a durable EPACK sink and enables persistence.
func WithSink(sink epack.Sink) EngineOption {
	return func(e *Engine) { e.sink = sink; e.persist = true }
}

// WithRedaction toggles payload redaction before persistence.
func WithRedaction(on bool) EngineOption {
	return func(e *Engine) { e.redact = on }
}

// WithPolicy records the active policy identity in every decision.
func WithPolicy(id, hash string) EngineOption {
	return func(e *Engine) { e.policyID = id; e.policyHash = hash }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) EngineOption {
	return func(e *Engine) { e.log = log }
}

// NewEngine assembles a turn engine from its capabilities.
func NewEngine(screen SafetyScreen, gen Generator, val Validator, tools *ToolRegistry, opts ...EngineOption) *Engine {
	e := &Engine{
		screen:    screen,
		generator: gen,
		validator: val,
		tools:     tools,
		clock:     time.Now,
		log:       slog.Default(),
	}
	for _, fn := range opts {
		fn(e)
	}
	return e
}

func alignmentThreshold(p contracts.Profile) float64 {
	switch p {
	case contracts.ProfileFast:
		return 0.80
	case contracts.ProfileHighAssurance:
		return 0.90
	default:
		return 0.85
	}
}

func retryBudget(p contracts.Profile) int {
	switch p {
	case contracts.ProfileFast:
		return 1
	case contracts.ProfileHighAssurance:
		return 3
	default:
		return 2
	}
}

const cleanStreakTurns = 8

// HandleTurn is the single entry point for a governed interaction. It
// always seals an EPACK record, including on refusal and failure paths.
func (e *Engine) HandleTurn(ctx context.Context, sess *Session, userText string) (TurnResult, error) {
	sess.InteractionCount++
	extra := map[string]any{}

	// Pending gate protocol runs before anything else sees the message.
	gate, err := HandlePendingGate(sess, userText)
	if err != nil {
		return TurnResult{}, err
	}
	for k, v := range gate.Meta {
		extra["gate_"+k] = v
	}
	if gate.Handled {
		return e.sealTurn(ctx, sess, userText, gate.Reply, "GATE", extra)
	}

	// Tool prefixes bypass generation entirely.
	if reply, handled := e.dispatchTool(userText, extra); handled {
		return e.sealTurn(ctx, sess, userText, reply, "TOOL", extra)
	}

	iv := BuildInputVector(e.screen, userText)
	extra["input_vector"] = map[string]any{
		"text_hash":         iv.TextHash,
		"safe":              iv.Safe,
		"stage1_ok":         iv.Safety.Stage1OK,
		"stage2_ok":         iv.Safety.Stage2OK,
		"stage2_score":      iv.Safety.Stage2Score,
		"domain":            string(iv.Domain),
		"complexity":        iv.Complexity,
		"requires_reflect":  iv.RequiresReflect,
		"requires_scaffold": iv.RequiresScaffold,
	}

	route, rule := RouteTurn(iv, sess)
	// A queued workflow step from a prior confirmation takes priority.
	if len(sess.WorkflowQueue) > 0 {
		step := sess.WorkflowQueue[0]
		sess.WorkflowQueue = sess.WorkflowQueue[1:]
		route = contracts.Route(step)
		rule = "workflow_queue"
	}
	extra["route"] = string(route)
	extra["route_rule"] = rule

	e.log.Debug("turn routed",
		slog.String("session_id", sess.SessionID),
		slog.Int("interaction", sess.InteractionCount),
		slog.String("route", string(route)),
		slog.String("rule", rule),
	)

	var reply string
	switch route {
	case contracts.RouteBound:
		reply = "BOUND: I can't help with that request. If you have a different goal, describe it and I'll help within policy."

	case contracts.RouteReflect:
		payload := gatePayload(iv, "Confirm the request intent before I proceed.")
		if err := SetPendingGate(sess, GateReflectConfirm, payload); err != nil {
			return TurnResult{}, err
		}
		if iv.RequiresScaffold {
			sess.WorkflowQueue = append(sess.WorkflowQueue, string(contracts.RouteScaffold))
		}
		sess.Trace(string(GateNone), string(GateReflectConfirm), "reflect_gate_set", nil)
		reply = RenderReflectPrompt(sess, summarizeIntent(iv))

	case contracts.RouteScaffold:
		payload := gatePayload(iv, "Approve the plan before I execute it.")
		if err := SetPendingGate(sess, GateScaffoldApprove, payload); err != nil {
			return TurnResult{}, err
		}
		sess.WorkflowQueue = append(sess.WorkflowQueue, string(contracts.RouteTDM))
		sess.Trace(string(GateNone), string(GateScaffoldApprove), "scaffold_gate_set", nil)
		reply = RenderScaffoldPrompt(sess, planStub(iv))

	case contracts.RouteDefer:
		reply = "DEFER: this looks high-stakes and the session has not yet earned high-stakes readiness. " +
			"Complete a verification step (or lower the stakes of the request) and try again."
		sess.TSV.AddEvidence(tsv.Evidence{
			Skill:    tsv.SkillConstraints,
			Type:     tsv.EvCompliance,
			Strength: tsv.E1,
			Details:  map[string]any{"positive": true},
		})

	default: // TDM
		reply, err = e.generateTDM(ctx, sess, userText, extra)
		if err != nil {
			return TurnResult{}, err
		}
	}

	res, err := e.sealTurn(ctx, sess, userText, reply, string(route), extra)
	if err != nil {
		return res, err
	}
	res.Route = route
	return res, nil
}

func (e *Engine) dispatchTool(userText string, extra map[string]any) (string, bool) {
	low := strings.TrimSpace(userText)
	switch {
	case strings.HasPrefix(strings.ToLower(low), "calc:"):
		expr := strings.TrimSpace(low[len("calc:"):])
		res := e.tools.Call("safe_calc", map[string]any{"expr": expr})
		extra["tool_records"] = []any{res}
		if !res.OK {
			reason, _ := res.Output["error"].(string)
			return fmt.Sprintf("CLARIFY: that expression could not be evaluated (%s). Use digits and + - * / ( ) only.", reason), true
		}
		val, _ := res.Output["value"].(float64)
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val)), true
		}
		return fmt.Sprintf("%g", val), true

	case strings.HasPrefix(strings.ToLower(low), "search:"):
		query := strings.TrimSpace(low[len("search:"):])
		res := e.tools.Call("web_search", map[string]any{"query": query})
		extra["tool_records"] = []any{res}
		if !res.OK {
			reason, _ := res.Output["error"].(string)
			return fmt.Sprintf("CLARIFY: search is unavailable (%s).", reason), true
		}
		summary, _ := res.Output["summary"].(string)
		return summary, true
	}
	return "", false
}

// generateTDM runs the validated generation loop: strict prompt, provider
// call, validator, hardened retries, deterministic CLARIFY fallback.
func (e *Engine) generateTDM(ctx context.Context, sess *Session, userText string, extra map[string]any) (string, error) {
	threshold := alignmentThreshold(sess.CurrentProfile)
	budget := retryBudget(sess.CurrentProfile)

	prompt := renderTDMPrompt(userText, "")
	failures := 0
	var attempts []map[string]any
	var finalText string

	for attempt := 0; attempt <= budget; attempt++ {
		raw, meta, err := e.generator.GenerateText(ctx, prompt, 0.2, 30*time.Second)
		if err != nil {
			failures++
			attempts = append(attempts, map[string]any{
				"attempt": attempt, "ok": false, "reason": "adapter_error: " + err.Error(),
			})
			if ctx.Err() != nil {
				break
			}
			prompt = renderTDMPrompt(userText, "The previous attempt failed with a provider error. Answer strictly in the required JSON shape.")
			continue
		}
		_ = meta

		v := e.validator.Validate(userText, raw, threshold)
		attempts = append(attempts, map[string]any{
			"attempt": attempt, "ok": v.OK, "reason": v.Reason, "score": v.Score,
		})
		if v.OK {
			finalText = extractAnswerText(raw)
			break
		}
		failures++
		prompt = renderTDMPrompt(userText, "Your previous output failed validation: "+v.Reason+". Fix exactly that and answer again.")
	}
	extra["validation_attempts"] = attempts

	// Profile escalation consults the failure shape of this turn.
	before := sess.CurrentProfile
	if failures >= 2 {
		sess.CurrentProfile = sess.CurrentProfile.Escalate()
		sess.LastFailureInteraction = sess.InteractionCount
	} else if failures > 0 {
		sess.LastFailureInteraction = sess.InteractionCount
	} else if sess.LastFailureInteraction > 0 &&
		sess.InteractionCount-sess.LastFailureInteraction >= cleanStreakTurns {
		sess.CurrentProfile = sess.CurrentProfile.Deescalate()
		sess.LastFailureInteraction = sess.InteractionCount
	}
	if before != sess.CurrentProfile {
		sess.Trace(string(before), string(sess.CurrentProfile), "profile_transition",
			map[string]any{"failures": failures})
		extra["profile_transition"] = map[string]any{"from": string(before), "to": string(sess.CurrentProfile)}
	}

	if finalText == "" {
		return "CLARIFY: I could not produce a validated answer for that request. " +
			"Restate the goal, the constraints, and the output format you need.", nil
	}

	sess.TSV.AddEvidence(tsv.Evidence{
		Skill:    tsv.SkillVerification,
		Type:     tsv.EvVerificationStep,
		Strength: tsv.E2,
	})
	return finalText, nil
}

// sealTurn builds the Decision Object, commits it into a new EPACK record
// and extends the session chain.
func (e *Engine) sealTurn(ctx context.Context, sess *Session, userText, reply, route string, extra map[string]any) (TurnResult, error) {
	manifest, err := CurrentManifest()
	if err != nil {
		return TurnResult{}, err
	}
	manifestHash, _ := manifest["manifest_hash"].(string)

	decision, decisionHash, err := contracts.BuildDecisionObject(contracts.DecisionParams{
		SessionID: sess.SessionID,
		Profile:   string(sess.CurrentProfile),
		Prompt:    userText,
		Routing: contracts.DecisionRouting{
			Mode:     route,
			Strategy: "Balanced",
		},
		PolicyID:      e.policyID,
		PolicyHash:    e.policyHash,
		AssistantText: reply,
		KernelVersion: KernelVersion,
		ManifestHash:  manifestHash,
		Now:           e.clock(),
	})
	if err != nil {
		return TurnResult{}, fmt.Errorf("kernel: build decision: %w", err)
	}

	decisionMap, err := toMap(decision)
	if err != nil {
		return TurnResult{}, err
	}
	payload := map[string]any{
		"interaction":     sess.InteractionCount,
		"route":           route,
		"profile":         string(sess.CurrentProfile),
		"user_text_hash":  stablehash.HashBytes([]byte(userText)),
		"reply_hash":      stablehash.HashBytes([]byte(reply)),
		"decision_hash":   decisionHash,
		"decision_object": decisionMap,
		"build_manifest":  manifest,
		"tsv":             sess.TSV.Snapshot(),
		"extra":           extra,
	}

	rec, err := epack.New(sess.EpackSeq+1, sess.EpackPrevHash, payload,
		epack.WithPayloadHash(decisionHash), epack.WithClock(e.clock))
	if err != nil {
		return TurnResult{}, fmt.Errorf("kernel: seal epack: %w", err)
	}
	sess.EpackSeq = rec.Seq
	sess.EpackPrevHash = rec.Hash
	sess.Epacks = append(sess.Epacks, rec)

	if e.persist && e.sink != nil {
		persisted := rec
		if e.redact {
			persisted = epack.RedactRecord(rec)
		}
		if err := e.sink.Append(ctx, sess.SessionID, persisted); err != nil {
			// The in-memory chain stays authoritative; persistence failure
			// is surfaced, not swallowed.
			e.log.Error("epack persist failed",
				slog.String("session_id", sess.SessionID),
				slog.Int("seq", rec.Seq),
				slog.Any("error", err),
			)
			return TurnResult{AssistantText: reply, Record: rec, Extra: extra},
				fmt.Errorf("kernel: persist epack: %w", err)
		}
	}
	return TurnResult{AssistantText: reply, Record: rec, Extra: extra}, nil
}

func gatePayload(iv contracts.InputVector, stub string) map[string]any {
	return map[string]any{
		"input_hash": iv.TextHash,
		"domain":     string(iv.Domain),
		"complexity": iv.Complexity,
		"plan_stub":  stub,
	}
}

func summarizeIntent(iv contracts.InputVector) string {
	text := iv.Text
	if len(text) > 240 {
		text = text[:240] + "…"
	}
	return "I understand you want: " + text
}

func planStub(iv contracts.InputVector) string {
	return fmt.Sprintf("Plan: handle a %s request of complexity %d in ordered steps, then deliver the validated result.",
		strings.ToLower(string(iv.Domain)), iv.Complexity)
}

func renderTDMPrompt(userText, hardening string) string {
	var b strings.Builder
	b.WriteString("Answer the user request. Respond with a single JSON object with exactly the keys ")
	b.WriteString(`{"text", "disclosure", "citations", "assumptions"}.` + "\n")
	b.WriteString("citations, when present, is a list of objects with required fields ")
	b.WriteString("{title, authors_or_org, year, source_type, evidence_strength, verification_status} ")
	b.WriteString("and optional fields {identifier, notes}.\n")
	if hardening != "" {
		b.WriteString("\n" + hardening + "\n")
	}
	b.WriteString("\nUser request:\n" + userText + "\n")
	return b.String()
}
