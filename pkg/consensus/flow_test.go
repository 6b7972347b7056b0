package consensus

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Beaconwise-Labs/tek/pkg/ledger"
	"github.com/Beaconwise-Labs/tek/pkg/llm"
)

const disclaimer = "This is general information only and not professional advice. Consult a qualified expert."

func primaryJSON(t *testing.T, rid, epackID, answer string) string {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"run_id":             rid,
		"epack":              epackID,
		"aru":                ARUAnswer,
		"answer":             answer,
		"reasoning_trace":    []string{"step1"},
		"claims":             []any{},
		"overall_confidence": 0.8,
		"uncertainty_flags":  []string{},
		"next_step":          nil,
	})
	require.NoError(t, err)
	return string(b)
}

func synthJSON(t *testing.T, rid, epackID, answer string) string {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"run_id":             rid,
		"epack":              epackID,
		"aru":                ARUAnswer,
		"answer":             answer,
		"reasoning_trace":    []string{"merged"},
		"overall_confidence": 0.85,
	})
	require.NoError(t, err)
	return string(b)
}

// registryWith maps model names to prebuilt mock adapters.
func registryWith(adapters map[string]*llm.MockAdapter) *llm.Registry {
	r := llm.NewRegistry()
	r.Register("mock", func(provider, model string) (llm.Adapter, error) {
		if a, ok := adapters[model]; ok {
			return a, nil
		}
		return llm.NewMockAdapter(model), nil
	})
	return r
}

func fastConfig() Config {
	return PresetFast(DefaultPrompts, ModelSpec{Provider: "mock", Model: "m-primary"}, nil)
}

func TestSinglePassConsensusPasses(t *testing.T) {
	mock := llm.NewMockAdapter("m-primary",
		llm.WithResponses(primaryJSON(t, "run1", "ep1", "General info. "+disclaimer)))
	lg := ledger.New()
	o := NewOrchestrator(registryWith(map[string]*llm.MockAdapter{"m-primary": mock}), lg)

	res := o.Run(context.Background(), RunInput{
		UserQuery: "what is hypertension?",
		EpackID:   "ep1",
		RunID:     "run1",
		Config:    fastConfig(),
	})

	require.Equal(t, DecisionPass, res.Status)
	require.NotNil(t, res.Output)
	assert.Contains(t, res.Output.AnswerText(), "General info")
	assert.Equal(t, "run1", res.RunID)

	stages := lg.Stages("run1")
	assert.Contains(t, stages, "tecl.start")
	assert.Contains(t, stages, "tecl.primary.raw")
	assert.Contains(t, stages, "tecl.scope_gate.pass")
	require.NoError(t, lg.Verify("run1"))
}

func TestRepairLoopRecoversMalformedJSON(t *testing.T) {
	mock := llm.NewMockAdapter("m-primary", llm.WithResponses(
		"not json at all",
		primaryJSON(t, "run1", "ep1", "Fixed answer. "+disclaimer),
	))
	o := NewOrchestrator(registryWith(map[string]*llm.MockAdapter{"m-primary": mock}), ledger.New())

	res := o.Run(context.Background(), RunInput{
		UserQuery: "q", EpackID: "ep1", RunID: "run1", Config: fastConfig(),
	})
	require.Equal(t, DecisionPass, res.Status)
	assert.Equal(t, 2, mock.Calls())
}

func TestRepairBudgetExhaustedRefuses(t *testing.T) {
	mock := llm.NewMockAdapter("m-primary", llm.WithResponses(
		"garbage", "still garbage",
	))
	o := NewOrchestrator(registryWith(map[string]*llm.MockAdapter{"m-primary": mock}), ledger.New())

	cfg := fastConfig() // one repair attempt
	res := o.Run(context.Background(), RunInput{
		UserQuery: "q", EpackID: "ep1", RunID: "run1", Config: cfg,
	})
	require.Equal(t, DecisionRefuse, res.Status)
	assert.Contains(t, res.Gate, "parse_error")
	assert.Nil(t, res.Output)
}

func TestAnchorMismatchRefuses(t *testing.T) {
	mock := llm.NewMockAdapter("m-primary",
		llm.WithResponses(primaryJSON(t, "other-run", "ep1", "Answer. "+disclaimer)))
	o := NewOrchestrator(registryWith(map[string]*llm.MockAdapter{"m-primary": mock}), ledger.New())

	res := o.Run(context.Background(), RunInput{
		UserQuery: "q", EpackID: "ep1", RunID: "run1", Config: fastConfig(),
	})
	require.Equal(t, DecisionRefuse, res.Status)
	assert.Equal(t, "Anchor mismatch", res.Error)
	assert.Contains(t, res.Gate, "anchor_mismatch")
}

func TestScopeViolationRefusesPublicTier(t *testing.T) {
	mock := llm.NewMockAdapter("m-primary",
		llm.WithResponses(primaryJSON(t, "run1", "ep1", "Your diagnosis is clear. "+disclaimer)))
	lg := ledger.New()
	o := NewOrchestrator(registryWith(map[string]*llm.MockAdapter{"m-primary": mock}), lg)

	res := o.Run(context.Background(), RunInput{
		UserQuery: "q", EpackID: "ep1", RunID: "run1", Config: fastConfig(),
	})
	require.Equal(t, DecisionRefuse, res.Status)
	assert.Equal(t, "Scope gate refused output", res.Error)
	assert.Contains(t, lg.Stages("run1"), "tecl.scope_gate.violation")
	// The refused output is still returned for evidence sealing.
	require.NotNil(t, res.Output)
}

func TestScopeViolationRewritesMidTier(t *testing.T) {
	mock := llm.NewMockAdapter("m-primary", llm.WithResponses(
		primaryJSON(t, "run1", "ep1", "Your diagnosis is hypertension. "+disclaimer),
		primaryJSON(t, "run1", "ep1", "General blood-pressure information. "+disclaimer),
	))
	lg := ledger.New()
	o := NewOrchestrator(registryWith(map[string]*llm.MockAdapter{"m-primary": mock}), lg)

	v := VerificationContext{Verified: true, Role: "nurse", RoleLevel: 2}
	res := o.Run(context.Background(), RunInput{
		UserQuery: "q", EpackID: "ep1", RunID: "run1", Config: fastConfig(), Verification: &v,
	})
	require.Equal(t, DecisionPass, res.Status)
	assert.Equal(t, true, res.Gate["rewrite_attempted"])
	assert.Contains(t, lg.Stages("run1"), "tecl.rewrite.request")
	assert.Contains(t, res.Output.AnswerText(), "General blood-pressure")
}

func TestVerifiedProSeesFullDetail(t *testing.T) {
	mock := llm.NewMockAdapter("m-primary",
		llm.WithResponses(primaryJSON(t, "run1", "ep1", "The diagnosis and treatment plan are as follows.")))
	o := NewOrchestrator(registryWith(map[string]*llm.MockAdapter{"m-primary": mock}), ledger.New())

	v := VerificationContext{Verified: true, Role: "physician", RoleLevel: 3}
	res := o.Run(context.Background(), RunInput{
		UserQuery: "q", EpackID: "ep1", RunID: "run1", Config: fastConfig(), Verification: &v,
	})
	require.Equal(t, DecisionPass, res.Status)
}

func TestDebateFlowSynthesizes(t *testing.T) {
	defender := llm.NewMockAdapter("m-def",
		llm.WithResponses(primaryJSON(t, "run1", "ep1", "Defender answer. "+disclaimer)))
	critic := llm.NewMockAdapter("m-cri",
		llm.WithResponses(primaryJSON(t, "run1", "ep1", "Critic answer. "+disclaimer)))
	synth := llm.NewMockAdapter("m-syn",
		llm.WithResponses(synthJSON(t, "run1", "ep1", "Merged answer. "+disclaimer)))
	lg := ledger.New()
	o := NewOrchestrator(registryWith(map[string]*llm.MockAdapter{
		"m-def": defender, "m-cri": critic, "m-syn": synth,
	}), lg)

	cfg := PresetConsensus(DefaultPrompts, ModelSpec{Provider: "mock", Model: "m-primary"}, nil, &DebateConfig{
		DefenderModel:    ModelSpec{Provider: "mock", Model: "m-def"},
		CriticModel:      ModelSpec{Provider: "mock", Model: "m-cri"},
		SynthesizerModel: ModelSpec{Provider: "mock", Model: "m-syn"},
	})
	res := o.Run(context.Background(), RunInput{
		UserQuery: "q", EpackID: "ep1", RunID: "run1", Config: cfg,
	})

	require.Equal(t, DecisionPass, res.Status)
	assert.Equal(t, "Merged answer. "+disclaimer, res.Output.AnswerText())
	assert.Contains(t, res.Gate, "debate_models")

	stages := lg.Stages("run1")
	assert.Contains(t, stages, "tecl.debate.defender.raw")
	assert.Contains(t, stages, "tecl.debate.critic.raw")
	assert.Contains(t, stages, "tecl.synthesizer.raw")
	assert.Equal(t, 1, defender.Calls())
	assert.Equal(t, 1, critic.Calls())
	assert.Equal(t, 1, synth.Calls())
}

func TestRunAssignsRunIDWhenEmpty(t *testing.T) {
	mock := llm.NewMockAdapter("m-primary") // synthesizes echoing anchors
	o := NewOrchestrator(registryWith(map[string]*llm.MockAdapter{"m-primary": mock}), ledger.New())

	v := VerificationContext{Verified: true, Role: "physician", RoleLevel: 3}
	res := o.Run(context.Background(), RunInput{
		UserQuery: "q", EpackID: "ep1", Config: fastConfig(), Verification: &v,
	})
	require.Equal(t, DecisionPass, res.Status)
	assert.Len(t, res.RunID, 32)
}
