package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Span names for the governed pipeline.
const (
	SpanTurn           = "tek.turn"
	SpanConsensusStage = "tek.consensus.stage"
	SpanReplay         = "tek.replay"
	SpanRecoveryCycle  = "tek.recovery.cycle"
)

// Semantic convention attributes for kernel telemetry.
var (
	// Turn attributes
	AttrSessionID   = attribute.Key("tek.session.id")
	AttrInteraction = attribute.Key("tek.interaction")
	AttrRoute       = attribute.Key("tek.route")
	AttrDomain      = attribute.Key("tek.domain")
	AttrProfile     = attribute.Key("tek.profile")
	AttrStatus      = attribute.Key("tek.status")
	AttrGateAction  = attribute.Key("tek.gate.action")

	// Adapter attributes
	AttrProvider = attribute.Key("tek.provider")
	AttrModel    = attribute.Key("tek.model")

	// Consensus attributes
	AttrConsensusStage = attribute.Key("tek.consensus.stage")
	AttrConsensusScore = attribute.Key("tek.consensus.score")
	AttrValidatorCount = attribute.Key("tek.consensus.validators")

	// Resilience attributes
	AttrRecoveryPlan = attribute.Key("tek.recovery.plan")
	AttrBreakerState = attribute.Key("tek.breaker.state")
	AttrTSI          = attribute.Key("tek.tsi")
)

// TurnAttrs builds the standard attribute set for one turn.
func TurnAttrs(sessionID string, interaction int, route, profile string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrSessionID.String(sessionID),
		AttrInteraction.Int(interaction),
		AttrRoute.String(route),
		AttrProfile.String(profile),
	}
}

// AdapterAttrs builds the attribute set for a provider adapter call.
func AdapterAttrs(provider, model string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrProvider.String(provider),
		AttrModel.String(model),
	}
}

// ConsensusAttrs builds the attribute set for one consensus stage.
func ConsensusAttrs(stage string, score float64, validators int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrConsensusStage.String(stage),
		AttrConsensusScore.Float64(score),
		AttrValidatorCount.Int(validators),
	}
}

// RecoveryAttrs builds the attribute set for a recovery cycle.
func RecoveryAttrs(planID, breakerState string, tsi float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrRecoveryPlan.String(planID),
		AttrBreakerState.String(breakerState),
		AttrTSI.Float64(tsi),
	}
}

// SpanFromContext extracts the current span.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus records err on the current span when non-nil.
func SetSpanStatus(ctx context.Context, err error) {
	if err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
	}
}
