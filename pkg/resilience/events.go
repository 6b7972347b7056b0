package resilience

import (
	"github.com/Beaconwise-Labs/tek/pkg/ledger"
	"github.com/Beaconwise-Labs/tek/pkg/stablehash"
)

// Recovery stage-event names. Every state transition in the resilience
// plane lands in the same hash-chained ledger the orchestrator uses.
const (
	StageRecoveryTriggered = "RECOVERY_TRIGGERED"
	StageRecoveryDecision  = "RECOVERY_DECISION"
	StageRecoveryApplied   = "RECOVERY_APPLIED"
	StageRecoveryVerified  = "RECOVERY_VERIFIED"
	StageRecoveryRollback  = "RECOVERY_ROLLBACK"
	StageCircuitBreaker    = "CIRCUIT_BREAKER"
)

// EventEmitter writes recovery audit events for one (run, epack) pair.
type EventEmitter struct {
	Ledger  *ledger.Ledger
	RunID   string
	EpackID string
}

func (e *EventEmitter) emit(stage string, payload map[string]any) error {
	_, err := e.Ledger.Emit(e.RunID, e.EpackID, stage, payload)
	return err
}

// Triggered records that a recovery trigger condition fired.
func (e *EventEmitter) Triggered(reason string, tsiBefore, tsiForecast float64) error {
	return e.emit(StageRecoveryTriggered, map[string]any{
		"reason":       reason,
		"tsi_before":   tsiBefore,
		"tsi_forecast": tsiForecast,
	})
}

// Decided records a full recovery decision, committing to the evaluated
// plan set by hash so the event stays compact.
func (e *EventEmitter) Decided(decision Decision) error {
	evaluatedHash, err := stablehash.Hash(decision.Evaluated)
	if err != nil {
		return err
	}
	payload := map[string]any{
		"decision_id":    decision.DecisionID,
		"timestamp_ms":   decision.TimestampMS,
		"reason":         decision.Reason,
		"tsi_before":     decision.TSIBefore,
		"tsi_forecast":   decision.TSIForecast,
		"evaluated_hash": evaluatedHash,
	}
	if decision.Chosen != nil {
		payload["chosen"] = decision.Chosen.Name
	}
	return e.emit(StageRecoveryDecision, payload)
}

// Applied records that a routing patch went live.
func (e *EventEmitter) Applied(planName string, routingPatch map[string]any) error {
	return e.emit(StageRecoveryApplied, map[string]any{
		"plan_name":     planName,
		"routing_patch": routingPatch,
	})
}

// Verified records a post-recovery verification result.
func (e *EventEmitter) Verified(result VerificationResult) error {
	return e.emit(StageRecoveryVerified, map[string]any{
		"plan_name":          result.PlanName,
		"samples_checked":    result.SamplesChecked,
		"tsi_before":         result.TSIBefore,
		"tsi_after":          result.TSIAfter,
		"tsi_improved":       result.TSIImproved,
		"mvi_passed":         result.MVIPassed,
		"recommend_rollback": result.RecommendRollback,
		"reasons":            result.Reasons,
	})
}

// Rollback records that verification failed hard enough to unwind.
func (e *EventEmitter) Rollback(planName string, reasons []string) error {
	return e.emit(StageRecoveryRollback, map[string]any{
		"plan_name": planName,
		"reasons":   reasons,
	})
}

// BreakerChanged records a circuit breaker state transition.
func (e *EventEmitter) BreakerChanged(state PlanBreakerState) error {
	return e.emit(StageCircuitBreaker, map[string]any{
		"plan_name":            state.PlanName,
		"breaker_state":        state.State,
		"consecutive_failures": state.ConsecutiveFailures,
	})
}
