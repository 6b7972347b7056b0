package resilience

import (
	"fmt"
	"math"
	"sort"
)

// MVIResult is the meta-validation verdict over the governance pipeline
// itself: is the validator behaving deterministically and coherently.
type MVIResult struct {
	MVIScore            float64  `json:"mvi_score"`
	ReplayStability     float64  `json:"replay_stability"`
	RecoveryConsistency float64  `json:"recovery_consistency"`
	TSICoherence        float64  `json:"tsi_coherence"`
	Passed              bool     `json:"passed"`
	Details             []string `json:"details"`
}

// MVIConfig holds the composite weights and pass threshold.
type MVIConfig struct {
	PassThreshold   float64 `json:"pass_threshold"`
	ReplayWeight    float64 `json:"replay_weight"`
	RecoveryWeight  float64 `json:"recovery_weight"`
	CoherenceWeight float64 `json:"coherence_weight"`
}

// DefaultMVIConfig is the production weighting.
func DefaultMVIConfig() MVIConfig {
	return MVIConfig{PassThreshold: 0.80, ReplayWeight: 0.40, RecoveryWeight: 0.35, CoherenceWeight: 0.25}
}

// MVI computes the meta-validation index from replay results, the
// recovery engine, and TSI sample sequences.
type MVI struct {
	cfg MVIConfig
}

// NewMVI builds a meta-validation index calculator.
func NewMVI(cfg MVIConfig) *MVI {
	if cfg.PassThreshold == 0 {
		cfg = DefaultMVIConfig()
	}
	return &MVI{cfg: cfg}
}

// CheckReplayStability compares two independent replay passes over the
// same chain: each record must agree on governance match and determinism
// index. Empty inputs score a neutral 0.5.
func (m *MVI) CheckReplayStability(runA, runB []ReplaySample) (float64, []string) {
	if len(runA) == 0 || len(runB) == 0 {
		return 0.5, []string{"replay_stability:insufficient_data"}
	}
	var details []string
	n := len(runA)
	if len(runB) < n {
		n = len(runB)
	}
	matches := 0
	for i := 0; i < n; i++ {
		if runA[i].GovernanceMatch == runB[i].GovernanceMatch &&
			math.Abs(runA[i].DeterminismIndex-runB[i].DeterminismIndex) < 0.01 {
			matches++
		} else {
			details = append(details, fmt.Sprintf("replay_stability:divergence_at_record_%d", i))
		}
	}
	score := float64(matches) / float64(n)
	if score >= 1.0 {
		details = append(details, "replay_stability:perfect")
	}
	return round4(score), details
}

// CheckRecoveryConsistency runs the engine numTrials times with the same
// inputs at a fixed timestamp. A deterministic engine always picks the
// same plan; the score degrades with the number of distinct choices.
func (m *MVI) CheckRecoveryConsistency(engine *Engine, state State, plans []Plan, numTrials int) (float64, []string) {
	if len(plans) == 0 {
		return 1.0, []string{"recovery_consistency:no_plans"}
	}
	if numTrials <= 0 {
		numTrials = 5
	}
	unique := map[string]bool{}
	first := ""
	for i := 0; i < numTrials; i++ {
		decision := engine.Decide(state, plans, DecideOptions{NowMS: 1000000})
		name := ""
		if decision.Chosen != nil {
			name = decision.Chosen.Name
		}
		if i == 0 {
			first = name
		}
		unique[name] = true
	}
	if len(unique) == 1 {
		return 1.0, []string{"recovery_consistency:deterministic:always=" + first}
	}
	names := make([]string, 0, len(unique))
	for n := range unique {
		names = append(names, n)
	}
	sort.Strings(names)
	return round4(1.0 / float64(len(unique))),
		[]string{fmt.Sprintf("recovery_consistency:NON_DETERMINISTIC:choices=%v", names)}
}

// CheckTSICoherence validates a TSI sample sequence: bounded in [0,1],
// no NaN or infinity, no jump larger than 0.40 between adjacent samples.
func (m *MVI) CheckTSICoherence(values []float64) (float64, []string) {
	if len(values) == 0 {
		return 0.5, []string{"tsi_coherence:no_data"}
	}
	var details []string
	issues := 0
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			issues++
			details = append(details, fmt.Sprintf("tsi_coherence:nan_or_inf_at_%d", i))
			continue
		}
		if v < 0 || v > 1 {
			issues++
			details = append(details, fmt.Sprintf("tsi_coherence:out_of_bounds_at_%d:%g", i, v))
		}
	}
	for i := 1; i < len(values); i++ {
		if math.Abs(values[i]-values[i-1]) > 0.40 {
			issues++
			details = append(details, fmt.Sprintf("tsi_coherence:impossible_jump_at_%d:%.3f->%.3f", i, values[i-1], values[i]))
		}
	}

	// Issue budget counts data points plus transitions.
	n := len(values) + max(0, len(values)-1)
	score := math.Max(0, 1.0-float64(issues)/float64(max(1, n)))
	if score >= 1.0 {
		details = append(details, "tsi_coherence:clean")
	}
	return round4(score), details
}

// ComputeInput bundles the optional inputs to Compute; absent parts
// score neutral or are skipped.
type ComputeInput struct {
	ReplayRunA []ReplaySample
	ReplayRunB []ReplaySample
	Engine     *Engine
	State      State
	Plans      []Plan
	TSIValues  []float64
}

// Compute produces the weighted composite MVI score.
func (m *MVI) Compute(in ComputeInput) MVIResult {
	var details []string

	replayScore, d := m.CheckReplayStability(in.ReplayRunA, in.ReplayRunB)
	details = append(details, d...)

	recoveryScore := 1.0
	if in.Engine != nil && len(in.Plans) > 0 {
		recoveryScore, d = m.CheckRecoveryConsistency(in.Engine, in.State, in.Plans, 5)
	} else {
		d = []string{"recovery_consistency:skipped_no_engine"}
	}
	details = append(details, d...)

	coherenceScore, d := m.CheckTSICoherence(in.TSIValues)
	details = append(details, d...)

	score := round4(m.cfg.ReplayWeight*replayScore +
		m.cfg.RecoveryWeight*recoveryScore +
		m.cfg.CoherenceWeight*coherenceScore)

	return MVIResult{
		MVIScore:            score,
		ReplayStability:     replayScore,
		RecoveryConsistency: recoveryScore,
		TSICoherence:        coherenceScore,
		Passed:              score >= m.cfg.PassThreshold,
		Details:             details,
	}
}
