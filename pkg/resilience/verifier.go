package resilience

import (
	"fmt"
	"math"
)

// VerificationConfig tunes post-recovery verification.
type VerificationConfig struct {
	ReplaySamples     int     `json:"replay_samples"`
	MVICheck          bool    `json:"mvi_check"`
	MinTSIImprovement float64 `json:"min_tsi_improvement"`
	MaxTSIDegradation float64 `json:"max_tsi_degradation"`
}

// DefaultVerificationConfig is the production verification policy.
func DefaultVerificationConfig() VerificationConfig {
	return VerificationConfig{ReplaySamples: 3, MVICheck: true, MinTSIImprovement: 0.02, MaxTSIDegradation: 0.05}
}

// ReplaySample is the slice of a replay result the verifier looks at.
type ReplaySample struct {
	GovernanceMatch  bool    `json:"governance_match"`
	DeterminismIndex float64 `json:"determinism_index"`
}

// VerificationResult reports whether a recovery action actually helped.
type VerificationResult struct {
	PlanName          string   `json:"plan_name"`
	SamplesChecked    int      `json:"samples_checked"`
	TSIBefore         float64  `json:"tsi_before"`
	TSIAfter          float64  `json:"tsi_after"`
	TSIImproved       bool     `json:"tsi_improved"`
	MVIPassed         bool     `json:"mvi_passed"`
	RecommendRollback bool     `json:"recommend_rollback"`
	Reasons           []string `json:"reasons"`
}

// Verifier closes the recovery loop: after a routing patch is live,
// check that trust actually recovered and recommend rollback if not.
type Verifier struct {
	cfg     VerificationConfig
	targets Targets
}

// NewVerifier builds a post-recovery verifier.
func NewVerifier(cfg VerificationConfig, targets Targets) *Verifier {
	if cfg.MinTSIImprovement == 0 {
		cfg.MinTSIImprovement = DefaultVerificationConfig().MinTSIImprovement
	}
	if cfg.MaxTSIDegradation == 0 {
		cfg.MaxTSIDegradation = DefaultVerificationConfig().MaxTSIDegradation
	}
	return &Verifier{cfg: cfg, targets: targets}
}

// Verify compares trust before and after a plan was applied and, when
// replay samples are supplied, requires every sample to match its
// original governance verdict.
func (v *Verifier) Verify(plan Plan, tsiBefore, tsiAfter float64, samples []ReplaySample) VerificationResult {
	var reasons []string
	improved := false
	mviPassed := true
	rollback := false

	delta := tsiAfter - tsiBefore
	switch {
	case delta >= v.cfg.MinTSIImprovement:
		improved = true
	case delta < 0:
		reasons = append(reasons, fmt.Sprintf("tsi_degraded:%+.4f", delta))
		if math.Abs(delta) >= v.cfg.MaxTSIDegradation {
			rollback = true
			reasons = append(reasons, "rollback:tsi_degradation_exceeds_threshold")
		}
	default:
		reasons = append(reasons, fmt.Sprintf("tsi_flat:delta=%+.4f<min_improvement=%g", delta, v.cfg.MinTSIImprovement))
	}

	if tsiAfter < v.targets.TSICritical {
		reasons = append(reasons, fmt.Sprintf("tsi_still_critical:%.3f<%g", tsiAfter, v.targets.TSICritical))
		rollback = true
	}

	samplesChecked := 0
	if v.cfg.MVICheck && len(samples) > 0 {
		samplesChecked = len(samples)
		mismatches := 0
		for _, s := range samples {
			if !s.GovernanceMatch {
				mismatches++
			}
		}
		if mismatches > 0 {
			mviPassed = false
			rollback = true
			reasons = append(reasons, fmt.Sprintf("mvi_failed:%d/%d_governance_mismatches", mismatches, samplesChecked))
		}
	}

	if len(reasons) == 0 {
		reasons = append(reasons, "recovery_verified_ok")
	}

	return VerificationResult{
		PlanName:          plan.Name,
		SamplesChecked:    samplesChecked,
		TSIBefore:         tsiBefore,
		TSIAfter:          tsiAfter,
		TSIImproved:       improved,
		MVIPassed:         mviPassed,
		RecommendRollback: rollback,
		Reasons:           reasons,
	}
}
