package safety

import "github.com/Beaconwise-Labs/tek/pkg/contracts"

// Screen runs both stages and folds the outcome into a SafetyVerdict.
// Stage 2 always runs even when stage 1 fails, so evidence payloads carry
// the full picture.
type Screen struct {
	stage2 *Stage2
}

// NewScreen builds the default screen with local deterministic embeddings.
func NewScreen(threshold float64) *Screen {
	return &Screen{stage2: NewStage2(LocalEmbedder{}, threshold)}
}

// Check screens text and returns the combined verdict.
func (s *Screen) Check(text string) contracts.SafetyVerdict {
	s1 := Stage1(text)
	s2 := s.stage2.Score(text)

	v := contracts.SafetyVerdict{
		Stage1OK:    s1.OK,
		Stage2OK:    s2.OK,
		Stage2Score: s2.Score,
	}
	if !s1.OK {
		v.Reasons = append(v.Reasons, s1.Reason)
	}
	if !s2.OK {
		v.Reasons = append(v.Reasons, "stage2_risk")
	}
	return v
}

// Meta returns stage-2 screen metadata for the given verdict.
func (s *Screen) Meta(v contracts.SafetyVerdict) map[string]any {
	return s.stage2.Meta(Stage2Result{OK: v.Stage2OK, Score: v.Stage2Score})
}
