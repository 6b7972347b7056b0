package resilience

import (
	"math"
	"testing"
)

func TestMVIReplayStability(t *testing.T) {
	m := NewMVI(DefaultMVIConfig())
	runA := []ReplaySample{{true, 100}, {true, 100}, {false, 80}}
	runB := []ReplaySample{{true, 100}, {true, 100}, {false, 80}}
	score, details := m.CheckReplayStability(runA, runB)
	if score != 1.0 {
		t.Fatalf("score = %v, details = %v", score, details)
	}

	runB[1].GovernanceMatch = false
	score, details = m.CheckReplayStability(runA, runB)
	if score != round4(2.0/3.0) {
		t.Fatalf("score = %v, details = %v", score, details)
	}

	if score, _ := m.CheckReplayStability(nil, runB); score != 0.5 {
		t.Fatalf("empty input score = %v", score)
	}
}

func TestMVIRecoveryConsistency(t *testing.T) {
	m := NewMVI(DefaultMVIConfig())
	score, details := m.CheckRecoveryConsistency(testEngine(), degradedState(), testPlans(), 5)
	if score != 1.0 {
		t.Fatalf("deterministic engine scored %v: %v", score, details)
	}
	if score, _ := m.CheckRecoveryConsistency(testEngine(), degradedState(), nil, 5); score != 1.0 {
		t.Fatalf("no plans score = %v", score)
	}
}

func TestMVITSICoherence(t *testing.T) {
	m := NewMVI(DefaultMVIConfig())
	if score, _ := m.CheckTSICoherence([]float64{0.80, 0.78, 0.75, 0.74}); score != 1.0 {
		t.Fatalf("clean series score = %v", score)
	}
	if score, details := m.CheckTSICoherence([]float64{0.80, 0.30}); score == 1.0 {
		t.Fatalf("jump > 0.40 must be flagged: %v %v", score, details)
	}
	if score, _ := m.CheckTSICoherence([]float64{0.80, math.NaN()}); score == 1.0 {
		t.Fatal("NaN must be flagged")
	}
	if score, _ := m.CheckTSICoherence([]float64{1.4, 0.8}); score == 1.0 {
		t.Fatal("out-of-bounds must be flagged")
	}
	if score, _ := m.CheckTSICoherence(nil); score != 0.5 {
		t.Fatal("empty series scores neutral")
	}
}

func TestMVIComposite(t *testing.T) {
	m := NewMVI(DefaultMVIConfig())
	clean := []ReplaySample{{true, 100}, {true, 100}}
	res := m.Compute(ComputeInput{
		ReplayRunA: clean,
		ReplayRunB: clean,
		Engine:     testEngine(),
		State:      degradedState(),
		Plans:      testPlans(),
		TSIValues:  []float64{0.80, 0.78, 0.76},
	})
	if res.MVIScore != 1.0 || !res.Passed {
		t.Fatalf("result = %+v", res)
	}

	// Divergent replays push the composite below the pass threshold.
	dirty := []ReplaySample{{false, 60}, {false, 55}}
	res = m.Compute(ComputeInput{
		ReplayRunA: clean,
		ReplayRunB: dirty,
		Engine:     testEngine(),
		State:      degradedState(),
		Plans:      testPlans(),
		TSIValues:  []float64{0.80, 0.78, 0.76},
	})
	if res.ReplayStability != 0 {
		t.Fatalf("replay stability = %v", res.ReplayStability)
	}
	if res.MVIScore != 0.60 || res.Passed {
		t.Fatalf("result = %+v", res)
	}
}
