package governance

import (
	"math"
	"sort"
	"sync"
)

// GovernanceVersion tags dashboard payloads and proof bundles.
const GovernanceVersion = "beaconwise-v7.0"

// Metrics keeps rolling governance health counters. Safe for concurrent
// use.
type Metrics struct {
	mu sync.Mutex

	totalInteractions   int
	totalEpacks         int
	totalBound          int
	totalDefer          int
	totalReflect        int
	totalTDM            int
	totalValidationPass int
	totalValidationFail int
	totalScopePass      int
	totalScopeRefuse    int
	totalScopeRewrite   int

	latencies []float64

	anomalySignals     int
	criticalViolations int
}

// NewMetrics returns zeroed metrics.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// InteractionSample is one governed turn's contribution to the counters.
type InteractionSample struct {
	Route         string
	ValidationOK  bool
	ScopeDecision string
	LatencyMS     float64
}

// RecordInteraction folds a sample into the counters. The latency window
// is bounded; once it exceeds 1000 entries it is truncated to the most
// recent 500.
func (m *Metrics) RecordInteraction(s InteractionSample) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalInteractions++
	m.totalEpacks++

	switch s.Route {
	case "BOUND":
		m.totalBound++
	case "DEFER":
		m.totalDefer++
	case "REFLECT":
		m.totalReflect++
	default:
		m.totalTDM++
	}

	if s.ValidationOK {
		m.totalValidationPass++
	} else {
		m.totalValidationFail++
	}

	switch s.ScopeDecision {
	case "PASS":
		m.totalScopePass++
	case "REFUSE":
		m.totalScopeRefuse++
	case "REWRITE":
		m.totalScopeRewrite++
	}

	if s.LatencyMS > 0 {
		m.latencies = append(m.latencies, s.LatencyMS)
		if len(m.latencies) > 1000 {
			m.latencies = append([]float64{}, m.latencies[len(m.latencies)-500:]...)
		}
	}
}

// RecordAnomaly bumps the anomaly signal counter.
func (m *Metrics) RecordAnomaly() {
	m.mu.Lock()
	m.anomalySignals++
	m.mu.Unlock()
}

// RecordCriticalViolation bumps the constitutional violation counter.
func (m *Metrics) RecordCriticalViolation() {
	m.mu.Lock()
	m.criticalViolations++
	m.mu.Unlock()
}

// AuditCompleteness is the ratio of EPACKs to interactions; healthy
// systems hold it at 1.0.
func (m *Metrics) AuditCompleteness() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.auditCompleteness()
}

func (m *Metrics) auditCompleteness() float64 {
	if m.totalInteractions == 0 {
		return 1.0
	}
	return float64(m.totalEpacks) / float64(m.totalInteractions)
}

func (m *Metrics) safetyBlockRate() float64 {
	if m.totalInteractions == 0 {
		return 0.0
	}
	return float64(m.totalBound) / float64(m.totalInteractions)
}

func (m *Metrics) validationPassRate() float64 {
	total := m.totalValidationPass + m.totalValidationFail
	if total == 0 {
		return 1.0
	}
	return float64(m.totalValidationPass) / float64(total)
}

func (m *Metrics) avgLatencyMS() float64 {
	if len(m.latencies) == 0 {
		return 0.0
	}
	var sum float64
	for _, l := range m.latencies {
		sum += l
	}
	return sum / float64(len(m.latencies))
}

func (m *Metrics) p95LatencyMS() float64 {
	if len(m.latencies) == 0 {
		return 0.0
	}
	sorted := append([]float64{}, m.latencies...)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted)) * 0.95)
	if idx > len(sorted)-1 {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Dashboard returns the aggregate health view served by GET /metrics.
func (m *Metrics) Dashboard() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	return map[string]any{
		"governance_version":   GovernanceVersion,
		"total_interactions":   m.totalInteractions,
		"audit_completeness":   m.auditCompleteness(),
		"safety_block_rate":    m.safetyBlockRate(),
		"validation_pass_rate": m.validationPassRate(),
		"routing_distribution": map[string]any{
			"BOUND":   m.totalBound,
			"DEFER":   m.totalDefer,
			"REFLECT": m.totalReflect,
			"TDM":     m.totalTDM,
		},
		"scope_distribution": map[string]any{
			"PASS":    m.totalScopePass,
			"REFUSE":  m.totalScopeRefuse,
			"REWRITE": m.totalScopeRewrite,
		},
		"latency": map[string]any{
			"avg_ms": round1(m.avgLatencyMS()),
			"p95_ms": round1(m.p95LatencyMS()),
		},
		"anomaly_signals":     m.anomalySignals,
		"critical_violations": m.criticalViolations,
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
