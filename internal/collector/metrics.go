package collector

import (
	"sort"
	"time"

	"lockstep/internal/core"
)

// Metrics contains aggregated run results.
type Metrics struct {
	TotalOperations int                                    `json:"totalOperations"`
	SuccessCount    int                                    `json:"successCount"`
	FailureCount    int                                    `json:"failureCount"`
	SuccessRate     float64                                `json:"successRate"`
	OpsPerSec       float64                                `json:"opsPerSec"`
	TotalWeight     int64                                  `json:"totalWeight"`
	TestDuration    time.Duration                          `json:"testDuration"`
	Duration        DurationMetrics                        `json:"durations"`
	Operations      map[string]*OperationMetrics           `json:"operations"`
	Phases          map[core.PhaseNumber]*OperationMetrics `json:"phases"`
}

// DurationMetrics contains latency statistics.
type DurationMetrics struct {
	Min time.Duration `json:"min"`
	Max time.Duration `json:"max"`
	Avg time.Duration `json:"avg"`
	P50 time.Duration `json:"p50"`
	P90 time.Duration `json:"p90"`
	P95 time.Duration `json:"p95"`
	P99 time.Duration `json:"p99"`
}

// OperationMetrics contains statistics for one group of operations, either
// one actor operation or one phase.
type OperationMetrics struct {
	Count    int             `json:"count"`
	Success  int             `json:"success"`
	Failed   int             `json:"failed"`
	Weight   int64           `json:"weight"`
	Duration DurationMetrics `json:"durations"`
}

// SuccessRate returns the share of successful operations in percent.
func (m *OperationMetrics) SuccessRate() float64 {
	if m.Count == 0 {
		return 0
	}
	return float64(m.Success) / float64(m.Count) * 100
}

// OperationKey names the group an operation record is aggregated under.
func OperationKey(op core.Operation) string {
	if op.Actor == "" {
		return op.Name
	}
	return op.Actor + "." + op.Name
}

// ComputePercentile calculates the percentile value from a sorted slice of durations.
// The percentile p should be between 0 and 1 (e.g., 0.95 for p95).
// The slice must be sorted in ascending order.
func ComputePercentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}

	// Use the "nearest rank" method
	index := int(float64(len(sorted)-1) * p)
	return sorted[index]
}

// ComputeDurationMetrics calculates all duration statistics from a slice of durations.
func ComputeDurationMetrics(durations []time.Duration) DurationMetrics {
	if len(durations) == 0 {
		return DurationMetrics{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var total time.Duration
	for _, d := range sorted {
		total += d
	}

	return DurationMetrics{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: total / time.Duration(len(sorted)),
		P50: ComputePercentile(sorted, 0.50),
		P90: ComputePercentile(sorted, 0.90),
		P95: ComputePercentile(sorted, 0.95),
		P99: ComputePercentile(sorted, 0.99),
	}
}
