package collector

import (
	"time"

	"lockstep/internal/core"
)

// ComputeMetrics computes metrics from operation records. Pure function, no side effects.
func ComputeMetrics(ops []core.Operation, testDuration time.Duration) *Metrics {
	m := &Metrics{
		Operations:   make(map[string]*OperationMetrics),
		Phases:       make(map[core.PhaseNumber]*OperationMetrics),
		TestDuration: testDuration,
	}

	if len(ops) == 0 {
		return m
	}

	allDurations := make([]time.Duration, 0, len(ops))
	opDurations := make(map[string][]time.Duration)
	phaseDurations := make(map[core.PhaseNumber][]time.Duration)

	for _, op := range ops {
		m.TotalOperations++
		m.TotalWeight += op.Weight
		if op.Success {
			m.SuccessCount++
		} else {
			m.FailureCount++
		}
		allDurations = append(allDurations, op.Duration)

		key := OperationKey(op)
		if _, exists := m.Operations[key]; !exists {
			m.Operations[key] = &OperationMetrics{}
		}
		m.Operations[key].add(op)
		opDurations[key] = append(opDurations[key], op.Duration)

		if _, exists := m.Phases[op.Phase]; !exists {
			m.Phases[op.Phase] = &OperationMetrics{}
		}
		m.Phases[op.Phase].add(op)
		phaseDurations[op.Phase] = append(phaseDurations[op.Phase], op.Duration)
	}

	m.SuccessRate = float64(m.SuccessCount) / float64(m.TotalOperations) * 100
	if m.TestDuration > 0 {
		m.OpsPerSec = float64(m.TotalOperations) / m.TestDuration.Seconds()
	}

	m.Duration = ComputeDurationMetrics(allDurations)
	for key, durations := range opDurations {
		m.Operations[key].Duration = ComputeDurationMetrics(durations)
	}
	for phase, durations := range phaseDurations {
		m.Phases[phase].Duration = ComputeDurationMetrics(durations)
	}

	return m
}

func (m *OperationMetrics) add(op core.Operation) {
	m.Count++
	m.Weight += op.Weight
	if op.Success {
		m.Success++
	} else {
		m.Failed++
	}
}
