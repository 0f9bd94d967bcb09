package collector

import (
	"testing"
	"time"

	"lockstep/internal/core"
)

func TestComputeMetrics_Empty(t *testing.T) {
	m := ComputeMetrics(nil, 10*time.Second)

	if m.TotalOperations != 0 {
		t.Errorf("expected 0 operations, got %d", m.TotalOperations)
	}
	if m.TestDuration != 10*time.Second {
		t.Errorf("expected 10s duration, got %v", m.TestDuration)
	}
	if m.Operations == nil || m.Phases == nil {
		t.Error("expected maps to be initialized")
	}
}

func TestComputeMetrics_BasicCounts(t *testing.T) {
	ops := []core.Operation{
		{Actor: "A", Name: "op", Success: true, Duration: 10 * time.Millisecond, Weight: 100},
		{Actor: "A", Name: "op", Success: true, Duration: 20 * time.Millisecond, Weight: 50},
		{Actor: "A", Name: "op", Success: false, Duration: 30 * time.Millisecond},
	}

	m := ComputeMetrics(ops, time.Second)

	if m.TotalOperations != 3 || m.SuccessCount != 2 || m.FailureCount != 1 {
		t.Errorf("unexpected counts: total=%d success=%d failure=%d",
			m.TotalOperations, m.SuccessCount, m.FailureCount)
	}
	if m.TotalWeight != 150 {
		t.Errorf("expected weight 150, got %d", m.TotalWeight)
	}
	if m.Duration.Avg != 20*time.Millisecond {
		t.Errorf("expected avg 20ms, got %v", m.Duration.Avg)
	}
}

func TestComputeMetrics_SuccessRate(t *testing.T) {
	var ops []core.Operation
	for i := 0; i < 7; i++ {
		ops = append(ops, core.Operation{Name: "op", Success: true, Duration: time.Millisecond})
	}
	for i := 0; i < 3; i++ {
		ops = append(ops, core.Operation{Name: "op", Success: false, Duration: time.Millisecond})
	}

	m := ComputeMetrics(ops, time.Second)

	if m.SuccessRate != 70.0 {
		t.Errorf("expected 70%% success rate, got %.1f%%", m.SuccessRate)
	}
}

func TestComputeMetrics_OpsPerSec(t *testing.T) {
	ops := make([]core.Operation, 100)
	for i := range ops {
		ops[i] = core.Operation{Name: "op", Success: true, Duration: time.Millisecond}
	}

	m := ComputeMetrics(ops, 10*time.Second)

	if m.OpsPerSec != 10.0 {
		t.Errorf("expected 10.0 ops/sec, got %.1f", m.OpsPerSec)
	}
}

func TestComputeMetrics_GroupsByOperationAndPhase(t *testing.T) {
	ops := []core.Operation{
		{Actor: "Loader", Name: "insert", Phase: 0, Success: true, Duration: 100 * time.Millisecond},
		{Actor: "Loader", Name: "insert", Phase: 0, Success: true, Duration: 150 * time.Millisecond},
		{Actor: "Reader", Name: "find", Phase: 1, Success: true, Duration: 200 * time.Millisecond},
		{Actor: "Reader", Name: "find", Phase: 1, Success: false, Duration: 50 * time.Millisecond},
		{Name: "bare", Phase: 1, Success: true},
	}

	m := ComputeMetrics(ops, time.Second)

	tests := []struct {
		key   string
		count int
	}{
		{"Loader.insert", 2},
		{"Reader.find", 2},
		{"bare", 1},
	}
	for _, tt := range tests {
		om, ok := m.Operations[tt.key]
		if !ok {
			t.Errorf("missing group %q", tt.key)
			continue
		}
		if om.Count != tt.count {
			t.Errorf("%s: expected %d, got %d", tt.key, tt.count, om.Count)
		}
	}

	if m.Phases[0].Count != 2 || m.Phases[1].Count != 3 {
		t.Errorf("unexpected phase counts: %d, %d", m.Phases[0].Count, m.Phases[1].Count)
	}
	if m.Phases[1].Failed != 1 {
		t.Errorf("expected 1 failure in phase 1, got %d", m.Phases[1].Failed)
	}
	if m.Operations["Loader.insert"].Duration.Max != 150*time.Millisecond {
		t.Errorf("expected Loader.insert max 150ms, got %v", m.Operations["Loader.insert"].Duration.Max)
	}
}

func TestOperationMetrics_SuccessRate(t *testing.T) {
	if rate := (&OperationMetrics{}).SuccessRate(); rate != 0 {
		t.Errorf("expected 0 for empty group, got %f", rate)
	}
	if rate := (&OperationMetrics{Count: 4, Success: 3}).SuccessRate(); rate != 75 {
		t.Errorf("expected 75, got %f", rate)
	}
}

func TestComputePercentile(t *testing.T) {
	durations := make([]time.Duration, 10)
	for i := range durations {
		durations[i] = time.Duration((i+1)*10) * time.Millisecond
	}

	tests := []struct {
		percentile float64
		expected   time.Duration
	}{
		{-0.5, 10 * time.Millisecond},
		{0.0, 10 * time.Millisecond},
		{0.50, 50 * time.Millisecond},
		{0.90, 90 * time.Millisecond},
		{1.0, 100 * time.Millisecond},
		{1.5, 100 * time.Millisecond},
	}

	for _, tt := range tests {
		if got := ComputePercentile(durations, tt.percentile); got != tt.expected {
			t.Errorf("p%.0f: expected %v, got %v", tt.percentile*100, tt.expected, got)
		}
	}

	if got := ComputePercentile(nil, 0.5); got != 0 {
		t.Errorf("expected 0 for empty slice, got %v", got)
	}
	if got := ComputePercentile([]time.Duration{7}, 0.99); got != 7 {
		t.Errorf("expected single value, got %v", got)
	}
}

func TestComputeDurationMetrics_Unsorted(t *testing.T) {
	durations := []time.Duration{
		50 * time.Millisecond,
		10 * time.Millisecond,
		30 * time.Millisecond,
	}

	result := ComputeDurationMetrics(durations)

	if result.Min != 10*time.Millisecond || result.Max != 50*time.Millisecond {
		t.Errorf("unexpected min/max: %v/%v", result.Min, result.Max)
	}
	if result.Avg != 30*time.Millisecond {
		t.Errorf("expected avg 30ms, got %v", result.Avg)
	}
	if durations[0] != 50*time.Millisecond {
		t.Error("input slice must not be reordered")
	}
}
