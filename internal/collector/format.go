package collector

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"lockstep/internal/core"
)

// FormatText writes metrics in human-readable format.
func FormatText(w io.Writer, m *Metrics, thresholds *ThresholdResults) {
	if m.TotalOperations == 0 {
		fmt.Fprintln(w, "No operations recorded")
		return
	}

	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Lockstep - Workload Results")
	fmt.Fprintln(w, "===========================")
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Duration:         %v\n", m.TestDuration.Round(time.Millisecond))
	fmt.Fprintf(w, "Total Operations: %s\n", formatNumber(m.TotalOperations))
	fmt.Fprintf(w, "Success Rate:     %.1f%% (%s / %s)\n",
		m.SuccessRate, formatNumber(m.SuccessCount), formatNumber(m.TotalOperations))
	fmt.Fprintf(w, "Operations/sec:   %.1f\n", m.OpsPerSec)
	if m.TotalWeight > 0 {
		fmt.Fprintf(w, "Total Weight:     %d\n", m.TotalWeight)
	}
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Latency:")
	fmt.Fprintf(w, "  Min:    %s\n", FormatDuration(m.Duration.Min))
	fmt.Fprintf(w, "  Avg:    %s\n", FormatDuration(m.Duration.Avg))
	fmt.Fprintf(w, "  P50:    %s\n", FormatDuration(m.Duration.P50))
	fmt.Fprintf(w, "  P90:    %s\n", FormatDuration(m.Duration.P90))
	fmt.Fprintf(w, "  P95:    %s\n", FormatDuration(m.Duration.P95))
	fmt.Fprintf(w, "  P99:    %s\n", FormatDuration(m.Duration.P99))
	fmt.Fprintf(w, "  Max:    %s\n", FormatDuration(m.Duration.Max))
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "By Operation:")
	for _, key := range sortedKeys(m.Operations) {
		om := m.Operations[key]
		fmt.Fprintf(w, "  %-25s %s ops   failed=%d  avg=%s  p95=%s  p99=%s\n",
			key, formatNumber(om.Count), om.Failed,
			FormatDuration(om.Duration.Avg),
			FormatDuration(om.Duration.P95),
			FormatDuration(om.Duration.P99))
	}
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "By Phase:")
	for _, phase := range sortedPhases(m.Phases) {
		pm := m.Phases[phase]
		fmt.Fprintf(w, "  phase %-3d %s ops   failed=%d  avg=%s  p95=%s\n",
			phase, formatNumber(pm.Count), pm.Failed,
			FormatDuration(pm.Duration.Avg),
			FormatDuration(pm.Duration.P95))
	}

	if thresholds != nil && len(thresholds.Results) > 0 {
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, "Thresholds:")
		for _, result := range thresholds.Results {
			symbol := "✓"
			if !result.Passed {
				symbol = "✗"
			}
			if result.Comparison == "" {
				fmt.Fprintf(w, "  %s %s: %s (actual: %s)\n",
					symbol, result.Name, result.Threshold, result.Actual)
				continue
			}
			fmt.Fprintf(w, "  %s %s %s %s (actual: %s)\n",
				symbol, result.Name, result.Comparison, result.Threshold, result.Actual)
		}
	}
}

// FormatJSON writes metrics in JSON format.
func FormatJSON(w io.Writer, m *Metrics, thresholds *ThresholdResults) error {
	output := struct {
		Duration        string                      `json:"duration"`
		TotalOperations int                         `json:"totalOperations"`
		SuccessCount    int                         `json:"successCount"`
		FailureCount    int                         `json:"failureCount"`
		SuccessRate     float64                     `json:"successRate"`
		OpsPerSec       float64                     `json:"opsPerSec"`
		TotalWeight     int64                       `json:"totalWeight"`
		Durations       jsonDurationMetrics         `json:"durations"`
		Operations      map[string]jsonGroupMetrics `json:"operations"`
		Phases          map[string]jsonGroupMetrics `json:"phases"`
		Thresholds      *ThresholdResults           `json:"thresholds,omitempty"`
	}{
		Duration:        m.TestDuration.Round(time.Millisecond).String(),
		TotalOperations: m.TotalOperations,
		SuccessCount:    m.SuccessCount,
		FailureCount:    m.FailureCount,
		SuccessRate:     m.SuccessRate,
		OpsPerSec:       m.OpsPerSec,
		TotalWeight:     m.TotalWeight,
		Durations:       toJSONDurationMetrics(m.Duration),
		Operations:      make(map[string]jsonGroupMetrics),
		Phases:          make(map[string]jsonGroupMetrics),
		Thresholds:      thresholds,
	}

	for key, om := range m.Operations {
		output.Operations[key] = toJSONGroupMetrics(om)
	}
	for phase, pm := range m.Phases {
		output.Phases[strconv.Itoa(int(phase))] = toJSONGroupMetrics(pm)
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

type jsonDurationMetrics struct {
	Min string `json:"min"`
	Max string `json:"max"`
	Avg string `json:"avg"`
	P50 string `json:"p50"`
	P90 string `json:"p90"`
	P95 string `json:"p95"`
	P99 string `json:"p99"`
}

type jsonGroupMetrics struct {
	Count       int                 `json:"count"`
	Success     int                 `json:"success"`
	Failed      int                 `json:"failed"`
	Weight      int64               `json:"weight"`
	SuccessRate float64             `json:"successRate"`
	Durations   jsonDurationMetrics `json:"durations"`
}

func toJSONGroupMetrics(om *OperationMetrics) jsonGroupMetrics {
	return jsonGroupMetrics{
		Count:       om.Count,
		Success:     om.Success,
		Failed:      om.Failed,
		Weight:      om.Weight,
		SuccessRate: om.SuccessRate(),
		Durations:   toJSONDurationMetrics(om.Duration),
	}
}

func toJSONDurationMetrics(d DurationMetrics) jsonDurationMetrics {
	return jsonDurationMetrics{
		Min: FormatDuration(d.Min),
		Max: FormatDuration(d.Max),
		Avg: FormatDuration(d.Avg),
		P50: FormatDuration(d.P50),
		P90: FormatDuration(d.P90),
		P95: FormatDuration(d.P95),
		P99: FormatDuration(d.P99),
	}
}

func sortedKeys(m map[string]*OperationMetrics) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedPhases(m map[core.PhaseNumber]*OperationMetrics) []core.PhaseNumber {
	phases := make([]core.PhaseNumber, 0, len(m))
	for p := range m {
		phases = append(phases, p)
	}
	sort.Slice(phases, func(i, j int) bool { return phases[i] < phases[j] })
	return phases
}

func formatNumber(n int) string {
	if n < 1000 {
		return strconv.Itoa(n)
	}
	if n < 1_000_000 {
		return fmt.Sprintf("%d,%03d", n/1000, n%1000)
	}
	return fmt.Sprintf("%d,%03d,%03d", n/1_000_000, (n/1000)%1000, n%1000)
}
