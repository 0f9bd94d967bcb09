package collector

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"lockstep/internal/core"
)

// Thresholds defines pass/fail criteria for the run.
type Thresholds struct {
	OperationDuration *DurationThresholds `yaml:"operation_duration"`
	OperationFailed   *FailureThresholds  `yaml:"operation_failed"`

	// Operations limits single operations, keyed "Actor.name" as in the
	// report.
	Operations map[string]*GroupThresholds `yaml:"operations"`
	// Phases limits the operations recorded during one phase.
	Phases map[core.PhaseNumber]*GroupThresholds `yaml:"phases"`
}

// DurationThresholds defines latency limits.
type DurationThresholds struct {
	Avg time.Duration `yaml:"avg"`
	P50 time.Duration `yaml:"p50"`
	P90 time.Duration `yaml:"p90"`
	P95 time.Duration `yaml:"p95"`
	P99 time.Duration `yaml:"p99"`
}

// FailureThresholds defines error rate limits.
type FailureThresholds struct {
	Rate string `yaml:"rate"`
}

// GroupThresholds limits one operation or one phase. A group that recorded
// no operations fails every check it names.
type GroupThresholds struct {
	Duration *DurationThresholds `yaml:"duration"`
	Failed   *FailureThresholds  `yaml:"failed"`
	// MinCount is the least number of operations the group must record.
	MinCount int `yaml:"min_count"`
}

// ThresholdResult represents the outcome of a single threshold check.
type ThresholdResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	// Comparison is "<" or ">=", or empty when Threshold is a condition.
	Comparison string `json:"comparison,omitempty"`
	Threshold  string `json:"threshold"`
	Actual     string `json:"actual"`
}

// ThresholdResults contains all threshold check results.
type ThresholdResults struct {
	Passed  bool              `json:"passed"`
	Results []ThresholdResult `json:"results"`
}

// Validate reports malformed thresholds before a run starts.
func (t *Thresholds) Validate() error {
	if t == nil {
		return nil
	}
	if err := t.OperationDuration.validate(); err != nil {
		return err
	}
	if err := t.OperationFailed.validate(); err != nil {
		return err
	}
	for name, g := range t.Operations {
		if err := g.validate(); err != nil {
			return errors.WithMessagef(err, "operation %s", name)
		}
	}
	for phase, g := range t.Phases {
		if phase < 0 {
			return errors.Errorf("negative phase %d", phase)
		}
		if err := g.validate(); err != nil {
			return errors.WithMessagef(err, "phase %d", phase)
		}
	}
	return nil
}

func (d *DurationThresholds) validate() error {
	if d == nil {
		return nil
	}
	for _, v := range []time.Duration{d.Avg, d.P50, d.P90, d.P95, d.P99} {
		if v < 0 {
			return errors.Errorf("negative duration threshold %s", v)
		}
	}
	return nil
}

func (f *FailureThresholds) validate() error {
	if f == nil || f.Rate == "" {
		return nil
	}
	_, err := parsePercentage(f.Rate)
	return err
}

func (g *GroupThresholds) validate() error {
	if g == nil {
		return nil
	}
	if g.MinCount < 0 {
		return errors.Errorf("negative min_count %d", g.MinCount)
	}
	if err := g.Duration.validate(); err != nil {
		return err
	}
	return g.Failed.validate()
}

// Check evaluates all thresholds against computed metrics. Group results
// follow the run-wide ones, operations by name and then phases in order.
func (t *Thresholds) Check(m *Metrics) *ThresholdResults {
	if t == nil {
		return &ThresholdResults{Passed: true, Results: nil}
	}

	results := &ThresholdResults{
		Passed:  true,
		Results: make([]ThresholdResult, 0),
	}

	if t.OperationDuration != nil {
		results.checkDurationThresholds("operation_duration", t.OperationDuration, &m.Duration)
	}

	if t.OperationFailed != nil && t.OperationFailed.Rate != "" {
		results.checkFailureRate("operation_failed.rate", t.OperationFailed, m.TotalOperations, m.SuccessRate)
	}

	names := make([]string, 0, len(t.Operations))
	for name := range t.Operations {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		results.checkGroup("operations["+name+"]", t.Operations[name], m.Operations[name])
	}

	phases := make([]core.PhaseNumber, 0, len(t.Phases))
	for phase := range t.Phases {
		phases = append(phases, phase)
	}
	sort.Slice(phases, func(i, j int) bool { return phases[i] < phases[j] })
	for _, phase := range phases {
		results.checkGroup(fmt.Sprintf("phases[%d]", phase), t.Phases[phase], m.Phases[phase])
	}

	return results
}

func (r *ThresholdResults) add(res ThresholdResult) {
	if !res.Passed {
		r.Passed = false
	}
	r.Results = append(r.Results, res)
}

func (r *ThresholdResults) checkGroup(prefix string, g *GroupThresholds, actual *OperationMetrics) {
	if g == nil {
		return
	}
	if actual == nil || actual.Count == 0 {
		r.add(ThresholdResult{
			Name:      prefix,
			Passed:    false,
			Threshold: "operations recorded",
			Actual:    "none",
		})
		return
	}

	if g.MinCount > 0 {
		r.add(ThresholdResult{
			Name:       prefix + ".count",
			Passed:     actual.Count >= g.MinCount,
			Comparison: ">=",
			Threshold:  strconv.Itoa(g.MinCount),
			Actual:     strconv.Itoa(actual.Count),
		})
	}
	if g.Duration != nil {
		r.checkDurationThresholds(prefix+".duration", g.Duration, &actual.Duration)
	}
	if g.Failed != nil && g.Failed.Rate != "" {
		r.checkFailureRate(prefix+".failed.rate", g.Failed, actual.Count, actual.SuccessRate())
	}
}

func (r *ThresholdResults) checkDurationThresholds(prefix string, thresholds *DurationThresholds, actual *DurationMetrics) {
	checks := []struct {
		name      string
		threshold time.Duration
		actual    time.Duration
	}{
		{"avg", thresholds.Avg, actual.Avg},
		{"p50", thresholds.P50, actual.P50},
		{"p90", thresholds.P90, actual.P90},
		{"p95", thresholds.P95, actual.P95},
		{"p99", thresholds.P99, actual.P99},
	}

	for _, check := range checks {
		if check.threshold == 0 {
			continue
		}
		r.add(ThresholdResult{
			Name:       prefix + "." + check.name,
			Passed:     check.actual < check.threshold,
			Comparison: "<",
			Threshold:  FormatDuration(check.threshold),
			Actual:     FormatDuration(check.actual),
		})
	}
}

func (r *ThresholdResults) checkFailureRate(name string, thresholds *FailureThresholds, total int, successRate float64) {
	thresholdRate, err := parsePercentage(thresholds.Rate)
	if err != nil {
		return
	}

	actualRate := 0.0
	if total > 0 {
		actualRate = 100.0 - successRate
	}
	r.add(ThresholdResult{
		Name:       name,
		Passed:     actualRate < thresholdRate,
		Comparison: "<",
		Threshold:  thresholds.Rate,
		Actual:     fmt.Sprintf("%.2f%%", actualRate),
	})
}

func parsePercentage(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if !strings.HasSuffix(s, "%") {
		return 0, errors.Errorf("invalid percentage format: %s", s)
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid percentage %s", s)
	}
	return v, nil
}

// FormatDuration formats a duration for display.
func FormatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return d.Round(time.Second).String()
}

// Violations returns only the failed threshold results.
func (r *ThresholdResults) Violations() []ThresholdResult {
	violations := make([]ThresholdResult, 0)
	for _, result := range r.Results {
		if !result.Passed {
			violations = append(violations, result)
		}
	}
	return violations
}
