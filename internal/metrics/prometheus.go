package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"lockstep/internal/core"
)

// PrometheusReporter exports Operation records as Prometheus metrics.
type PrometheusReporter struct {
	latency  *prometheus.HistogramVec
	outcomes *prometheus.CounterVec
	weight   *prometheus.CounterVec
}

// NewPrometheusReporter creates the collectors and registers them with reg.
func NewPrometheusReporter(reg prometheus.Registerer) (*PrometheusReporter, error) {
	p := &PrometheusReporter{
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "lockstep",
				Name:      "operation_duration_seconds",
				Help:      "Duration of actor operations in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 18),
			},
			[]string{"actor", "operation", "phase"},
		),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lockstep",
				Name:      "operations_total",
				Help:      "Actor operations by outcome",
			},
			[]string{"actor", "operation", "outcome"},
		),
		weight: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lockstep",
				Name:      "operation_weight_total",
				Help:      "Sum of the weight (size) attributed to successful operations",
			},
			[]string{"actor", "operation"},
		),
	}

	for _, c := range []prometheus.Collector{p.latency, p.outcomes, p.weight} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Report implements core.Reporter.
func (p *PrometheusReporter) Report(op core.Operation) {
	p.latency.WithLabelValues(op.Actor, op.Name, strconv.Itoa(int(op.Phase))).Observe(op.Duration.Seconds())

	outcome := "success"
	if !op.Success {
		outcome = "failure"
	}
	p.outcomes.WithLabelValues(op.Actor, op.Name, outcome).Inc()

	if op.Success && op.Weight > 0 {
		p.weight.WithLabelValues(op.Actor, op.Name).Add(float64(op.Weight))
	}
}
