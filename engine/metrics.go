package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/semwire/metric"
)

// runtimeMetrics holds Prometheus metrics for runtime operations.
type runtimeMetrics struct {
	operations       *prometheus.CounterVec // by operation and status
	components       prometheus.Gauge
	validationIssues *prometheus.CounterVec // by issue type and severity
}

// newRuntimeMetrics creates and registers runtime metrics. A nil registry
// disables them.
func newRuntimeMetrics(registry *metric.MetricsRegistry) (*runtimeMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &runtimeMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semwire",
			Subsystem: "runtime",
			Name:      "operations_total",
			Help:      "Total number of runtime operations on components",
		}, []string{"operation", "status"}), // status: success, failure

		components: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "semwire",
			Subsystem: "runtime",
			Name:      "components",
			Help:      "Current number of managed components",
		}),

		validationIssues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semwire",
			Subsystem: "runtime",
			Name:      "validation_issues_total",
			Help:      "Total number of descriptor validation issues",
		}, []string{"type", "severity"}),
	}

	if err := registry.RegisterCounterVec("runtime", "operations", m.operations); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("runtime", "components", m.components); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("runtime", "validation_issues", m.validationIssues); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *runtimeMetrics) recordOperation(operation string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.operations.WithLabelValues(operation, status).Inc()
}

func (m *runtimeMetrics) setComponents(n int) {
	if m != nil {
		m.components.Set(float64(n))
	}
}

func (m *runtimeMetrics) recordValidation(result *ValidationResult) {
	if m == nil || result == nil {
		return
	}
	for _, issue := range result.Errors {
		m.validationIssues.WithLabelValues(issue.Type, issue.Severity).Inc()
	}
	for _, issue := range result.Warnings {
		m.validationIssues.WithLabelValues(issue.Type, issue.Severity).Inc()
	}
}
