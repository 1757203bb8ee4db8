package metric

import (
	"strings"

	dto "github.com/prometheus/client_model/go"

	"github.com/c360/semwire/errors"
)

// ComponentCounters sums the counters labelled component=name, keyed by
// metric name without the semwire_ prefix. Other labels are summed over.
func (r *MetricsRegistry) ComponentCounters(name string) (map[string]float64, error) {
	if r == nil {
		return nil, nil
	}
	families, err := r.prometheusRegistry.Gather()
	if err != nil {
		return nil, errors.WrapTransient(err, "MetricsRegistry", "ComponentCounters", "gather metrics")
	}
	return componentCounters(families, name), nil
}

func componentCounters(families []*dto.MetricFamily, name string) map[string]float64 {
	counters := make(map[string]float64)
	for _, family := range families {
		if family.GetType() != dto.MetricType_COUNTER {
			continue
		}
		key := strings.TrimPrefix(family.GetName(), "semwire_")
		for _, m := range family.GetMetric() {
			if labelValue(m, "component") != name {
				continue
			}
			counters[key] += m.GetCounter().GetValue()
		}
	}
	return counters
}

func labelValue(m *dto.Metric, label string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == label {
			return lp.GetValue()
		}
	}
	return ""
}
