package metric

import (
	"net/http"
	"net/http/httptest"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComponentCounters(t *testing.T) {
	reg := NewMetricsRegistry()
	m := reg.CoreMetrics()
	m.RecordBind("inventory", "log", "bound")
	m.RecordBind("inventory", "log", "failed")
	m.RecordBind("audit", "out", "bound")
	m.RecordReactivation("inventory")
	m.RecordError("inventory", "bind")

	counters, err := reg.ComponentCounters("inventory")
	require.NoError(t, err)
	assert.Equal(t, 2.0, counters["reference_binds_total"])
	assert.Equal(t, 1.0, counters["component_reactivations_total"])
	assert.Equal(t, 1.0, counters["errors_total"])
	assert.NotContains(t, counters, "registry_events_total")

	counters, err = reg.ComponentCounters("missing")
	require.NoError(t, err)
	assert.Empty(t, counters)

	var nilReg *MetricsRegistry
	counters, err = nilReg.ComponentCounters("inventory")
	assert.NoError(t, err)
	assert.Nil(t, counters)
}

func TestServerExposesComponentCounters(t *testing.T) {
	reg := NewMetricsRegistry()
	reg.CoreMetrics().RecordBind("inventory", "log", "bound")
	reg.CoreMetrics().RecordUnbind("inventory", "log")

	srv := httptest.NewServer(NewServer(0, "/metrics", reg).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	parser := expfmt.NewTextParser(model.UTF8Validation)
	families, err := parser.TextToMetricFamilies(resp.Body)
	require.NoError(t, err)

	binds, ok := families["semwire_reference_binds_total"]
	require.True(t, ok)
	require.Len(t, binds.GetMetric(), 1)
	assert.Equal(t, 1.0, binds.GetMetric()[0].GetCounter().GetValue())

	scraped := make([]*dto.MetricFamily, 0, len(families))
	for _, f := range families {
		scraped = append(scraped, f)
	}
	assert.Equal(t, map[string]float64{
		"reference_binds_total":   1,
		"reference_unbinds_total": 1,
	}, componentCounters(scraped, "inventory"))
}
