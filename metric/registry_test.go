package metric

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatheredNames(t *testing.T, r *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	require.NotNil(t, registry)
	assert.NotNil(t, registry.PrometheusRegistry())
	assert.Same(t, registry.Metrics, registry.CoreMetrics())
}

func TestMetricsRegistry_RegisterAndUnregister(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter", Help: "test"})
	require.NoError(t, registry.RegisterCounter("cache", "test_counter", counter))
	counter.Inc()
	assert.True(t, gatheredNames(t, registry)["test_counter"])

	err := registry.RegisterCounter("cache", "test_counter", counter)
	assert.Error(t, err)

	assert.True(t, registry.Unregister("cache", "test_counter"))
	assert.False(t, registry.Unregister("cache", "test_counter"))
	assert.False(t, gatheredNames(t, registry)["test_counter"])
}

func TestMetricsRegistry_PrometheusConflict(t *testing.T) {
	registry := NewMetricsRegistry()

	g1 := prometheus.NewGauge(prometheus.GaugeOpts{Name: "dup_gauge", Help: "test"})
	g2 := prometheus.NewGauge(prometheus.GaugeOpts{Name: "dup_gauge", Help: "test"})
	require.NoError(t, registry.RegisterGauge("a", "dup_gauge", g1))
	assert.Error(t, registry.RegisterGauge("b", "dup_gauge", g2))
}

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics()

	m.RecordTransition("greeter", "unsatisfied", "active", 8)
	m.RecordBind("greeter", "log", "bound")
	m.RecordBind("greeter", "log", "bound")
	m.RecordUnbind("greeter", "log")
	m.RecordReactivation("greeter")
	m.RecordActivation("greeter", 5*time.Millisecond)
	m.RecordRegistrySize(3)
	m.RecordRegistryEvent("registered")
	m.RecordNATSStatus(true)

	assert.Equal(t, 8.0, testutil.ToFloat64(m.ComponentState.WithLabelValues("greeter")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StateTransitions.WithLabelValues("greeter", "unsatisfied", "active")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Binds.WithLabelValues("greeter", "log", "bound")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Unbinds.WithLabelValues("greeter", "log")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RegistryServices))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSConnected))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordTransition("x", "a", "b", 1)
		m.RecordBind("x", "r", "failed")
		m.RecordError("x", "bind")
		m.RecordRemoteServices(2)
	})
}

func TestServer_Handler(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.Metrics.RecordRegistrySize(1)

	server := NewServer(0, "", registry)
	server.Handle("/ready", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	h := server.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "semwire_registry_services")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	assert.Equal(t, "http://localhost:9090/metrics", server.Address())
}
