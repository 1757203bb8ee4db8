package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the runtime-level metrics. All Record methods are safe on
// a nil receiver so callers can run without a registry.
type Metrics struct {
	// Component metrics
	ComponentState     *prometheus.GaugeVec
	StateTransitions   *prometheus.CounterVec
	Reactivations      *prometheus.CounterVec
	ActivationDuration *prometheus.HistogramVec
	Binds              *prometheus.CounterVec
	Unbinds            *prometheus.CounterVec
	ErrorsTotal        *prometheus.CounterVec

	// Registry metrics
	RegistryServices prometheus.Gauge
	RegistryEvents   *prometheus.CounterVec

	// NATS and remote metrics
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
	RemoteServices prometheus.Gauge
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		ComponentState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "semwire",
				Subsystem: "component",
				Name:      "state",
				Help:      "Component state bit (1=disabled, 2=unsatisfied, 4=activating, 8=active, 16=registered, 32=factory, 64=destroying, 128=destroyed)",
			},
			[]string{"component"},
		),

		StateTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "semwire",
				Subsystem: "component",
				Name:      "transitions_total",
				Help:      "Total number of component state transitions",
			},
			[]string{"component", "from", "to"},
		),

		Reactivations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "semwire",
				Subsystem: "component",
				Name:      "reactivations_total",
				Help:      "Total number of component reactivations",
			},
			[]string{"component"},
		),

		ActivationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "semwire",
				Subsystem: "component",
				Name:      "activation_duration_seconds",
				Help:      "Time spent instantiating and binding a component",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"component"},
		),

		Binds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "semwire",
				Subsystem: "reference",
				Name:      "binds_total",
				Help:      "Total number of bind attempts by result",
			},
			[]string{"component", "reference", "result"},
		),

		Unbinds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "semwire",
				Subsystem: "reference",
				Name:      "unbinds_total",
				Help:      "Total number of unbinds",
			},
			[]string{"component", "reference"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "semwire",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors by kind",
			},
			[]string{"component", "kind"},
		),

		RegistryServices: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "semwire",
				Subsystem: "registry",
				Name:      "services",
				Help:      "Number of services currently registered",
			},
		),

		RegistryEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "semwire",
				Subsystem: "registry",
				Name:      "events_total",
				Help:      "Total number of registry events delivered by type",
			},
			[]string{"type"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "semwire",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "semwire",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),

		RemoteServices: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "semwire",
				Subsystem: "remote",
				Name:      "services",
				Help:      "Number of remote services mirrored into the local registry",
			},
		),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ComponentState,
		m.StateTransitions,
		m.Reactivations,
		m.ActivationDuration,
		m.Binds,
		m.Unbinds,
		m.ErrorsTotal,
		m.RegistryServices,
		m.RegistryEvents,
		m.NATSConnected,
		m.NATSReconnects,
		m.RemoteServices,
	}
}

// RecordTransition updates the state gauge and transition counter
func (m *Metrics) RecordTransition(component, from, to string, toValue int) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(component, from, to).Inc()
	m.ComponentState.WithLabelValues(component).Set(float64(toValue))
}

// RecordReactivation increments the reactivation counter
func (m *Metrics) RecordReactivation(component string) {
	if m == nil {
		return
	}
	m.Reactivations.WithLabelValues(component).Inc()
}

// RecordActivation records how long an activation took
func (m *Metrics) RecordActivation(component string, d time.Duration) {
	if m == nil {
		return
	}
	m.ActivationDuration.WithLabelValues(component).Observe(d.Seconds())
}

// RecordBind increments the bind counter for a result ("bound", "skipped", "failed")
func (m *Metrics) RecordBind(component, reference, result string) {
	if m == nil {
		return
	}
	m.Binds.WithLabelValues(component, reference, result).Inc()
}

// RecordUnbind increments the unbind counter
func (m *Metrics) RecordUnbind(component, reference string) {
	if m == nil {
		return
	}
	m.Unbinds.WithLabelValues(component, reference).Inc()
}

// RecordError increments the error counter
func (m *Metrics) RecordError(component, kind string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(component, kind).Inc()
}

// RecordRegistryEvent increments the registry event counter
func (m *Metrics) RecordRegistryEvent(eventType string) {
	if m == nil {
		return
	}
	m.RegistryEvents.WithLabelValues(eventType).Inc()
}

// RecordRegistrySize sets the registered service gauge
func (m *Metrics) RecordRegistrySize(n int) {
	if m == nil {
		return
	}
	m.RegistryServices.Set(float64(n))
}

// RecordNATSStatus updates NATS connection status
func (m *Metrics) RecordNATSStatus(connected bool) {
	if m == nil {
		return
	}
	value := 0.0
	if connected {
		value = 1.0
	}
	m.NATSConnected.Set(value)
}

// RecordNATSReconnect increments reconnection counter
func (m *Metrics) RecordNATSReconnect() {
	if m == nil {
		return
	}
	m.NATSReconnects.Inc()
}

// RecordRemoteServices sets the mirrored service gauge
func (m *Metrics) RecordRemoteServices(n int) {
	if m == nil {
		return
	}
	m.RemoteServices.Set(float64(n))
}
