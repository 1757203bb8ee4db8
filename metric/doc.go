// Package metric provides the Prometheus metrics registry and HTTP server
// for the semwire runtime.
//
// MetricsRegistry owns a private prometheus.Registry holding the core
// runtime metrics (Metrics) plus Go and process collectors. Other parts of
// the runtime register extra collectors through MetricsRegistrar, keyed by
// an owner name so duplicate registrations are reported as invalid errors.
//
// Core metrics:
//
//   - semwire_component_state{component}: current state bit of each component
//   - semwire_component_transitions_total{component,from,to}
//   - semwire_component_reactivations_total{component}
//   - semwire_component_activation_duration_seconds{component}
//   - semwire_reference_binds_total{component,reference,result}
//   - semwire_reference_unbinds_total{component,reference}
//   - semwire_registry_services, semwire_registry_events_total{type}
//   - semwire_nats_connected, semwire_nats_reconnects_total
//   - semwire_remote_services
//
// The Record methods accept a nil *Metrics, so components built without a
// registry in tests do not need a stub.
//
// Server exposes the registry at /metrics together with any handlers added
// through Handle, typically the runtime health endpoint.
package metric
