// Package health reports the health of a semwire runtime.
//
// # Health States
//
//   - healthy: operating normally
//   - degraded: running, but something is waiting or in transition
//   - unhealthy: not functioning
//
// # Component Mapping
//
// FromComponent maps a component lifecycle state to a Status:
//
//	active, registered, factory  -> healthy
//	disabled                     -> healthy
//	unsatisfied                  -> degraded, naming the unbound mandatory references
//	activating, destroying       -> degraded
//	destroyed                    -> unhealthy
//
// # Monitor
//
// A Monitor holds pushed statuses (for example the NATS connection) and
// polls registered Sources (for example the runtime's components) at
// aggregation time:
//
//	monitor := health.NewMonitor(logger)
//	monitor.AddSource(runtime)
//	monitor.UpdateHealthy("nats", "Connected")
//
//	mux.Handle("/health", monitor.Handler("semwire"))
//	mux.Handle("/readyz", monitor.ReadyHandler())
//
// Aggregate applies the usual rule: any unhealthy part makes the whole
// unhealthy, otherwise any degraded part makes it degraded.
//
// Error messages placed into statuses by FromComponent are sanitized so that
// URLs, paths, addresses and credentials are not exposed over HTTP.
package health
