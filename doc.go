// Package semwire is a declarative service-component runtime.
//
// Components declare the services they provide and the services they
// reference. The runtime watches a shared service registry, activates a
// component once its mandatory references are satisfied, binds and unbinds
// referenced services as they come and go, and deactivates the component
// when a mandatory reference disappears.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│          engine.Runtime             │  load, enable, disable,
//	│   (descriptors, health, HTTP API)   │  reconfigure, stop
//	└─────────────────────────────────────┘
//	           ↓ one per component
//	┌─────────────────────────────────────┐
//	│       component.Controller          │  state machine, instance,
//	│   DependencyManager per reference   │  bind/unbind, service
//	└─────────────────────────────────────┘
//	           ↓ subscribe, query, register
//	┌─────────────────────────────────────┐
//	│          registry.Local             │  handles, properties,
//	│    (filters, events, contexts)      │  ranking, filters
//	└─────────────────────────────────────┘
//	           ↕ optional
//	┌─────────────────────────────────────┐
//	│      remote + config over NATS      │  exported services,
//	│        (KV buckets, watchers)       │  live configuration
//	└─────────────────────────────────────┘
//
// # Packages
//
//   - registry: in-process service registry with expression filters
//   - component: descriptors, controllers, dependency managers, invokers
//   - engine: runtime host, validation, health, HTTP API
//   - config: configuration files and the KV-backed configuration manager
//   - remote: service export and import between runtimes
//   - natsclient: NATS connection and KV helpers
//   - metric, health, errors: shared infrastructure
//   - storage, output: built-in components
//
// # Configuration
//
//	runtime:
//	  id: edge-1
//	  log_level: info
//	components:
//	  - name: audit
//	    implementation: console
//	    service:
//	      interfaces: [output.Sink]
//	  - name: inventory
//	    implementation: inventory
//	    service:
//	      interfaces: [storage.Store]
//	    references:
//	      - name: log
//	        interface: output.Sink
//	        cardinality: "0..1"
//	        policy: dynamic
//	        bind: SetSink
//	        unbind: UnsetSink
//
// Run with:
//
//	semwire --config semwire.yaml
package semwire
