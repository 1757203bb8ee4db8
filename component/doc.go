// Package component provides declarative service components: a component
// is described by a Descriptor, created by an implementation registered in
// a Registry, and driven by a Controller that tracks the services it
// references.
//
// # Overview
//
// Each Descriptor names an implementation, the interfaces the component
// provides and the references it needs. A Controller owns one component.
// For every reference it opens a DependencyManager that subscribes to the
// service registry and keeps the set of matching candidates. When every
// mandatory reference has a candidate the controller is satisfied: it
// creates the instance, binds the references, calls Activate and registers
// the provided service. When a mandatory reference loses its last
// candidate the controller reverses those steps.
//
// # States
//
//	disabled     not enabled, or disabled after use
//	unsatisfied  enabled, waiting for mandatory references
//	activating   creating and binding the instance
//	active       instance exists and is bound
//	registered   delayed component: service registered, no instance yet
//	factory      factory component: Factory service registered
//	destroying   being disposed
//	destroyed    terminal
//
// State values are bit flags so callers can test a mask; Satisfied reports
// whether the state is active, registered or factory.
//
// # References
//
// Cardinality is "0..1", "1..1" (default), "0..n" or "1..n". Policy is
// "static" (default) or "dynamic":
//
//   - static: any change to the bound set reactivates the component.
//   - dynamic: services are bound and unbound on the live instance through
//     the reference's bind and unbind methods.
//
// A component property named "<reference>.target" replaces the target
// filter declared on the reference. Filters are expressions over service
// properties, see the registry package.
//
// Bind and unbind methods are called through a BindingInvoker. FuncInvoker
// maps method names to closures registered with the implementation;
// MethodInvoker resolves exported methods by reflection, taking a
// registry.Handle, the service, or the service and its properties.
//
// # Delayed and factory components
//
// A component that provides a service and is not immediate is delayed:
// its service is registered as soon as it is satisfied, and the instance is
// created on the first service lookup and released when the last user
// ungets it.
//
// A descriptor with Factory set registers a Factory service under
// FactoryInterface instead of activating. NewInstance creates an
// independent component from the descriptor plus the given properties.
// Updated and Deleted manage instances keyed by a configuration PID when
// factory configuration is enabled.
//
// # Concurrency
//
// Registry events are delivered on the goroutine that caused them. Each
// controller serializes its lifecycle work: a task submitted while another
// runs is queued and drained by the goroutine already inside, so no
// controller operation blocks waiting for another goroutine.
//
// # Registration
//
// Implementations register explicitly:
//
//	func Register(impls *component.Registry) error {
//		return impls.RegisterWithConfig(component.RegistrationConfig{
//			Name:        "inventory",
//			New:         New,
//			Description: "In-memory keyed store",
//			Version:     "1.0.0",
//			Bindings: map[string]component.BindFunc{
//				"SetSink":   bindSetSink,
//				"UnsetSink": bindUnsetSink,
//			},
//		})
//	}
//
// Registrations without Bindings fall back to MethodInvoker.
package component
