// Package engine hosts declarative components.
//
// A Runtime owns one service registry and one component.Controller per
// component name. Descriptors are resolved against an implementation
// registry, validated as a set by Load, and driven through Enable, Disable,
// Reconfigure and Remove. Stop disposes every component in reverse order of
// addition.
//
// # Validation
//
// Validator checks a descriptor set before anything is created:
//
//	duplicate_component     name used twice (error)
//	invalid_descriptor      malformed descriptor or reference (error)
//	unknown_implementation  implementation not registered (error)
//	bad_target              target filter does not compile (error)
//	unprovided_reference    mandatory reference no component provides (warning)
//	mandatory_cycle         components that can only activate together (warning)
//
// Warnings are logged; errors reject the whole set with a *ValidationError.
//
// # Health
//
// Runtime implements health.Source. Each component contributes one status
// derived from its state; with Config.ShowErrors the last error it logged
// is attached to unhealthy and degraded statuses.
//
// # HTTP
//
// RegisterHTTPHandlers exposes list, status, enable, disable, config and
// implementations endpoints on a ServeMux.
//
// # Example
//
//	impls := component.NewRegistry()
//	_ = componentregistry.Register(impls)
//
//	rt, err := engine.New(engine.Config{Implementations: impls, Metrics: metrics})
//	if err != nil {
//	    return err
//	}
//	defer rt.Stop(context.Background())
//
//	if err := rt.Load(descriptors); err != nil {
//	    return err
//	}
package engine
