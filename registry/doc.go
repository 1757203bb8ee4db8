// Package registry defines the service registry contract used by the
// component runtime and provides Local, an in-process implementation.
//
// Providers publish objects under one or more interface names together with
// Properties. Consumers find them with Query, obtain the object with
// Retrieve and give it back with Release. Subscribe delivers Registered,
// Modified, ModifiedEndMatch and Unregistering events for services that
// match an interface name and a target filter.
//
// # Target filters
//
// Filters are expr-lang expressions over the service properties. Missing
// properties are nil. The semver(version, constraint) function checks a
// version property against a Masterminds constraint:
//
//	vendor == "acme" && semver(version, "^1.2")
//
// Keys containing dots are reached through $env, for example
// $env["service.ranking"] > 0. Compiled filters are cached.
//
// # Ordering and delivery
//
// Query results are ordered by service.ranking descending, then
// service.id ascending. Events for a subscription are queued in registry
// order while the registry lock is held and delivered outside it by the
// goroutine that made the change, or by the goroutine already delivering
// to that subscription. Listeners may call back into the registry.
//
// # Contexts
//
// Each consumer works through a Context, which counts usages per service,
// caches objects produced by a ServiceFactory and, on Close, withdraws
// everything the consumer published or still holds.
package registry
