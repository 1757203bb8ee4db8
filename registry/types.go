package registry

import (
	"fmt"
	"slices"
)

// ServiceID identifies one registration for the lifetime of a registry.
type ServiceID int64

// Property keys maintained by the registry on every service.
const (
	PropServiceID   = "service.id"
	PropRanking     = "service.ranking"
	PropObjectClass = "objectclass"
)

// Properties are the metadata published with a service.
type Properties map[string]any

// Clone returns a shallow copy.
func (p Properties) Clone() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Handle is an immutable snapshot of a registered service. Two handles
// refer to the same service when their IDs are equal.
type Handle struct {
	ID         ServiceID
	Ranking    int
	Interfaces []string
	Properties Properties
}

// IsZero reports whether h refers to no service.
func (h Handle) IsZero() bool { return h.ID == 0 }

// Property returns a property value or nil.
func (h Handle) Property(key string) any { return h.Properties[key] }

// Provides reports whether the service was registered under iface.
func (h Handle) Provides(iface string) bool {
	return slices.Contains(h.Interfaces, iface)
}

func (h Handle) String() string {
	return fmt.Sprintf("service %d %v", h.ID, h.Interfaces)
}

// EventType classifies registry notifications.
type EventType int

const (
	// Registered is sent when a matching service is published.
	Registered EventType = iota + 1
	// Modified is sent when a service's properties change and it still matches.
	Modified
	// ModifiedEndMatch is sent when a property change makes a service stop matching.
	ModifiedEndMatch
	// Unregistering is sent before a service is withdrawn.
	Unregistering
)

func (t EventType) String() string {
	switch t {
	case Registered:
		return "registered"
	case Modified:
		return "modified"
	case ModifiedEndMatch:
		return "modified_endmatch"
	case Unregistering:
		return "unregistering"
	default:
		return "unknown"
	}
}

// Event is one registry notification.
type Event struct {
	Type   EventType
	Handle Handle
}

// Listener receives registry events for a subscription.
type Listener interface {
	ServiceChanged(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

// ServiceChanged calls f(ev).
func (f ListenerFunc) ServiceChanged(ev Event) { f(ev) }

// Subscription identifies a listener registration.
type Subscription uint64

// Client is the consumer side of a service registry.
type Client interface {
	// Query returns matching services ordered by ranking descending, then
	// service id ascending. An empty filter matches everything.
	Query(iface, filter string) ([]Handle, error)

	// Retrieve obtains the service object and counts one usage. It fails
	// when the service is gone or its factory produced nothing.
	Retrieve(h Handle) (any, bool)

	// Release gives back one usage obtained through Retrieve. Releasing a
	// handle that is not in use does nothing.
	Release(h Handle)

	// Subscribe registers l for events about services under iface that
	// match filter.
	Subscribe(iface, filter string, l Listener) (Subscription, error)

	// Unsubscribe stops delivery. No new delivery starts after it returns.
	Unsubscribe(s Subscription)
}

// Publisher is the provider side of a service registry.
type Publisher interface {
	Register(interfaces []string, service any, props Properties) (Registration, error)
}

// Registry combines both sides, as seen by one consumer.
type Registry interface {
	Client
	Publisher
}

// Registration is returned by Register and controls the published service.
type Registration interface {
	Handle() Handle
	SetProperties(props Properties) error
	Unregister() error
}

// ServiceFactory lets a provider create the service object lazily, once
// per consumer context. The registry caches the object until the
// consumer's usage count drops to zero, then calls UngetService.
type ServiceFactory interface {
	GetService(consumer string, h Handle) (any, error)
	UngetService(consumer string, h Handle, service any)
}
