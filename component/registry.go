package component

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/c360/semwire/errors"
)

// NewFunc creates a component instance. It must not block on I/O; work
// that needs bound services belongs in Activate.
type NewFunc func(ctx *Context) (any, error)

// Info holds metadata about an available implementation
type Info struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Version     string   `json:"version"`
	Bindings    []string `json:"bindings,omitempty"`
}

// Registration holds the constructor and metadata for an implementation
type Registration struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Version     string              `json:"version"`
	New         NewFunc             `json:"-"`
	Bindings    map[string]BindFunc `json:"-"` // Optional: explicit bind callbacks by method name
}

// RegistrationConfig provides a clean API for implementation registration.
// It maps 1:1 to Registration fields.
type RegistrationConfig struct {
	Name        string              // Implementation name referenced by descriptors
	New         NewFunc             // Constructor for instances
	Bindings    map[string]BindFunc // Explicit bind callbacks; nil selects methods by reflection
	Description string              // Human-readable description
	Version     string              // Implementation version (semver)
}

// Registry maps implementation names from descriptors to constructors.
// It is safe for concurrent use.
type Registry struct {
	impls map[string]*Registration
	mu    sync.RWMutex
}

// NewRegistry creates a new empty implementation registry
func NewRegistry() *Registry {
	return &Registry{impls: make(map[string]*Registration)}
}

// Register adds an implementation. Names must be unique and versions, when
// given, must be valid semantic versions.
func (r *Registry) Register(registration *Registration) error {
	if registration == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register", "registration validation")
	}
	if !namePattern.MatchString(registration.Name) {
		return errors.WrapInvalid(fmt.Errorf("%w: implementation name %q", errors.ErrInvalidConfig, registration.Name),
			"Registry", "Register", "name validation")
	}
	if registration.New == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register", "constructor validation")
	}
	if registration.Version != "" {
		if _, err := semver.NewVersion(registration.Version); err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: version %q: %v", errors.ErrInvalidConfig, registration.Version, err),
				"Registry", "Register", "version validation")
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.impls[registration.Name]; exists {
		return errors.WrapInvalid(fmt.Errorf("%w: implementation %s", errors.ErrDuplicate, registration.Name),
			"Registry", "Register", "duplicate check")
	}
	r.impls[registration.Name] = registration
	return nil
}

// RegisterWithConfig registers an implementation using a configuration struct.
//
// Example usage:
//
//	registry.RegisterWithConfig(component.RegistrationConfig{
//	    Name:        "inventory",
//	    New:         NewInventory,
//	    Description: "In-memory stock ledger",
//	    Version:     "1.0.0",
//	})
func (r *Registry) RegisterWithConfig(config RegistrationConfig) error {
	return r.Register(&Registration{
		Name:        config.Name,
		Description: config.Description,
		Version:     config.Version,
		New:         config.New,
		Bindings:    config.Bindings,
	})
}

// Unregister removes an implementation. Running controllers keep theirs.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.impls[name]
	delete(r.impls, name)
	return ok
}

// Lookup returns the registration for name.
func (r *Registry) Lookup(name string) (*Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	registration, exists := r.impls[name]
	if !exists {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrUnknownImplementation, name),
			"Registry", "Lookup", "implementation lookup")
	}
	return registration, nil
}

// ListAvailable returns metadata for every implementation, sorted by name.
func (r *Registry) ListAvailable() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Info, 0, len(r.impls))
	for _, registration := range r.impls {
		result = append(result, Info{
			Name:        registration.Name,
			Description: registration.Description,
			Version:     registration.Version,
			Bindings:    slices.Sorted(maps.Keys(registration.Bindings)),
		})
	}
	slices.SortFunc(result, func(a, b Info) int { return strings.Compare(a.Name, b.Name) })
	return result
}
