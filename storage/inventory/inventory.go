// Package inventory provides an in-memory storage component
package inventory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/c360/semwire/component"
	"github.com/c360/semwire/config"
	"github.com/c360/semwire/errors"
	"github.com/c360/semwire/output"
	"github.com/c360/semwire/registry"
	"github.com/c360/semwire/storage"
)

// Component properties
const (
	PropCapacity = "capacity" // maximum number of keys, 0 for no limit
	PropRegion   = "region"
)

// Inventory is an in-memory storage.Store. When a sink is bound it reports
// every change to it.
type Inventory struct {
	name string

	mu       sync.RWMutex
	items    map[string][]byte
	capacity int
	region   string

	sinkMu sync.RWMutex
	sink   output.Sink
}

var (
	_ storage.Store         = (*Inventory)(nil)
	_ component.Activator   = (*Inventory)(nil)
	_ component.Deactivator = (*Inventory)(nil)
	_ component.Modifier    = (*Inventory)(nil)
)

// New creates an inventory from the component properties.
func New(ctx *component.Context) (any, error) {
	props := ctx.Properties()
	capacity := config.GetInt(props, PropCapacity, 0)
	if capacity < 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: capacity %d", errors.ErrInvalidConfig, capacity),
			"Inventory", "New", "validate capacity")
	}
	return &Inventory{
		name:     ctx.Name(),
		items:    make(map[string][]byte),
		capacity: capacity,
		region:   config.GetString(props, PropRegion, ""),
	}, nil
}

// Activate runs once references are bound.
func (inv *Inventory) Activate(ctx *component.Context) error {
	ctx.Logger().Info("Inventory active", "capacity", inv.Capacity(), "region", inv.region)
	inv.report("activated")
	return nil
}

// Deactivate runs before references are unbound.
func (inv *Inventory) Deactivate(ctx *component.Context) {
	inv.mu.RLock()
	n := len(inv.items)
	inv.mu.RUnlock()
	ctx.Logger().Info("Inventory deactivating", "items", n)
	inv.report("deactivated")
}

// Modified applies a new capacity in place. Shrinking below the current
// item count is refused, which makes the runtime reactivate instead.
func (inv *Inventory) Modified(_ *component.Context, props registry.Properties) error {
	capacity := config.GetInt(props, PropCapacity, 0)

	inv.mu.Lock()
	defer inv.mu.Unlock()
	if capacity < 0 || (capacity > 0 && len(inv.items) > capacity) {
		return errors.WrapInvalid(fmt.Errorf("%w: capacity %d below %d items", errors.ErrInvalidConfig, capacity, len(inv.items)),
			"Inventory", "Modified", "apply capacity")
	}
	inv.capacity = capacity
	inv.region = config.GetString(props, PropRegion, "")
	return nil
}

// Capacity returns the configured key limit.
func (inv *Inventory) Capacity() int {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return inv.capacity
}

// Put stores data at key.
func (inv *Inventory) Put(_ context.Context, key string, data []byte) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Inventory", "Put", "empty key")
	}

	inv.mu.Lock()
	_, exists := inv.items[key]
	if !exists && inv.capacity > 0 && len(inv.items) >= inv.capacity {
		inv.mu.Unlock()
		return errors.WrapTransient(fmt.Errorf("inventory full: %d items", inv.capacity), "Inventory", "Put", "check capacity")
	}
	inv.items[key] = slices.Clone(data)
	inv.mu.Unlock()

	inv.report("put " + key)
	return nil
}

// Get returns a copy of the data at key.
func (inv *Inventory) Get(_ context.Context, key string) ([]byte, error) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	data, ok := inv.items[key]
	if !ok {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrKeyNotFound, key), "Inventory", "Get", "lookup key")
	}
	return slices.Clone(data), nil
}

// List returns keys with prefix in order.
func (inv *Inventory) List(_ context.Context, prefix string) ([]string, error) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	keys := make([]string, 0, len(inv.items))
	for _, k := range slices.Sorted(maps.Keys(inv.items)) {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Delete removes key.
func (inv *Inventory) Delete(_ context.Context, key string) error {
	inv.mu.Lock()
	_, ok := inv.items[key]
	delete(inv.items, key)
	inv.mu.Unlock()

	if ok {
		inv.report("delete " + key)
	}
	return nil
}

// SetSink binds the log sink.
func (inv *Inventory) SetSink(_ registry.Handle, sink output.Sink) {
	inv.sinkMu.Lock()
	inv.sink = sink
	inv.sinkMu.Unlock()
}

// UnsetSink unbinds the log sink if it is the current one.
func (inv *Inventory) UnsetSink(_ registry.Handle, sink output.Sink) {
	inv.sinkMu.Lock()
	if inv.sink == sink {
		inv.sink = nil
	}
	inv.sinkMu.Unlock()
}

// Sink returns the bound sink, or nil.
func (inv *Inventory) Sink() output.Sink {
	inv.sinkMu.RLock()
	defer inv.sinkMu.RUnlock()
	return inv.sink
}

func (inv *Inventory) report(event string) {
	if sink := inv.Sink(); sink != nil {
		sink.Write(inv.name, event)
	}
}

// Register registers the inventory implementation.
//
// Descriptors using it typically declare:
//
//	service:
//	  interfaces: [storage.Store]
//	references:
//	  - name: log
//	    interface: output.Sink
//	    cardinality: "0..1"
//	    policy: dynamic
//	    bind: SetSink
//	    unbind: UnsetSink
func Register(impls *component.Registry) error {
	return impls.RegisterWithConfig(component.RegistrationConfig{
		Name:        "inventory",
		New:         New,
		Description: "In-memory keyed store with an optional log sink",
		Version:     "1.0.0",
		Bindings: map[string]component.BindFunc{
			"SetSink": func(instance any, h registry.Handle, service any) error {
				return bindSink(instance, h, service, (*Inventory).SetSink)
			},
			"UnsetSink": func(instance any, h registry.Handle, service any) error {
				return bindSink(instance, h, service, (*Inventory).UnsetSink)
			},
		},
	})
}

func bindSink(instance any, h registry.Handle, service any, fn func(*Inventory, registry.Handle, output.Sink)) error {
	inv, ok := instance.(*Inventory)
	if !ok {
		return fmt.Errorf("unexpected instance %T", instance)
	}
	sink, ok := service.(output.Sink)
	if !ok {
		return fmt.Errorf("service %s is %T, not an output.Sink", h, service)
	}
	fn(inv, h, sink)
	return nil
}
