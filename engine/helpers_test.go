package engine_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/c360/semwire/component"
	"github.com/c360/semwire/config"
	"github.com/c360/semwire/engine"
	"github.com/c360/semwire/metric"
)

const greeterInterface = "example.Greeter"

// greeter provides greeterInterface.
type greeter struct {
	mu       sync.Mutex
	greeting string
}

func (g *greeter) Greet(name string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.greeting + ", " + name
}

// caller needs exactly one greeter.
type caller struct {
	mu      sync.Mutex
	greeter *greeter
}

func (c *caller) SetGreeter(g *greeter) {
	c.mu.Lock()
	c.greeter = g
	c.mu.Unlock()
}

func (c *caller) UnsetGreeter(*greeter) {
	c.mu.Lock()
	c.greeter = nil
	c.mu.Unlock()
}

func (c *caller) Greeter() *greeter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.greeter
}

func testImplementations(t *testing.T) *component.Registry {
	t.Helper()
	impls := component.NewRegistry()
	require.NoError(t, impls.RegisterWithConfig(component.RegistrationConfig{
		Name: "greeter",
		New: func(ctx *component.Context) (any, error) {
			return &greeter{greeting: config.GetString(ctx.Properties(), "greeting", "hello")}, nil
		},
		Version: "1.0.0",
	}))
	require.NoError(t, impls.RegisterWithConfig(component.RegistrationConfig{
		Name:    "caller",
		New:     func(*component.Context) (any, error) { return &caller{}, nil },
		Version: "1.0.0",
	}))
	require.NoError(t, impls.RegisterWithConfig(component.RegistrationConfig{
		Name: "broken",
		New: func(*component.Context) (any, error) {
			return nil, fmt.Errorf("cannot reach upstream")
		},
	}))
	return impls
}

func newRuntime(t *testing.T, mutate ...func(*engine.Config)) *engine.Runtime {
	t.Helper()
	cfg := engine.Config{
		ID:              "test",
		Implementations: testImplementations(t),
		Metrics:         metric.NewMetricsRegistry(),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	rt, err := engine.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Stop(context.Background()) })
	return rt
}

func greeterDescriptor(name string, props map[string]any) component.Descriptor {
	return component.Descriptor{
		Name:           name,
		Implementation: "greeter",
		Properties:     props,
		Service:        &component.ServiceDescriptor{Interfaces: []string{greeterInterface}},
	}
}

func callerDescriptor(name string) component.Descriptor {
	return component.Descriptor{
		Name:           name,
		Implementation: "caller",
		References: []component.ReferenceDescriptor{{
			Name:      "greeter",
			Interface: greeterInterface,
			Bind:      "SetGreeter",
			Unbind:    "UnsetGreeter",
		}},
	}
}

func callerOf(t *testing.T, rt *engine.Runtime, name string) *caller {
	t.Helper()
	inst, err := rt.Instance(name)
	require.NoError(t, err)
	c, ok := inst.(*caller)
	require.True(t, ok, "instance is %T", inst)
	return c
}
