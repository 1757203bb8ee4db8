package component

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/c360/semwire/metric"
	"github.com/c360/semwire/registry"
)

const (
	logInterface     = "example.Log"
	handlerInterface = "example.Handler"
	storeInterface   = "example.Store"
)

// LogService is the interface consumers bind against in these tests.
type LogService interface {
	Log(msg string)
	Name() string
}

type memLog struct{ name string }

func (l *memLog) Log(string)     {}
func (l *memLog) Name() string   { return l.name }
func (l *memLog) String() string { return l.name }

// consumer records every bind callback in call order.
type consumer struct {
	mu     sync.Mutex
	events []string
	logs   []LogService
}

func (c *consumer) record(ev string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *consumer) Events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.events...)
}

func (c *consumer) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

func (c *consumer) SetLog(l LogService) {
	c.mu.Lock()
	c.logs = append(c.logs, l)
	c.mu.Unlock()
	c.record("bind:" + l.Name())
}

func (c *consumer) UnsetLog(l LogService) {
	c.mu.Lock()
	for i, bound := range c.logs {
		if bound == l {
			c.logs = append(c.logs[:i], c.logs[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	c.record("unbind:" + l.Name())
}

func (c *consumer) Bound() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.logs)
}

func (c *consumer) SetStore(s any) error {
	c.record(fmt.Sprintf("bind:store:%v", s))
	return nil
}

func (c *consumer) UnsetStore(s any) {
	c.record(fmt.Sprintf("unbind:store:%v", s))
}

// implementation counts constructions and hands out consumers.
type implementation struct {
	mu        sync.Mutex
	instances []*consumer
	newFn     func() (any, error)
}

func (i *implementation) New(*Context) (any, error) {
	if i.newFn != nil {
		return i.newFn()
	}
	c := &consumer{}
	i.mu.Lock()
	i.instances = append(i.instances, c)
	i.mu.Unlock()
	return c, nil
}

func (i *implementation) Count() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.instances)
}

func (i *implementation) Last() *consumer {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(i.instances) == 0 {
		return nil
	}
	return i.instances[len(i.instances)-1]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	t       *testing.T
	local   *registry.Local
	metrics *metric.MetricsRegistry
	factory bool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	metrics := metric.NewMetricsRegistry()
	local, err := registry.NewLocal(registry.Options{Logger: discardLogger(), Metrics: metrics})
	require.NoError(t, err)
	return &harness{t: t, local: local, metrics: metrics}
}

func (h *harness) controller(desc Descriptor, impl *implementation) *Controller {
	h.t.Helper()
	if desc.Implementation == "" {
		desc.Implementation = "test"
	}
	ctx := h.local.Context(desc.Name)
	h.t.Cleanup(ctx.Close)
	c, err := NewController(desc, Options{
		Registry:       ctx,
		Implementation: &Registration{Name: desc.Implementation, New: impl.New},
		Logger:         discardLogger(),
		Metrics:        h.metrics,
		FactoryEnabled: h.factory,
	})
	require.NoError(h.t, err)
	return c
}

func (h *harness) publish(iface, name string, props registry.Properties) registry.Registration {
	h.t.Helper()
	if props == nil {
		props = registry.Properties{}
	}
	props["name"] = name
	reg, err := h.local.Context("provider-"+name).Register([]string{iface}, &memLog{name: name}, props)
	require.NoError(h.t, err)
	return reg
}

func logRef(card Cardinality, policy Policy) ReferenceDescriptor {
	return ReferenceDescriptor{
		Name:        "log",
		Interface:   logInterface,
		Cardinality: card,
		Policy:      policy,
		Bind:        "SetLog",
		Unbind:      "UnsetLog",
	}
}

func boolPtr(b bool) *bool { return &b }
