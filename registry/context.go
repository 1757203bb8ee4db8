package registry

import (
	"fmt"
	"sync"

	"github.com/c360/semwire/errors"
)

type usage struct {
	count   int
	service any
	factory ServiceFactory
	handle  Handle
}

// Context is one consumer's view of a Local registry. It implements
// Registry and tracks the usages, registrations and subscriptions made
// through it.
type Context struct {
	local *Local
	name  string

	mu     sync.Mutex
	closed bool
	usage  map[ServiceID]*usage
	regs   map[ServiceID]*registration
	subs   map[Subscription]struct{}
}

var _ Registry = (*Context)(nil)

// Name returns the consumer name passed to service factories.
func (c *Context) Name() string { return c.name }

// Query delegates to the registry.
func (c *Context) Query(iface, filter string) ([]Handle, error) {
	return c.local.Query(iface, filter)
}

// Retrieve returns the service object for h and counts one usage.
func (c *Context) Retrieve(h Handle) (any, bool) {
	e, ok := c.local.lookup(h.ID)
	if !ok {
		return nil, false
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, false
	}
	if u, ok := c.usage[h.ID]; ok {
		u.count++
		svc := u.service
		c.mu.Unlock()
		return svc, true
	}
	c.mu.Unlock()

	svc := e.service
	factory, isFactory := e.service.(ServiceFactory)
	if isFactory {
		obj, err := c.fromFactory(factory, e.handle())
		if err != nil {
			c.local.logger.Warn("Service factory failed", "consumer", c.name, "service_id", h.ID, "error", err)
			return nil, false
		}
		if obj == nil {
			return nil, false
		}
		svc = obj
	}

	c.mu.Lock()
	if u, ok := c.usage[h.ID]; ok {
		u.count++
		existing := u.service
		c.mu.Unlock()
		if factory != nil {
			c.unget(factory, e.handle(), svc)
		}
		return existing, true
	}
	if c.closed {
		c.mu.Unlock()
		if factory != nil {
			c.unget(factory, e.handle(), svc)
		}
		return nil, false
	}
	c.usage[h.ID] = &usage{count: 1, service: svc, factory: factory, handle: e.handle()}
	c.mu.Unlock()

	// unregistration may have swept usages while the factory ran
	if _, ok := c.local.lookup(h.ID); !ok {
		c.dropUsage(h)
		return nil, false
	}
	return svc, true
}

// Release gives back one usage of h. Extra releases are ignored.
func (c *Context) Release(h Handle) {
	c.mu.Lock()
	u, ok := c.usage[h.ID]
	if !ok {
		c.mu.Unlock()
		return
	}
	u.count--
	if u.count > 0 {
		c.mu.Unlock()
		return
	}
	delete(c.usage, h.ID)
	c.mu.Unlock()

	if u.factory != nil {
		c.unget(u.factory, u.handle, u.service)
	}
}

// UsageCount returns how many unreleased Retrieve calls this context holds for h.
func (c *Context) UsageCount(h Handle) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if u, ok := c.usage[h.ID]; ok {
		return u.count
	}
	return 0
}

// Subscribe registers a listener owned by this context.
func (c *Context) Subscribe(iface, filter string, l Listener) (Subscription, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return 0, errors.Wrap(errors.ErrDisposed, "Context", "Subscribe", "check context")
	}

	id, err := c.local.Subscribe(iface, filter, l)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.subs[id] = struct{}{}
	c.mu.Unlock()
	return id, nil
}

// Unsubscribe removes a subscription.
func (c *Context) Unsubscribe(id Subscription) {
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()
	c.local.Unsubscribe(id)
}

// Register publishes service under interfaces on behalf of this context.
func (c *Context) Register(interfaces []string, service any, props Properties) (Registration, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, errors.Wrap(errors.ErrDisposed, "Context", "Register", "check context")
	}

	reg, err := c.local.register(c, interfaces, service, props)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.regs[reg.id] = reg
	c.mu.Unlock()
	return reg, nil
}

// Close unsubscribes, unregisters everything published through this
// context and releases every usage it holds. It is idempotent.
func (c *Context) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subs
	regs := c.regs
	c.subs = make(map[Subscription]struct{})
	c.regs = make(map[ServiceID]*registration)
	c.mu.Unlock()

	for id := range subs {
		c.local.Unsubscribe(id)
	}
	for _, r := range regs {
		_ = c.local.unregister(r.id)
	}

	c.mu.Lock()
	usages := c.usage
	c.usage = make(map[ServiceID]*usage)
	c.mu.Unlock()
	for _, u := range usages {
		if u.factory != nil {
			c.unget(u.factory, u.handle, u.service)
		}
	}
	c.local.removeContext(c)
}

func (c *Context) forgetRegistration(id ServiceID) {
	c.mu.Lock()
	delete(c.regs, id)
	c.mu.Unlock()
}

// dropUsage discards every usage of h, as when the service is withdrawn.
func (c *Context) dropUsage(h Handle) {
	c.mu.Lock()
	u, ok := c.usage[h.ID]
	delete(c.usage, h.ID)
	c.mu.Unlock()
	if ok && u.factory != nil {
		c.unget(u.factory, u.handle, u.service)
	}
}

func (c *Context) fromFactory(f ServiceFactory, h Handle) (svc any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("service factory panic: %v", r)
		}
	}()
	return f.GetService(c.name, h)
}

func (c *Context) unget(f ServiceFactory, h Handle, svc any) {
	defer func() {
		if r := recover(); r != nil {
			c.local.logger.Error("Service factory unget panicked", "consumer", c.name, "service_id", h.ID, "panic", fmt.Sprint(r))
		}
	}()
	f.UngetService(c.name, h, svc)
}
