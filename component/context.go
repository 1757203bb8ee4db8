package component

import (
	"github.com/c360/semwire/registry"
)

// Context is handed to implementations at creation and to lifecycle hooks.
type Context struct {
	controller *Controller
	logger     *Logger
}

// Name returns the component name.
func (c *Context) Name() string { return c.controller.desc.Name }

// ComponentID returns the runtime-unique component id.
func (c *Context) ComponentID() int64 { return c.controller.id }

// Properties returns a copy of the current component properties.
func (c *Context) Properties() registry.Properties { return c.controller.Properties() }

// LocateService returns the service bound to the named reference. For a
// reference with no bind method this retrieves the best candidate on demand.
func (c *Context) LocateService(reference string) any {
	dm := c.controller.Dependency(reference)
	if dm == nil {
		return nil
	}
	return dm.Service()
}

// LocateServices returns every service bound to the named reference.
func (c *Context) LocateServices(reference string) []any {
	dm := c.controller.Dependency(reference)
	if dm == nil {
		return nil
	}
	return dm.Services()
}

// Logger returns the component logger.
func (c *Context) Logger() *Logger { return c.logger }

// Registry returns the registry view the component was created with.
func (c *Context) Registry() registry.Registry { return c.controller.reg }
