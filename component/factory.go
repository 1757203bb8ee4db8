package component

import (
	"fmt"
	"sync"

	"github.com/c360/semwire/errors"
	"github.com/c360/semwire/registry"
)

// FactoryInterface is the interface a factory component registers under.
const FactoryInterface = "component.Factory"

// PropComponentFactory carries the factory identifier on the factory service.
const PropComponentFactory = "component.factory"

// Factory creates instances of a factory component. It is registered as
// a service while the factory component is satisfied.
type Factory struct {
	controller *Controller
}

// Name returns the factory identifier.
func (f *Factory) Name() string { return f.controller.desc.Factory }

// NewInstance creates, enables and activates one instance configured with
// props layered over the component properties.
func (f *Factory) NewInstance(props map[string]any) (*Instance, error) {
	return f.newInstance("", props)
}

// Updated creates or reconfigures the instance identified by pid.
func (f *Factory) Updated(pid string, props map[string]any) error {
	if !f.controller.opts.FactoryEnabled {
		return errors.WrapInvalid(errors.ErrFactoryDisabled, "Factory", "Updated", "check factory configuration")
	}
	if pid == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: empty pid", errors.ErrInvalidConfig), "Factory", "Updated", "validate pid")
	}
	if inst := f.controller.children.byPID(pid); inst != nil {
		inst.ctrl.Reconfigure(props)
		return nil
	}
	_, err := f.newInstance(pid, props)
	return err
}

// Deleted disposes the instance identified by pid.
func (f *Factory) Deleted(pid string) error {
	if !f.controller.opts.FactoryEnabled {
		return errors.WrapInvalid(errors.ErrFactoryDisabled, "Factory", "Deleted", "check factory configuration")
	}
	inst := f.controller.children.byPID(pid)
	if inst == nil {
		return errors.WrapInvalid(fmt.Errorf("%w: pid %s", errors.ErrUnknownComponent, pid), "Factory", "Deleted", "lookup instance")
	}
	inst.Dispose()
	return nil
}

// Instances returns the live instances.
func (f *Factory) Instances() []*Instance {
	return f.controller.children.snapshot()
}

func (f *Factory) newInstance(pid string, props map[string]any) (*Instance, error) {
	parent := f.controller
	if parent.State() != StateFactory {
		return nil, errors.Wrap(errors.ErrUnsatisfied, "Factory", "NewInstance", "check factory state")
	}

	desc := parent.desc
	desc.Factory = ""
	if desc.Service != nil {
		immediate := true
		desc.Immediate = &immediate
	}
	desc.Properties = mergeProperties(parent.Properties(), props)

	child, err := NewController(desc, parent.opts)
	if err != nil {
		return nil, errors.Wrap(err, "Factory", "NewInstance", "create controller")
	}
	child.parent = parent

	if err := child.Enable(); err != nil {
		return nil, errors.Wrap(err, "Factory", "NewInstance", "enable instance")
	}
	if !child.State().Satisfied() {
		child.Dispose()
		return nil, errors.Wrap(errors.ErrUnsatisfied, "Factory", "NewInstance", "activate instance")
	}

	inst := &Instance{ctrl: child, owner: parent.children, pid: pid}
	if !parent.children.add(inst) {
		child.Dispose()
		return nil, errors.Wrap(errors.ErrDisposed, "Factory", "NewInstance", "track instance")
	}
	parent.logger.Info("Factory instance created", "instance_id", child.ID(), "pid", pid)
	return inst, nil
}

// Instance is one component created by a Factory.
type Instance struct {
	ctrl  *Controller
	owner *childSet
	pid   string
	once  sync.Once
}

// Instance returns the component instance, or nil once disposed.
func (i *Instance) Instance() any { return i.ctrl.Instance() }

// Controller returns the controller driving this instance.
func (i *Instance) Controller() *Controller { return i.ctrl }

// PID returns the configuration identifier, empty for NewInstance instances.
func (i *Instance) PID() string { return i.pid }

// Dispose deactivates the instance permanently. It is idempotent.
func (i *Instance) Dispose() {
	i.once.Do(func() {
		i.owner.remove(i)
		i.ctrl.Dispose()
	})
}

// childSet tracks the instances of a factory component.
type childSet struct {
	mu   sync.Mutex
	all  map[*Instance]struct{}
	pids map[string]*Instance
}

func newChildSet() *childSet {
	return &childSet{
		all:  make(map[*Instance]struct{}),
		pids: make(map[string]*Instance),
	}
}

func (s *childSet) add(inst *Instance) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inst.pid != "" {
		if _, dup := s.pids[inst.pid]; dup {
			return false
		}
		s.pids[inst.pid] = inst
	}
	s.all[inst] = struct{}{}
	return true
}

func (s *childSet) remove(inst *Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.all, inst)
	if inst.pid != "" && s.pids[inst.pid] == inst {
		delete(s.pids, inst.pid)
	}
}

func (s *childSet) byPID(pid string) *Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pids[pid]
}

func (s *childSet) snapshot() []*Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Instance, 0, len(s.all))
	for inst := range s.all {
		out = append(out, inst)
	}
	return out
}

func (s *childSet) disposeAll() {
	for _, inst := range s.snapshot() {
		inst.Dispose()
	}
}

func (c *Controller) factoryProperties() registry.Properties {
	props := c.Properties()
	props[PropComponentName] = c.desc.Name
	props[PropComponentFactory] = c.desc.Factory
	return props
}
