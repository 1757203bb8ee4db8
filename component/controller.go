package component

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/semwire/errors"
	"github.com/c360/semwire/metric"
	"github.com/c360/semwire/registry"
)

// Service properties added to every component service.
const (
	PropComponentName = "component.name"
	PropComponentID   = "component.id"
)

var nextComponentID atomic.Int64

// Activator is implemented by instances that need a hook after binding.
// An error aborts the activation.
type Activator interface {
	Activate(ctx *Context) error
}

// Deactivator is implemented by instances that need a hook before unbinding.
type Deactivator interface {
	Deactivate(ctx *Context)
}

// Modifier is implemented by instances that accept new properties without
// reactivation. An error causes a reactivation instead.
type Modifier interface {
	Modified(ctx *Context, props registry.Properties) error
}

// Options configures a Controller.
type Options struct {
	// Registry is the controller's view of the service registry.
	Registry registry.Registry

	// Implementation creates instances and optionally supplies bind callbacks.
	Implementation *Registration

	// Invoker resolves bind methods when the implementation has no
	// callbacks. Defaults to a MethodInvoker.
	Invoker BindingInvoker

	Logger  *slog.Logger
	Metrics *metric.MetricsRegistry

	// LogPublisher mirrors component log entries, see Logger.
	LogPublisher Publisher
	RuntimeID    string

	// FactoryEnabled allows Updated and Deleted on factory components.
	FactoryEnabled bool

	// ShowTrace logs transitions at info level and adds stacks to panics.
	ShowTrace bool
}

// Controller drives the lifecycle of one component. Every transition runs
// on the controller's serializer, so at most one transition executes at a
// time; Enable, Disable, Dispose and Reconfigure may be called from any
// goroutine and can return before their work has run when another goroutine
// is already draining the serializer.
type Controller struct {
	id       int64
	desc     Descriptor
	reg      registry.Registry
	impl     *Registration
	invoker  BindingInvoker
	logger   *slog.Logger
	metrics  *metric.Metrics
	opts     Options
	tasks    serializer
	context  *Context
	parent   *Controller
	children *childSet

	state             atomic.Int32
	pendingReactivate atomic.Bool

	propsMu sync.RWMutex
	props   registry.Properties

	depsMu sync.RWMutex
	deps   []*DependencyManager

	// instMu guards instance creation, dynamic (un)binding and destruction.
	instMu    sync.Mutex
	instance  any
	useCount  int
	published atomic.Pointer[instanceBox]

	svcMu      sync.Mutex
	serviceReg registry.Registration
}

type instanceBox struct{ v any }

// NewController creates a disabled controller for desc.
func NewController(desc Descriptor, opts Options) (*Controller, error) {
	if err := desc.Validate(); err != nil {
		return nil, errors.Wrap(err, "Controller", "NewController", "validate descriptor")
	}
	if opts.Registry == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Controller", "NewController", "registry check")
	}
	if opts.Implementation == nil || opts.Implementation.New == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrUnknownImplementation, desc.Implementation),
			"Controller", "NewController", "implementation check")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	invoker := opts.Invoker
	switch {
	case len(opts.Implementation.Bindings) > 0:
		invoker = FuncInvoker(opts.Implementation.Bindings)
	case invoker == nil:
		mi, err := NewMethodInvoker(nil)
		if err != nil {
			return nil, errors.Wrap(err, "Controller", "NewController", "create invoker")
		}
		invoker = mi
	}

	c := &Controller{
		id:       nextComponentID.Add(1),
		desc:     desc,
		reg:      opts.Registry,
		impl:     opts.Implementation,
		invoker:  invoker,
		metrics:  opts.Metrics.CoreMetrics(),
		opts:     opts,
		props:    mergeProperties(desc.Properties, nil),
		children: newChildSet(),
	}
	c.logger = logger.With("component", desc.Name, "component_id", c.id)
	c.tasks = serializer{logger: c.logger, showTrace: opts.ShowTrace}
	c.context = &Context{controller: c, logger: NewLogger(desc.Name, c.id, opts.RuntimeID, opts.LogPublisher, c.logger)}
	c.state.Store(int32(StateDisabled))
	c.deps = c.buildDependencies(c.props)
	return c, nil
}

func (c *Controller) buildDependencies(props registry.Properties) []*DependencyManager {
	deps := make([]*DependencyManager, len(c.desc.References))
	for i, ref := range c.desc.References {
		deps[i] = c.newDependency(ref, props)
	}
	return deps
}

func (c *Controller) newDependency(ref ReferenceDescriptor, props registry.Properties) *DependencyManager {
	return newDependencyManager(ref, target(ref, props), c.desc.Name, c, c.reg, c.invoker, c.logger, c.metrics)
}

// ID returns the runtime-unique component id.
func (c *Controller) ID() int64 { return c.id }

// Name returns the component name.
func (c *Controller) Name() string { return c.desc.Name }

// Descriptor returns the component descriptor.
func (c *Controller) Descriptor() Descriptor { return c.desc }

// State returns the current state.
func (c *Controller) State() State { return State(c.state.Load()) }

// Instance returns the component instance, or nil.
func (c *Controller) Instance() any {
	if box := c.published.Load(); box != nil {
		return box.v
	}
	return nil
}

// Properties returns a copy of the component properties.
func (c *Controller) Properties() registry.Properties {
	c.propsMu.RLock()
	defer c.propsMu.RUnlock()
	return c.props.Clone()
}

// Dependencies returns the dependency managers in declaration order.
func (c *Controller) Dependencies() []*DependencyManager {
	c.depsMu.RLock()
	defer c.depsMu.RUnlock()
	return slices.Clone(c.deps)
}

// Dependency returns the manager for a reference name.
func (c *Controller) Dependency(name string) *DependencyManager {
	for _, dm := range c.Dependencies() {
		if dm.Name() == name {
			return dm
		}
	}
	return nil
}

// Enable opens the dependency managers and tries to activate.
func (c *Controller) Enable() error {
	if c.State() == StateDestroyed {
		return errors.Wrap(errors.ErrDisposed, "Controller", "Enable", "check state")
	}
	c.tasks.submit(c.enable)
	return nil
}

// Disable deactivates the component and closes its dependency managers.
func (c *Controller) Disable() {
	c.tasks.submit(c.disable)
}

// Dispose disables the component permanently.
func (c *Controller) Dispose() {
	c.tasks.submit(func() {
		c.disable()
		c.setState(StateDestroyed)
		c.logger.Debug("Component disposed")
	})
}

// Reconfigure replaces the configured properties. Changed reference
// targets rebuild their dependency managers and reactivate; otherwise a
// Modifier instance is updated in place and anything else is reactivated.
func (c *Controller) Reconfigure(props map[string]any) {
	c.tasks.submit(func() { c.reconfigure(props) })
}

// Idle reports whether no transition is queued or running.
func (c *Controller) Idle() bool { return c.tasks.idle() }

func (c *Controller) submit(task func()) { c.tasks.submit(task) }

func (c *Controller) enable() {
	if c.State() != StateDisabled {
		return
	}
	for _, dm := range c.Dependencies() {
		dm.open()
	}
	c.setState(StateUnsatisfied)
	c.activate()
}

func (c *Controller) disable() {
	state := c.State()
	if state == StateDisabled || state == StateDestroyed {
		return
	}
	c.deactivate()
	for _, dm := range c.Dependencies() {
		dm.Close()
	}
	c.setState(StateDisabled)
}

func (c *Controller) setState(to State) {
	from := State(c.state.Swap(int32(to)))
	if from == to {
		return
	}
	c.traceTransition(from, to)
}

func (c *Controller) casState(from, to State) bool {
	if !c.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	c.traceTransition(from, to)
	return true
}

func (c *Controller) traceTransition(from, to State) {
	c.metrics.RecordTransition(c.desc.Name, from.String(), to.String(), int(to))
	level := slog.LevelDebug
	if c.opts.ShowTrace {
		level = slog.LevelInfo
	}
	c.logger.Log(context.Background(), level, "Component state changed", "from", from.String(), "to", to.String())
}

// activate runs only from UNSATISFIED and only when every reference is valid.
func (c *Controller) activate() {
	if c.State() != StateUnsatisfied {
		return
	}
	deps := c.Dependencies()
	for _, dm := range deps {
		if !dm.IsValid() {
			c.logger.Debug("Component not satisfied", "reference", dm.Name())
			return
		}
	}

	start := time.Now()
	c.setState(StateActivating)

	switch {
	case c.desc.IsFactory():
		c.registerService([]string{FactoryInterface}, &Factory{controller: c}, c.factoryProperties())
		c.setState(StateFactory)

	case c.desc.IsDelayed():
		for _, dm := range deps {
			if !dm.Bind(nil) {
				c.setState(StateUnsatisfied)
				return
			}
		}
		c.setState(StateRegistered)
		c.registerService(c.desc.Service.Interfaces, delayedService{c}, c.serviceProperties())

	default:
		c.instMu.Lock()
		ok := c.createInstanceLocked()
		c.instMu.Unlock()
		if !ok {
			c.setState(StateUnsatisfied)
			return
		}
		c.setState(StateActive)
		if c.desc.Service != nil {
			c.registerService(c.desc.Service.Interfaces, c.Instance(), c.serviceProperties())
		}
	}

	c.metrics.RecordActivation(c.desc.Name, time.Since(start))
	c.logger.Info("Component activated", "state", c.State().String())
}

// createInstanceLocked instantiates and binds. On any mandatory failure it
// unbinds what was bound and leaves no instance. Caller holds instMu.
func (c *Controller) createInstanceLocked() bool {
	inst, err := c.instantiate()
	if err != nil {
		c.logger.Error("Component instantiation failed", "error", err)
		c.metrics.RecordError(c.desc.Name, "instantiation")
		return false
	}

	deps := c.Dependencies()
	for i, dm := range deps {
		if dm.Bind(inst) {
			continue
		}
		c.logger.Debug("Mandatory reference could not be bound, rolling back", "reference", dm.Name())
		for j := i; j >= 0; j-- {
			deps[j].Unbind(inst)
		}
		return false
	}

	if a, ok := inst.(Activator); ok {
		if err := c.callActivate(a); err != nil {
			c.logger.Error("Component activate hook failed", "error", err)
			c.metrics.RecordError(c.desc.Name, "activate")
			for j := len(deps) - 1; j >= 0; j-- {
				deps[j].Unbind(inst)
			}
			return false
		}
	}

	c.instance = inst
	c.published.Store(&instanceBox{v: inst})
	return true
}

func (c *Controller) instantiate() (inst any, err error) {
	defer func() {
		if r := recover(); r != nil {
			attrs := fmt.Sprint(r)
			if c.opts.ShowTrace {
				attrs += "\n" + string(debug.Stack())
			}
			err = fmt.Errorf("%w: %s panicked: %s", errors.ErrInstantiation, c.desc.Implementation, attrs)
		}
	}()
	inst, err = c.impl.New(c.context)
	if err != nil {
		return nil, errors.Wrap(fmt.Errorf("%w: %v", errors.ErrInstantiation, err), "Controller", "instantiate", "create instance")
	}
	if inst == nil {
		return nil, errors.Wrap(errors.ErrInstantiation, "Controller", "instantiate", "create instance")
	}
	return inst, nil
}

func (c *Controller) callActivate(a Activator) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("activate panicked: %v", r)
		}
	}()
	return a.Activate(c.context)
}

func (c *Controller) callDeactivate(d Deactivator) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Component deactivate hook panicked", "panic", fmt.Sprint(r))
		}
	}()
	d.Deactivate(c.context)
}

// deactivate tears the component down to UNSATISFIED.
func (c *Controller) deactivate() {
	if c.State()&(satisfied|StateActivating) == 0 {
		return
	}
	c.setState(StateDestroying)

	// unregister first so consumers unbind while the instance is still alive
	c.unregisterService()
	c.children.disposeAll()

	c.instMu.Lock()
	c.destroyInstanceLocked()
	c.instMu.Unlock()

	c.setState(StateUnsatisfied)
	c.logger.Info("Component deactivated")
}

// destroyInstanceLocked runs the deactivate hook and unbinds in reverse
// declaration order. Caller holds instMu.
func (c *Controller) destroyInstanceLocked() {
	inst := c.instance
	if d, ok := inst.(Deactivator); ok && inst != nil {
		c.callDeactivate(d)
	}
	deps := c.Dependencies()
	for i := len(deps) - 1; i >= 0; i-- {
		deps[i].Unbind(inst)
	}
	c.instance = nil
	c.useCount = 0
	c.published.Store(nil)
}

// requestReactivate queues one reactivation; requests made while one is
// pending are folded into it.
func (c *Controller) requestReactivate() {
	if !c.pendingReactivate.CompareAndSwap(false, true) {
		return
	}
	c.tasks.submit(c.reactivate)
}

func (c *Controller) reactivate() {
	c.pendingReactivate.Store(false)
	if c.State()&acceptsEvents == 0 {
		return
	}
	c.metrics.RecordReactivation(c.desc.Name)
	c.logger.Debug("Reactivating component")
	c.deactivate()
	c.activate()
}

func (c *Controller) withInstance(fn func(instance any)) {
	c.instMu.Lock()
	defer c.instMu.Unlock()
	fn(c.instance)
}

func (c *Controller) deferred() bool { return c.desc.IsDelayed() }

func (c *Controller) registerService(ifaces []string, svc any, props registry.Properties) {
	reg, err := c.reg.Register(ifaces, svc, props)
	if err != nil {
		c.logger.Error("Service registration failed", "interfaces", ifaces, "error", err)
		c.metrics.RecordError(c.desc.Name, "register")
		return
	}
	c.svcMu.Lock()
	c.serviceReg = reg
	c.svcMu.Unlock()
}

func (c *Controller) unregisterService() {
	c.svcMu.Lock()
	reg := c.serviceReg
	c.serviceReg = nil
	c.svcMu.Unlock()
	if reg == nil {
		return
	}
	if err := reg.Unregister(); err != nil {
		c.logger.Debug("Service already unregistered", "error", err)
	}
}

func (c *Controller) serviceProperties() registry.Properties {
	props := c.Properties()
	props[PropComponentName] = c.desc.Name
	props[PropComponentID] = c.id
	return props
}

// getService creates the delayed instance on first use.
func (c *Controller) getService() (any, error) {
	c.instMu.Lock()
	defer c.instMu.Unlock()

	state := c.State()
	if state != StateRegistered && state != StateActive {
		return nil, errors.Wrap(errors.ErrUnsatisfied, "Controller", "getService", "check state")
	}
	if c.instance == nil {
		if !c.createInstanceLocked() {
			return nil, errors.Wrap(errors.ErrInstantiation, "Controller", "getService", "create instance")
		}
		c.casState(StateRegistered, StateActive)
	}
	c.useCount++
	return c.instance, nil
}

// ungetService drops one use; the last one returns the component to REGISTERED.
func (c *Controller) ungetService() {
	c.instMu.Lock()
	if c.useCount > 0 {
		c.useCount--
	}
	idle := c.useCount == 0 && c.instance != nil
	c.instMu.Unlock()
	if idle {
		c.tasks.submit(c.releaseDelayed)
	}
}

func (c *Controller) releaseDelayed() {
	c.instMu.Lock()
	defer c.instMu.Unlock()
	if c.useCount > 0 || c.instance == nil || c.State() != StateActive {
		return
	}
	c.destroyInstanceLocked()
	c.casState(StateActive, StateRegistered)
	c.logger.Debug("Delayed component released its instance")
}

// delayedService is registered for delayed components in place of the instance.
type delayedService struct{ c *Controller }

func (d delayedService) GetService(string, registry.Handle) (any, error) {
	return d.c.getService()
}

func (d delayedService) UngetService(string, registry.Handle, any) {
	d.c.ungetService()
}

func (c *Controller) reconfigure(props map[string]any) {
	merged := mergeProperties(c.desc.Properties, props)

	c.propsMu.Lock()
	old := c.props
	c.props = merged
	c.propsMu.Unlock()

	var changed []int
	for i, ref := range c.desc.References {
		if target(ref, old) != target(ref, merged) {
			changed = append(changed, i)
		}
	}

	state := c.State()
	if len(changed) > 0 {
		live := state&acceptsEvents != 0
		if live {
			c.deactivate()
		}
		c.depsMu.Lock()
		replaced := make([]*DependencyManager, 0, len(changed))
		for _, i := range changed {
			replaced = append(replaced, c.deps[i])
			c.deps[i] = c.newDependency(c.desc.References[i], merged)
		}
		fresh := slices.Clone(c.deps)
		c.depsMu.Unlock()

		for _, dm := range replaced {
			dm.Close()
		}
		if live {
			for _, i := range changed {
				fresh[i].open()
			}
			c.logger.Info("Reference targets changed", "references", len(changed))
			c.activate()
		}
		return
	}

	if !state.Satisfied() {
		return
	}

	c.svcMu.Lock()
	reg := c.serviceReg
	c.svcMu.Unlock()
	if reg != nil {
		serviceProps := c.serviceProperties()
		if c.desc.IsFactory() {
			serviceProps = c.factoryProperties()
		}
		if err := reg.SetProperties(serviceProps); err != nil {
			c.logger.Warn("Service properties update failed", "error", err)
		}
	}

	c.instMu.Lock()
	inst := c.instance
	var modErr error
	handled := inst == nil
	if m, ok := inst.(Modifier); ok && inst != nil {
		modErr = c.callModified(m, merged.Clone())
		handled = modErr == nil
	}
	c.instMu.Unlock()

	if !handled {
		if modErr != nil {
			c.logger.Warn("Component rejected new properties, reactivating", "error", modErr)
		}
		c.reactivate()
	}
}

func (c *Controller) callModified(m Modifier, props registry.Properties) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("modified panicked: %v", r)
		}
	}()
	return m.Modified(c.context, props)
}

func mergeProperties(base, overlay map[string]any) registry.Properties {
	out := make(registry.Properties, len(base)+len(overlay))
	maps.Copy(out, base)
	maps.Copy(out, overlay)
	return out
}
