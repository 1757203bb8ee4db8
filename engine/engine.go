package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/c360/semwire/component"
	"github.com/c360/semwire/errors"
	"github.com/c360/semwire/health"
	"github.com/c360/semwire/metric"
	"github.com/c360/semwire/registry"
)

// Config configures a Runtime.
type Config struct {
	// ID names the runtime. A random id is generated when empty.
	ID string

	// Registry is the service registry. A new one is created when nil.
	Registry *registry.Local

	// Implementations resolves descriptor implementation names. Required.
	Implementations *component.Registry

	Logger  *slog.Logger
	Metrics *metric.MetricsRegistry

	// LogPublisher mirrors component logs, typically to NATS. Leave nil to disable.
	LogPublisher component.Publisher

	FactoryEnabled bool
	ShowTrace      bool

	// ShowErrors exposes the last error of each component in its health status.
	ShowErrors bool

	// StopTimeout bounds Remove and Stop. Default 10s.
	StopTimeout time.Duration
}

type managed struct {
	ctrl      *component.Controller
	ctx       *registry.Context
	enabledAt atomic.Pointer[time.Time]
}

// Runtime hosts components: it owns the service registry, resolves
// implementations, and drives one Controller per component by name.
type Runtime struct {
	id       string
	reg      *registry.Local
	self     *registry.Context
	impls    *component.Registry
	cfg      Config
	logger   *slog.Logger
	metrics  *runtimeMetrics
	errLog   *errorLog
	validate *Validator

	mu         sync.RWMutex
	components map[string]*managed
	order      []string

	stopped atomic.Bool
}

// New creates an empty runtime.
func New(cfg Config) (*Runtime, error) {
	if cfg.Implementations == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Runtime", "New", "implementation registry check")
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	logger := cfg.Logger.With("runtime", cfg.ID)

	reg := cfg.Registry
	if reg == nil {
		var err error
		reg, err = registry.NewLocal(registry.Options{Logger: logger, Metrics: cfg.Metrics})
		if err != nil {
			return nil, errors.Wrap(err, "Runtime", "New", "create registry")
		}
	}

	metrics, err := newRuntimeMetrics(cfg.Metrics)
	if err != nil {
		return nil, errors.Wrap(err, "Runtime", "New", "register metrics")
	}

	return &Runtime{
		id:         cfg.ID,
		reg:        reg,
		self:       reg.Context("runtime." + cfg.ID),
		impls:      cfg.Implementations,
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		errLog:     newErrorLog(),
		validate:   NewValidator(cfg.Implementations, logger),
		components: make(map[string]*managed),
	}, nil
}

// ID returns the runtime id.
func (r *Runtime) ID() string { return r.id }

// Registry returns the service registry shared by all components.
func (r *Runtime) Registry() *registry.Local { return r.reg }

// Validate checks descriptors against the runtime's implementations
// without loading them.
func (r *Runtime) Validate(descs []component.Descriptor) *ValidationResult {
	result := r.validate.Validate(descs)
	r.metrics.recordValidation(result)
	return result
}

// Load validates descs as a set and adds each. Validation errors reject
// the whole set; warnings are logged.
func (r *Runtime) Load(descs []component.Descriptor) error {
	result := r.Validate(descs)
	for _, w := range result.Warnings {
		r.logger.Warn("Descriptor warning", "component", w.ComponentName, "type", w.Type, "message", w.Message)
	}
	if len(result.Errors) > 0 {
		return errors.WrapInvalid(&ValidationError{Result: result}, "Runtime", "Load", "validate descriptors")
	}

	var errs error
	for _, d := range descs {
		if _, err := r.Add(d); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// Add creates a controller for desc and enables it when the descriptor is
// enabled.
func (r *Runtime) Add(desc component.Descriptor) (ctrl *component.Controller, err error) {
	defer func() { r.metrics.recordOperation("add", err) }()

	if r.stopped.Load() {
		return nil, errors.WrapFatal(errors.ErrDisposed, "Runtime", "Add", "runtime stopped")
	}
	impl, err := r.impls.Lookup(desc.Implementation)
	if err != nil {
		return nil, errors.Wrap(err, "Runtime", "Add", "resolve implementation of "+desc.Name)
	}

	r.mu.Lock()
	if _, exists := r.components[desc.Name]; exists {
		r.mu.Unlock()
		return nil, errors.WrapInvalid(fmt.Errorf("%w: component %s", errors.ErrDuplicate, desc.Name),
			"Runtime", "Add", "duplicate check")
	}

	regCtx := r.reg.Context(desc.Name)
	ctrl, err = component.NewController(desc, component.Options{
		Registry:       regCtx,
		Implementation: impl,
		Logger:         slog.New(r.errLog.tap(desc.Name, r.cfg.Logger.Handler())).With("runtime", r.id),
		Metrics:        r.cfg.Metrics,
		LogPublisher:   r.cfg.LogPublisher,
		RuntimeID:      r.id,
		FactoryEnabled: r.cfg.FactoryEnabled,
		ShowTrace:      r.cfg.ShowTrace,
	})
	if err != nil {
		r.mu.Unlock()
		regCtx.Close()
		return nil, errors.Wrap(err, "Runtime", "Add", "create controller for "+desc.Name)
	}
	m := &managed{ctrl: ctrl, ctx: regCtx}
	r.components[desc.Name] = m
	r.order = append(r.order, desc.Name)
	r.metrics.setComponents(len(r.components))
	r.mu.Unlock()

	r.logger.Info("Component added", "component", desc.Name, "implementation", desc.Implementation,
		"enabled", desc.IsEnabled())
	if desc.IsEnabled() {
		if err := r.enable(m); err != nil {
			return ctrl, err
		}
	}
	return ctrl, nil
}

func (r *Runtime) lookup(name string) (*managed, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.components[name]
	if !ok {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrUnknownComponent, name),
			"Runtime", "lookup", "component lookup")
	}
	return m, nil
}

// Controller returns the controller of a component.
func (r *Runtime) Controller(name string) (*component.Controller, bool) {
	m, err := r.lookup(name)
	if err != nil {
		return nil, false
	}
	return m.ctrl, true
}

// Components returns component names in the order they were added.
func (r *Runtime) Components() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Enable enables a component.
func (r *Runtime) Enable(name string) (err error) {
	defer func() { r.metrics.recordOperation("enable", err) }()
	m, err := r.lookup(name)
	if err != nil {
		return err
	}
	return r.enable(m)
}

func (r *Runtime) enable(m *managed) error {
	if err := m.ctrl.Enable(); err != nil {
		return errors.Wrap(err, "Runtime", "Enable", "enable "+m.ctrl.Name())
	}
	now := time.Now()
	m.enabledAt.Store(&now)
	return nil
}

// Disable disables a component.
func (r *Runtime) Disable(name string) (err error) {
	defer func() { r.metrics.recordOperation("disable", err) }()
	m, err := r.lookup(name)
	if err != nil {
		return err
	}
	m.ctrl.Disable()
	m.enabledAt.Store(nil)
	return nil
}

// Reconfigure overlays props on the descriptor's properties. nil restores
// the descriptor's own properties.
func (r *Runtime) Reconfigure(name string, props map[string]any) (err error) {
	defer func() { r.metrics.recordOperation("reconfigure", err) }()
	m, err := r.lookup(name)
	if err != nil {
		return err
	}
	m.ctrl.Reconfigure(props)
	return nil
}

// State returns the state of a component.
func (r *Runtime) State(name string) (component.State, error) {
	m, err := r.lookup(name)
	if err != nil {
		return 0, err
	}
	return m.ctrl.State(), nil
}

// Instance returns the instance of a component, or nil when it has none.
func (r *Runtime) Instance(name string) (any, error) {
	m, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	return m.ctrl.Instance(), nil
}

// Factory returns the factory service of a satisfied factory component.
func (r *Runtime) Factory(factory string) (*component.Factory, error) {
	filter := fmt.Sprintf(`$env[%q] == %q`, component.PropComponentFactory, factory)
	handles, err := r.self.Query(component.FactoryInterface, filter)
	if err != nil {
		return nil, errors.Wrap(err, "Runtime", "Factory", "query factories")
	}
	for _, h := range handles {
		svc, ok := r.self.Retrieve(h)
		if !ok {
			continue
		}
		r.self.Release(h)
		if f, ok := svc.(*component.Factory); ok {
			return f, nil
		}
	}
	return nil, errors.WrapInvalid(fmt.Errorf("%w: factory %s", errors.ErrUnsatisfied, factory),
		"Runtime", "Factory", "factory lookup")
}

// Remove disposes a component and forgets it.
func (r *Runtime) Remove(ctx context.Context, name string) (err error) {
	defer func() { r.metrics.recordOperation("remove", err) }()

	r.mu.Lock()
	m, ok := r.components[name]
	if ok {
		delete(r.components, name)
		r.order = slices.DeleteFunc(r.order, func(n string) bool { return n == name })
		r.metrics.setComponents(len(r.components))
	}
	r.mu.Unlock()
	if !ok {
		return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrUnknownComponent, name),
			"Runtime", "Remove", "component lookup")
	}

	r.errLog.forget(name)
	return r.dispose(ctx, m)
}

func (r *Runtime) dispose(ctx context.Context, m *managed) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.StopTimeout)
	defer cancel()

	m.ctrl.Dispose()
	err := waitIdle(ctx, m.ctrl)
	m.ctx.Close()
	if err != nil {
		return errors.WrapTransient(err, "Runtime", "dispose", "wait for "+m.ctrl.Name())
	}
	return nil
}

// waitIdle waits until no transition of ctrl is queued or running. Another
// goroutine may still be draining the controller's queue.
func waitIdle(ctx context.Context, ctrl *component.Controller) error {
	if ctrl.Idle() {
		return nil
	}
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if ctrl.Idle() {
				return nil
			}
		}
	}
}

// Stop disposes every component in reverse order of addition. It is
// idempotent; later calls return nil.
func (r *Runtime) Stop(ctx context.Context) error {
	if !r.stopped.CompareAndSwap(false, true) {
		return nil
	}

	r.mu.Lock()
	order := slices.Clone(r.order)
	components := r.components
	r.components = make(map[string]*managed)
	r.order = nil
	r.metrics.setComponents(0)
	r.mu.Unlock()

	var errs error
	for _, name := range slices.Backward(order) {
		errs = multierr.Append(errs, r.dispose(ctx, components[name]))
	}
	r.self.Close()

	r.logger.Info("Runtime stopped", "components", len(order), "errors", len(multierr.Errors(errs)))
	return errs
}

// HealthStatuses reports every component's health.
func (r *Runtime) HealthStatuses() []health.Status {
	r.mu.RLock()
	components := make([]*managed, 0, len(r.order))
	for _, name := range r.order {
		components = append(components, r.components[name])
	}
	r.mu.RUnlock()

	statuses := make([]health.Status, 0, len(components))
	for _, m := range components {
		statuses = append(statuses, health.FromComponent(r.report(m)))
	}
	return statuses
}

func (r *Runtime) report(m *managed) health.ComponentReport {
	report := health.ComponentReport{
		Name:  m.ctrl.Name(),
		State: m.ctrl.State(),
	}
	for _, dm := range m.ctrl.Dependencies() {
		if !dm.IsValid() {
			report.Unbound = append(report.Unbound, dm.Name())
		}
		report.Bound += len(dm.BoundHandles())
		report.Candidate += dm.Size()
	}
	if at := m.enabledAt.Load(); at != nil {
		report.Since = *at
	}
	if r.cfg.ShowErrors {
		report.LastError = r.errLog.last(report.Name)
	}
	return report
}
