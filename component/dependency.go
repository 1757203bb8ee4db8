package component

import (
	"cmp"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/c360/semwire/errors"
	"github.com/c360/semwire/metric"
	"github.com/c360/semwire/registry"
)

// BindResult is the outcome of binding one candidate.
type BindResult int

// Bind results.
const (
	// Bound means the service was retrieved and, if declared, the bind method succeeded.
	Bound BindResult = iota + 1
	// Skipped means the service could not be retrieved or the slot was taken.
	Skipped
	// Failed means the service was retrieved but the bind method failed.
	Failed
)

func (r BindResult) String() string {
	switch r {
	case Bound:
		return "bound"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// dependencyOwner is the controller as seen by its dependency managers.
// Every method except submit must be called from a serialized task.
type dependencyOwner interface {
	State() State
	submit(task func())
	activate()
	deactivate()
	requestReactivate()
	// withInstance runs fn under the instance lock; the instance may be nil.
	withInstance(fn func(instance any))
	// deferred reports whether instances are created on first use.
	deferred() bool
}

type boundService struct {
	handle  registry.Handle
	service any
	seq     uint64
}

// DependencyManager tracks the candidates of one reference and binds them
// to the component instance.
type DependencyManager struct {
	ref       ReferenceDescriptor
	target    string
	component string
	owner     dependencyOwner
	client    registry.Client
	invoker   BindingInvoker
	logger    *slog.Logger
	metrics   *metric.Metrics

	mu         sync.Mutex
	closed     bool
	opening    bool
	sub        registry.Subscription
	subscribed bool
	candidates map[registry.ServiceID]struct{}
	tombstones map[registry.ServiceID]struct{}
	bound      map[registry.ServiceID]*boundService
	seq        uint64

	missingLogged atomic.Bool
}

func newDependencyManager(
	ref ReferenceDescriptor, filter, component string, owner dependencyOwner,
	client registry.Client, invoker BindingInvoker, logger *slog.Logger, metrics *metric.Metrics,
) *DependencyManager {
	return &DependencyManager{
		ref:        ref,
		target:     filter,
		component:  component,
		owner:      owner,
		client:     client,
		invoker:    invoker,
		logger:     logger.With("reference", ref.Name, "interface", ref.Interface),
		metrics:    metrics,
		closed:     true,
		candidates: make(map[registry.ServiceID]struct{}),
		bound:      make(map[registry.ServiceID]*boundService),
	}
}

// Name returns the reference name.
func (dm *DependencyManager) Name() string { return dm.ref.Name }

// Reference returns the reference descriptor.
func (dm *DependencyManager) Reference() ReferenceDescriptor { return dm.ref }

// Target returns the effective target filter.
func (dm *DependencyManager) Target() string { return dm.target }

// Size returns the number of known candidates.
func (dm *DependencyManager) Size() int {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return len(dm.candidates)
}

// IsValid reports whether the reference is satisfied by the current candidates.
func (dm *DependencyManager) IsValid() bool {
	return dm.ref.Optional() || dm.Size() > 0
}

// open subscribes and seeds the candidate set. Removals delivered between
// subscribing and the query are remembered so the query cannot resurrect
// them.
func (dm *DependencyManager) open() {
	dm.mu.Lock()
	if !dm.closed {
		dm.mu.Unlock()
		return
	}
	dm.closed = false
	dm.opening = true
	dm.tombstones = make(map[registry.ServiceID]struct{})
	dm.mu.Unlock()

	sub, err := dm.client.Subscribe(dm.ref.Interface, dm.target, dm)
	if err != nil {
		dm.logger.Error("Cannot track reference, it matches nothing", "target", dm.target, "error", err)
		dm.metrics.RecordError(dm.component, "filter")
		dm.mu.Lock()
		dm.opening = false
		dm.tombstones = nil
		dm.mu.Unlock()
		return
	}

	handles, err := dm.client.Query(dm.ref.Interface, dm.target)
	if err != nil {
		dm.logger.Error("Initial candidate query failed", "target", dm.target, "error", err)
	}

	dm.mu.Lock()
	closed := dm.closed
	if !closed {
		dm.sub, dm.subscribed = sub, true
		for _, h := range handles {
			if _, gone := dm.tombstones[h.ID]; !gone {
				dm.candidates[h.ID] = struct{}{}
			}
		}
	}
	dm.opening = false
	dm.tombstones = nil
	dm.mu.Unlock()

	// Close ran while the subscription was being set up
	if closed {
		dm.client.Unsubscribe(sub)
	}
}

// ServiceChanged handles a registry event. Candidate bookkeeping happens
// immediately; the reaction runs on the owner's serializer.
func (dm *DependencyManager) ServiceChanged(ev registry.Event) {
	h := ev.Handle
	switch ev.Type {
	case registry.Registered:
		if dm.addCandidate(h) {
			dm.owner.submit(func() { dm.addingService(h) })
		}
	case registry.Modified:
		// still matching: only an unknown service changes anything
		if dm.addCandidate(h) {
			dm.owner.submit(func() { dm.addingService(h) })
		}
	case registry.ModifiedEndMatch, registry.Unregistering:
		if dm.removeCandidate(h) {
			dm.owner.submit(func() { dm.removedService(h) })
		}
	}
}

func (dm *DependencyManager) addCandidate(h registry.Handle) bool {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.closed {
		return false
	}
	if _, ok := dm.candidates[h.ID]; ok {
		return false
	}
	dm.candidates[h.ID] = struct{}{}
	return true
}

func (dm *DependencyManager) removeCandidate(h registry.Handle) bool {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.closed {
		return false
	}
	if dm.opening {
		dm.tombstones[h.ID] = struct{}{}
	}
	_, wasCandidate := dm.candidates[h.ID]
	delete(dm.candidates, h.ID)
	_, wasBound := dm.bound[h.ID]
	return wasCandidate || wasBound
}

func (dm *DependencyManager) isClosed() bool {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.closed
}

func (dm *DependencyManager) isBound() bool {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return len(dm.bound) > 0
}

func (dm *DependencyManager) boundEntry(id registry.ServiceID) *boundService {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.bound[id]
}

// addingService reacts to a new candidate. Runs serialized.
func (dm *DependencyManager) addingService(h registry.Handle) {
	if dm.isClosed() {
		return
	}
	state := dm.owner.State()
	if state == StateUnsatisfied {
		dm.owner.activate()
		return
	}
	if state&acceptsEvents == 0 {
		return
	}
	if !dm.ref.Multiple() && dm.isBound() {
		return
	}

	if !dm.ref.Dynamic() {
		// nothing is bound before a delayed instance exists
		hasInstance := false
		dm.owner.withInstance(func(instance any) { hasInstance = instance != nil })
		if hasInstance {
			dm.logger.Debug("Static reference gained a candidate, reactivating", "service_id", h.ID)
			dm.owner.requestReactivate()
		}
		return
	}

	dm.owner.withInstance(func(instance any) {
		if instance != nil {
			dm.bindOne(instance, h)
		}
	})
}

// removedService reacts to a lost candidate. Runs serialized.
func (dm *DependencyManager) removedService(h registry.Handle) {
	if dm.isClosed() {
		return
	}
	if dm.owner.State()&acceptsEvents == 0 {
		return
	}
	// a delayed component may be registered with nothing bound yet
	if !dm.IsValid() {
		dm.logger.Debug("Mandatory reference lost its last candidate", "service_id", h.ID)
		dm.owner.deactivate()
		return
	}

	b := dm.boundEntry(h.ID)
	if b == nil {
		return
	}
	if !dm.ref.Dynamic() {
		dm.logger.Debug("Static reference lost a bound service, reactivating", "service_id", h.ID)
		dm.owner.requestReactivate()
		return
	}

	lost := false
	dm.owner.withInstance(func(instance any) {
		dm.unbindOne(instance, b)
		if !dm.ref.Multiple() && !dm.bindAny(instance) && !dm.ref.Optional() {
			lost = true
		}
	})
	if lost {
		dm.logger.Debug("No replacement for mandatory reference", "service_id", h.ID)
		dm.owner.deactivate()
	}
}

// Bind binds the current candidates to instance and reports whether the
// reference is satisfied. A nil instance of a deferred component succeeds
// without binding.
func (dm *DependencyManager) Bind(instance any) bool {
	if !dm.IsValid() {
		return false
	}
	if instance == nil && dm.owner.deferred() {
		return true
	}
	if !dm.ref.Multiple() && dm.isBound() {
		return true
	}
	return dm.bindAny(instance) || dm.ref.Optional()
}

// bindAny binds the first retrievable candidate, or every candidate for a
// multiple reference, and reports whether any service was retrieved.
func (dm *DependencyManager) bindAny(instance any) bool {
	handles, err := dm.client.Query(dm.ref.Interface, dm.target)
	if err != nil {
		dm.logger.Error("Candidate query failed", "target", dm.target, "error", err)
		dm.metrics.RecordError(dm.component, "filter")
		return false
	}

	retrieved := false
	for _, h := range handles {
		if dm.bindOne(instance, h) == Skipped {
			continue
		}
		retrieved = true
		if !dm.ref.Multiple() {
			break
		}
	}
	return retrieved
}

func (dm *DependencyManager) bindOne(instance any, h registry.Handle) BindResult {
	dm.mu.Lock()
	if dm.closed {
		dm.mu.Unlock()
		return Skipped
	}
	if _, ok := dm.bound[h.ID]; ok {
		dm.mu.Unlock()
		return Bound
	}
	if !dm.ref.Multiple() && len(dm.bound) > 0 {
		dm.mu.Unlock()
		return Skipped
	}
	// reserve the slot before retrieving so a single reference never holds two
	dm.seq++
	b := &boundService{handle: h, seq: dm.seq}
	dm.bound[h.ID] = b
	dm.mu.Unlock()

	svc, ok := dm.client.Retrieve(h)

	dm.mu.Lock()
	if !ok || dm.closed || dm.bound[h.ID] != b {
		if dm.bound[h.ID] == b {
			delete(dm.bound, h.ID)
		}
		dm.mu.Unlock()
		if ok {
			dm.client.Release(h)
		}
		dm.logger.Debug("Candidate vanished before binding", "service_id", h.ID)
		dm.metrics.RecordBind(dm.component, dm.ref.Name, Skipped.String())
		return Skipped
	}
	b.service = svc
	dm.mu.Unlock()

	result := Bound
	if dm.ref.Bind != "" && instance != nil {
		if err := dm.invoker.Invoke(instance, dm.ref.Bind, h, svc); err != nil {
			dm.invocationFailed("bind", h, err)
			result = Failed
		}
	}
	dm.metrics.RecordBind(dm.component, dm.ref.Name, result.String())
	return result
}

// Unbind unbinds every bound service from instance, newest first.
func (dm *DependencyManager) Unbind(instance any) {
	for _, b := range dm.boundSnapshot(true) {
		dm.unbindOne(instance, b)
	}
}

func (dm *DependencyManager) unbindOne(instance any, b *boundService) {
	dm.mu.Lock()
	if dm.bound[b.handle.ID] != b {
		dm.mu.Unlock()
		return
	}
	delete(dm.bound, b.handle.ID)
	dm.mu.Unlock()

	defer dm.client.Release(b.handle)

	if dm.ref.Unbind != "" && instance != nil {
		if err := dm.invoker.Invoke(instance, dm.ref.Unbind, b.handle, b.service); err != nil {
			dm.invocationFailed("unbind", b.handle, err)
		}
	}
	dm.metrics.RecordUnbind(dm.component, dm.ref.Name)
}

func (dm *DependencyManager) invocationFailed(kind string, h registry.Handle, err error) {
	if errors.Is(err, errors.ErrMissingBindingMethod) {
		if dm.missingLogged.CompareAndSwap(false, true) {
			dm.logger.Error("Binding method not found", "kind", kind, "error", err)
		}
		dm.metrics.RecordError(dm.component, "missing_method")
		return
	}
	dm.logger.Error("Binding method failed", "kind", kind, "service_id", h.ID, "error", err)
	dm.metrics.RecordError(dm.component, kind)
}

// Close unsubscribes, then forgets every candidate and releases every held
// service without calling unbind methods. It is idempotent.
func (dm *DependencyManager) Close() {
	dm.mu.Lock()
	if dm.closed {
		dm.mu.Unlock()
		return
	}
	dm.closed = true
	sub, subscribed := dm.sub, dm.subscribed
	dm.subscribed = false
	dm.mu.Unlock()

	if subscribed {
		dm.client.Unsubscribe(sub)
	}

	dm.mu.Lock()
	held := dm.bound
	dm.bound = make(map[registry.ServiceID]*boundService)
	dm.candidates = make(map[registry.ServiceID]struct{})
	dm.mu.Unlock()

	for _, b := range held {
		if b.service != nil {
			dm.client.Release(b.handle)
		}
	}
}

// boundSnapshot returns retrieved bindings ordered by bind sequence.
func (dm *DependencyManager) boundSnapshot(newestFirst bool) []*boundService {
	dm.mu.Lock()
	out := make([]*boundService, 0, len(dm.bound))
	for _, b := range dm.bound {
		if b.service != nil {
			out = append(out, b)
		}
	}
	dm.mu.Unlock()

	slices.SortFunc(out, func(a, b *boundService) int {
		if newestFirst {
			return cmp.Compare(b.seq, a.seq)
		}
		return cmp.Compare(a.seq, b.seq)
	})
	return out
}

// BoundHandles returns the handles currently bound, oldest first.
func (dm *DependencyManager) BoundHandles() []registry.Handle {
	snap := dm.boundSnapshot(false)
	out := make([]registry.Handle, len(snap))
	for i, b := range snap {
		out[i] = b.handle
	}
	return out
}

// Services returns the bound service objects, oldest first.
func (dm *DependencyManager) Services() []any {
	snap := dm.boundSnapshot(false)
	out := make([]any, len(snap))
	for i, b := range snap {
		out[i] = b.service
	}
	return out
}

// Service returns the first bound service. When nothing is bound it
// retrieves the best candidate and holds it until unbind or close.
func (dm *DependencyManager) Service() any {
	if snap := dm.boundSnapshot(false); len(snap) > 0 {
		return snap[0].service
	}
	handles, err := dm.client.Query(dm.ref.Interface, dm.target)
	if err != nil {
		return nil
	}
	for _, h := range handles {
		if dm.bindOne(nil, h) != Skipped {
			if b := dm.boundEntry(h.ID); b != nil {
				return b.service
			}
		}
	}
	return nil
}
