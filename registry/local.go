package registry

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/c360/semwire/errors"
	"github.com/c360/semwire/metric"
	"github.com/c360/semwire/pkg/cache"
)

// Options configures a Local registry.
type Options struct {
	Logger *slog.Logger

	// Metrics enables registry and filter cache metrics when set.
	Metrics *metric.MetricsRegistry

	// FilterCacheSize bounds the compiled filter cache. Default 256.
	FilterCacheSize int
}

type entry struct {
	id      ServiceID
	ifaces  []string
	service any
	props   Properties
	ranking int
	owner   *Context

	// set once Unregistering has been dispatched
	withdrawn bool
}

func (e *entry) handle() Handle {
	return Handle{
		ID:         e.id,
		Ranking:    e.ranking,
		Interfaces: e.ifaces,
		Properties: e.props,
	}
}

func (e *entry) provides(iface string) bool {
	return iface == "" || slices.Contains(e.ifaces, iface)
}

// Local is an in-process service registry. Services are visible to every
// Context created from it; events are delivered on the goroutine that
// caused them, in registry order per subscription.
type Local struct {
	logger  *slog.Logger
	metrics *metric.Metrics
	filters cache.Cache[*Filter]

	mu       sync.Mutex
	nextID   ServiceID
	nextSub  Subscription
	services map[ServiceID]*entry
	subs     map[Subscription]*subscriber
	contexts map[*Context]struct{}
}

// NewLocal creates an empty registry.
func NewLocal(opts Options) (*Local, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	size := opts.FilterCacheSize
	if size <= 0 {
		size = 256
	}

	filters, err := cache.NewLRU[*Filter](size, cache.WithMetrics[*Filter](opts.Metrics, "registry_filters"))
	if err != nil {
		return nil, errors.Wrap(err, "Local", "NewLocal", "create filter cache")
	}

	return &Local{
		logger:   logger.With("component", "registry"),
		metrics:  opts.Metrics.CoreMetrics(),
		filters:  filters,
		services: make(map[ServiceID]*entry),
		subs:     make(map[Subscription]*subscriber),
		contexts: make(map[*Context]struct{}),
	}, nil
}

// Context creates a consumer view of the registry. Usages and
// registrations made through it are released by Context.Close.
func (l *Local) Context(name string) *Context {
	c := &Context{
		local: l,
		name:  name,
		usage: make(map[ServiceID]*usage),
		regs:  make(map[ServiceID]*registration),
		subs:  make(map[Subscription]struct{}),
	}
	l.mu.Lock()
	l.contexts[c] = struct{}{}
	l.mu.Unlock()
	return c
}

// Len returns the number of registered services.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.services)
}

func (l *Local) filter(src string) (*Filter, error) {
	if src == "" {
		return nil, nil
	}
	if f, ok := l.filters.Get(src); ok {
		return f, nil
	}
	f, err := CompileFilter(src)
	if err != nil {
		return nil, err
	}
	_, _ = l.filters.Set(src, f)
	return f, nil
}

// Query returns matching services in ranking order.
func (l *Local) Query(iface, filter string) ([]Handle, error) {
	f, err := l.filter(filter)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	matches := make([]*entry, 0, 4)
	for _, e := range l.services {
		if !e.withdrawn && e.provides(iface) && f.Match(e.props) {
			matches = append(matches, e)
		}
	}
	l.mu.Unlock()

	slices.SortFunc(matches, func(a, b *entry) int {
		if c := cmp.Compare(b.ranking, a.ranking); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})

	handles := make([]Handle, len(matches))
	for i, e := range matches {
		handles[i] = e.handle()
	}
	return handles, nil
}

// Subscribe registers a listener without a consumer context.
func (l *Local) Subscribe(iface, filter string, listener Listener) (Subscription, error) {
	f, err := l.filter(filter)
	if err != nil {
		return 0, err
	}
	if listener == nil {
		return 0, errors.WrapInvalid(fmt.Errorf("nil listener"), "Local", "Subscribe", "validate listener")
	}

	l.mu.Lock()
	l.nextSub++
	s := &subscriber{
		id:       l.nextSub,
		iface:    iface,
		filter:   f,
		listener: listener,
		local:    l,
	}
	l.subs[s.id] = s
	l.mu.Unlock()
	return s.id, nil
}

// Unsubscribe removes a subscription. Events already queued for it are dropped.
func (l *Local) Unsubscribe(id Subscription) {
	l.mu.Lock()
	s, ok := l.subs[id]
	delete(l.subs, id)
	l.mu.Unlock()
	if ok {
		s.close()
	}
}

// lookup returns a copy of the entry so callers can read it unlocked.
func (l *Local) lookup(id ServiceID) (entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.services[id]
	if !ok {
		return entry{}, false
	}
	return *e, true
}

func (l *Local) register(owner *Context, ifaces []string, service any, props Properties) (*registration, error) {
	if len(ifaces) == 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("no interfaces"), "Local", "Register", "validate interfaces")
	}
	if service == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil service"), "Local", "Register", "validate service")
	}

	l.mu.Lock()
	l.nextID++
	e := &entry{
		id:      l.nextID,
		ifaces:  slices.Clone(ifaces),
		service: service,
		owner:   owner,
	}
	e.props, e.ranking = l.decorate(e, props)
	l.services[e.id] = e
	size := len(l.services)
	touched := l.dispatchLocked(Event{Type: Registered, Handle: e.handle()})
	l.mu.Unlock()

	l.metrics.RecordRegistrySize(size)
	l.logger.Debug("Service registered", "service_id", e.id, "interfaces", e.ifaces)
	drainAll(touched)
	return &registration{local: l, owner: owner, id: e.id}, nil
}

// decorate copies props and adds the registry-maintained keys.
func (l *Local) decorate(e *entry, props Properties) (Properties, int) {
	out := props.Clone()
	ranking := toInt(out[PropRanking])
	out[PropServiceID] = int64(e.id)
	out[PropRanking] = ranking
	out[PropObjectClass] = slices.Clone(e.ifaces)
	return out, ranking
}

func (l *Local) setProperties(id ServiceID, props Properties) error {
	l.mu.Lock()
	e, ok := l.services[id]
	if !ok || e.withdrawn {
		l.mu.Unlock()
		return errors.Wrap(errors.ErrServiceGone, "Local", "SetProperties", "lookup service")
	}
	old := e.props
	// entries are replaced, never mutated, so handed-out handles stay stable
	updated := *e
	updated.props, updated.ranking = l.decorate(e, props)
	l.services[id] = &updated

	var touched []*subscriber
	for _, s := range l.sortedSubsLocked() {
		if !updated.provides(s.iface) {
			continue
		}
		was, now := s.filter.Match(old), s.filter.Match(updated.props)
		switch {
		case now:
			s.enqueue(Event{Type: Modified, Handle: updated.handle()})
			touched = append(touched, s)
		case was:
			s.enqueue(Event{Type: ModifiedEndMatch, Handle: updated.handle()})
			touched = append(touched, s)
		}
	}
	l.mu.Unlock()

	drainAll(touched)
	return nil
}

func (l *Local) unregister(id ServiceID) error {
	l.mu.Lock()
	e, ok := l.services[id]
	if !ok || e.withdrawn {
		l.mu.Unlock()
		return errors.Wrap(errors.ErrServiceGone, "Local", "Unregister", "lookup service")
	}
	e.withdrawn = true
	touched := l.dispatchLocked(Event{Type: Unregistering, Handle: e.handle()})
	l.mu.Unlock()

	// listeners see Unregistering while the service is still retrievable
	drainAll(touched)

	l.mu.Lock()
	delete(l.services, id)
	size := len(l.services)
	contexts := make([]*Context, 0, len(l.contexts))
	for c := range l.contexts {
		contexts = append(contexts, c)
	}
	l.mu.Unlock()

	for _, c := range contexts {
		c.dropUsage(e.handle())
	}
	l.metrics.RecordRegistrySize(size)
	l.logger.Debug("Service unregistered", "service_id", id)
	return nil
}

// dispatchLocked enqueues ev for every matching subscriber. Caller holds l.mu.
func (l *Local) dispatchLocked(ev Event) []*subscriber {
	var touched []*subscriber
	for _, s := range l.sortedSubsLocked() {
		if s.iface != "" && !ev.Handle.Provides(s.iface) {
			continue
		}
		if !s.filter.Match(ev.Handle.Properties) {
			continue
		}
		s.enqueue(ev)
		touched = append(touched, s)
	}
	return touched
}

func (l *Local) sortedSubsLocked() []*subscriber {
	subs := make([]*subscriber, 0, len(l.subs))
	for _, s := range l.subs {
		subs = append(subs, s)
	}
	slices.SortFunc(subs, func(a, b *subscriber) int { return cmp.Compare(a.id, b.id) })
	return subs
}

func (l *Local) removeContext(c *Context) {
	l.mu.Lock()
	delete(l.contexts, c)
	l.mu.Unlock()
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	case uint:
		return int(n)
	default:
		return 0
	}
}

// registration is the Registration returned to publishers.
type registration struct {
	local *Local
	owner *Context
	id    ServiceID
}

func (r *registration) Handle() Handle {
	e, ok := r.local.lookup(r.id)
	if !ok || e.withdrawn {
		return Handle{}
	}
	return e.handle()
}

func (r *registration) SetProperties(props Properties) error {
	return r.local.setProperties(r.id, props)
}

func (r *registration) Unregister() error {
	if r.owner != nil {
		r.owner.forgetRegistration(r.id)
	}
	return r.local.unregister(r.id)
}
