package remote

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/c360/semwire/errors"
	"github.com/c360/semwire/metric"
	"github.com/c360/semwire/natsclient"
	"github.com/c360/semwire/pkg/retry"
	"github.com/c360/semwire/pkg/worker"
	"github.com/c360/semwire/registry"
)

// Bucket is the part of a KV store the Announcer writes to.
// *natsclient.KVStore implements it.
type Bucket interface {
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Delete(ctx context.Context, key string) error
}

// AnnouncerConfig configures an Announcer.
type AnnouncerConfig struct {
	RuntimeID string
	Registry  *registry.Local
	Bucket    Bucket

	// ExportProperty names the property that marks services to announce.
	// Default DefaultExportProperty.
	ExportProperty string

	// Refresh re-announces every exported service at this interval. Zero
	// disables refreshing.
	Refresh time.Duration

	// WriteRate caps bucket writes per second, bursting up to WriteBurst.
	// Zero leaves writes unthrottled.
	WriteRate  float64
	WriteBurst int

	Logger  *slog.Logger
	Metrics *metric.MetricsRegistry
}

// announcement is one bucket write. A nil endpoint withdraws the key.
type announcement struct {
	key      string
	endpoint *Endpoint
}

// Announcer publishes the exported services of a registry to a bucket.
type Announcer struct {
	cfg     AnnouncerConfig
	session string
	filter  string
	logger  *slog.Logger
	pool    *worker.Pool[announcement]
	limiter *rate.Limiter // nil when unthrottled

	mu       sync.Mutex
	exported map[registry.ServiceID]*Endpoint
	sub      registry.Subscription
	started  bool
	stopped  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAnnouncer creates an announcer. Nothing is published before Start.
func NewAnnouncer(cfg AnnouncerConfig) (*Announcer, error) {
	if cfg.Registry == nil || cfg.Bucket == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Announcer", "NewAnnouncer", "registry and bucket check")
	}
	if cfg.RuntimeID == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: runtime id", errors.ErrMissingConfig),
			"Announcer", "NewAnnouncer", "runtime id check")
	}
	if cfg.ExportProperty == "" {
		cfg.ExportProperty = DefaultExportProperty
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	a := &Announcer{
		cfg:      cfg,
		session:  uuid.NewString(),
		filter:   fmt.Sprintf("$env[%q] != nil", cfg.ExportProperty),
		logger:   cfg.Logger.With("component", "remote-announcer", "runtime", cfg.RuntimeID),
		exported: make(map[registry.ServiceID]*Endpoint),
	}

	if cfg.WriteRate > 0 {
		a.limiter = rate.NewLimiter(rate.Limit(cfg.WriteRate), max(cfg.WriteBurst, 1))
	}

	opts := []worker.Option[announcement]{
		worker.WithErrorHandler(func(ann announcement, err error) {
			a.logger.Error("Announcement failed", "key", ann.key, "withdraw", ann.endpoint == nil, "error", err)
		}),
	}
	if cfg.Metrics != nil {
		opts = append(opts, worker.WithMetricsRegistry[announcement](cfg.Metrics, "remote_announcer"))
	}
	// one worker keeps writes for a key in order
	pool, err := worker.NewPool(1, 1024, a.write, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "Announcer", "NewAnnouncer", "create write pool")
	}
	a.pool = pool
	return a, nil
}

// Session returns the id that distinguishes this announcer from earlier
// runs of the same runtime.
func (a *Announcer) Session() string { return a.session }

// Start announces services already registered and follows changes.
func (a *Announcer) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return errors.WrapFatal(errors.ErrDisposed, "Announcer", "Start", "announcer stopped")
	}
	if a.started {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	if err := a.pool.Start(ctx); err != nil {
		cancel()
		return errors.Wrap(err, "Announcer", "Start", "start write pool")
	}

	sub, err := a.cfg.Registry.Subscribe("", a.filter, a)
	if err != nil {
		cancel()
		_ = a.pool.Stop(time.Second)
		return errors.Wrap(err, "Announcer", "Start", "subscribe")
	}
	a.sub = sub
	a.cancel = cancel
	a.started = true

	// Subscribe before Query: a service registered in between is announced
	// twice, which Put tolerates.
	handles, err := a.cfg.Registry.Query("", a.filter)
	if err != nil {
		return errors.Wrap(err, "Announcer", "Start", "query exported services")
	}
	for _, h := range handles {
		a.exportLocked(h)
	}

	if a.cfg.Refresh > 0 {
		a.wg.Add(1)
		go a.refreshLoop(ctx)
	}
	a.logger.Info("Announcer started", "session", a.session, "services", len(a.exported))
	return nil
}

// ServiceChanged follows exported services in the registry.
func (a *Announcer) ServiceChanged(ev registry.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started || a.stopped {
		return
	}
	switch ev.Type {
	case registry.Registered, registry.Modified:
		a.exportLocked(ev.Handle)
	case registry.ModifiedEndMatch, registry.Unregistering:
		a.withdrawLocked(ev.Handle.ID)
	}
}

func (a *Announcer) exportLocked(h registry.Handle) {
	if imported, _ := h.Property(PropImported).(bool); imported {
		return
	}
	ifaces := exportedInterfaces(h, a.cfg.ExportProperty)
	if len(ifaces) == 0 {
		a.withdrawLocked(h.ID)
		return
	}

	ep := &Endpoint{
		Runtime:    a.cfg.RuntimeID,
		Session:    a.session,
		ServiceID:  int64(h.ID),
		Interfaces: ifaces,
		Ranking:    h.Ranking,
		Properties: portableProperties(h.Properties),
		Announced:  time.Now(),
	}
	a.exported[h.ID] = ep
	a.submit(announcement{key: ep.Key(), endpoint: ep})
}

func (a *Announcer) withdrawLocked(id registry.ServiceID) {
	if _, ok := a.exported[id]; !ok {
		return
	}
	delete(a.exported, id)
	a.submit(announcement{key: endpointKey(a.cfg.RuntimeID, int64(id))})
}

func (a *Announcer) submit(ann announcement) {
	if err := a.pool.Submit(ann); err != nil {
		// a refresh repairs dropped puts; dropped withdrawals expire
		a.logger.Warn("Announcement dropped", "key", ann.key, "error", err)
	}
}

// write runs on the pool worker.
func (a *Announcer) write(ctx context.Context, ann announcement) error {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return errors.WrapTransient(err, "Announcer", "write", "wait for write budget")
		}
	}

	if ann.endpoint == nil {
		return retry.Do(ctx, retry.DefaultConfig(), func() error {
			err := a.cfg.Bucket.Delete(ctx, ann.key)
			if natsclient.IsKVNotFoundError(err) {
				return nil
			}
			return err
		})
	}

	data, err := json.Marshal(ann.endpoint)
	if err != nil {
		return errors.WrapInvalid(err, "Announcer", "write", "encode "+ann.key)
	}
	return retry.Do(ctx, retry.DefaultConfig(), func() error {
		_, err := a.cfg.Bucket.Put(ctx, ann.key, data)
		return err
	})
}

func (a *Announcer) refreshLoop(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.cfg.Refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.refresh()
		}
	}
}

func (a *Announcer) refresh() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	now := time.Now()
	for _, ep := range a.exported {
		fresh := *ep
		fresh.Announced = now
		a.exported[registry.ServiceID(ep.ServiceID)] = &fresh
		a.submit(announcement{key: fresh.Key(), endpoint: &fresh})
	}
}

// Exported returns the currently announced endpoints ordered by service id.
func (a *Announcer) Exported() []Endpoint {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Endpoint, 0, len(a.exported))
	for _, ep := range a.exported {
		out = append(out, *ep)
	}
	slices.SortFunc(out, func(x, y Endpoint) int { return cmp.Compare(x.ServiceID, y.ServiceID) })
	return out
}

// Stop withdraws every announced endpoint and waits up to timeout for the
// bucket writes to finish. It is idempotent.
func (a *Announcer) Stop(timeout time.Duration) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	wasStarted := a.started
	if wasStarted {
		a.cfg.Registry.Unsubscribe(a.sub)
		for id := range a.exported {
			a.withdrawLocked(id)
		}
	}
	a.stopped = true
	a.mu.Unlock()

	if !wasStarted {
		return nil
	}
	err := a.pool.Stop(timeout)
	a.cancel()
	a.wg.Wait()
	a.logger.Info("Announcer stopped")
	if err != nil {
		return errors.WrapTransient(err, "Announcer", "Stop", "drain bucket writes")
	}
	return nil
}
