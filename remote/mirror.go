package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/semwire/errors"
	"github.com/c360/semwire/metric"
	"github.com/c360/semwire/natsclient"
	"github.com/c360/semwire/registry"
)

const maxEndpointSize = 64 * 1024

// MirrorConfig configures a Mirror.
type MirrorConfig struct {
	// RuntimeID is the local runtime; its own endpoints are skipped.
	RuntimeID string
	Registry  *registry.Local

	// Store is watched by Start. It may be nil when entries are fed
	// through HandleEntry only.
	Store *natsclient.KVStore

	// TTL drops endpoints not announced again within it. Zero keeps
	// endpoints until they are deleted.
	TTL time.Duration

	Logger  *slog.Logger
	Metrics *metric.MetricsRegistry
}

// mirrored is one imported endpoint. The registered service object is
// replaced when the endpoint changes; a refresh only moves announced.
type mirrored struct {
	endpoint  *Endpoint
	announced time.Time
	reg       registry.Registration
}

// Mirror registers endpoints announced by other runtimes into the local
// registry.
type Mirror struct {
	cfg     MirrorConfig
	ctx     *registry.Context
	logger  *slog.Logger
	metrics *metric.Metrics

	// mu serializes registry changes; listeners must not call back into
	// the Mirror.
	mu       sync.Mutex
	imported map[string]*mirrored

	watcher    jetstream.KeyWatcher
	shutdownCh chan struct{}
	wg         sync.WaitGroup
	stopped    atomic.Bool
	now        func() time.Time
}

// NewMirror creates a mirror. Nothing is imported before Start or HandleEntry.
func NewMirror(cfg MirrorConfig) (*Mirror, error) {
	if cfg.Registry == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Mirror", "NewMirror", "registry check")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Mirror{
		cfg:        cfg,
		ctx:        cfg.Registry.Context("remote.mirror"),
		logger:     cfg.Logger.With("component", "remote-mirror", "runtime", cfg.RuntimeID),
		metrics:    cfg.Metrics.CoreMetrics(),
		imported:   make(map[string]*mirrored),
		shutdownCh: make(chan struct{}),
		now:        time.Now,
	}, nil
}

// Start imports the endpoints in the bucket and follows its changes.
func (m *Mirror) Start(ctx context.Context) error {
	if m.stopped.Load() {
		return errors.WrapFatal(errors.ErrDisposed, "Mirror", "Start", "mirror stopped")
	}
	if m.cfg.Store == nil {
		return errors.WrapInvalid(errors.ErrStorageUnavailable, "Mirror", "Start", "no KV store")
	}

	// without UpdatesOnly the watcher replays current values first
	watcher, err := m.cfg.Store.Watch(ctx, ">")
	if err != nil {
		return errors.WrapTransient(err, "Mirror", "Start", "watch endpoints")
	}
	m.watcher = watcher

	m.wg.Add(1)
	go m.processWatcher(ctx, watcher)

	if m.cfg.TTL > 0 {
		m.wg.Add(1)
		go m.sweepLoop(ctx)
	}
	m.logger.Info("Mirror started", "ttl", m.cfg.TTL)
	return nil
}

func (m *Mirror) processWatcher(ctx context.Context, watcher jetstream.KeyWatcher) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.shutdownCh:
			return
		case entry, ok := <-watcher.Updates():
			if !ok {
				return
			}
			if entry == nil {
				m.logger.Debug("Initial endpoints replayed", "imported", m.Len())
				continue
			}
			value := entry.Value()
			if op := entry.Operation(); op == jetstream.KeyValueDelete || op == jetstream.KeyValuePurge {
				value = nil
			}
			if err := m.HandleEntry(entry.Key(), value); err != nil {
				m.logger.Warn("Endpoint rejected", "key", entry.Key(), "error", err)
			}
		}
	}
}

func (m *Mirror) sweepLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.TTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.shutdownCh:
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// HandleEntry applies one bucket entry. An empty value removes the endpoint.
func (m *Mirror) HandleEntry(key string, value []byte) error {
	if m.stopped.Load() {
		return errors.WrapFatal(errors.ErrDisposed, "Mirror", "HandleEntry", "mirror stopped")
	}
	runtime, _, ok := parseKey(key)
	if !ok {
		return errors.WrapInvalid(fmt.Errorf("%w: endpoint key %q", errors.ErrInvalidConfig, key),
			"Mirror", "HandleEntry", "parse key")
	}
	if runtime == m.cfg.RuntimeID {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(value) == 0 {
		m.removeLocked(key, "deleted")
		return nil
	}

	ep, err := decodeEndpoint(value)
	if err != nil {
		return errors.WrapInvalid(err, "Mirror", "HandleEntry", "decode "+key)
	}
	if ep.Key() != key {
		return errors.WrapInvalid(fmt.Errorf("%w: endpoint %s stored under %s", errors.ErrInvalidConfig, ep.Key(), key),
			"Mirror", "HandleEntry", "check key")
	}

	m.dropStaleSessionsLocked(ep)

	if cur, ok := m.imported[key]; ok {
		if sameEndpoint(cur.endpoint, ep) {
			cur.announced = ep.Announced
			return nil
		}
		m.removeLocked(key, "replaced")
	}

	reg, err := m.ctx.Register(ep.Interfaces, ep, ep.serviceProperties())
	if err != nil {
		return errors.Wrap(err, "Mirror", "HandleEntry", "register "+key)
	}
	m.imported[key] = &mirrored{endpoint: ep, announced: ep.Announced, reg: reg}
	m.metrics.RecordRemoteServices(len(m.imported))
	m.logger.Debug("Endpoint imported", "endpoint", ep.String())
	return nil
}

func decodeEndpoint(value []byte) (*Endpoint, error) {
	if len(value) > maxEndpointSize {
		return nil, fmt.Errorf("endpoint too large: %d bytes > %d", len(value), maxEndpointSize)
	}
	var ep Endpoint
	if err := json.Unmarshal(value, &ep); err != nil {
		return nil, err
	}
	if ep.Runtime == "" || len(ep.Interfaces) == 0 {
		return nil, fmt.Errorf("%w: endpoint without runtime or interfaces", errors.ErrInvalidConfig)
	}
	return &ep, nil
}

// sameEndpoint reports whether b differs from a only in its announcement time.
func sameEndpoint(a, b *Endpoint) bool {
	return a.Session == b.Session && a.Ranking == b.Ranking &&
		slices.Equal(a.Interfaces, b.Interfaces) && reflect.DeepEqual(a.Properties, b.Properties)
}

// dropStaleSessionsLocked removes endpoints a runtime announced before it
// restarted.
func (m *Mirror) dropStaleSessionsLocked(ep *Endpoint) {
	if ep.Session == "" {
		return
	}
	for key, cur := range m.imported {
		if cur.endpoint.Runtime == ep.Runtime && cur.endpoint.Session != ep.Session &&
			cur.announced.Before(ep.Announced) {
			m.removeLocked(key, "stale session")
		}
	}
}

func (m *Mirror) removeLocked(key, reason string) {
	cur, ok := m.imported[key]
	if !ok {
		return
	}
	delete(m.imported, key)
	if err := cur.reg.Unregister(); err != nil {
		m.logger.Debug("Endpoint already unregistered", "key", key, "error", err)
	}
	m.metrics.RecordRemoteServices(len(m.imported))
	m.logger.Debug("Endpoint removed", "endpoint", cur.endpoint.String(), "reason", reason)
}

// Sweep removes endpoints not announced within the TTL.
func (m *Mirror) Sweep() int {
	if m.cfg.TTL <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.cfg.TTL)

	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key, cur := range m.imported {
		if cur.announced.Before(cutoff) {
			m.removeLocked(key, "expired")
			n++
		}
	}
	return n
}

// Len returns the number of imported endpoints.
func (m *Mirror) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.imported)
}

// Imported returns the imported endpoints ordered by key.
func (m *Mirror) Imported() []Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Endpoint, 0, len(m.imported))
	for _, cur := range m.imported {
		ep := *cur.endpoint
		ep.Announced = cur.announced
		out = append(out, ep)
	}
	slices.SortFunc(out, func(a, b Endpoint) int { return strings.Compare(a.Key(), b.Key()) })
	return out
}

// Stop stops watching and withdraws every imported endpoint. It is idempotent.
func (m *Mirror) Stop(timeout time.Duration) error {
	if !m.stopped.CompareAndSwap(false, true) {
		return nil
	}
	close(m.shutdownCh)
	if m.watcher != nil {
		_ = m.watcher.Stop()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		m.logger.Warn("Mirror shutdown timeout", "timeout", timeout)
	}

	m.mu.Lock()
	m.imported = make(map[string]*mirrored)
	m.mu.Unlock()
	m.ctx.Close()
	m.metrics.RecordRemoteServices(0)
	m.logger.Info("Mirror stopped")
	return nil
}
