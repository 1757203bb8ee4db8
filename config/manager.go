package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/semwire/errors"
	"github.com/c360/semwire/natsclient"
)

// Key layout of the configuration bucket
const (
	versionKey      = "version"
	componentPrefix = "components."
)

// Target receives component changes read from the configuration bucket.
// The runtime implements it.
type Target interface {
	Enable(name string) error
	Disable(name string) error
	Reconfigure(name string, props map[string]any) error
}

// ComponentUpdate is the value stored under components.<name>. Properties
// overlay the descriptor's own properties. A nil Enabled leaves the enabled
// state alone.
type ComponentUpdate struct {
	Enabled    *bool          `json:"enabled,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Update represents a configuration change notification
type Update struct {
	Key       string
	Component string
	Change    ComponentUpdate
	Deleted   bool
}

// Manager keeps component configuration in a NATS KV bucket and applies
// changes to a Target as they are written.
type Manager struct {
	config      *SafeConfig
	kvStore     *natsclient.KVStore
	target      Target
	watcher     jetstream.KeyWatcher
	subscribers map[string][]chan Update
	overrides   map[string]ComponentUpdate
	mu          sync.RWMutex
	logger      *slog.Logger

	shutdownCh chan struct{}
	wg         sync.WaitGroup
	stopped    atomic.Bool
}

// NewManager creates a manager over an existing KV store. kv may be nil
// when updates are fed through HandleUpdate only.
func NewManager(cfg *Config, kv *natsclient.KVStore, target Target, logger *slog.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Manager", "NewManager", "nil config")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		config:      NewSafeConfig(cfg),
		kvStore:     kv,
		target:      target,
		subscribers: make(map[string][]chan Update),
		overrides:   make(map[string]ComponentUpdate),
		logger:      logger.With("component", "config-manager"),
		shutdownCh:  make(chan struct{}),
	}, nil
}

// NewConfigManager creates or opens the configuration bucket named in
// cfg.Runtime.ConfigBucket and returns a manager over it.
func NewConfigManager(ctx context.Context, cfg *Config, client *natsclient.Client, target Target,
	logger *slog.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Manager", "NewConfigManager", "nil config")
	}
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrNoConnection, "Manager", "NewConfigManager", "nil NATS client")
	}

	bucket := cfg.Runtime.ConfigBucket
	if bucket == "" {
		bucket = "semwire_config"
	}
	kv, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "semwire component configuration",
		History:     5,
	})
	if err != nil {
		return nil, errors.Wrap(err, "Manager", "NewConfigManager", "open bucket "+bucket)
	}
	return NewManager(cfg, client.NewKVStore(kv), target, logger)
}

// GetConfig returns the current configuration
func (cm *Manager) GetConfig() *SafeConfig {
	return cm.config
}

// Override returns the last applied update for a component
func (cm *Manager) Override(name string) (ComponentUpdate, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	u, ok := cm.overrides[name]
	return u, ok
}

// OnChange subscribes to updates whose key matches pattern. Patterns are
// exact keys, "components.*", or a prefix ending in "*".
func (cm *Manager) OnChange(pattern string) <-chan Update {
	ch := make(chan Update, 8)
	cm.mu.Lock()
	cm.subscribers[pattern] = append(cm.subscribers[pattern], ch)
	cm.mu.Unlock()
	return ch
}

// Start reconciles the bucket with the file configuration and begins
// watching components.* for changes.
//
// With an empty bucket, or a file version newer than the bucket's, the
// file configuration is pushed. Otherwise the bucket wins and its entries
// are applied to the target.
func (cm *Manager) Start(ctx context.Context) error {
	if cm.kvStore == nil {
		return errors.WrapInvalid(errors.ErrStorageUnavailable, "Manager", "Start", "no KV store")
	}

	if err := cm.reconcile(ctx); err != nil {
		cm.logger.Warn("Configuration reconcile incomplete", "error", err)
	}

	watcher, err := cm.kvStore.Watch(ctx, componentPrefix+"*", jetstream.UpdatesOnly())
	if err != nil {
		return errors.WrapTransient(err, "Manager", "Start", "watch components")
	}
	cm.watcher = watcher

	cm.wg.Add(1)
	go cm.processWatcher(ctx, watcher)
	return nil
}

func (cm *Manager) reconcile(ctx context.Context) error {
	keys, err := cm.kvStore.Keys(ctx)
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}
	if len(keys) == 0 {
		cm.logger.Info("Empty configuration bucket, pushing file configuration")
		return cm.PushToKV(ctx)
	}

	fileVersion := cm.config.Get().Version
	kvVersion := cm.kvVersion(ctx)
	if fileVersion != "" {
		cmp, err := CompareVersions(fileVersion, kvVersion)
		switch {
		case err != nil:
			cm.logger.Warn("Version comparison failed, using bucket configuration",
				"file_version", fileVersion, "kv_version", kvVersion, "error", err)
		case cmp > 0:
			cm.logger.Info("File configuration is newer, pushing",
				"file_version", fileVersion, "kv_version", kvVersion)
			return cm.PushToKV(ctx)
		case cmp < 0:
			cm.logger.Warn("File configuration is older than bucket, using bucket",
				"file_version", fileVersion, "kv_version", kvVersion)
		}
	}
	return cm.syncFromKV(ctx, keys)
}

// Stop stops watching and closes subscriber channels
func (cm *Manager) Stop(timeout time.Duration) error {
	if !cm.stopped.CompareAndSwap(false, true) {
		return nil
	}

	close(cm.shutdownCh)
	if cm.watcher != nil {
		_ = cm.watcher.Stop()
	}

	done := make(chan struct{})
	go func() {
		cm.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		cm.logger.Warn("Manager shutdown timeout", "timeout", timeout)
	}

	cm.mu.Lock()
	for _, channels := range cm.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}
	cm.subscribers = make(map[string][]chan Update)
	cm.mu.Unlock()
	return nil
}

func (cm *Manager) processWatcher(ctx context.Context, watcher jetstream.KeyWatcher) {
	defer cm.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cm.shutdownCh:
			return
		case entry, ok := <-watcher.Updates():
			if !ok {
				return
			}
			if entry == nil {
				continue
			}
			value := entry.Value()
			if op := entry.Operation(); op == jetstream.KeyValueDelete || op == jetstream.KeyValuePurge {
				value = nil
			}
			if err := cm.HandleUpdate(entry.Key(), value); err != nil {
				cm.logger.Error("Configuration update rejected", "key", entry.Key(), "error", err)
			}
		}
	}
}

// HandleUpdate applies one bucket entry. An empty value restores the file
// configuration of the component.
func (cm *Manager) HandleUpdate(key string, value []byte) error {
	if cm.stopped.Load() {
		return errors.WrapFatal(errors.ErrDisposed, "Manager", "HandleUpdate", "manager stopped")
	}

	name, ok := strings.CutPrefix(key, componentPrefix)
	if !ok || name == "" || strings.Contains(name, ".") {
		return nil
	}

	desc, ok := cm.config.Get().Descriptor(name)
	if !ok {
		return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrUnknownComponent, name),
			"Manager", "HandleUpdate", "resolve component")
	}

	update := Update{Key: key, Component: name}
	if len(value) == 0 {
		enabled := desc.IsEnabled()
		update.Change = ComponentUpdate{Enabled: &enabled}
		update.Deleted = true
	} else {
		change, err := decodeComponentUpdate(value)
		if err != nil {
			return errors.WrapInvalid(err, "Manager", "HandleUpdate", "decode "+key)
		}
		update.Change = change
	}

	cm.mu.Lock()
	if update.Deleted {
		delete(cm.overrides, name)
	} else {
		cm.overrides[name] = update.Change
	}
	cm.mu.Unlock()

	if err := cm.apply(name, update.Change); err != nil {
		return err
	}
	cm.notify(update)
	return nil
}

func decodeComponentUpdate(value []byte) (ComponentUpdate, error) {
	var change ComponentUpdate
	if len(value) > maxConfigSize {
		return change, fmt.Errorf("value too large: %d bytes > %d", len(value), maxConfigSize)
	}
	if err := checkJSONDepth(value); err != nil {
		return change, err
	}
	if err := json.Unmarshal(value, &change); err != nil {
		return change, err
	}
	return change, nil
}

func (cm *Manager) apply(name string, change ComponentUpdate) error {
	if cm.target == nil {
		return nil
	}

	// properties first so an enable activates with the new configuration
	if err := cm.target.Reconfigure(name, maps.Clone(change.Properties)); err != nil {
		return errors.Wrap(err, "Manager", "apply", "reconfigure "+name)
	}
	if change.Enabled == nil {
		return nil
	}
	if *change.Enabled {
		return errors.Wrap(cm.target.Enable(name), "Manager", "apply", "enable "+name)
	}
	return errors.Wrap(cm.target.Disable(name), "Manager", "apply", "disable "+name)
}

func (cm *Manager) notify(update Update) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	for pattern, channels := range cm.subscribers {
		if !matchesPattern(update.Key, pattern) {
			continue
		}
		for _, ch := range channels {
			select {
			case ch <- update:
			default:
				cm.logger.Debug("Dropping configuration update for slow subscriber", "pattern", pattern)
			}
		}
	}
}

// matchesPattern checks if a key matches a subscription pattern
func matchesPattern(key, pattern string) bool {
	if pattern == key {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		rest, found := strings.CutPrefix(key, prefix+".")
		return found && !strings.Contains(rest, ".")
	}
	if prefix, _, found := strings.Cut(pattern, "*"); found {
		return strings.HasPrefix(key, prefix)
	}
	return false
}

// PushToKV writes the version and every component's file configuration
// to the bucket.
func (cm *Manager) PushToKV(ctx context.Context) error {
	if cm.kvStore == nil {
		return errors.WrapInvalid(errors.ErrStorageUnavailable, "Manager", "PushToKV", "no KV store")
	}
	cfg := cm.config.Get()

	if cfg.Version != "" {
		data, err := json.Marshal(cfg.Version)
		if err != nil {
			return errors.Wrap(err, "Manager", "PushToKV", "marshal version")
		}
		if _, err := cm.kvStore.Put(ctx, versionKey, data); err != nil {
			return errors.WrapTransient(err, "Manager", "PushToKV", "push version")
		}
	}

	for _, d := range cfg.Components {
		enabled := d.IsEnabled()
		data, err := json.Marshal(ComponentUpdate{Enabled: &enabled, Properties: d.Properties})
		if err != nil {
			return errors.Wrap(err, "Manager", "PushToKV", "marshal component "+d.Name)
		}
		if _, err := cm.kvStore.Put(ctx, componentPrefix+d.Name, data); err != nil {
			return errors.WrapTransient(err, "Manager", "PushToKV", "push component "+d.Name)
		}
	}
	cm.logger.Info("Pushed configuration to KV", "components", len(cfg.Components), "version", cfg.Version)
	return nil
}

func (cm *Manager) kvVersion(ctx context.Context) string {
	entry, err := cm.kvStore.Get(ctx, versionKey)
	if err != nil {
		return "0.0.0"
	}
	var version string
	if err := json.Unmarshal(entry.Value, &version); err != nil {
		cm.logger.Warn("Unreadable version in KV, treating as 0.0.0", "error", err)
		return "0.0.0"
	}
	return version
}

func (cm *Manager) syncFromKV(ctx context.Context, keys []string) error {
	applied := 0
	for _, key := range keys {
		if !matchesPattern(key, componentPrefix+"*") {
			continue
		}
		entry, err := cm.kvStore.Get(ctx, key)
		if err != nil {
			cm.logger.Warn("Failed to read KV entry during sync", "key", key, "error", err)
			continue
		}
		if err := cm.HandleUpdate(key, entry.Value); err != nil {
			cm.logger.Warn("Failed to apply KV entry during sync", "key", key, "error", err)
			continue
		}
		applied++
	}
	cm.logger.Info("Synced configuration from KV", "keys", len(keys), "applied", applied)
	return nil
}
