// Package kvstore provides a storage component backed by a NATS JetStream
// key-value bucket. The NATS connection is a service reference, so the
// store activates only while a connected client is registered.
package kvstore

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/semwire/component"
	"github.com/c360/semwire/config"
	"github.com/c360/semwire/errors"
	"github.com/c360/semwire/natsclient"
	"github.com/c360/semwire/storage"
)

// Component properties
const (
	PropBucket   = "bucket"
	PropHistory  = "history"
	PropTTL      = "ttl"
	PropReplicas = "replicas"
)

// Store implements storage.Store over a KV bucket.
type Store struct {
	bucket   string
	history  int
	ttl      time.Duration
	replicas int

	mu     sync.RWMutex
	client *natsclient.Client
	kv     *natsclient.KVStore
}

var (
	_ storage.Store       = (*Store)(nil)
	_ component.Activator = (*Store)(nil)
)

// New creates a store from the component properties.
func New(ctx *component.Context) (any, error) {
	props := ctx.Properties()
	bucket := config.GetString(props, PropBucket, "")
	if bucket == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrMissingConfig, PropBucket),
			"Store", "New", "validate bucket")
	}
	return &Store{
		bucket:   bucket,
		history:  config.GetInt(props, PropHistory, 1),
		ttl:      config.GetDuration(props, PropTTL, 0),
		replicas: config.GetInt(props, PropReplicas, 1),
	}, nil
}

// SetClient binds the NATS client. The reference is static, so it is set
// before Activate and never changes for this instance.
func (s *Store) SetClient(client *natsclient.Client) {
	s.mu.Lock()
	s.client = client
	s.mu.Unlock()
}

// Activate opens or creates the bucket.
func (s *Store) Activate(ctx *component.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return errors.WrapInvalid(errors.ErrNoConnection, "Store", "Activate", "check client binding")
	}

	openCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	bucket, err := s.client.CreateKeyValueBucket(openCtx, jetstream.KeyValueConfig{
		Bucket:      s.bucket,
		Description: "semwire store " + ctx.Name(),
		History:     uint8(max(1, min(s.history, 64))),
		TTL:         s.ttl,
		Replicas:    max(1, s.replicas),
	})
	if err != nil {
		return errors.Wrap(err, "Store", "Activate", "open bucket "+s.bucket)
	}
	s.kv = s.client.NewKVStore(bucket)
	ctx.Logger().Info("KV store active", "bucket", s.bucket)
	return nil
}

func (s *Store) store() (*natsclient.KVStore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.kv == nil {
		return nil, errors.WrapTransient(errors.ErrStorageUnavailable, "Store", "store", "bucket not open")
	}
	return s.kv, nil
}

// Put stores data at key.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	kv, err := s.store()
	if err != nil {
		return err
	}
	if _, err := kv.Put(ctx, key, data); err != nil {
		return errors.WrapTransient(err, "Store", "Put", "put "+key)
	}
	return nil
}

// Get returns the data at key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	kv, err := s.store()
	if err != nil {
		return nil, err
	}
	entry, err := kv.Get(ctx, key)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrKeyNotFound, key), "Store", "Get", "lookup key")
		}
		return nil, errors.WrapTransient(err, "Store", "Get", "get "+key)
	}
	return entry.Value, nil
}

// List returns keys with prefix in order.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	kv, err := s.store()
	if err != nil {
		return nil, err
	}
	keys, err := kv.Keys(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "Store", "List", "list keys")
	}
	keys = slices.DeleteFunc(keys, func(k string) bool { return !strings.HasPrefix(k, prefix) })
	slices.Sort(keys)
	return keys, nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	kv, err := s.store()
	if err != nil {
		return err
	}
	if err := kv.Delete(ctx, key); err != nil && !natsclient.IsKVNotFoundError(err) {
		return errors.WrapTransient(err, "Store", "Delete", "delete "+key)
	}
	return nil
}

// Register registers the kvstore implementation. Descriptors reference the
// client with:
//
//	references:
//	  - name: nats
//	    interface: natsclient.Client
//	    bind: SetClient
func Register(impls *component.Registry) error {
	return impls.RegisterWithConfig(component.RegistrationConfig{
		Name:        "kvstore",
		New:         New,
		Description: "Keyed store on a NATS JetStream KV bucket",
		Version:     "1.0.0",
	})
}
