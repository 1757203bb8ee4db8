// Package storage defines the keyed store contract that storage components
// publish in the service registry.
package storage

import "context"

// StoreInterface is the registry interface name storage components
// provide.
const StoreInterface = "storage.Store"

// Store is the pluggable backend interface for storage operations.
//
// Keys are strings, hierarchical through "/" separators. Values are opaque
// bytes. Implementations must be safe for concurrent use.
type Store interface {
	// Put stores data at key, replacing any previous value.
	Put(ctx context.Context, key string, data []byte) error

	// Get retrieves the data at key. It returns an error wrapping
	// errors.ErrKeyNotFound when the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns the keys starting with prefix in lexicographic order.
	// An empty prefix lists every key.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
