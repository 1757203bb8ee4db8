// Package componentregistry registers the built-in implementations with an
// implementation registry.
package componentregistry

import (
	"errors"

	"github.com/c360/semwire/component"
	pkgerrors "github.com/c360/semwire/errors"
	"github.com/c360/semwire/output/console"
	"github.com/c360/semwire/output/websocket"
	"github.com/c360/semwire/storage/inventory"
	"github.com/c360/semwire/storage/kvstore"
)

// Register registers every built-in implementation:
//
// Storage (provide storage.Store):
//   - inventory: in-memory store with an optional dynamic log sink
//   - kvstore: NATS JetStream KV bucket, needs a natsclient.Client service
//
// Outputs (provide output.Sink):
//   - console: event lines on stdout
//   - websocket: event stream for WebSocket clients
func Register(registry *component.Registry) error {
	// Nil registry is a programming error (fatal), not invalid input
	if registry == nil {
		return pkgerrors.WrapFatal(
			errors.New("registry cannot be nil"),
			"ComponentRegistry", "Register", "registry validation")
	}

	if err := inventory.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register", "inventory storage registration")
	}
	if err := kvstore.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register", "kvstore storage registration")
	}
	if err := console.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register", "console output registration")
	}
	if err := websocket.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register", "websocket output registration")
	}
	return nil
}
