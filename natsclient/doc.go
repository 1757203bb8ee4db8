// Package natsclient manages the runtime's NATS connection and the KV
// buckets built on it.
//
// Client wraps nats.go with a circuit breaker: after a threshold of
// consecutive failures (default 5) the circuit opens and Connect fails fast
// with ErrCircuitOpen until the backoff elapses. Backoff doubles per round
// up to the configured maximum. Connection status and reconnects are
// reported to the metric package when WithMetrics is given.
//
// Connection lifecycle:
//
//	Disconnected -> Connecting -> Connected -> Reconnecting -> Connected
//
// KVStore wraps a jetstream.KeyValue bucket with CAS helpers. UpdateWithRetry
// and UpdateJSON read the current revision, apply a caller function and
// write back with Create or Update, retrying conflicts through pkg/retry.
// The remote service bucket and the configuration bucket both go through
// KVStore.
//
// Basic usage:
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("semwire"),
//	    natsclient.WithMetrics(metricsRegistry),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "semwire-services"})
//	kv := client.NewKVStore(bucket)
//
// Client also satisfies component.Publisher, so component log entries can be
// mirrored to NATS subjects.
//
// Integration tests use TestClient, which starts a NATS container through
// testcontainers-go. They run under the integration build tag.
package natsclient
