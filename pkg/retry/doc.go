// Package retry provides exponential backoff for transient failures, used
// by the NATS client and the remote service mirror when the KV bucket is
// briefly unreachable.
//
//	err := retry.Do(ctx, retry.Quick(), func() error {
//	    _, err := js.KeyValue(ctx, bucket)
//	    return err
//	})
//
// Wrap an error with NonRetryable to stop immediately.
package retry
