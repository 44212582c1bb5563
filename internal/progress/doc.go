// Package progress provides the notification primitives and the non-blocking
// hub the tracker service uses to broadcast state changes. The hub batches
// notifications on a background goroutine and fans them out to pluggable
// sinks such as a pub/sub publisher, Prometheus metrics, or structured logs.
// Delivery is best effort: sink failures are logged and never reach callers.
package progress
