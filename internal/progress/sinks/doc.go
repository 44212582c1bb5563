// Package sinks implements concrete notification consumers: a pub/sub
// publisher bridge, Prometheus metrics, and structured logging. Each sink
// satisfies the progress.Sink interface and is safe for repeated
// Consume/Close cycles.
package sinks
