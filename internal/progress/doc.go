// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces that item watchers use to report check outcomes. It batches events
// on a background goroutine and fans them out to pluggable sinks such as
// Prometheus metrics or the check history repository.
package progress
