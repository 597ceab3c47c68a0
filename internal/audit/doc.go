// Package audit carries security events from the engine to a Sink without
// blocking the request path.
//
// The [Dispatcher] buffers events on a channel drained by one goroutine.
// With DropIfFull set, a full buffer drops the event and counts it instead
// of applying backpressure.
package audit
