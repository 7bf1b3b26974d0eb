// Package audit carries authentication audit events from the engine to a sink.
//
// The engine emits through a [Dispatcher], which buffers events and forwards
// them on its own goroutine so request handling never waits on a slow sink.
// Sinks in this package log through zap or publish JSON records to Kafka.
package audit
