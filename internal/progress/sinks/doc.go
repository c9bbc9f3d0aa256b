// Package sinks implements consumers of progress lifecycle events: structured
// logging, Prometheus collectors, and run-completion notifications. Each sink
// satisfies progress.Sink and is safe for repeated Consume/Close cycles.
package sinks
