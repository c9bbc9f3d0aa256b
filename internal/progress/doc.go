// Package progress implements live progress broadcast for sweep runs: a
// per-topic latest-snapshot store, a subscriber registry, a fan-out
// broadcaster, the single-flight progress driver, and the connection session
// that binds one client channel to one topic. Lifecycle events (joins, leaves,
// driver transitions, delivery failures) are batched by a non-blocking Hub and
// handed to pluggable sinks such as Prometheus metrics or a completion
// publisher.
package progress
