// Package main hosts the sweep progress service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, the sweep config CRUD routes and the
//     /ws/configs/{config_id} WebSocket that streams run progress.
//   - Progress: internal/progress keeps one snapshot per run, fans each change out to every connected
//     viewer with the current head count, and drives a simulated run from QUEUED through RUNNING to DONE.
//     Lifecycle events are batched by the progress Hub and handed to log, Prometheus and Pub/Sub sinks.
//   - Persistence: sweep configs live in Postgres when a DSN is configured, otherwise in memory. Run
//     progress itself is never persisted.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging;
//     Prometheus metrics are exported at /metrics.
//
// Operational notes:
//   - Each viewer has its own bounded send queue and writer goroutine; a stalled viewer is dropped after the
//     send timeout instead of holding up the rest of the topic.
//   - Joins are throttled per client address when ratelimit.enabled is set.
//   - The process reacts to SIGINT/SIGTERM by closing every session, stopping run drivers, then draining
//     sinks and closing the store.
//
// Quick checklist:
//   - Configure env vars: SWEEP_SERVER_PORT or PORT, SWEEP_DATABASE_DSN, SWEEP_PUBSUB_PROJECT_ID,
//     SWEEP_PUBSUB_TOPIC_NAME, SWEEP_CORS_ALLOWED_ORIGINS, SWEEP_PROGRESS_STEP_INTERVAL.
//   - Run locally: go run ./cmd/sweepd -config config.yaml (or rely solely on env overrides).
package main
