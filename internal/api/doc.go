// Package api hosts the HTTP server, middleware, and handlers. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /configs, GET /configs/recent and GET /configs/{id} for sweep
//     configuration records.
//   - GET /ws/configs/{config_id} upgrades to a WebSocket that streams
//     {"progress","state","viewers"} messages for one run.
package api
