// Package api hosts the admin HTTP server. Notable routes:
//   - GET /healthz and /readyz for Kubernetes liveness and readiness checks; readyz pings the store.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/queue/stats for per-status queue counts.
//   - POST /v1/seeds to queue seed domains.
//   - POST /v1/queue/reclaim and /v1/queue/retry for lease recovery and
//     explicit retry of failed items.
//   - GET /v1/domains/{name} for a collected domain and its outgoing edges.
package api
