// Package api hosts the HTTP server, middleware, and REST handlers for
// operator access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/push receiving Pub/Sub push deliveries.
//   - POST /v1/dispatch for manual full-catalog dispatch.
package api
