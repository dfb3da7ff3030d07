// Package main hosts the audit dispatch service entrypoint.
//
// Architecture overview:
//   - Trigger: internal/handler decodes each delivered dispatch message,
//     routes the sentinel identity to fan-out, and passes single identities
//     through the debounce gate before running the audit.
//   - Debounce gate: internal/gate serializes read-modify-write cycles over
//     the persisted event state table so concurrent deliveries for the same
//     identity cannot both be admitted within one cooldown window.
//   - Fan-out: internal/fanout expands the catalog into one message per
//     identity, mode, and device combination, stamped with a shared batch ID,
//     and publishes them concurrently to the dispatch sink.
//   - Audit pipeline: internal/runner paces per-host via a token bucket,
//     drives headless Chrome through internal/auditor/chromedp with bounded
//     retries, writes the raw report artifact to the configured store
//     (memory/local/GCS), and loads a structured row into Postgres when a
//     DSN is configured.
//   - Delivery: messages arrive either through a Pub/Sub streaming pull
//     subscription (internal/subscriber) or the POST /v1/push endpoint for
//     push-style delivery. POST /v1/dispatch publishes the catalog-wide
//     sentinel manually.
//   - Configuration & plumbing: Viper populates config from env/files with
//     the BEACON prefix; zap provides structured logging; Prometheus metrics
//     are exported via the metrics middleware and the /metrics handler.
//
// Operational notes:
//   - Rejections (malformed payloads, unknown identities, debounced jobs)
//     are acked so the broker stops redelivering; collaborator failures are
//     nacked for redelivery, and the gate absorbs redelivered admitted jobs.
//   - The process reacts to SIGTERM for graceful drain: the HTTP server
//     stops accepting requests and the subscriber's receive loop exits with
//     the root context.
//
// Run locally: go run ./cmd/beacond -config config.yaml (or rely solely on
// BEACON_* env overrides).
package main
