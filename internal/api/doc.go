// Package api hosts the HTTP server, middleware, and REST handlers of the
// progress service. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - /v1/progress/... for tracker and batch CRUD, statistics, and cleanup.
//   - GET /v1/progress/stream?tracker_id= for a Server-Sent Events stream of
//     one tracker's snapshots.
//
// Every JSON response is wrapped in an envelope carrying an explicit success
// flag; failures carry a stable message and, for validation errors, per-field
// details. Internal error text is logged, never returned.
package api
