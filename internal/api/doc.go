// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/items and GET|PUT|DELETE /v1/items/{item_id} to manage tracked
//     items; responses carry the live watcher state from the fleet.
//   - GET /v1/items/{item_id}/checks for recent check outcomes via the
//     store.HistoryRepository interface.
package api
