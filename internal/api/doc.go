// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /api/start, /api/stop and /api/run-once to drive the monitor.
//   - GET /api/status for live round progress and counters.
//   - GET/POST /api/config, /api/sites and /api/contacts for runtime settings.
//   - GET /api/results and DELETE /api/history for stored records.
package api
