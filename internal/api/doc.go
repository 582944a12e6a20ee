// Package api hosts the operator HTTP server that runs beside a crawl.
// Routes:
//   - GET /healthz and /readyz for liveness and store readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/runs and /api/runs/{run_id} for live run progress.
//   - GET /api/stats for stored row counts.
package api
