// Package api hosts the optional operator listener. Routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/stages for the latest summary of each pipeline stage.
package api
