// Package api hosts the operational HTTP server of a harvester worker.
// Routes:
//   - GET /healthz and /readyz for Kubernetes probes; readyz runs the
//     configured dependency checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for the worker's current pass, thread and page.
//   - GET /v1/partition/threads/{thread_id} to ask whether this worker owns
//     a thread.
package api
