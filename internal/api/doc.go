// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - GET /healthz and /readyz for liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs to submit an email discovery crawl, GET /v1/jobs/{job_id}
//     to read its status and discovered emails.
//   - /v1/campaigns/... to allocate recipients across sending accounts and
//     maintain the recipient ledger.
package api
