// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - GET /search for filtered job listings.
//   - POST /get-company-domain, /fetch-employees, /fetch-employees-emails,
//     forwarded to the recruiting-data API.
//   - GET /cache and DELETE /cache/{term} for cache inspection.
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
