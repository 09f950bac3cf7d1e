// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST and GET /v1/tasks to queue and list archival tasks.
//   - /v1/posts/{shortcode} to ingest, read and delete a single post.
//   - /v1/profiles to register profiles and toggle auto-archive.
package api
