// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Trigger ingestion (form, file, email)
//   - Workflow and run queries
//   - Run cancellation
//   - Health checks
//   - Prometheus metrics
//
// Trigger endpoints acknowledge with 202 Accepted once an event passes the
// gate and is queued; rejections map the typed trigger codes onto HTTP
// statuses.
package http
