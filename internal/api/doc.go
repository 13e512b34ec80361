// Package api implements the JSON HTTP API for the question answering
// service.
//
// Endpoints under /api/v1 go through the full middleware stack
// (recovery, logging, CORS, flood protection, optional basic auth):
//
//   - POST /api/v1/ask        answers a question (JSON request/response)
//   - POST /api/v1/ask/stream answers a question (SSE streaming)
//   - GET  /api/v1/quota      reports quota usage for the caller
//
// Health probes (/health, /ready) bypass the middleware stack via a
// top-level mux so load balancer checks never count against quotas or
// require credentials.
package api
