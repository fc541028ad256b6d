// Package api exposes the JSON/SSE HTTP surface: conversation CRUD, the
// streaming chat endpoints, auth proxying, and health probes.
//
// Handlers are request-scoped and stateless; the only cross-request state
// is the per-IP rate limiter. Middleware composes outermost-first:
// recovery → request ID → logging → CORS → rate limit → session guard.
// Health probes bypass the stack entirely.
package api
