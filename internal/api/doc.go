// Package api is the typed HTTP client for the messaging REST endpoints:
// conversation listing, idempotent get-or-create, history, and send. Every
// call carries the bearer token from the session provider and fails fast
// when no session is available.
package api
