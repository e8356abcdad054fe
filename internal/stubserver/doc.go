// Package stubserver is an in-process implementation of the messaging REST
// and realtime contracts, backed by in-memory state. It exists for local
// development and integration tests; it implements the wire behavior only,
// no business rules.
package stubserver
