// Package dedupe tracks recently seen server-assigned message ids within a
// bounded TTL window so that a late-arriving send response cannot re-insert a
// message that a realtime echo already delivered.
package dedupe
