// Package realtime implements the websocket channel contract: join/leave a
// conversation-scoped room, emit persisted messages, and fan incoming
// new-message events out to per-conversation subscribers.
package realtime
