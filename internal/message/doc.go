// Package message defines the wire and client-side model for conversations
// and messages: the closed message-kind enumeration, the client-only delivery
// state machine, and temporary-id generation for optimistic sends.
package message
