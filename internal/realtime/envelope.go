// ABOUTME: Wire envelope and payload types for the realtime channel.
// ABOUTME: Every frame is {type, payload} JSON in both directions.

package realtime

import (
	"encoding/json"

	"github.com/plazalocal/plaza-chat/internal/message"
)

// Frame types exchanged on the channel.
const (
	TypeJoin        = "join"
	TypeLeave       = "leave"
	TypeSendMessage = "send-message"
	TypeNewMessage  = "new-message"
)

// Envelope is the outer frame. Payload stays raw until the type is known.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RoomPayload scopes join/leave frames to a conversation.
type RoomPayload struct {
	ConversationID string `json:"conversationId"`
}

// MessagePayload carries a persisted message on send-message and
// new-message frames.
type MessagePayload struct {
	ConversationID string          `json:"conversationId"`
	Message        message.Message `json:"message"`
}
