// ABOUTME: Message and conversation wire models shared by the REST client,
// ABOUTME: the realtime channel, and the reconciliation core.

package message

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// tempIDPrefix marks client-assigned identifiers for optimistic placeholders.
const tempIDPrefix = "tmp-"

// AppointmentData is the appointment snapshot embedded in messages of
// KindAppointment.
type AppointmentData struct {
	Status        string  `json:"status"`
	Price         float64 `json:"price"`
	PaidAmount    float64 `json:"paidAmount"`
	TransactionID string  `json:"transactionId,omitempty"`
}

// Message is a single conversation message. ID is server-assigned once
// persisted; before persistence the client assigns a temporary id via
// NewTempID. State is client-only and never crosses the wire.
type Message struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversationId"`
	SenderID       string           `json:"senderId"`
	SenderName     string           `json:"senderName,omitempty"`
	Text           string           `json:"text"`
	Kind           Kind             `json:"messageType"`
	Appointment    *AppointmentData `json:"appointmentData,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`

	State DeliveryState `json:"-"`
}

// Participant is the denormalized summary of a conversation member.
type Participant struct {
	ID           string `json:"id"`
	Username     string `json:"username,omitempty"`
	StoreName    string `json:"storeName,omitempty"`
	ProfileImage string `json:"profileImage,omitempty"`
}

// DisplayName resolves the name shown for a participant: store name, then
// username, then a fixed fallback.
func (p Participant) DisplayName() string {
	if p.StoreName != "" {
		return p.StoreName
	}
	if p.Username != "" {
		return p.Username
	}
	return "Unknown User"
}

// IsStore reports whether the participant is a store account.
func (p Participant) IsStore() bool {
	return p.StoreName != ""
}

// Conversation is the server-shaped conversation summary. Servers return the
// counterpart either as an explicit OtherUser or as a Members array that
// includes the current user.
type Conversation struct {
	ID          string        `json:"id"`
	OtherUser   *Participant  `json:"otherUser,omitempty"`
	Members     []Participant `json:"members,omitempty"`
	LastMessage *Message      `json:"lastMessage,omitempty"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// Other resolves the counterpart of currentUserID. It prefers the explicit
// OtherUser field and falls back to scanning Members. The second return is
// false when neither shape identifies a counterpart.
func (c Conversation) Other(currentUserID string) (Participant, bool) {
	if c.OtherUser != nil {
		return *c.OtherUser, true
	}
	for _, m := range c.Members {
		if m.ID != "" && m.ID != currentUserID {
			return m, true
		}
	}
	return Participant{}, false
}

// NewTempID returns a locally unique identifier for an optimistic
// placeholder: timestamp plus a random suffix.
func NewTempID() string {
	return fmt.Sprintf("%s%d-%s", tempIDPrefix, time.Now().UnixNano(), uuid.NewString()[:8])
}

// IsTempID reports whether id was produced by NewTempID.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}
