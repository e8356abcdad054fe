// ABOUTME: Websocket channel client with per-conversation subscriber fan-out.
// ABOUTME: One read pump per connection; writes serialized behind a mutex.

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/plazalocal/plaza-chat/internal/message"
)

const (
	// subscriberBufferSize is the per-subscriber channel buffer. Events are
	// dropped for a subscriber whose buffer is full rather than blocking
	// the read pump.
	subscriberBufferSize = 64
)

// ErrChannelClosed is returned by writes after Close or a read failure.
var ErrChannelClosed = errors.New("realtime channel closed")

// Channel is a connected realtime channel. Subscribers register per
// conversation id and receive new-message events as they arrive.
type Channel struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	mu     sync.Mutex
	subs   map[string]map[string]chan message.Message // conversationID -> subID -> ch
	closed bool
	done   chan struct{}
}

// Dial connects to the realtime endpoint at rawURL (ws:// or wss://) with
// the bearer token and starts the read pump.
func Dial(ctx context.Context, rawURL, token string, logger *slog.Logger) (*Channel, error) {
	if logger == nil {
		logger = slog.Default()
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, rawURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing realtime channel (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dialing realtime channel: %w", err)
	}

	c := &Channel{
		conn:   conn,
		logger: logger.With("component", "realtime"),
		subs:   make(map[string]map[string]chan message.Message),
		done:   make(chan struct{}),
	}
	go c.readPump()
	return c, nil
}

// Join enters the room for a conversation so the server starts delivering
// its new-message events.
func (c *Channel) Join(conversationID string) error {
	return c.write(TypeJoin, RoomPayload{ConversationID: conversationID})
}

// Leave exits the conversation's room. Mandatory on teardown; a leaked room
// membership keeps delivering events into a dead subscriber set.
func (c *Channel) Leave(conversationID string) error {
	return c.write(TypeLeave, RoomPayload{ConversationID: conversationID})
}

// EmitMessage broadcasts a persisted message to the conversation's room.
// Callers must only emit server-acknowledged records, never placeholders.
func (c *Channel) EmitMessage(conversationID string, msg message.Message) error {
	return c.write(TypeSendMessage, MessagePayload{
		ConversationID: conversationID,
		Message:        msg,
	})
}

// Subscribe registers for new-message events on a conversation. It returns
// the delivery channel and a subscription id for Unsubscribe. The channel is
// closed when the subscription is removed or the connection dies.
func (c *Channel) Subscribe(conversationID string) (<-chan message.Message, string) {
	subID := uuid.New().String()
	ch := make(chan message.Message, subscriberBufferSize)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := c.subs[conversationID]; !ok {
		c.subs[conversationID] = make(map[string]chan message.Message)
	}
	c.subs[conversationID][subID] = ch
	c.mu.Unlock()

	c.logger.Debug("subscriber added",
		"conversation_id", conversationID,
		"sub_id", subID)
	return ch, subID
}

// Unsubscribe removes a subscription and closes its channel.
func (c *Channel) Unsubscribe(conversationID, subID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	subs, ok := c.subs[conversationID]
	if !ok {
		return
	}
	ch, ok := subs[subID]
	if !ok {
		return
	}
	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(c.subs, conversationID)
	}
}

// Close tears down the connection and every subscription. Safe to call more
// than once.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	for convID, subs := range c.subs {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(c.subs, convID)
	}
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

// write marshals and sends one envelope. Gorilla connections allow a single
// concurrent writer, hence the write mutex.
func (c *Channel) write(frameType string, payload any) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrChannelClosed
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", frameType, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(Envelope{Type: frameType, Payload: raw}); err != nil {
		return fmt.Errorf("writing %s frame: %w", frameType, err)
	}
	return nil
}

// readPump consumes frames until the connection dies, dispatching
// new-message events to subscribers of the scoped conversation.
func (c *Channel) readPump() {
	defer c.Close()

	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			select {
			case <-c.done:
				// Close initiated locally; the read error is expected.
			default:
				c.logger.Debug("read pump stopped", "error", err)
			}
			return
		}

		if env.Type != TypeNewMessage {
			continue
		}

		var payload MessagePayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			c.logger.Warn("malformed new-message payload", "error", err)
			continue
		}
		c.dispatch(payload)
	}
}

// dispatch fans one event out to the conversation's subscribers without
// blocking the read pump. Sends stay under the lock: Unsubscribe and Close
// close subscriber channels under the same lock, so a send can never hit a
// channel mid-close.
func (c *Channel) dispatch(payload MessagePayload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ch := range c.subs[payload.ConversationID] {
		select {
		case ch <- payload.Message:
		default:
			c.logger.Debug("dropped event for slow subscriber",
				"conversation_id", payload.ConversationID,
				"message_id", payload.Message.ID)
		}
	}
}
