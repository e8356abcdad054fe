// ABOUTME: Websocket side of the stub: rooms per conversation, relaying
// ABOUTME: send-message frames to the other members as new-message.

package stubserver

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/plazalocal/plaza-chat/internal/realtime"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The stub serves local development and in-process tests only.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClient is one connected socket. Writes are serialized behind mu.
type wsClient struct {
	conn   *websocket.Conn
	userID string
	mu     sync.Mutex
}

func (c *wsClient) writeEnvelope(frameType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(realtime.Envelope{Type: frameType, Payload: raw})
}

// room is the subscriber set for one conversation.
type room struct {
	mu      sync.Mutex
	clients map[*wsClient]bool
}

func (s *Server) roomFor(conversationID string) *room {
	actual, _ := s.rooms.LoadOrStore(conversationID, &room{clients: make(map[*wsClient]bool)})
	return actual.(*room)
}

func (s *Server) handleWebsocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := &wsClient{conn: conn, userID: userID(c)}
	joined := make(map[string]bool)
	defer func() {
		for id := range joined {
			s.leaveRoom(id, client)
		}
		conn.Close()
	}()

	for {
		var env realtime.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}

		switch env.Type {
		case realtime.TypeJoin:
			var p realtime.RoomPayload
			if json.Unmarshal(env.Payload, &p) == nil && p.ConversationID != "" {
				r := s.roomFor(p.ConversationID)
				r.mu.Lock()
				r.clients[client] = true
				r.mu.Unlock()
				joined[p.ConversationID] = true
			}
		case realtime.TypeLeave:
			var p realtime.RoomPayload
			if json.Unmarshal(env.Payload, &p) == nil && p.ConversationID != "" {
				s.leaveRoom(p.ConversationID, client)
				delete(joined, p.ConversationID)
			}
		case realtime.TypeSendMessage:
			var p realtime.MessagePayload
			if json.Unmarshal(env.Payload, &p) == nil && p.ConversationID != "" {
				s.relay(p, client)
			}
		}
	}
}

func (s *Server) leaveRoom(conversationID string, client *wsClient) {
	r := s.roomFor(conversationID)
	r.mu.Lock()
	delete(r.clients, client)
	r.mu.Unlock()
}

// relay forwards a broadcast-after-persist frame to every other member of
// the room as a new-message event. The originator already holds the record.
func (s *Server) relay(p realtime.MessagePayload, from *wsClient) {
	r := s.roomFor(p.ConversationID)

	r.mu.Lock()
	targets := make([]*wsClient, 0, len(r.clients))
	for c := range r.clients {
		if c != from {
			targets = append(targets, c)
		}
	}
	r.mu.Unlock()

	for _, c := range targets {
		if err := c.writeEnvelope(realtime.TypeNewMessage, p); err != nil {
			s.logger.Debug("relay write failed", "error", err)
		}
	}
}
