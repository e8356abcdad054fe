// ABOUTME: In-memory implementation of the messaging REST endpoints.
// ABOUTME: Conversations are keyed by participant pair; creation is idempotent.

package stubserver

import (
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/plazalocal/plaza-chat/internal/message"
	"github.com/plazalocal/plaza-chat/internal/session"
)

// conversation is the stored server-side record.
type conversation struct {
	id        string
	members   [2]string
	updatedAt time.Time
	last      *message.Message
}

// Server holds the in-memory messaging state and the websocket rooms.
type Server struct {
	logger *slog.Logger

	mu            sync.Mutex
	users         map[string]message.Participant
	conversations map[string]*conversation
	byPair        map[string]string // sorted "a|b" -> conversation id
	messages      map[string][]message.Message

	rooms sync.Map // conversationID -> *room
}

// New creates an empty stub server.
func New(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		logger:        logger.With("component", "stubserver"),
		users:         make(map[string]message.Participant),
		conversations: make(map[string]*conversation),
		byPair:        make(map[string]string),
		messages:      make(map[string][]message.Message),
	}
}

// RegisterUser seeds the participant registry, letting tests and dev setups
// attach store names and profile images to user ids.
func (s *Server) RegisterUser(p message.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[p.ID] = p
}

// Handler returns the HTTP handler for the full contract: the four REST
// endpoints plus the /ws realtime endpoint.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	authed := r.Group("/", s.authMiddleware())
	authed.GET("/messages/conversations", s.handleListConversations)
	authed.POST("/messages/conversations", s.handleOpenConversation)
	authed.GET("/messages/conversations/:id", s.handleHistory)
	authed.POST("/messages/send", s.handleSend)
	authed.GET("/ws", s.handleWebsocket)

	return r
}

// authMiddleware resolves the caller from the bearer token's claims. The
// stub trusts any well-formed JWT; signature checks belong to the real API.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		sess, err := session.FromToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		s.mu.Lock()
		if _, known := s.users[sess.UserID]; !known {
			s.users[sess.UserID] = message.Participant{ID: sess.UserID, Username: sess.Username}
		}
		s.mu.Unlock()

		c.Set("userID", sess.UserID)
		c.Next()
	}
}

func userID(c *gin.Context) string {
	return c.GetString("userID")
}

func pairKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair[0] + "|" + pair[1]
}

func (s *Server) handleListConversations(c *gin.Context) {
	uid := userID(c)

	s.mu.Lock()
	out := make([]message.Conversation, 0)
	for _, conv := range s.conversations {
		if conv.members[0] != uid && conv.members[1] != uid {
			continue
		}
		members := []message.Participant{
			s.participantLocked(conv.members[0]),
			s.participantLocked(conv.members[1]),
		}
		out = append(out, message.Conversation{
			ID:          conv.id,
			Members:     members,
			LastMessage: conv.last,
			UpdatedAt:   conv.updatedAt,
		})
	}
	s.mu.Unlock()

	// Most recently active first, mirroring the real API's order.
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })

	c.JSON(http.StatusOK, gin.H{"conversations": out})
}

func (s *Server) participantLocked(id string) message.Participant {
	if p, ok := s.users[id]; ok {
		return p
	}
	return message.Participant{ID: id}
}

func (s *Server) handleOpenConversation(c *gin.Context) {
	var body struct {
		ReceiverID string `json:"receiverId"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.ReceiverID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "receiverId required"})
		return
	}

	uid := userID(c)
	id := s.openConversation(uid, body.ReceiverID)
	c.JSON(http.StatusOK, gin.H{"conversationId": id})
}

// openConversation returns the existing conversation for the pair or
// creates one. Idempotent per participant pair regardless of direction.
func (s *Server) openConversation(a, b string) string {
	key := pairKey(a, b)

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byPair[key]; ok {
		return id
	}
	conv := &conversation{
		id:        uuid.New().String(),
		members:   [2]string{a, b},
		updatedAt: time.Now(),
	}
	s.conversations[conv.id] = conv
	s.byPair[key] = conv.id
	s.logger.Debug("conversation created", "conversation_id", conv.id)
	return conv.id
}

func (s *Server) handleHistory(c *gin.Context) {
	id := c.Param("id")
	uid := userID(c)

	s.mu.Lock()
	conv, ok := s.conversations[id]
	if !ok {
		s.mu.Unlock()
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	if conv.members[0] != uid && conv.members[1] != uid {
		s.mu.Unlock()
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member"})
		return
	}
	msgs := make([]message.Message, len(s.messages[id]))
	copy(msgs, s.messages[id])
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (s *Server) handleSend(c *gin.Context) {
	var body struct {
		ReceiverID     string                   `json:"receiverId"`
		Text           string                   `json:"text"`
		ConversationID string                   `json:"conversationId"`
		Kind           string                   `json:"messageType"`
		Appointment    *message.AppointmentData `json:"appointmentData"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed body"})
		return
	}
	if body.ReceiverID == "" || body.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "receiverId and text required"})
		return
	}
	kind, err := message.ParseKind(body.Kind)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	uid := userID(c)
	conversationID := body.ConversationID
	if conversationID == "" {
		conversationID = s.openConversation(uid, body.ReceiverID)
	}

	s.mu.Lock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		s.mu.Unlock()
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}

	msg := message.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       uid,
		SenderName:     s.participantLocked(uid).DisplayName(),
		Text:           body.Text,
		Kind:           kind,
		Appointment:    body.Appointment,
		CreatedAt:      time.Now(),
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	conv.last = &msg
	conv.updatedAt = msg.CreatedAt
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"data": msg})
}
