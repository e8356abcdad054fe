// ABOUTME: ListClient fetches and normalizes conversation summaries.
// ABOUTME: Resolves otherUser vs members[] shapes and formats last activity.

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/plazalocal/plaza-chat/internal/message"
	"github.com/plazalocal/plaza-chat/internal/session"
)

// ConversationLister is the slice of the REST client the list screen needs.
type ConversationLister interface {
	ListConversations(ctx context.Context) ([]message.Conversation, error)
}

// Summary is the uniform display record for one conversation row.
type Summary struct {
	ConversationID string
	OtherID        string
	DisplayName    string
	IsStore        bool
	ProfileImage   string
	LastMessage    string
	LastActivity   string // formatted relative timestamp
	UpdatedAt      time.Time
}

// ListClient loads the authenticated user's conversation list. Records whose
// counterpart cannot be resolved are dropped from the output; the server
// order is preserved for the rest.
type ListClient struct {
	api     ConversationLister
	session session.Provider
	logger  *slog.Logger
	now     func() time.Time
}

// NewListClient creates a ListClient. Pass nil logger for the default.
func NewListClient(api ConversationLister, sess session.Provider, logger *slog.Logger) *ListClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &ListClient{
		api:     api,
		session: sess,
		logger:  logger.With("component", "conversation-list"),
		now:     time.Now,
	}
}

// Load fetches and normalizes the conversation list. Failures surface to the
// caller; no retry is scheduled — refreshing is the caller's action.
func (l *ListClient) Load(ctx context.Context) ([]Summary, error) {
	sess, err := l.session.Current()
	if err != nil {
		return nil, err
	}

	convs, err := l.api.ListConversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading conversations: %w", err)
	}

	now := l.now()
	summaries := make([]Summary, 0, len(convs))
	for i := range convs {
		c := &convs[i]
		other, ok := c.Other(sess.UserID)
		if !ok {
			// Known gap carried over from the original contract: a record
			// with no resolvable counterpart is invisible in this view.
			l.logger.Debug("dropping conversation with unresolvable counterpart",
				"conversation_id", c.ID)
			continue
		}

		s := Summary{
			ConversationID: c.ID,
			OtherID:        other.ID,
			DisplayName:    other.DisplayName(),
			IsStore:        other.IsStore(),
			ProfileImage:   other.ProfileImage,
			LastActivity:   formatLastActivity(now, c.UpdatedAt),
			UpdatedAt:      c.UpdatedAt,
		}
		if c.LastMessage != nil {
			s.LastMessage = c.LastMessage.Text
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

// formatLastActivity renders a conversation's last activity relative to now:
// time-of-day for today, weekday name within the last seven days, month/day
// otherwise.
func formatLastActivity(now, t time.Time) string {
	if t.IsZero() {
		return ""
	}
	ny, nm, nd := now.Date()
	ty, tm, td := t.Date()
	if ny == ty && nm == tm && nd == td {
		return t.Format("15:04")
	}
	if now.Sub(t) < 7*24*time.Hour {
		return t.Format("Monday")
	}
	return t.Format("Jan 2")
}
