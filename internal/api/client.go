// ABOUTME: HTTP client for the messaging REST API with bearer-token auth.
// ABOUTME: Wraps the four conversation/message endpoints in typed methods.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/plazalocal/plaza-chat/internal/message"
	"github.com/plazalocal/plaza-chat/internal/session"
)

const defaultTimeout = 15 * time.Second

// Client errors
var (
	ErrMissingReceiver     = errors.New("receiver id required")
	ErrMissingConversation = errors.New("conversation id required")
	ErrEmptyMessage        = errors.New("message text required")
)

// Error is a non-2xx response from the API.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api: %s (status %d)", e.Message, e.Status)
	}
	return fmt.Sprintf("api: status %d", e.Status)
}

// Client talks to the messaging REST API.
type Client struct {
	base    *url.URL
	http    *http.Client
	session session.Provider
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l.With("component", "api") }
}

// New creates a Client for the API at baseURL, authenticated through sess.
func New(baseURL string, sess session.Provider, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	c := &Client{
		base:    u,
		http:    &http.Client{Timeout: defaultTimeout},
		session: sess,
		logger:  slog.Default().With("component", "api"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ListConversations fetches the authenticated user's conversation summaries
// in server order.
func (c *Client) ListConversations(ctx context.Context) ([]message.Conversation, error) {
	var out struct {
		Conversations []message.Conversation `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, "/messages/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// OpenConversation returns the conversation id for the pair (current user,
// receiverID), creating one if none exists. The server guarantees the call
// is idempotent per participant pair.
func (c *Client) OpenConversation(ctx context.Context, receiverID string) (string, error) {
	if receiverID == "" {
		return "", ErrMissingReceiver
	}

	body := map[string]string{"receiverId": receiverID}
	var out struct {
		ConversationID string `json:"conversationId"`
	}
	if err := c.do(ctx, http.MethodPost, "/messages/conversations", body, &out); err != nil {
		return "", err
	}
	if out.ConversationID == "" {
		return "", fmt.Errorf("api: server returned empty conversation id")
	}
	return out.ConversationID, nil
}

// History fetches the message history for a conversation, oldest first as
// delivered by the server. The client never re-sorts.
func (c *Client) History(ctx context.Context, conversationID string) ([]message.Message, error) {
	if conversationID == "" {
		return nil, ErrMissingConversation
	}

	var out struct {
		Messages []message.Message `json:"messages"`
	}
	path := "/messages/conversations/" + url.PathEscape(conversationID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	for i := range out.Messages {
		out.Messages[i].State = message.StateDelivered
	}
	return out.Messages, nil
}

// SendRequest is the payload for Send.
type SendRequest struct {
	ReceiverID     string                   `json:"receiverId"`
	Text           string                   `json:"text"`
	ConversationID string                   `json:"conversationId"`
	Kind           message.Kind             `json:"messageType"`
	Appointment    *message.AppointmentData `json:"appointmentData,omitempty"`
}

// Send persists a new message and returns the server record carrying the
// authoritative id and timestamp.
func (c *Client) Send(ctx context.Context, req SendRequest) (*message.Message, error) {
	if req.ReceiverID == "" {
		return nil, ErrMissingReceiver
	}
	if req.ConversationID == "" {
		return nil, ErrMissingConversation
	}
	if req.Text == "" {
		return nil, ErrEmptyMessage
	}
	if req.Kind == "" {
		req.Kind = message.KindText
	}

	var out struct {
		Data message.Message `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/messages/send", req, &out); err != nil {
		return nil, err
	}
	out.Data.State = message.StateDelivered
	return &out.Data, nil
}

// do issues one authenticated request and decodes the JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	sess, err := c.session.Current()
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+sess.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{Status: resp.StatusCode}
		var errBody struct {
			Error string `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&errBody); decodeErr == nil {
			apiErr.Message = errBody.Error
		}
		c.logger.Debug("request failed",
			"method", method,
			"path", path,
			"status", resp.StatusCode)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
