// ABOUTME: DetailClient owns one conversation's lifecycle and send flow.
// ABOUTME: Resolve id, fetch history, join room, reconcile, optimistic send.

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/plazalocal/plaza-chat/internal/api"
	"github.com/plazalocal/plaza-chat/internal/dedupe"
	"github.com/plazalocal/plaza-chat/internal/message"
	"github.com/plazalocal/plaza-chat/internal/session"
)

// DetailClient errors
var (
	ErrNoTarget     = errors.New("conversation id or receiver id required")
	ErrNotOpen      = errors.New("conversation not open")
	ErrClosed       = errors.New("conversation closed")
	ErrSendInFlight = errors.New("a send is already in flight")
)

// MessageAPI is the slice of the REST client the detail screen needs.
type MessageAPI interface {
	OpenConversation(ctx context.Context, receiverID string) (string, error)
	History(ctx context.Context, conversationID string) ([]message.Message, error)
	Send(ctx context.Context, req api.SendRequest) (*message.Message, error)
}

// RealtimeChannel is the slice of the realtime client the detail screen
// needs: room membership, broadcast, and event subscription.
type RealtimeChannel interface {
	Join(conversationID string) error
	Leave(conversationID string) error
	EmitMessage(conversationID string, msg message.Message) error
	Subscribe(conversationID string) (<-chan message.Message, string)
	Unsubscribe(conversationID, subID string)
}

// OpenRequest identifies the conversation to open. ReceiverID is always
// required (sends address it); ConversationID is supplied when navigating
// from the list and resolved via the idempotent get-or-create otherwise.
type OpenRequest struct {
	ConversationID string
	ReceiverID     string
}

// DetailClient merges REST history, optimistic local sends, and realtime
// pushes for a single conversation into one ordered, duplicate-free list.
// All methods are safe for concurrent use.
type DetailClient struct {
	api     MessageAPI
	channel RealtimeChannel
	session session.Provider
	logger  *slog.Logger

	onChange func()

	mu             sync.Mutex
	conversationID string
	receiverID     string
	rec            *Reconciler
	sending        bool
	opened         bool
	closed         bool
	subID          string
	done           chan struct{}
}

// DetailOption configures a DetailClient.
type DetailOption func(*DetailClient)

// WithOnChange registers a callback invoked after every list mutation. It is
// called without locks held and may run on the realtime delivery goroutine.
func WithOnChange(fn func()) DetailOption {
	return func(d *DetailClient) { d.onChange = fn }
}

// WithDetailLogger overrides the default logger.
func WithDetailLogger(l *slog.Logger) DetailOption {
	return func(d *DetailClient) { d.logger = l.With("component", "conversation-detail") }
}

// NewDetailClient creates a DetailClient. The seen cache may be shared; pass
// nil to allocate a private one.
func NewDetailClient(msgAPI MessageAPI, channel RealtimeChannel, sess session.Provider, seen *dedupe.Cache, opts ...DetailOption) *DetailClient {
	if seen == nil {
		seen = dedupe.New(0, 0)
	}
	d := &DetailClient{
		api:     msgAPI,
		channel: channel,
		session: sess,
		logger:  slog.Default().With("component", "conversation-detail"),
		rec:     NewReconciler(seen),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open runs the initialization protocol: resolve the conversation id, fetch
// history, join the realtime room, and subscribe to its new-message events.
// It must be called exactly once before Send.
func (d *DetailClient) Open(ctx context.Context, req OpenRequest) error {
	if _, err := d.session.Current(); err != nil {
		return err
	}
	if req.ConversationID == "" && req.ReceiverID == "" {
		return ErrNoTarget
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if d.opened {
		d.mu.Unlock()
		return fmt.Errorf("conversation already open")
	}
	d.mu.Unlock()

	conversationID := req.ConversationID
	if conversationID == "" {
		id, err := d.api.OpenConversation(ctx, req.ReceiverID)
		if err != nil {
			return fmt.Errorf("resolving conversation: %w", err)
		}
		conversationID = id
	}

	history, err := d.api.History(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("fetching history: %w", err)
	}

	if err := d.channel.Join(conversationID); err != nil {
		return fmt.Errorf("joining realtime room: %w", err)
	}
	events, subID := d.channel.Subscribe(conversationID)

	d.mu.Lock()
	if d.closed {
		// Close raced the round-trips above; unwind so neither the room
		// membership nor the subscription leaks.
		d.mu.Unlock()
		d.channel.Unsubscribe(conversationID, subID)
		if err := d.channel.Leave(conversationID); err != nil {
			d.logger.Debug("leave failed unwinding open", "error", err)
		}
		return ErrClosed
	}
	d.conversationID = conversationID
	d.receiverID = req.ReceiverID
	d.subID = subID
	d.rec.Bootstrap(history)
	d.opened = true
	d.mu.Unlock()

	go d.consume(events)

	d.logger.Debug("conversation opened",
		"conversation_id", conversationID,
		"history", len(history))
	d.notify()
	return nil
}

// Close releases the realtime subscription and leaves the room. Mandatory on
// teardown; it is idempotent. Any REST response still in flight is ignored
// once Close returns.
func (d *DetailClient) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.done)
	conversationID := d.conversationID
	subID := d.subID
	opened := d.opened
	d.mu.Unlock()

	if opened {
		d.channel.Unsubscribe(conversationID, subID)
		if err := d.channel.Leave(conversationID); err != nil {
			d.logger.Debug("leave failed on close", "error", err)
		}
	}
}

// Send posts a plain text message through the optimistic send flow.
func (d *DetailClient) Send(ctx context.Context, text string) error {
	return d.send(ctx, text, message.KindText, nil)
}

// SendImage posts an image message; imageURL is the uploaded asset location.
func (d *DetailClient) SendImage(ctx context.Context, imageURL string) error {
	return d.send(ctx, imageURL, message.KindImage, nil)
}

// SendAppointment posts a structured appointment message.
func (d *DetailClient) SendAppointment(ctx context.Context, text string, appt *message.AppointmentData) error {
	return d.send(ctx, text, message.KindAppointment, appt)
}

// send runs the optimistic flow: append a Pending placeholder, POST, then
// replace in place on success or mark Failed on error. The broadcast is
// emitted only after the REST call persists the message.
func (d *DetailClient) send(ctx context.Context, text string, kind message.Kind, appt *message.AppointmentData) error {
	sess, err := d.session.Current()
	if err != nil {
		return err
	}
	if text == "" {
		return api.ErrEmptyMessage
	}

	d.mu.Lock()
	switch {
	case d.closed:
		d.mu.Unlock()
		return ErrClosed
	case !d.opened:
		d.mu.Unlock()
		return ErrNotOpen
	case d.sending:
		d.mu.Unlock()
		return ErrSendInFlight
	}
	d.sending = true

	placeholder := message.Message{
		ID:             message.NewTempID(),
		ConversationID: d.conversationID,
		SenderID:       sess.UserID,
		SenderName:     sess.Username,
		Text:           text,
		Kind:           kind,
		Appointment:    appt,
		CreatedAt:      time.Now(),
		State:          message.StatePending,
	}
	d.rec.AppendPlaceholder(placeholder)
	conversationID := d.conversationID
	receiverID := d.receiverID
	d.mu.Unlock()
	d.notify()

	delivered, err := d.api.Send(ctx, api.SendRequest{
		ReceiverID:     receiverID,
		Text:           text,
		ConversationID: conversationID,
		Kind:           kind,
		Appointment:    appt,
	})

	d.mu.Lock()
	d.sending = false
	if d.closed {
		// Late response after teardown must not mutate the dead list.
		d.mu.Unlock()
		return nil
	}
	if err != nil {
		d.rec.FailSend(placeholder.ID)
		d.mu.Unlock()
		d.notify()
		d.logger.Debug("send failed",
			"conversation_id", conversationID,
			"error", err)
		return fmt.Errorf("sending message: %w", err)
	}
	d.rec.ResolveSend(placeholder.ID, *delivered)
	d.mu.Unlock()
	d.notify()

	// Broadcast after persistence so peers never see an unsaved message.
	if err := d.channel.EmitMessage(conversationID, *delivered); err != nil {
		d.logger.Warn("broadcast failed after persist",
			"conversation_id", conversationID,
			"message_id", delivered.ID,
			"error", err)
	}
	return nil
}

// Messages returns a snapshot copy of the merged list in order.
func (d *DetailClient) Messages() []message.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rec.Messages()
}

// ConversationID returns the resolved conversation id, empty before Open.
func (d *DetailClient) ConversationID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conversationID
}

// Sending reports whether a send is currently in flight.
func (d *DetailClient) Sending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sending
}

// consume applies realtime events until Close or subscription teardown.
// Realtime delivery is never blocked by an outstanding send.
func (d *DetailClient) consume(events <-chan message.Message) {
	for {
		select {
		case <-d.done:
			return
		case m, ok := <-events:
			if !ok {
				return
			}
			d.mu.Lock()
			if d.closed {
				d.mu.Unlock()
				return
			}
			changed := d.rec.ApplyRemote(m)
			d.mu.Unlock()
			if changed {
				d.notify()
			}
		}
	}
}

func (d *DetailClient) notify() {
	if d.onChange != nil {
		d.onChange()
	}
}
