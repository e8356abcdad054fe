// ABOUTME: Tests for the DetailClient lifecycle and optimistic send flow
// ABOUTME: against fake API and channel collaborators.

package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plazalocal/plaza-chat/internal/api"
	"github.com/plazalocal/plaza-chat/internal/message"
	"github.com/plazalocal/plaza-chat/internal/session"
)

type fakeAPI struct {
	mu        sync.Mutex
	openCalls []string
	openID    string
	openErr   error
	history   []message.Message
	histErr   error

	histFn func(ctx context.Context, conversationID string) ([]message.Message, error)
	sendFn func(ctx context.Context, req api.SendRequest) (*message.Message, error)
}

func (f *fakeAPI) OpenConversation(ctx context.Context, receiverID string) (string, error) {
	f.mu.Lock()
	f.openCalls = append(f.openCalls, receiverID)
	f.mu.Unlock()
	return f.openID, f.openErr
}

func (f *fakeAPI) History(ctx context.Context, conversationID string) ([]message.Message, error) {
	if f.histFn != nil {
		return f.histFn(ctx, conversationID)
	}
	return f.history, f.histErr
}

func (f *fakeAPI) Send(ctx context.Context, req api.SendRequest) (*message.Message, error) {
	return f.sendFn(ctx, req)
}

type fakeChannel struct {
	mu     sync.Mutex
	joins  []string
	leaves []string
	emits  []message.Message
	unsubs []string
	events chan message.Message
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan message.Message, 16)}
}

func (f *fakeChannel) Join(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, id)
	return nil
}

func (f *fakeChannel) Leave(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves = append(f.leaves, id)
	return nil
}

func (f *fakeChannel) EmitMessage(id string, m message.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emits = append(f.emits, m)
	return nil
}

func (f *fakeChannel) Subscribe(id string) (<-chan message.Message, string) {
	return f.events, "sub-1"
}

func (f *fakeChannel) Unsubscribe(id, subID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubs = append(f.unsubs, subID)
}

func (f *fakeChannel) emitted() []message.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]message.Message, len(f.emits))
	copy(out, f.emits)
	return out
}

func detailSession() session.Provider {
	return &session.Static{Session: &session.Session{UserID: "u1", Username: "amira", Token: "tok"}}
}

func serverMsg(id, text string) *message.Message {
	return &message.Message{
		ID:             id,
		ConversationID: "c1",
		SenderID:       "u1",
		SenderName:     "amira",
		Text:           text,
		Kind:           message.KindText,
		CreatedAt:      time.Now(),
		State:          message.StateDelivered,
	}
}

func TestDetail_OpenResolvesConversationID(t *testing.T) {
	a := &fakeAPI{openID: "c1"}
	ch := newFakeChannel()
	d := NewDetailClient(a, ch, detailSession(), nil)
	defer d.Close()

	require.NoError(t, d.Open(context.Background(), OpenRequest{ReceiverID: "u2"}))

	assert.Equal(t, []string{"u2"}, a.openCalls)
	assert.Equal(t, "c1", d.ConversationID())
	assert.Equal(t, []string{"c1"}, ch.joins)
}

func TestDetail_OpenUsesSuppliedID(t *testing.T) {
	a := &fakeAPI{history: []message.Message{*serverMsg("m1", "old")}}
	ch := newFakeChannel()
	d := NewDetailClient(a, ch, detailSession(), nil)
	defer d.Close()

	require.NoError(t, d.Open(context.Background(), OpenRequest{ConversationID: "c9", ReceiverID: "u2"}))

	assert.Empty(t, a.openCalls, "get-or-create is skipped when the id is known")
	assert.Equal(t, "c9", d.ConversationID())
	require.Len(t, d.Messages(), 1)
}

func TestDetail_OpenPreconditions(t *testing.T) {
	a := &fakeAPI{}
	d := NewDetailClient(a, newFakeChannel(), &session.Static{}, nil)
	assert.ErrorIs(t, d.Open(context.Background(), OpenRequest{ReceiverID: "u2"}), session.ErrNotAuthenticated)

	d2 := NewDetailClient(a, newFakeChannel(), detailSession(), nil)
	assert.ErrorIs(t, d2.Open(context.Background(), OpenRequest{}), ErrNoTarget)
}

func TestDetail_SendBeforeOpen(t *testing.T) {
	d := NewDetailClient(&fakeAPI{}, newFakeChannel(), detailSession(), nil)
	assert.ErrorIs(t, d.Send(context.Background(), "hi"), ErrNotOpen)
}

func TestDetail_OptimisticSendLifecycle(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	a := &fakeAPI{openID: "c1", sendFn: func(ctx context.Context, req api.SendRequest) (*message.Message, error) {
		close(started)
		<-release
		return serverMsg("m123", req.Text), nil
	}}
	ch := newFakeChannel()
	d := NewDetailClient(a, ch, detailSession(), nil)
	defer d.Close()
	require.NoError(t, d.Open(context.Background(), OpenRequest{ReceiverID: "u2"}))

	done := make(chan error, 1)
	go func() { done <- d.Send(context.Background(), "Hello") }()
	<-started

	// Placeholder is visible immediately, before the round-trip resolves.
	msgs := d.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hello", msgs[0].Text)
	assert.Equal(t, "u1", msgs[0].SenderID)
	assert.Equal(t, message.StatePending, msgs[0].State)
	assert.True(t, message.IsTempID(msgs[0].ID))
	assert.True(t, d.Sending())

	// The guard flag rejects a concurrent second send.
	assert.ErrorIs(t, d.Send(context.Background(), "again"), ErrSendInFlight)

	close(release)
	require.NoError(t, <-done)

	// Same position now shows the server record.
	msgs = d.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "m123", msgs[0].ID)
	assert.Equal(t, message.StateDelivered, msgs[0].State)
	assert.False(t, d.Sending())

	// Broadcast happens only after persistence, with the server record.
	emits := ch.emitted()
	require.Len(t, emits, 1)
	assert.Equal(t, "m123", emits[0].ID)

	// A realtime echo for the same id adds no second entry.
	ch.events <- *serverMsg("m123", "Hello")
	assert.Never(t, func() bool { return len(d.Messages()) != 1 },
		200*time.Millisecond, 20*time.Millisecond)
}

func TestDetail_EchoArrivesBeforeSendResponse(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	a := &fakeAPI{openID: "c1", sendFn: func(ctx context.Context, req api.SendRequest) (*message.Message, error) {
		close(started)
		<-release
		return serverMsg("m123", req.Text), nil
	}}
	ch := newFakeChannel()
	d := NewDetailClient(a, ch, detailSession(), nil)
	defer d.Close()
	require.NoError(t, d.Open(context.Background(), OpenRequest{ReceiverID: "u2"}))

	done := make(chan error, 1)
	go func() { done <- d.Send(context.Background(), "Hi") }()
	<-started

	// Reordered transport: the echo lands while the POST is still open.
	ch.events <- *serverMsg("m123", "Hi")
	require.Eventually(t, func() bool {
		msgs := d.Messages()
		return len(msgs) == 1 && msgs[0].ID == "m123"
	}, time.Second, 10*time.Millisecond, "content heuristic should consume the placeholder")

	close(release)
	require.NoError(t, <-done)

	// The late response must not create a duplicate.
	msgs := d.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "m123", msgs[0].ID)
}

func TestDetail_FailedSendRetained(t *testing.T) {
	a := &fakeAPI{openID: "c1", sendFn: func(ctx context.Context, req api.SendRequest) (*message.Message, error) {
		return nil, errors.New("503 from upstream")
	}}
	ch := newFakeChannel()
	d := NewDetailClient(a, ch, detailSession(), nil)
	defer d.Close()
	require.NoError(t, d.Open(context.Background(), OpenRequest{ReceiverID: "u2"}))

	err := d.Send(context.Background(), "lost?")
	require.Error(t, err)

	msgs := d.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, message.StateFailed, msgs[0].State)
	assert.Equal(t, "lost?", msgs[0].Text)
	assert.Empty(t, ch.emitted(), "failed sends are never broadcast")
	assert.False(t, d.Sending(), "guard resets so the user can resend")
}

func TestDetail_RealtimeDeliveryDuringInFlightSend(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	a := &fakeAPI{openID: "c1", sendFn: func(ctx context.Context, req api.SendRequest) (*message.Message, error) {
		close(started)
		<-release
		return serverMsg("m2", req.Text), nil
	}}
	ch := newFakeChannel()
	d := NewDetailClient(a, ch, detailSession(), nil)
	defer d.Close()
	require.NoError(t, d.Open(context.Background(), OpenRequest{ReceiverID: "u2"}))

	done := make(chan error, 1)
	go func() { done <- d.Send(context.Background(), "mine") }()
	<-started

	// The other participant's message renders while our send is pending.
	other := message.Message{ID: "m1", ConversationID: "c1", SenderID: "u2", Text: "theirs", Kind: message.KindText}
	ch.events <- other
	require.Eventually(t, func() bool { return len(d.Messages()) == 2 },
		time.Second, 10*time.Millisecond)

	close(release)
	require.NoError(t, <-done)
	assert.Len(t, d.Messages(), 2)
}

func TestDetail_SendImageCarriesKind(t *testing.T) {
	var got api.SendRequest
	a := &fakeAPI{openID: "c1", sendFn: func(ctx context.Context, req api.SendRequest) (*message.Message, error) {
		got = req
		m := serverMsg("m1", req.Text)
		m.Kind = message.KindImage
		return m, nil
	}}
	d := NewDetailClient(a, newFakeChannel(), detailSession(), nil)
	defer d.Close()
	require.NoError(t, d.Open(context.Background(), OpenRequest{ReceiverID: "u2"}))

	require.NoError(t, d.SendImage(context.Background(), "https://cdn.plaza.local/img/abc.jpg"))

	assert.Equal(t, message.KindImage, got.Kind)
	assert.Equal(t, "https://cdn.plaza.local/img/abc.jpg", got.Text)

	msgs := d.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, message.KindImage, msgs[0].Kind)
}

func TestDetail_SendAppointmentCarriesPayload(t *testing.T) {
	var got api.SendRequest
	a := &fakeAPI{openID: "c1", sendFn: func(ctx context.Context, req api.SendRequest) (*message.Message, error) {
		got = req
		m := serverMsg("m1", req.Text)
		m.Kind = message.KindAppointment
		m.Appointment = req.Appointment
		return m, nil
	}}
	d := NewDetailClient(a, newFakeChannel(), detailSession(), nil)
	defer d.Close()
	require.NoError(t, d.Open(context.Background(), OpenRequest{ReceiverID: "u2"}))

	appt := &message.AppointmentData{Status: "confirmed", Price: 450, PaidAmount: 100, TransactionID: "t1"}
	require.NoError(t, d.SendAppointment(context.Background(), "Haircut on Friday", appt))

	assert.Equal(t, message.KindAppointment, got.Kind)
	require.NotNil(t, got.Appointment)
	assert.Equal(t, "confirmed", got.Appointment.Status)

	msgs := d.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, message.KindAppointment, msgs[0].Kind)
}

func TestDetail_CloseLeavesRoomAndUnsubscribes(t *testing.T) {
	a := &fakeAPI{openID: "c1"}
	ch := newFakeChannel()
	d := NewDetailClient(a, ch, detailSession(), nil)
	require.NoError(t, d.Open(context.Background(), OpenRequest{ReceiverID: "u2"}))

	d.Close()
	d.Close() // idempotent

	assert.Equal(t, []string{"c1"}, ch.leaves)
	assert.Equal(t, []string{"sub-1"}, ch.unsubs)
}

func TestDetail_CloseDuringOpenUnwindsRoom(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	a := &fakeAPI{openID: "c1", histFn: func(ctx context.Context, conversationID string) ([]message.Message, error) {
		close(started)
		<-release
		return nil, nil
	}}
	ch := newFakeChannel()
	d := NewDetailClient(a, ch, detailSession(), nil)

	done := make(chan error, 1)
	go func() { done <- d.Open(context.Background(), OpenRequest{ReceiverID: "u2"}) }()
	<-started

	// Close wins the race while Open is still fetching history.
	d.Close()
	close(release)
	assert.ErrorIs(t, <-done, ErrClosed)

	// The joined room and registered subscription are both torn back down.
	assert.Equal(t, []string{"c1"}, ch.joins)
	assert.Equal(t, []string{"c1"}, ch.leaves)
	assert.Equal(t, []string{"sub-1"}, ch.unsubs)
	assert.Empty(t, d.ConversationID())
}

func TestDetail_LateSendResponseAfterCloseIsIgnored(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	a := &fakeAPI{openID: "c1", sendFn: func(ctx context.Context, req api.SendRequest) (*message.Message, error) {
		close(started)
		<-release
		return serverMsg("m123", req.Text), nil
	}}
	ch := newFakeChannel()
	d := NewDetailClient(a, ch, detailSession(), nil)
	require.NoError(t, d.Open(context.Background(), OpenRequest{ReceiverID: "u2"}))

	done := make(chan error, 1)
	go func() { done <- d.Send(context.Background(), "hello") }()
	<-started

	d.Close()
	close(release)
	require.NoError(t, <-done)

	// The response landed after teardown: no resolution was applied and
	// nothing was broadcast.
	for _, m := range d.Messages() {
		assert.NotEqual(t, "m123", m.ID)
	}
	assert.Empty(t, ch.emitted())
}

func TestDetail_OnChangeFires(t *testing.T) {
	var mu sync.Mutex
	changes := 0
	a := &fakeAPI{openID: "c1", sendFn: func(ctx context.Context, req api.SendRequest) (*message.Message, error) {
		return serverMsg("m1", req.Text), nil
	}}
	ch := newFakeChannel()
	d := NewDetailClient(a, ch, detailSession(), nil, WithOnChange(func() {
		mu.Lock()
		changes++
		mu.Unlock()
	}))
	defer d.Close()

	require.NoError(t, d.Open(context.Background(), OpenRequest{ReceiverID: "u2"}))
	require.NoError(t, d.Send(context.Background(), "hi"))

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, changes, 2, "open and send both notify")
}
