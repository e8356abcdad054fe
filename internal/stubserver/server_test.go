// ABOUTME: Integration tests running the real client stack against the stub:
// ABOUTME: idempotent conversation creation, history, and realtime relay.

package stubserver

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plazalocal/plaza-chat/internal/api"
	conv "github.com/plazalocal/plaza-chat/internal/conversation"
	"github.com/plazalocal/plaza-chat/internal/message"
	"github.com/plazalocal/plaza-chat/internal/realtime"
	"github.com/plazalocal/plaza-chat/internal/session"
)

type testEnv struct {
	stub *Server
	srv  *httptest.Server
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	stub := New(nil)
	srv := httptest.NewServer(stub.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{stub: stub, srv: srv}
}

func (e *testEnv) wsURL() string {
	return "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws"
}

func mintToken(t *testing.T, userID, name string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  userID,
		"name": name,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("stub-secret"))
	require.NoError(t, err)
	return signed
}

func (e *testEnv) client(t *testing.T, userID, name string) (*api.Client, session.Provider) {
	t.Helper()
	sess, err := session.FromToken(mintToken(t, userID, name))
	require.NoError(t, err)
	provider := &session.Static{Session: sess}
	c, err := api.New(e.srv.URL, provider)
	require.NoError(t, err)
	return c, provider
}

func TestStub_RejectsMissingToken(t *testing.T) {
	e := newEnv(t)

	c, err := api.New(e.srv.URL, &session.Static{Session: &session.Session{UserID: "u1", Token: "garbage"}})
	require.NoError(t, err)

	_, err = c.ListConversations(context.Background())
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.Status)
}

func TestStub_OpenConversationIsIdempotent(t *testing.T) {
	e := newEnv(t)
	a, _ := e.client(t, "u1", "amira")
	b, _ := e.client(t, "u2", "bo")

	first, err := a.OpenConversation(context.Background(), "u2")
	require.NoError(t, err)

	second, err := a.OpenConversation(context.Background(), "u2")
	require.NoError(t, err)
	assert.Equal(t, first, second, "same pair, same id")

	// The same pair from the other direction resolves to the same record.
	reverse, err := b.OpenConversation(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, first, reverse)
}

func TestStub_SendAppearsInHistoryAndList(t *testing.T) {
	e := newEnv(t)
	e.stub.RegisterUser(message.Participant{ID: "u2", StoreName: "Corner Bakery"})
	a, _ := e.client(t, "u1", "amira")

	convID, err := a.OpenConversation(context.Background(), "u2")
	require.NoError(t, err)

	sent, err := a.Send(context.Background(), api.SendRequest{
		ReceiverID:     "u2",
		ConversationID: convID,
		Text:           "two croissants please",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sent.ID)

	history, err := a.History(context.Background(), convID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, sent.ID, history[0].ID)
	assert.Equal(t, "two croissants please", history[0].Text)

	convs, err := a.ListConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.NotNil(t, convs[0].LastMessage)
	assert.Equal(t, sent.ID, convs[0].LastMessage.ID)

	other, ok := convs[0].Other("u1")
	require.True(t, ok)
	assert.Equal(t, "Corner Bakery", other.DisplayName())
	assert.True(t, other.IsStore())
}

func TestStub_HistoryDeniedToNonMembers(t *testing.T) {
	e := newEnv(t)
	a, _ := e.client(t, "u1", "amira")
	c, _ := e.client(t, "u3", "charlie")

	convID, err := a.OpenConversation(context.Background(), "u2")
	require.NoError(t, err)

	_, err = c.History(context.Background(), convID)
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 403, apiErr.Status)
}

func TestStub_RelaysToOtherRoomMembersOnly(t *testing.T) {
	e := newEnv(t)
	a, _ := e.client(t, "u1", "amira")

	convID, err := a.OpenConversation(context.Background(), "u2")
	require.NoError(t, err)

	chA, err := realtime.Dial(context.Background(), e.wsURL(), mintToken(t, "u1", "amira"), nil)
	require.NoError(t, err)
	defer chA.Close()
	chB, err := realtime.Dial(context.Background(), e.wsURL(), mintToken(t, "u2", "bo"), nil)
	require.NoError(t, err)
	defer chB.Close()

	require.NoError(t, chA.Join(convID))
	require.NoError(t, chB.Join(convID))

	subA, _ := chA.Subscribe(convID)
	subB, _ := chB.Subscribe(convID)

	// Give the stub a beat to process both join frames.
	time.Sleep(50 * time.Millisecond)

	msg := message.Message{ID: "m1", ConversationID: convID, SenderID: "u1", Text: "ping", Kind: message.KindText}
	require.NoError(t, chA.EmitMessage(convID, msg))

	select {
	case got := <-subB:
		assert.Equal(t, "m1", got.ID)
		assert.Equal(t, "ping", got.Text)
	case <-time.After(time.Second):
		t.Fatal("peer never received the relayed message")
	}

	select {
	case <-subA:
		t.Fatal("originator must not receive its own relay")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestStub_EndToEndDetailClients(t *testing.T) {
	// Two full DetailClients talking through the stub: A sends, B receives
	// over realtime, both converge on the same single-entry list.
	e := newEnv(t)
	apiA, provA := e.client(t, "u1", "amira")
	apiB, provB := e.client(t, "u2", "bo")

	chA, err := realtime.Dial(context.Background(), e.wsURL(), mintToken(t, "u1", "amira"), nil)
	require.NoError(t, err)
	defer chA.Close()
	chB, err := realtime.Dial(context.Background(), e.wsURL(), mintToken(t, "u2", "bo"), nil)
	require.NoError(t, err)
	defer chB.Close()

	detailA := conv.NewDetailClient(apiA, chA, provA, nil)
	defer detailA.Close()
	require.NoError(t, detailA.Open(context.Background(), conv.OpenRequest{ReceiverID: "u2"}))

	detailB := conv.NewDetailClient(apiB, chB, provB, nil)
	defer detailB.Close()
	require.NoError(t, detailB.Open(context.Background(), conv.OpenRequest{ReceiverID: "u1"}))

	require.Equal(t, detailA.ConversationID(), detailB.ConversationID(),
		"get-or-create resolves both sides to the same conversation")

	// Let the stub register both join frames before sending.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, detailA.Send(context.Background(), "Hello"))

	msgsA := detailA.Messages()
	require.Len(t, msgsA, 1)
	assert.Equal(t, message.StateDelivered, msgsA[0].State)
	assert.False(t, message.IsTempID(msgsA[0].ID))

	require.Eventually(t, func() bool {
		msgs := detailB.Messages()
		return len(msgs) == 1 && msgs[0].Text == "Hello"
	}, time.Second, 10*time.Millisecond, "peer receives the broadcast without refetching")

	assert.Equal(t, msgsA[0].ID, detailB.Messages()[0].ID)
}
