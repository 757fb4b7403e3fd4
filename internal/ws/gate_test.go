package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"twatter-messaging/internal/mocks"
	"twatter-messaging/internal/models"
	"twatter-messaging/internal/ratelimit"
	"twatter-messaging/internal/session"
)

const gateTestSecret = "gate-test-secret"

func sessionToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:  userID,
		IssuedAt: jwt.NewNumericDate(time.Now()),
	})
	signed, err := token.SignedString([]byte(gateTestSecret))
	require.NoError(t, err)
	return signed
}

func newGateServer(t *testing.T, messages *mocks.MessageRepositoryMock, conversations *mocks.ConversationRepositoryMock) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := NewRegistry()
	handlers := NewEventHandlers(registry, ratelimit.New(DefaultRateRules()), conversations, messages,
		new(mocks.SettingsRepositoryMock), new(mocks.ProcessorMock), nil, 1000)
	sessions := session.NewValidator(gateTestSecret, time.Hour)
	gate := NewGate(registry, sessions, handlers, "session", 1<<20)

	router := gin.New()
	router.GET("/ws", gate.Handle)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func dialGate(t *testing.T, server *httptest.Server, cookie string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	header := http.Header{}
	if cookie != "" {
		header.Set("Cookie", "session="+cookie)
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) models.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var envelope models.Envelope
	require.NoError(t, json.Unmarshal(raw, &envelope))
	return envelope
}

// A message sent over a live connection must be persisted and echoed back
// with a usable context: the handshake's request context dies with the
// HTTP handler, and the read loop may not inherit its cancellation.
func TestGatePersistsMessageAfterHandshakeReturns(t *testing.T) {
	conversations := new(mocks.ConversationRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	conversations.On("GetConversation", mock.Anything, "conv-1").
		Return(models.Conversation{ID: "conv-1", User1ID: "alice", User2ID: "bob"}, nil)

	ctxErr := make(chan error, 1)
	messages.On("CreateMessage", mock.Anything, "conv-1", "alice", "bob", "hello", (*models.Attachment)(nil)).
		Run(func(args mock.Arguments) {
			ctxErr <- args.Get(0).(context.Context).Err()
		}).
		Return(models.Message{ID: "m1", ConversationID: "conv-1", SenderID: "alice", Content: "hello"}, nil)

	server := newGateServer(t, messages, conversations)
	conn := dialGate(t, server, sessionToken(t, "alice"))

	frame, err := models.NewEnvelope(models.EventMessage, models.MessagePayload{
		Message:        "hello",
		ConversationID: "conv-1",
		RecipientID:    "bob",
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	envelope := readEnvelope(t, conn)
	assert.Equal(t, models.EventMessage, envelope.Event)

	var got models.Message
	require.NoError(t, json.Unmarshal(envelope.Data, &got))
	assert.Equal(t, "m1", got.ID)

	select {
	case err := <-ctxErr:
		assert.NoError(t, err, "handler context must stay live after the handshake returns")
	case <-time.After(2 * time.Second):
		t.Fatal("CreateMessage was never called")
	}
	messages.AssertExpectations(t)
}

func TestGateRejectsMissingSessionWithOneShotNotice(t *testing.T) {
	server := newGateServer(t, new(mocks.MessageRepositoryMock), new(mocks.ConversationRepositoryMock))
	conn := dialGate(t, server, "")

	envelope := readEnvelope(t, conn)
	assert.Equal(t, models.EventUnauthorized, envelope.Event)

	// The server closes right after the notice.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestGateRejectsInvalidSessionToken(t *testing.T) {
	server := newGateServer(t, new(mocks.MessageRepositoryMock), new(mocks.ConversationRepositoryMock))
	conn := dialGate(t, server, "not-a-valid-token")

	envelope := readEnvelope(t, conn)
	assert.Equal(t, models.EventUnauthorized, envelope.Event)
}
