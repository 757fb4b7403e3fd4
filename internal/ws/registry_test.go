package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twatter-messaging/internal/models"
)

// fakeConn records text frames written to it and can be told to fail.
type fakeConn struct {
	mu        sync.Mutex
	frames    []models.Envelope
	failWrite bool
	closed    bool
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrite {
		return errors.New("write failed")
	}
	if messageType != websocket.TextMessage {
		return nil
	}
	var envelope models.Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}
	f.frames = append(f.frames, envelope)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.frames))
	for _, frame := range f.frames {
		names = append(names, frame.Event)
	}
	return names
}

func (f *fakeConn) lastData(t *testing.T, dst any) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.frames)
	require.NoError(t, json.Unmarshal(f.frames[len(f.frames)-1].Data, dst))
}

func connect(registry *Registry, userID string) (*Client, *fakeConn) {
	conn := &fakeConn{}
	client := newClient(conn, ConnInfo{UserID: userID, BaseURL: "http://localhost:8083"})
	registry.Register(userID, client)
	return client, conn
}

func TestRegisterTracksMultipleConnectionsPerUser(t *testing.T) {
	registry := NewRegistry()

	first, _ := connect(registry, "alice")
	second, _ := connect(registry, "alice")
	assert.Equal(t, 2, registry.Connections("alice"))

	registry.Unregister("alice", first)
	assert.Equal(t, 1, registry.Connections("alice"))
	registry.Unregister("alice", second)
	assert.Equal(t, 0, registry.Connections("alice"))
}

func TestUnregisterUnknownClientIsNoop(t *testing.T) {
	registry := NewRegistry()
	client := newClient(&fakeConn{}, ConnInfo{UserID: "alice"})

	registry.Unregister("alice", client)
	assert.Equal(t, 0, registry.Connections("alice"))
}

func TestFanOutReachesEveryConnectionOfTheUser(t *testing.T) {
	registry := NewRegistry()
	_, tabOne := connect(registry, "alice")
	_, tabTwo := connect(registry, "alice")
	_, other := connect(registry, "bob")

	registry.FanOut("alice", models.EventTypingOut, models.ConversationEvent{ConversationID: "conv-1"})

	assert.Equal(t, []string{models.EventTypingOut}, tabOne.events())
	assert.Equal(t, []string{models.EventTypingOut}, tabTwo.events())
	assert.Empty(t, other.events())

	var data models.ConversationEvent
	tabOne.lastData(t, &data)
	assert.Equal(t, "conv-1", data.ConversationID)
}

func TestFanOutToOfflineUserIsNoop(t *testing.T) {
	registry := NewRegistry()

	registry.FanOut("nobody", models.EventTypingOut, models.ConversationEvent{ConversationID: "conv-1"})
	assert.Equal(t, 0, registry.Connections("nobody"))
}

func TestFanOutDropsFailedConnectionAndKeepsDelivering(t *testing.T) {
	registry := NewRegistry()
	_, broken := connect(registry, "alice")
	broken.failWrite = true
	_, healthy := connect(registry, "alice")

	registry.FanOut("alice", models.EventTypingOut, models.ConversationEvent{ConversationID: "conv-1"})

	assert.Equal(t, []string{models.EventTypingOut}, healthy.events())
	assert.True(t, broken.closed)
	assert.Equal(t, 1, registry.Connections("alice"))
}
