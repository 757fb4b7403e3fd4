package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"twatter-messaging/internal/mocks"
	"twatter-messaging/internal/models"
	"twatter-messaging/internal/repositories"
)

func newTestRouter(userID string, h *ConversationHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("userID", userID)
	})
	router.GET("/conversations", h.ListConversations)
	router.POST("/conversations/start", h.StartConversation)
	router.GET("/conversations/:conversation_id/messages", h.GetMessages)
	router.DELETE("/conversations/:conversation_id/me", h.LeaveConversation)
	return router
}

func TestListConversations(t *testing.T) {
	conversations := new(mocks.ConversationRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	conversations.On("ListConversations", mock.Anything, "alice").Return([]models.ConversationSummary{
		{ConversationID: "conv-1", PartnerID: "bob"},
	}, nil)

	router := newTestRouter("alice", NewConversationHandler(conversations, messages))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Conversations []models.ConversationSummary `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Conversations, 1)
	assert.Equal(t, "bob", body.Conversations[0].PartnerID)
}

func TestStartConversationRejectsSelf(t *testing.T) {
	conversations := new(mocks.ConversationRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)

	router := newTestRouter("alice", NewConversationHandler(conversations, messages))
	w := httptest.NewRecorder()
	payload, _ := json.Marshal(map[string]string{"partnerId": "alice"})
	req := httptest.NewRequest(http.MethodPost, "/conversations/start", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	conversations.AssertNotCalled(t, "CreateOrGetConversation", mock.Anything, mock.Anything, mock.Anything)
}

func TestStartConversationReturnsExistingID(t *testing.T) {
	conversations := new(mocks.ConversationRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	conversations.On("CreateOrGetConversation", mock.Anything, "alice", "bob").
		Return(models.Conversation{ID: "conv-1", User1ID: "alice", User2ID: "bob"}, nil)

	router := newTestRouter("alice", NewConversationHandler(conversations, messages))
	w := httptest.NewRecorder()
	payload, _ := json.Marshal(map[string]string{"partnerId": "bob"})
	req := httptest.NewRequest(http.MethodPost, "/conversations/start", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "conv-1")
}

func TestGetMessagesForbiddenForNonMember(t *testing.T) {
	conversations := new(mocks.ConversationRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	conversations.On("IsMember", mock.Anything, "conv-1", "mallory").Return(false, nil)

	router := newTestRouter("mallory", NewConversationHandler(conversations, messages))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/conversations/conv-1/messages", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	messages.AssertNotCalled(t, "ListMessages", mock.Anything, mock.Anything)
}

func TestGetMessagesReturnsHistoryForMember(t *testing.T) {
	conversations := new(mocks.ConversationRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	conversations.On("IsMember", mock.Anything, "conv-1", "alice").Return(true, nil)
	messages.On("ListMessages", mock.Anything, "conv-1").Return([]models.Message{
		{ID: "m1", ConversationID: "conv-1", SenderID: "bob", Content: "hi"},
	}, nil)

	router := newTestRouter("alice", NewConversationHandler(conversations, messages))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/conversations/conv-1/messages", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "m1")
}

func TestLeaveConversationUnknownConversation(t *testing.T) {
	conversations := new(mocks.ConversationRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	conversations.On("GetConversation", mock.Anything, "missing").
		Return(nil, repositories.ErrConversationNotFound)

	router := newTestRouter("alice", NewConversationHandler(conversations, messages))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/conversations/missing/me", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLeaveConversationRemovesParticipant(t *testing.T) {
	conversations := new(mocks.ConversationRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	conversations.On("GetConversation", mock.Anything, "conv-1").
		Return(models.Conversation{ID: "conv-1", User1ID: "alice", User2ID: "bob"}, nil)
	conversations.On("IsMember", mock.Anything, "conv-1", "alice").Return(true, nil)
	conversations.On("LeaveConversation", mock.Anything, "conv-1", "alice").Return(nil)

	router := newTestRouter("alice", NewConversationHandler(conversations, messages))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/conversations/conv-1/me", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	conversations.AssertExpectations(t)
}

func TestLeaveConversationInternalError(t *testing.T) {
	conversations := new(mocks.ConversationRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	conversations.On("GetConversation", mock.Anything, "conv-1").
		Return(nil, errors.New("db down"))

	router := newTestRouter("alice", NewConversationHandler(conversations, messages))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/conversations/conv-1/me", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
