package models

import "encoding/json"

// Inbound event names (client to server).
const (
	EventMessage   = "message"
	EventTyping    = "typing"
	EventMarkRead  = "markMessagesAsRead"
	EventMarkSeen  = "markMessagesAsSeen"
	EventDeleteMsg = "deleteMessage"
)

// Outbound event names (server to client).
const (
	EventUnauthorized   = "_message"
	EventTypingOut      = "typing"
	EventMarkedRead     = "markedMessagesAsRead"
	EventMarkedSeen     = "markedMessagesAsSeen"
	EventDeletedMessage = "deletedMessage"
	EventError          = "error"
	EventBlocked        = "blocked"
)

// Envelope frames every websocket event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals an event with its payload into a wire frame.
func NewEnvelope(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// InboundAttachment is raw attachment bytes as received from the client.
// The bytes travel base64-encoded inside the JSON frame.
type InboundAttachment struct {
	Data     []byte `json:"data"`
	Mimetype string `json:"mimetype"`
}

// MessagePayload is the payload of the inbound "message" event.
type MessagePayload struct {
	Message        string             `json:"message"`
	Attachment     *InboundAttachment `json:"attachment"`
	ConversationID string             `json:"conversationId"`
	RecipientID    string             `json:"recipientId"`
}

// TypingPayload is the payload of the inbound "typing" event.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	RecipientID    string `json:"recipientId"`
}

// MarkReadPayload is the payload of the inbound "markMessagesAsRead" event.
type MarkReadPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	RecipientID    string `json:"recipientId"`
}

// MarkSeenPayload is the payload of the inbound "markMessagesAsSeen" event.
type MarkSeenPayload struct {
	ConversationID string `json:"conversationId"`
	RecipientID    string `json:"recipientId"`
}

// DeleteMessagePayload is the payload of the inbound "deleteMessage" event.
type DeleteMessagePayload struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	RecipientID    string `json:"recipientId"`
}

// ConversationEvent carries a bare conversation id (typing, read, seen).
type ConversationEvent struct {
	ConversationID string `json:"conversationId"`
}

// DeletedMessageEvent notifies both sides that a message was soft-deleted.
type DeletedMessageEvent struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

// ErrorEvent is a user-facing error, delivered to the originating
// connection only.
type ErrorEvent struct {
	Message string `json:"message"`
}

// BlockedEvent reports a rejected action together with retry hints.
type BlockedEvent struct {
	Reason         string      `json:"reason"`
	AdditionalData BlockedData `json:"additionalData"`
}

// BlockedData carries the caller-facing rate-limit hints.
type BlockedData struct {
	RetryMs int64 `json:"retry-ms"`
	Limit   int   `json:"limit"`
}
