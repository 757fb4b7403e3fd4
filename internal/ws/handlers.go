package ws

import (
	"context"
	"errors"
	"log"
	"time"

	"twatter-messaging/internal/attachments"
	"twatter-messaging/internal/content"
	"twatter-messaging/internal/models"
	"twatter-messaging/internal/observability"
	"twatter-messaging/internal/ratelimit"
	"twatter-messaging/internal/repositories"
	"twatter-messaging/internal/telemetry"
)

// Rate-limit action names; each carries its own independent budget.
const (
	ActionMessage  = "message"
	ActionTyping   = "typing"
	ActionMarkRead = "markMessagesAsRead"
	ActionMarkSeen = "markMessagesAsSeen"
	ActionDelete   = "deleteMessage"
)

// DefaultRateRules returns the per-action budgets.
func DefaultRateRules() map[string]ratelimit.Rule {
	return map[string]ratelimit.Rule{
		ActionMessage:  {Points: 15, Window: 10 * time.Second},
		ActionTyping:   {Points: 10, Window: 10 * time.Second},
		ActionMarkRead: {Points: 25, Window: 10 * time.Second},
		ActionMarkSeen: {Points: 25, Window: 10 * time.Second},
		ActionDelete:   {Points: 15, Window: 20 * time.Second},
	}
}

const (
	genericErrorMessage   = "Something went wrong"
	forbiddenErrorMessage = "You are not allowed to do that"
	rateLimitedMessage    = "You are doing that too fast"
	oversizeMessage       = "Message exceeds the maximum length"
)

// EventHandlers implements the inbound message event protocol. Every
// handler follows the same shape: rate limit, self-target short-circuit,
// membership check, side effect, fan-out. A failure before the side effect
// never partially applies it.
type EventHandlers struct {
	registry      *Registry
	limiter       *ratelimit.Limiter
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	settings      repositories.SettingsRepository
	attachments   attachments.Processor
	audit         *telemetry.AuditEmitter
	maxChars      int
}

// NewEventHandlers constructs EventHandlers.
func NewEventHandlers(
	registry *Registry,
	limiter *ratelimit.Limiter,
	conversations repositories.ConversationRepository,
	messages repositories.MessageRepository,
	settings repositories.SettingsRepository,
	processor attachments.Processor,
	audit *telemetry.AuditEmitter,
	maxChars int,
) *EventHandlers {
	return &EventHandlers{
		registry:      registry,
		limiter:       limiter,
		conversations: conversations,
		messages:      messages,
		settings:      settings,
		attachments:   processor,
		audit:         audit,
		maxChars:      maxChars,
	}
}

// HandleMessage validates, persists and fans out a new message.
func (h *EventHandlers) HandleMessage(ctx context.Context, client *Client, payload models.MessagePayload) {
	if !h.allow(client, ActionMessage) {
		return
	}
	if client.UserID == payload.RecipientID {
		return
	}
	if !h.requireMembers(ctx, client, payload.ConversationID, payload.RecipientID) {
		return
	}

	var stored attachments.Stored
	hasAttachment := payload.Attachment != nil && len(payload.Attachment.Data) > 0
	if hasAttachment {
		var err error
		stored, err = h.attachments.Process(ctx, payload.Attachment.Data, payload.Attachment.Mimetype, payload.ConversationID, client.Info.BaseURL)
		if err != nil {
			log.Printf("attachment processing failed: %v", err)
			_ = client.Send(models.EventError, models.ErrorEvent{Message: genericErrorMessage})
			return
		}
	}

	text := content.Normalize(payload.Message)
	if text == "" && !hasAttachment {
		return
	}
	if content.Length(text) > h.maxChars {
		// Every open tab of the sender sees the rejection; stored
		// attachment files must not be orphaned.
		if hasAttachment {
			h.removeStored(stored)
		}
		h.registry.FanOut(client.UserID, models.EventBlocked, models.BlockedEvent{
			Reason:         oversizeMessage,
			AdditionalData: models.BlockedData{Limit: h.maxChars},
		})
		return
	}

	var attachment *models.Attachment
	if hasAttachment {
		attachment = &models.Attachment{
			URL:          stored.FullURL,
			ThumbnailURL: stored.ThumbnailURL,
			Color:        stored.Color,
			Width:        stored.Width,
			Height:       stored.Height,
		}
	}

	msg, err := h.messages.CreateMessage(ctx, payload.ConversationID, client.UserID, payload.RecipientID, content.Render(text), attachment)
	if err != nil {
		log.Printf("create message failed: %v", err)
		if hasAttachment {
			h.removeStored(stored)
		}
		_ = client.Send(models.EventError, models.ErrorEvent{Message: genericErrorMessage})
		return
	}

	observability.IncWSEvent("message_sent")
	h.registry.FanOut(client.UserID, models.EventMessage, msg)
	h.registry.FanOut(payload.RecipientID, models.EventMessage, msg)
}

// HandleTyping fans a transient typing hint to the recipient only.
func (h *EventHandlers) HandleTyping(ctx context.Context, client *Client, payload models.TypingPayload) {
	if !h.allow(client, ActionTyping) {
		return
	}
	if client.UserID == payload.RecipientID {
		return
	}
	if !h.requireMembers(ctx, client, payload.ConversationID, payload.RecipientID) {
		return
	}

	h.registry.FanOut(payload.RecipientID, models.EventTypingOut, models.ConversationEvent{ConversationID: payload.ConversationID})
}

// HandleMarkRead flips wasRead on the other party's unread messages and
// reports the receipt to them, gated on the acting user's preference.
func (h *EventHandlers) HandleMarkRead(ctx context.Context, client *Client, payload models.MarkReadPayload) {
	if !h.allow(client, ActionMarkRead) {
		return
	}
	if client.UserID == payload.RecipientID {
		return
	}
	if !h.requireMembers(ctx, client, payload.ConversationID, payload.RecipientID) {
		return
	}

	enabled, err := h.settings.ReadReceiptsEnabled(ctx, client.UserID)
	if err != nil {
		log.Printf("settings lookup failed: %v", err)
		_ = client.Send(models.EventError, models.ErrorEvent{Message: genericErrorMessage})
		return
	}
	if !enabled {
		return
	}

	affected, err := h.messages.MarkRead(ctx, payload.ConversationID, payload.RecipientID)
	if err != nil {
		log.Printf("mark read failed: %v", err)
		_ = client.Send(models.EventError, models.ErrorEvent{Message: genericErrorMessage})
		return
	}
	if affected == 0 {
		return
	}

	h.registry.FanOut(payload.RecipientID, models.EventMarkedRead, models.ConversationEvent{ConversationID: payload.ConversationID})
}

// HandleMarkSeen flips wasSeen and confirms to the acting user's own
// connections, syncing seen-state across their open tabs.
func (h *EventHandlers) HandleMarkSeen(ctx context.Context, client *Client, payload models.MarkSeenPayload) {
	if !h.allow(client, ActionMarkSeen) {
		return
	}
	if client.UserID == payload.RecipientID {
		return
	}
	if !h.requireMembers(ctx, client, payload.ConversationID, payload.RecipientID) {
		return
	}

	affected, err := h.messages.MarkSeen(ctx, payload.ConversationID, payload.RecipientID)
	if err != nil {
		log.Printf("mark seen failed: %v", err)
		_ = client.Send(models.EventError, models.ErrorEvent{Message: genericErrorMessage})
		return
	}
	if affected == 0 {
		return
	}

	h.registry.FanOut(client.UserID, models.EventMarkedSeen, models.ConversationEvent{ConversationID: payload.ConversationID})
}

// HandleDeleteMessage soft-deletes one of the actor's own messages and
// notifies both parties so open UIs drop it.
func (h *EventHandlers) HandleDeleteMessage(ctx context.Context, client *Client, payload models.DeleteMessagePayload) {
	if !h.allow(client, ActionDelete) {
		return
	}
	if client.UserID == payload.RecipientID {
		return
	}
	if !h.requireMembers(ctx, client, payload.ConversationID, payload.RecipientID) {
		return
	}

	if err := h.messages.SoftDeleteMessage(ctx, payload.MessageID, client.UserID); err != nil {
		if errors.Is(err, repositories.ErrMessageNotFound) {
			_ = client.Send(models.EventError, models.ErrorEvent{Message: forbiddenErrorMessage})
			return
		}
		log.Printf("delete message failed: %v", err)
		_ = client.Send(models.EventError, models.ErrorEvent{Message: genericErrorMessage})
		return
	}

	h.audit.Emit(ctx, "INFO", "message deleted: "+payload.MessageID, client.Info.RequestID, &client.UserID)

	deleted := models.DeletedMessageEvent{MessageID: payload.MessageID, ConversationID: payload.ConversationID}
	h.registry.FanOut(client.UserID, models.EventDeletedMessage, deleted)
	h.registry.FanOut(payload.RecipientID, models.EventDeletedMessage, deleted)
}

// allow consumes one rate-limit point; on rejection it notifies the
// originating connection only and reports false.
func (h *EventHandlers) allow(client *Client, action string) bool {
	res := h.limiter.Consume(action, client.UserID)
	if res.OK {
		return true
	}
	observability.IncRateLimited(action)
	_ = client.Send(models.EventBlocked, models.BlockedEvent{
		Reason:         rateLimitedMessage,
		AdditionalData: models.BlockedData{RetryMs: res.RetryAfterMs, Limit: res.Limit},
	})
	return false
}

// requireMembers verifies the conversation exists and its fixed member
// pair is exactly {actor, recipient}. Failures produce exactly one error
// event to the originating connection.
func (h *EventHandlers) requireMembers(ctx context.Context, client *Client, conversationID, recipientID string) bool {
	conv, err := h.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, repositories.ErrConversationNotFound) {
			_ = client.Send(models.EventError, models.ErrorEvent{Message: forbiddenErrorMessage})
		} else {
			log.Printf("conversation lookup failed: %v", err)
			_ = client.Send(models.EventError, models.ErrorEvent{Message: genericErrorMessage})
		}
		return false
	}
	if !conv.HasMembers(client.UserID, recipientID) {
		_ = client.Send(models.EventError, models.ErrorEvent{Message: forbiddenErrorMessage})
		return false
	}
	return true
}

func (h *EventHandlers) removeStored(stored attachments.Stored) {
	if err := h.attachments.Remove(stored.FullPath, stored.ThumbnailPath); err != nil {
		log.Printf("attachment cleanup failed: %v", err)
	}
}
