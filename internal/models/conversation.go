package models

import "time"

// Conversation is a private conversation between exactly two members.
// Membership is fixed for the lifetime of the conversation; whether each
// member currently participates (sees it in their list) is tracked
// separately in conversation_participants.
type Conversation struct {
	ID        string    `db:"id" json:"id"`
	User1ID   string    `db:"user1_id" json:"user1Id"`
	User2ID   string    `db:"user2_id" json:"user2Id"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// HasMembers reports whether the conversation's member pair is exactly
// {a, b}, in either order.
func (c Conversation) HasMembers(a, b string) bool {
	return (c.User1ID == a && c.User2ID == b) || (c.User1ID == b && c.User2ID == a)
}

// ConversationSummary is the API-facing view of a conversation for one user.
type ConversationSummary struct {
	ConversationID string    `db:"id" json:"conversationId"`
	PartnerID      string    `json:"partnerId"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}
