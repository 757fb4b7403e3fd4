package models

import "time"

// Attachment describes a stored message attachment.
type Attachment struct {
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnailUrl"`
	Color        string `json:"color"`
	Height       int    `json:"height"`
	Width        int    `json:"width"`
}

// Message is a message inside a conversation. Content is stored already
// HTML-escaped and linkified. The read/seen flags only ever flip false to
// true; Deleted is a terminal soft-delete.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	SenderID       string      `json:"senderId"`
	Content        string      `json:"content"`
	Attachment     *Attachment `json:"attachment"`
	WasRead        bool        `json:"wasRead"`
	WasSeen        bool        `json:"wasSeen"`
	Deleted        bool        `json:"deleted"`
	CreatedAt      time.Time   `json:"createdAt"`
}
