package model

import "time"

// Message is a single chat line inside a conversation. Messages are
// immutable once stored.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Sender         string    `json:"sender"`
	SenderName     string    `json:"senderName,omitempty"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"createdAt"`
}
