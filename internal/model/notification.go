package model

import "time"

// Notification types raised inside and outside the chat subsystem.
const (
	NotificationNewMessage    = "new_message"
	NotificationBookingUpdate = "booking_update"
	NotificationReviewPending = "review_pending"
	NotificationPaymentUpdate = "payment_update"
)

// Notification is a per-user inbox record. Only the recipient may flip Read.
type Notification struct {
	ID             string    `json:"id"`
	Recipient      string    `json:"recipient"`
	Sender         string    `json:"sender,omitempty"`
	SenderName     string    `json:"senderName,omitempty"`
	Type           string    `json:"type"`
	Message        string    `json:"message"`
	Link           string    `json:"link,omitempty"`
	Read           bool      `json:"read"`
	ConversationID string    `json:"conversationId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}
