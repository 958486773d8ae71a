// Package store defines the persistence contract for conversations,
// messages, notifications and the read-only users directory.
//
// Implementations live in the memstore, mysqlstore and mongostore
// subpackages. Every mutation is scoped to a single record; the only
// uniqueness the stores enforce is one conversation per participant pair.
package store

import (
	"context"
	"errors"

	"marketchat/internal/model"
)

var (
	// ErrNotFound is returned when the addressed record does not exist.
	ErrNotFound = errors.New("store: record not found")
	// ErrDuplicate is returned when an insert violates a unique key.
	ErrDuplicate = errors.New("store: duplicate record")
)

// ConversationStore persists conversations.
type ConversationStore interface {
	// InsertConversation stores conv and assigns its ID. It returns
	// ErrDuplicate when a conversation for the same pair already exists.
	InsertConversation(ctx context.Context, conv *model.Conversation) error
	FindConversationByPair(ctx context.Context, a, b string) (*model.Conversation, error)
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	// ListConversations returns conversations of userID, most recently
	// updated first.
	ListConversations(ctx context.Context, userID string) ([]model.Conversation, error)
	// TouchConversation records last as the newest message.
	TouchConversation(ctx context.Context, id string, last model.LastMessage) error
}

// MessageStore persists chat messages.
type MessageStore interface {
	InsertMessage(ctx context.Context, msg *model.Message) error
	// ListMessages returns every message of the conversation, oldest first.
	ListMessages(ctx context.Context, conversationID string) ([]model.Message, error)
}

// NotificationStore persists per-user notifications.
type NotificationStore interface {
	InsertNotification(ctx context.Context, n *model.Notification) error
	// ListNotifications returns the recipient's notifications, newest first.
	ListNotifications(ctx context.Context, recipient string) ([]model.Notification, error)
	CountUnread(ctx context.Context, recipient string) (int, error)
	// MarkNotificationRead flags one notification read. It returns
	// ErrNotFound when id does not exist or belongs to someone else.
	MarkNotificationRead(ctx context.Context, id, recipient string) (*model.Notification, error)
	MarkAllNotificationsRead(ctx context.Context, recipient string) (int64, error)
}

// UserStore resolves display names. Unknown ids are omitted from the result.
type UserStore interface {
	LookupUsers(ctx context.Context, ids []string) (map[string]model.User, error)
}

// Store is the full persistence surface.
type Store interface {
	ConversationStore
	MessageStore
	NotificationStore
	UserStore
	Close(ctx context.Context) error
}
