// Package notify keeps the per-user notification inbox and pushes new
// entries to connected clients.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"marketchat/internal/model"
	"marketchat/internal/store"
)

// EventNewNotification is the realtime event carrying a fresh notification.
const EventNewNotification = "newNotification"

// Pusher delivers an event to every live connection of a user.
type Pusher interface {
	EmitToUser(userID, event string, data any) error
}

// OutboxStore is the persistence the Outbox needs.
type OutboxStore interface {
	store.NotificationStore
	store.UserStore
}

// NewNotification describes a notification to be created.
type NewNotification struct {
	Recipient      string
	Sender         string
	Type           string
	Message        string
	Link           string
	ConversationID string
}

// Inbox is a user's notification list with the current unread count.
type Inbox struct {
	Notifications []model.Notification `json:"notifications"`
	UnreadCount   int                  `json:"unreadCount"`
}

// Outbox creates notifications and serves the recipient's inbox.
type Outbox struct {
	store  OutboxStore
	pusher Pusher
	logger *log.Logger
	now    func() time.Time
}

// NewOutbox returns an Outbox. pusher may be nil, in which case Deliver
// only persists.
func NewOutbox(s OutboxStore, pusher Pusher, logger *log.Logger) *Outbox {
	return &Outbox{store: s, pusher: pusher, logger: logger, now: time.Now}
}

// Create stores an unread notification.
func (o *Outbox) Create(ctx context.Context, in NewNotification) (*model.Notification, error) {
	if strings.TrimSpace(in.Recipient) == "" {
		return nil, fmt.Errorf("notification recipient is required: %w", model.ErrInvalidInput)
	}
	if strings.TrimSpace(in.Type) == "" {
		return nil, fmt.Errorf("notification type is required: %w", model.ErrInvalidInput)
	}
	if strings.TrimSpace(in.Message) == "" {
		return nil, fmt.Errorf("notification message is required: %w", model.ErrInvalidInput)
	}

	n := model.Notification{
		Recipient:      in.Recipient,
		Sender:         in.Sender,
		Type:           in.Type,
		Message:        in.Message,
		Link:           in.Link,
		ConversationID: in.ConversationID,
		CreatedAt:      o.now().UTC(),
	}
	if err := o.store.InsertNotification(ctx, &n); err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	return &n, nil
}

// Deliver creates the notification and then pushes it to the recipient's
// live connections. Once the record exists a push failure is only logged.
func (o *Outbox) Deliver(ctx context.Context, in NewNotification) (*model.Notification, error) {
	n, err := o.Create(ctx, in)
	if err != nil {
		return nil, err
	}
	if n.Sender != "" {
		if u, ok := o.names(ctx, []string{n.Sender})[n.Sender]; ok {
			n.SenderName = u.Name
		}
	}
	if o.pusher != nil {
		if err := o.pusher.EmitToUser(n.Recipient, EventNewNotification, n); err != nil {
			o.logger.Warn("📢 notification push failed", "recipient", n.Recipient, "id", n.ID, "err", err)
		}
	}
	return n, nil
}

// ListForUser returns the user's notifications, newest first, and the
// number still unread.
func (o *Outbox) ListForUser(ctx context.Context, userID string) (*Inbox, error) {
	list, err := o.store.ListNotifications(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	if list == nil {
		list = []model.Notification{}
	}
	unread, err := o.store.CountUnread(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count unread: %w", err)
	}

	var senders []string
	for _, n := range list {
		if n.Sender != "" {
			senders = append(senders, n.Sender)
		}
	}
	users := o.names(ctx, senders)
	for i := range list {
		if u, ok := users[list[i].Sender]; ok {
			list[i].SenderName = u.Name
		}
	}
	return &Inbox{Notifications: list, UnreadCount: unread}, nil
}

// MarkRead flags one of the caller's notifications read. Missing and
// foreign notifications are both reported as not found.
func (o *Outbox) MarkRead(ctx context.Context, id, callerID string) (*model.Notification, error) {
	n, err := o.store.MarkNotificationRead(ctx, id, callerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("notification %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("mark notification read: %w", err)
	}
	return n, nil
}

// MarkAllRead flags every unread notification of the caller and returns
// how many changed.
func (o *Outbox) MarkAllRead(ctx context.Context, callerID string) (int64, error) {
	updated, err := o.store.MarkAllNotificationsRead(ctx, callerID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return updated, nil
}

func (o *Outbox) names(ctx context.Context, ids []string) map[string]model.User {
	if len(ids) == 0 {
		return nil
	}
	users, err := o.store.LookupUsers(ctx, ids)
	if err != nil {
		o.logger.Warn("sender lookup failed", "err", err)
		return nil
	}
	return users
}
