package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"marketchat/internal/model"
	"marketchat/internal/store"
)

// LogStore is the persistence the MessageLog needs.
type LogStore interface {
	store.ConversationStore
	store.MessageStore
	store.UserStore
}

// MessageLog appends and replays conversation messages.
type MessageLog struct {
	store  LogStore
	logger *log.Logger
	now    func() time.Time
}

// NewMessageLog returns a MessageLog over s.
func NewMessageLog(s LogStore, logger *log.Logger) *MessageLog {
	return &MessageLog{store: s, logger: logger, now: time.Now}
}

// Append stores a message from senderID. The text must contain something
// other than whitespace and the sender must be a participant. The returned
// message carries the server-assigned id, timestamp and sender name.
func (l *MessageLog) Append(ctx context.Context, conversationID, senderID, text string) (*model.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("message text is required: %w", model.ErrInvalidInput)
	}

	conv, err := l.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, translate("append", err)
	}
	if !conv.HasParticipant(senderID) {
		return nil, fmt.Errorf("sender is not a participant of this conversation: %w", model.ErrForbidden)
	}

	msg := model.Message{
		ConversationID: conv.ID,
		Sender:         senderID,
		Text:           text,
		CreatedAt:      l.now().UTC(),
	}
	if err := l.store.InsertMessage(ctx, &msg); err != nil {
		return nil, translate("append", err)
	}

	last := model.LastMessage{Sender: msg.Sender, Text: msg.Text, CreatedAt: msg.CreatedAt}
	if err := l.store.TouchConversation(ctx, conv.ID, last); err != nil {
		l.logger.Warn("last message cache not updated", "conversation", conv.ID, "err", err)
	}

	if u, ok := resolveNames(ctx, l.store, l.logger, []string{senderID})[senderID]; ok {
		msg.SenderName = u.Name
	}
	return &msg, nil
}

// History returns every message of the conversation, oldest first.
// There is no pagination; callers receive the full log.
func (l *MessageLog) History(ctx context.Context, conversationID, callerID string) ([]model.Message, error) {
	conv, err := l.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, translate("history", err)
	}
	if !conv.HasParticipant(callerID) {
		return nil, fmt.Errorf("caller is not a participant of this conversation: %w", model.ErrForbidden)
	}

	list, err := l.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, translate("history", err)
	}
	if list == nil {
		list = []model.Message{}
	}

	users := resolveNames(ctx, l.store, l.logger, conv.ParticipantIDs())
	for i := range list {
		if u, ok := users[list[i].Sender]; ok {
			list[i].SenderName = u.Name
		}
	}
	return list, nil
}
