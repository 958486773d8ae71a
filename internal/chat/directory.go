package chat

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

// DirectoryStore is the persistence the Directory needs.
type DirectoryStore interface {
	store.ConversationStore
	store.UserStore
}

// Directory resolves and lists two-party conversations.
type Directory struct {
	store  DirectoryStore
	logger *log.Logger
	now    func() time.Time
}

// NewDirectory returns a Directory over s.
func NewDirectory(s DirectoryStore, logger *log.Logger) *Directory {
	return &Directory{store: s, logger: logger, now: time.Now}
}

// GetOrCreate returns the conversation between userA and userB, creating it
// on first use. Concurrent calls for the same pair, in either order, return
// the same conversation: a lost insert race is answered by re-reading the
// winner.
func (d *Directory) GetOrCreate(ctx context.Context, userA, userB string) (*model.Conversation, error) {
	userA, userB = strings.TrimSpace(userA), strings.TrimSpace(userB)
	if userA == "" || userB == "" {
		return nil, fmt.Errorf("both participants are required: %w", model.ErrInvalidInput)
	}
	if userA == userB {
		return nil, fmt.Errorf("cannot start a conversation with yourself: %w", model.ErrInvalidInput)
	}

	conv, err := d.store.FindConversationByPair(ctx, userA, userB)
	switch {
	case err == nil:
		return d.resolve(ctx, conv), nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, translate("find conversation", err)
	}

	created := model.NewConversation(userA, userB, d.now().UTC())
	err = d.store.InsertConversation(ctx, &created)
	if errors.Is(err, store.ErrDuplicate) {
		d.logger.Debug("conversation insert lost race, re-reading", "pair", model.PairKey(userA, userB))
		conv, err = d.store.FindConversationByPair(ctx, userA, userB)
		if err != nil {
			return nil, translate("re-read conversation", err)
		}
		return d.resolve(ctx, conv), nil
	}
	if err != nil {
		return nil, translate("create conversation", err)
	}

	d.logger.Info("conversation created", "id", created.ID, "pair", model.PairKey(userA, userB))
	return d.resolve(ctx, &created), nil
}

// Get loads a conversation by id without resolving names.
func (d *Directory) Get(ctx context.Context, id string) (*model.Conversation, error) {
	conv, err := d.store.GetConversation(ctx, id)
	if err != nil {
		return nil, translate("get conversation", err)
	}
	return conv, nil
}

// Participants returns the two participant ids of a conversation.
func (d *Directory) Participants(ctx context.Context, id string) ([]string, error) {
	conv, err := d.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return conv.ParticipantIDs(), nil
}

// ListForUser returns every conversation userID takes part in, with
// participant names resolved. A user without conversations gets an empty
// slice.
func (d *Directory) ListForUser(ctx context.Context, userID string) ([]model.Conversation, error) {
	list, err := d.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, translate("list conversations", err)
	}
	if list == nil {
		list = []model.Conversation{}
	}

	var ids []string
	for _, conv := range list {
		ids = append(ids, conv.ParticipantIDs()...)
	}
	users := resolveNames(ctx, d.store, d.logger, uniqueIDs(ids))
	for i := range list {
		applyNames(&list[i], users)
	}
	return list, nil
}

func (d *Directory) resolve(ctx context.Context, conv *model.Conversation) *model.Conversation {
	applyNames(conv, resolveNames(ctx, d.store, d.logger, conv.ParticipantIDs()))
	return conv
}

func applyNames(conv *model.Conversation, users map[string]model.User) {
	for i, p := range conv.Participants {
		if u, ok := users[p.ID]; ok {
			conv.Participants[i].Name = u.Name
		}
	}
}
