// Package memstore keeps every collection in process memory. It backs the
// test suites and STORE_DRIVER=memory development runs.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"marketchat/internal/model"
	"marketchat/internal/store"
)

// Store is an in-memory store.Store.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*model.Conversation
	pairs         map[string]string // pair key -> conversation id
	messages      map[string][]model.Message
	notifications []*model.Notification
	users         map[string]model.User
}

var _ store.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		conversations: make(map[string]*model.Conversation),
		pairs:         make(map[string]string),
		messages:      make(map[string][]model.Message),
		users:         make(map[string]model.User),
	}
}

// PutUser adds or replaces a directory entry.
func (s *Store) PutUser(u model.User) {
	s.mu.Lock()
	s.users[u.ID] = u
	s.mu.Unlock()
}

func (s *Store) InsertConversation(_ context.Context, conv *model.Conversation) error {
	ids := conv.ParticipantIDs()
	if len(ids) != 2 {
		return fmt.Errorf("memstore: conversation needs two participants, got %d", len(ids))
	}
	key := model.PairKey(ids[0], ids[1])

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pairs[key]; ok {
		return store.ErrDuplicate
	}
	conv.ID = uuid.NewString()
	stored := copyConversation(conv)
	s.conversations[conv.ID] = stored
	s.pairs[key] = conv.ID
	return nil
}

func (s *Store) FindConversationByPair(_ context.Context, a, b string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.pairs[model.PairKey(a, b)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyConversation(s.conversations[id]), nil
}

func (s *Store) GetConversation(_ context.Context, id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyConversation(conv), nil
}

func (s *Store) ListConversations(_ context.Context, userID string) ([]model.Conversation, error) {
	s.mu.RLock()
	list := make([]model.Conversation, 0)
	for _, conv := range s.conversations {
		if conv.HasParticipant(userID) {
			list = append(list, *copyConversation(conv))
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(list, func(i, j int) bool {
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
	return list, nil
}

func (s *Store) TouchConversation(_ context.Context, id string, last model.LastMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return store.ErrNotFound
	}
	conv.LastMessage = &last
	conv.UpdatedAt = last.CreatedAt
	return nil
}

func (s *Store) InsertMessage(_ context.Context, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg.ID = uuid.NewString()
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], *msg)
	return nil
}

func (s *Store) ListMessages(_ context.Context, conversationID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.messages[conversationID]
	list := make([]model.Message, len(stored))
	copy(list, stored)
	return list, nil
}

func (s *Store) InsertNotification(_ context.Context, n *model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n.ID = uuid.NewString()
	stored := *n
	s.notifications = append(s.notifications, &stored)
	return nil
}

func (s *Store) ListNotifications(_ context.Context, recipient string) ([]model.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]model.Notification, 0)
	// newest first: walk the insertion log backwards, then order by time
	for i := len(s.notifications) - 1; i >= 0; i-- {
		if n := s.notifications[i]; n.Recipient == recipient {
			list = append(list, *n)
		}
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list, nil
}

func (s *Store) CountUnread(_ context.Context, recipient string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, n := range s.notifications {
		if n.Recipient == recipient && !n.Read {
			count++
		}
	}
	return count, nil
}

func (s *Store) MarkNotificationRead(_ context.Context, id, recipient string) (*model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range s.notifications {
		if n.ID == id && n.Recipient == recipient {
			n.Read = true
			out := *n
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) MarkAllNotificationsRead(_ context.Context, recipient string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var updated int64
	for _, n := range s.notifications {
		if n.Recipient == recipient && !n.Read {
			n.Read = true
			updated++
		}
	}
	return updated, nil
}

func (s *Store) LookupUsers(_ context.Context, ids []string) (map[string]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	found := make(map[string]model.User, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			found[id] = u
		}
	}
	return found, nil
}

func (s *Store) Close(context.Context) error { return nil }

func copyConversation(conv *model.Conversation) *model.Conversation {
	out := *conv
	out.Participants = append([]model.Participant(nil), conv.Participants...)
	if conv.LastMessage != nil {
		last := *conv.LastMessage
		out.LastMessage = &last
	}
	return &out
}
