package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketchat/internal/model"
	"marketchat/internal/store"
)

func TestInsertConversation_DuplicatePair(t *testing.T) {
	s := New()
	ctx := context.Background()

	first := model.NewConversation("a", "b", time.Now())
	if err := s.InsertConversation(ctx, &first); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}

	second := model.NewConversation("b", "a", time.Now())
	if err := s.InsertConversation(ctx, &second); !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate for reversed pair, got %v", err)
	}

	found, err := s.FindConversationByPair(ctx, "b", "a")
	if err != nil {
		t.Fatalf("FindConversationByPair failed: %v", err)
	}
	if found.ID != first.ID {
		t.Errorf("Expected %s, got %s", first.ID, found.ID)
	}
}

func TestGetConversation_ReturnsCopy(t *testing.T) {
	s := New()
	ctx := context.Background()

	conv := model.NewConversation("a", "b", time.Now())
	s.InsertConversation(ctx, &conv)

	got, _ := s.GetConversation(ctx, conv.ID)
	got.Participants[0].ID = "mutated"

	again, _ := s.GetConversation(ctx, conv.ID)
	if again.Participants[0].ID != "a" {
		t.Error("Stored conversation should not be affected by caller mutation")
	}
}

func TestNotifications_ReadState(t *testing.T) {
	s := New()
	ctx := context.Background()

	n := model.Notification{Recipient: "u1", Type: model.NotificationNewMessage, Message: "hi", CreatedAt: time.Now()}
	s.InsertNotification(ctx, &n)

	if _, err := s.MarkNotificationRead(ctx, n.ID, "someone-else"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Foreign recipient should get ErrNotFound, got %v", err)
	}

	updated, err := s.MarkNotificationRead(ctx, n.ID, "u1")
	if err != nil || !updated.Read {
		t.Fatalf("Expected read notification, got %+v, %v", updated, err)
	}

	count, _ := s.CountUnread(ctx, "u1")
	if count != 0 {
		t.Errorf("Expected 0 unread, got %d", count)
	}
}
