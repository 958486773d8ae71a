package mongostore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"marketchat/internal/model"
	"marketchat/internal/store"
)

func TestMain(m *testing.M) {
	_ = godotenv.Load("../../../.env")
	os.Exit(m.Run())
}

// setupTestStore connects to MONGO_URI and uses a throwaway database.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("Skipping: MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Skipf("Skipping: could not connect to MongoDB: %v", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		t.Skipf("Skipping: could not ping MongoDB: %v", err)
	}

	db := client.Database(fmt.Sprintf("marketchat_test_%d", time.Now().UnixNano()))
	s := New(db)
	if err := s.EnsureIndexes(ctx); err != nil {
		t.Fatalf("EnsureIndexes failed: %v", err)
	}

	t.Cleanup(func() {
		db.Drop(context.Background())
		client.Disconnect(context.Background())
	})
	return s
}

func TestInsertConversation_UniquePair(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "user-a", "user-b"
			if i%2 == 1 {
				a, b = b, a
			}
			conv := model.NewConversation(a, b, time.Now().UTC())
			err := s.InsertConversation(ctx, &conv)
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			} else if !errors.Is(err, store.ErrDuplicate) {
				t.Errorf("Unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if created != 1 {
		t.Errorf("Expected exactly 1 conversation, got %d", created)
	}
}

func TestMessages_OrderAndOwnership(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	conv := model.NewConversation("user-a", "user-b", time.Now().UTC())
	s.InsertConversation(ctx, &conv)

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		msg := model.Message{ConversationID: conv.ID, Sender: "user-b", Text: fmt.Sprintf("m%d", i), CreatedAt: base.Add(time.Duration(i) * time.Millisecond)}
		if err := s.InsertMessage(ctx, &msg); err != nil {
			t.Fatalf("InsertMessage failed: %v", err)
		}
	}

	list, err := s.ListMessages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	for i, msg := range list {
		if msg.Text != fmt.Sprintf("m%d", i) || msg.ConversationID != conv.ID {
			t.Errorf("Unexpected message at %d: %+v", i, msg)
		}
	}

	if _, err := s.GetConversation(ctx, "not-hex"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Invalid id should be ErrNotFound, got %v", err)
	}
}

func TestNotifications_MarkRead(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	n := model.Notification{Recipient: "user-b", Type: model.NotificationNewMessage, Message: "hi", CreatedAt: time.Now().UTC()}
	s.InsertNotification(ctx, &n)

	if _, err := s.MarkNotificationRead(ctx, n.ID, "user-a"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Foreign recipient should get ErrNotFound, got %v", err)
	}
	if got, err := s.MarkNotificationRead(ctx, n.ID, "user-b"); err != nil || !got.Read {
		t.Errorf("Expected read notification, got %+v, %v", got, err)
	}
	if count, _ := s.CountUnread(ctx, "user-b"); count != 0 {
		t.Errorf("Expected 0 unread, got %d", count)
	}
}

func TestLookupUsers_ObjectIDKeys(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	oid := primitive.NewObjectID()
	s.users.InsertOne(ctx, bson.M{"_id": oid, "name": "Provider", "role": "provider"})
	s.users.InsertOne(ctx, bson.M{"_id": "plain-id", "name": "Plain"})

	found, err := s.LookupUsers(ctx, []string{oid.Hex(), "plain-id", "missing"})
	if err != nil {
		t.Fatalf("LookupUsers failed: %v", err)
	}
	if found[oid.Hex()].Name != "Provider" || found["plain-id"].Name != "Plain" || len(found) != 2 {
		t.Errorf("Unexpected lookup result: %+v", found)
	}
}

func TestLegacyDocuments(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	user, other, third := primitive.NewObjectID(), primitive.NewObjectID(), primitive.NewObjectID()
	now := time.Now().UTC()

	// conversations written before pairKey existed must not collide on the unique index
	for _, peer := range []primitive.ObjectID{other, third} {
		_, err := s.conversations.InsertOne(ctx, bson.M{
			"participants": bson.A{user, peer},
			"createdAt":    now,
			"updatedAt":    now,
		})
		if err != nil {
			t.Fatalf("Legacy conversation insert failed: %v", err)
		}
	}
	_, err := s.notifications.InsertOne(ctx, bson.M{
		"recipient": user,
		"sender":    other,
		"type":      model.NotificationNewMessage,
		"message":   "You have a new message.",
		"isRead":    false,
		"createdAt": now,
	})
	if err != nil {
		t.Fatalf("Legacy notification insert failed: %v", err)
	}

	convs, err := s.ListConversations(ctx, user.Hex())
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(convs) != 2 || !convs[0].HasParticipant(user.Hex()) {
		t.Fatalf("Expected 2 legacy conversations for %s, got %+v", user.Hex(), convs)
	}

	list, err := s.ListNotifications(ctx, user.Hex())
	if err != nil {
		t.Fatalf("ListNotifications failed: %v", err)
	}
	if len(list) != 1 || list[0].Recipient != user.Hex() || list[0].Sender != other.Hex() {
		t.Fatalf("Unexpected legacy notifications %+v", list)
	}
	if unread, _ := s.CountUnread(ctx, user.Hex()); unread != 1 {
		t.Errorf("Expected 1 unread, got %d", unread)
	}
	if updated, _ := s.MarkAllNotificationsRead(ctx, user.Hex()); updated != 1 {
		t.Errorf("Expected 1 updated, got %d", updated)
	}
}
