// Package mongostore implements store.Store on MongoDB.
//
// It uses the marketplace's collection names: conversations, messages,
// notifications and users. Record ids are ObjectIDs. User ids are written
// as hex strings, but reads also match ObjectID-typed user references so
// notifications and conversations created by the older service stay
// visible. Conversations without a pairKey are not found by pair lookup;
// backfill pairKey on such databases to keep one conversation per pair.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"marketchat/internal/model"
	"marketchat/internal/store"
)

const (
	conversationsCollection = "conversations"
	messagesCollection      = "messages"
	notificationsCollection = "notifications"
	usersCollection         = "users"
)

// Store is a store.Store backed by a Mongo database.
type Store struct {
	db            *mongo.Database
	conversations *mongo.Collection
	messages      *mongo.Collection
	notifications *mongo.Collection
	users         *mongo.Collection
}

var _ store.Store = (*Store)(nil)

// New returns a Store over db. Call EnsureIndexes before first use.
func New(db *mongo.Database) *Store {
	return &Store{
		db:            db,
		conversations: db.Collection(conversationsCollection),
		messages:      db.Collection(messagesCollection),
		notifications: db.Collection(notificationsCollection),
		users:         db.Collection(usersCollection),
	}
}

// EnsureIndexes creates the indexes the store relies on, including the
// unique pair key that prevents duplicate conversations.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := map[*mongo.Collection][]mongo.IndexModel{
		s.conversations: {
			{
				Keys:    bson.D{{Key: "pairKey", Value: 1}},
				// partial, so legacy documents without pairKey do not collide on null
				Options: options.Index().
					SetUnique(true).
					SetName("unique_pair").
					SetPartialFilterExpression(bson.M{"pairKey": bson.M{"$exists": true}}),
			},
			{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "updatedAt", Value: -1}}},
		},
		s.messages: {
			{Keys: bson.D{{Key: "conversationId", Value: 1}, {Key: "createdAt", Value: 1}}},
		},
		s.notifications: {
			{Keys: bson.D{{Key: "recipient", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "recipient", Value: 1}, {Key: "isRead", Value: 1}}},
		},
	}

	for coll, models := range indexes {
		if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("mongostore: create indexes for %s: %w", coll.Name(), err)
		}
	}
	return nil
}

type lastMessageDoc struct {
	Sender    string    `bson:"sender"`
	Text      string    `bson:"text"`
	CreatedAt time.Time `bson:"createdAt"`
}

type conversationDoc struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	Participants []any              `bson:"participants"`
	PairKey      string             `bson:"pairKey"`
	LastMessage  *lastMessageDoc    `bson:"lastMessage,omitempty"`
	CreatedAt    time.Time          `bson:"createdAt"`
	UpdatedAt    time.Time          `bson:"updatedAt"`
}

func (d conversationDoc) toModel() model.Conversation {
	conv := model.Conversation{
		ID:        d.ID.Hex(),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	for _, ref := range d.Participants {
		if id, ok := idString(ref); ok {
			conv.Participants = append(conv.Participants, model.Participant{ID: id})
		}
	}
	if d.LastMessage != nil {
		conv.LastMessage = &model.LastMessage{
			Sender:    d.LastMessage.Sender,
			Text:      d.LastMessage.Text,
			CreatedAt: d.LastMessage.CreatedAt,
		}
	}
	return conv
}

type messageDoc struct {
	ID             primitive.ObjectID `bson:"_id,omitempty"`
	ConversationID primitive.ObjectID `bson:"conversationId"`
	Sender         any                `bson:"sender"`
	Text           string             `bson:"text"`
	CreatedAt      time.Time          `bson:"createdAt"`
}

type notificationDoc struct {
	ID           primitive.ObjectID  `bson:"_id,omitempty"`
	Recipient    any                 `bson:"recipient"`
	Sender       any                 `bson:"sender,omitempty"`
	Type         string              `bson:"type"`
	Message      string              `bson:"message"`
	Link         string              `bson:"link,omitempty"`
	IsRead       bool                `bson:"isRead"`
	Conversation *primitive.ObjectID `bson:"conversation,omitempty"`
	CreatedAt    time.Time           `bson:"createdAt"`
}

func (d notificationDoc) toModel() model.Notification {
	recipient, _ := idString(d.Recipient)
	sender, _ := idString(d.Sender)
	n := model.Notification{
		ID:        d.ID.Hex(),
		Recipient: recipient,
		Sender:    sender,
		Type:      d.Type,
		Message:   d.Message,
		Link:      d.Link,
		Read:      d.IsRead,
		CreatedAt: d.CreatedAt,
	}
	if d.Conversation != nil {
		n.ConversationID = d.Conversation.Hex()
	}
	return n
}

type userDoc struct {
	ID   any    `bson:"_id"`
	Name string `bson:"name"`
	Role string `bson:"role"`
}

func (s *Store) InsertConversation(ctx context.Context, conv *model.Conversation) error {
	ids := conv.ParticipantIDs()
	if len(ids) != 2 {
		return fmt.Errorf("mongostore: conversation needs two participants, got %d", len(ids))
	}
	a, b := model.SortedPair(ids[0], ids[1])

	doc := conversationDoc{
		ID:           primitive.NewObjectID(),
		Participants: []any{a, b},
		PairKey:      model.PairKey(a, b),
		CreatedAt:    conv.CreatedAt,
		UpdatedAt:    conv.UpdatedAt,
	}
	if _, err := s.conversations.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrDuplicate
		}
		return fmt.Errorf("mongostore: insert conversation: %w", err)
	}
	conv.ID = doc.ID.Hex()
	return nil
}

func (s *Store) findConversation(ctx context.Context, filter bson.M) (*model.Conversation, error) {
	var doc conversationDoc
	err := s.conversations.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongostore: find conversation: %w", err)
	}
	conv := doc.toModel()
	return &conv, nil
}

func (s *Store) FindConversationByPair(ctx context.Context, a, b string) (*model.Conversation, error) {
	return s.findConversation(ctx, bson.M{"pairKey": model.PairKey(a, b)})
}

func (s *Store) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, store.ErrNotFound
	}
	return s.findConversation(ctx, bson.M{"_id": oid})
}

func (s *Store) ListConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}, {Key: "_id", Value: -1}})
	cursor, err := s.conversations.Find(ctx, bson.M{"participants": bson.M{"$in": idKeys(userID)}}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongostore: list conversations: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []conversationDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongostore: decode conversations: %w", err)
	}

	list := make([]model.Conversation, 0, len(docs))
	for _, doc := range docs {
		list = append(list, doc.toModel())
	}
	return list, nil
}

func (s *Store) TouchConversation(ctx context.Context, id string, last model.LastMessage) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return store.ErrNotFound
	}

	update := bson.M{"$set": bson.M{
		"lastMessage": lastMessageDoc{Sender: last.Sender, Text: last.Text, CreatedAt: last.CreatedAt},
		"updatedAt":   last.CreatedAt,
	}}
	result, err := s.conversations.UpdateOne(ctx, bson.M{"_id": oid}, update)
	if err != nil {
		return fmt.Errorf("mongostore: touch conversation: %w", err)
	}
	if result.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) InsertMessage(ctx context.Context, msg *model.Message) error {
	convID, err := primitive.ObjectIDFromHex(msg.ConversationID)
	if err != nil {
		return store.ErrNotFound
	}

	doc := messageDoc{
		ID:             primitive.NewObjectID(),
		ConversationID: convID,
		Sender:         msg.Sender,
		Text:           msg.Text,
		CreatedAt:      msg.CreatedAt,
	}
	if _, err := s.messages.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("mongostore: insert message: %w", err)
	}
	msg.ID = doc.ID.Hex()
	return nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	list := make([]model.Message, 0)
	convID, err := primitive.ObjectIDFromHex(conversationID)
	if err != nil {
		return list, nil
	}

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.messages.Find(ctx, bson.M{"conversationId": convID}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongostore: list messages: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongostore: decode messages: %w", err)
	}
	for _, doc := range docs {
		sender, _ := idString(doc.Sender)
		list = append(list, model.Message{
			ID:             doc.ID.Hex(),
			ConversationID: doc.ConversationID.Hex(),
			Sender:         sender,
			Text:           doc.Text,
			CreatedAt:      doc.CreatedAt,
		})
	}
	return list, nil
}

func (s *Store) InsertNotification(ctx context.Context, n *model.Notification) error {
	doc := notificationDoc{
		ID:        primitive.NewObjectID(),
		Recipient: n.Recipient,
		Type:      n.Type,
		Message:   n.Message,
		Link:      n.Link,
		IsRead:    n.Read,
		CreatedAt: n.CreatedAt,
	}
	if n.Sender != "" {
		doc.Sender = n.Sender
	}
	if n.ConversationID != "" {
		if oid, err := primitive.ObjectIDFromHex(n.ConversationID); err == nil {
			doc.Conversation = &oid
		}
	}

	if _, err := s.notifications.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("mongostore: insert notification: %w", err)
	}
	n.ID = doc.ID.Hex()
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, recipient string) ([]model.Notification, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	cursor, err := s.notifications.Find(ctx, bson.M{"recipient": bson.M{"$in": idKeys(recipient)}}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongostore: list notifications: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []notificationDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongostore: decode notifications: %w", err)
	}

	list := make([]model.Notification, 0, len(docs))
	for _, doc := range docs {
		list = append(list, doc.toModel())
	}
	return list, nil
}

func (s *Store) CountUnread(ctx context.Context, recipient string) (int, error) {
	count, err := s.notifications.CountDocuments(ctx, bson.M{"recipient": bson.M{"$in": idKeys(recipient)}, "isRead": false})
	if err != nil {
		return 0, fmt.Errorf("mongostore: count unread: %w", err)
	}
	return int(count), nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, id, recipient string) (*model.Notification, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, store.ErrNotFound
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc notificationDoc
	err = s.notifications.FindOneAndUpdate(ctx,
		bson.M{"_id": oid, "recipient": bson.M{"$in": idKeys(recipient)}},
		bson.M{"$set": bson.M{"isRead": true}},
		opts,
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongostore: mark read: %w", err)
	}
	n := doc.toModel()
	return &n, nil
}

func (s *Store) MarkAllNotificationsRead(ctx context.Context, recipient string) (int64, error) {
	result, err := s.notifications.UpdateMany(ctx,
		bson.M{"recipient": bson.M{"$in": idKeys(recipient)}, "isRead": false},
		bson.M{"$set": bson.M{"isRead": true}},
	)
	if err != nil {
		return 0, fmt.Errorf("mongostore: mark all read: %w", err)
	}
	return result.ModifiedCount, nil
}

// LookupUsers matches ids against both ObjectID and string primary keys,
// since accounts created by the original service use ObjectIDs.
func (s *Store) LookupUsers(ctx context.Context, ids []string) (map[string]model.User, error) {
	found := make(map[string]model.User, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	keys := make(bson.A, 0, len(ids)*2)
	for _, id := range ids {
		keys = append(keys, idKeys(id)...)
	}

	cursor, err := s.users.Find(ctx, bson.M{"_id": bson.M{"$in": keys}},
		options.Find().SetProjection(bson.M{"name": 1, "role": 1}))
	if err != nil {
		return nil, fmt.Errorf("mongostore: lookup users: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []userDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongostore: decode users: %w", err)
	}
	for _, doc := range docs {
		if id, ok := idString(doc.ID); ok {
			found[id] = model.User{ID: id, Name: doc.Name, Role: doc.Role}
		}
	}
	return found, nil
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.db.Client().Disconnect(ctx)
}

// idKeys lists the stored forms a user id may take: the plain string and,
// for hex ids, the ObjectID.
func idKeys(id string) bson.A {
	keys := bson.A{id}
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		keys = append(keys, oid)
	}
	return keys
}

// idString normalizes a stored user reference to its string id.
func idString(ref any) (string, bool) {
	switch v := ref.(type) {
	case string:
		return v, v != ""
	case primitive.ObjectID:
		return v.Hex(), true
	default:
		return "", false
	}
}
