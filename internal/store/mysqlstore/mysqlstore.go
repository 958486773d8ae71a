// Package mysqlstore implements store.Store on MariaDB/MySQL.
package mysqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"

	"marketchat/internal/model"
	"marketchat/internal/store"
)

// errDupEntry is ER_DUP_ENTRY.
const errDupEntry = 1062

// Store is a store.Store backed by a *sql.DB.
type Store struct {
	DB *sql.DB
}

var _ store.Store = (*Store)(nil)

// New wraps db. Call Migrate before first use.
func New(db *sql.DB) *Store {
	return &Store{DB: db}
}

// parseID converts a public id into the AUTO_INCREMENT key. Anything that
// is not a positive integer cannot exist.
func parseID(id string) (int64, bool) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func formatID(n int64) string {
	return strconv.FormatInt(n, 10)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isDuplicate(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == errDupEntry
}

const conversationColumns = "id, participant_a, participant_b, last_sender, last_text, last_at, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*model.Conversation, error) {
	var (
		id         int64
		a, b       string
		lastSender sql.NullString
		lastText   sql.NullString
		lastAt     sql.NullTime
		conv       model.Conversation
	)
	if err := row.Scan(&id, &a, &b, &lastSender, &lastText, &lastAt, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return nil, err
	}
	conv.ID = formatID(id)
	conv.Participants = []model.Participant{{ID: a}, {ID: b}}
	if lastAt.Valid {
		conv.LastMessage = &model.LastMessage{
			Sender:    lastSender.String,
			Text:      lastText.String,
			CreatedAt: lastAt.Time,
		}
	}
	return &conv, nil
}

func (s *Store) InsertConversation(ctx context.Context, conv *model.Conversation) error {
	ids := conv.ParticipantIDs()
	if len(ids) != 2 {
		return fmt.Errorf("mysqlstore: conversation needs two participants, got %d", len(ids))
	}
	a, b := model.SortedPair(ids[0], ids[1])

	result, err := s.DB.ExecContext(ctx,
		"INSERT INTO conversations (participant_a, participant_b, pair_key, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		a, b, model.PairKey(a, b), conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		if isDuplicate(err) {
			return store.ErrDuplicate
		}
		return fmt.Errorf("mysqlstore: insert conversation: %w", err)
	}

	lastInsertID, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("mysqlstore: conversation id: %w", err)
	}
	conv.ID = formatID(lastInsertID)
	return nil
}

func (s *Store) FindConversationByPair(ctx context.Context, a, b string) (*model.Conversation, error) {
	row := s.DB.QueryRowContext(ctx,
		"SELECT "+conversationColumns+" FROM conversations WHERE pair_key = ?", model.PairKey(a, b))
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mysqlstore: find conversation: %w", err)
	}
	return conv, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	key, ok := parseID(id)
	if !ok {
		return nil, store.ErrNotFound
	}
	row := s.DB.QueryRowContext(ctx,
		"SELECT "+conversationColumns+" FROM conversations WHERE id = ?", key)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mysqlstore: get conversation: %w", err)
	}
	return conv, nil
}

func (s *Store) ListConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	rows, err := s.DB.QueryContext(ctx,
		"SELECT "+conversationColumns+" FROM conversations WHERE participant_a = ? OR participant_b = ? ORDER BY updated_at DESC, id DESC",
		userID, userID)
	if err != nil {
		return nil, fmt.Errorf("mysqlstore: list conversations: %w", err)
	}
	defer rows.Close()

	list := make([]model.Conversation, 0)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("mysqlstore: scan conversation: %w", err)
		}
		list = append(list, *conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mysqlstore: list conversations: %w", err)
	}
	return list, nil
}

func (s *Store) TouchConversation(ctx context.Context, id string, last model.LastMessage) error {
	key, ok := parseID(id)
	if !ok {
		return store.ErrNotFound
	}
	result, err := s.DB.ExecContext(ctx,
		"UPDATE conversations SET last_sender = ?, last_text = ?, last_at = ?, updated_at = ? WHERE id = ?",
		last.Sender, last.Text, last.CreatedAt, last.CreatedAt, key)
	if err != nil {
		return fmt.Errorf("mysqlstore: touch conversation: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) InsertMessage(ctx context.Context, msg *model.Message) error {
	key, ok := parseID(msg.ConversationID)
	if !ok {
		return store.ErrNotFound
	}
	result, err := s.DB.ExecContext(ctx,
		"INSERT INTO messages (conversation_id, sender_id, text, created_at) VALUES (?, ?, ?, ?)",
		key, msg.Sender, msg.Text, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("mysqlstore: insert message: %w", err)
	}

	lastInsertID, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("mysqlstore: message id: %w", err)
	}
	msg.ID = formatID(lastInsertID)
	return nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	list := make([]model.Message, 0)
	key, ok := parseID(conversationID)
	if !ok {
		return list, nil
	}

	rows, err := s.DB.QueryContext(ctx,
		"SELECT id, sender_id, text, created_at FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, id ASC",
		key)
	if err != nil {
		return nil, fmt.Errorf("mysqlstore: list messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id  int64
			msg model.Message
		)
		if err := rows.Scan(&id, &msg.Sender, &msg.Text, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("mysqlstore: scan message: %w", err)
		}
		msg.ID = formatID(id)
		msg.ConversationID = conversationID
		list = append(list, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mysqlstore: list messages: %w", err)
	}
	return list, nil
}

const notificationColumns = "id, recipient_id, sender_id, type, message, link, is_read, conversation_id, created_at"

func scanNotification(row rowScanner) (*model.Notification, error) {
	var (
		id             int64
		sender         sql.NullString
		link           sql.NullString
		conversationID sql.NullInt64
		n              model.Notification
	)
	if err := row.Scan(&id, &n.Recipient, &sender, &n.Type, &n.Message, &link, &n.Read, &conversationID, &n.CreatedAt); err != nil {
		return nil, err
	}
	n.ID = formatID(id)
	n.Sender = sender.String
	n.Link = link.String
	if conversationID.Valid {
		n.ConversationID = formatID(conversationID.Int64)
	}
	return &n, nil
}

func (s *Store) InsertNotification(ctx context.Context, n *model.Notification) error {
	var conversationID sql.NullInt64
	if n.ConversationID != "" {
		if key, ok := parseID(n.ConversationID); ok {
			conversationID = sql.NullInt64{Int64: key, Valid: true}
		}
	}

	result, err := s.DB.ExecContext(ctx,
		"INSERT INTO notifications (recipient_id, sender_id, type, message, link, is_read, conversation_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		n.Recipient, nullString(n.Sender), n.Type, n.Message, nullString(n.Link), n.Read, conversationID, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("mysqlstore: insert notification: %w", err)
	}

	lastInsertID, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("mysqlstore: notification id: %w", err)
	}
	n.ID = formatID(lastInsertID)
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, recipient string) ([]model.Notification, error) {
	rows, err := s.DB.QueryContext(ctx,
		"SELECT "+notificationColumns+" FROM notifications WHERE recipient_id = ? ORDER BY created_at DESC, id DESC",
		recipient)
	if err != nil {
		return nil, fmt.Errorf("mysqlstore: list notifications: %w", err)
	}
	defer rows.Close()

	list := make([]model.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("mysqlstore: scan notification: %w", err)
		}
		list = append(list, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mysqlstore: list notifications: %w", err)
	}
	return list, nil
}

func (s *Store) CountUnread(ctx context.Context, recipient string) (int, error) {
	var count int
	err := s.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM notifications WHERE recipient_id = ? AND is_read = FALSE", recipient).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("mysqlstore: count unread: %w", err)
	}
	return count, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, id, recipient string) (*model.Notification, error) {
	key, ok := parseID(id)
	if !ok {
		return nil, store.ErrNotFound
	}

	// RowsAffected is 0 for an already-read row, so ownership is decided by
	// the follow-up read rather than by the update.
	if _, err := s.DB.ExecContext(ctx,
		"UPDATE notifications SET is_read = TRUE WHERE id = ? AND recipient_id = ?", key, recipient); err != nil {
		return nil, fmt.Errorf("mysqlstore: mark read: %w", err)
	}

	row := s.DB.QueryRowContext(ctx,
		"SELECT "+notificationColumns+" FROM notifications WHERE id = ? AND recipient_id = ?", key, recipient)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mysqlstore: mark read: %w", err)
	}
	return n, nil
}

func (s *Store) MarkAllNotificationsRead(ctx context.Context, recipient string) (int64, error) {
	result, err := s.DB.ExecContext(ctx,
		"UPDATE notifications SET is_read = TRUE WHERE recipient_id = ? AND is_read = FALSE", recipient)
	if err != nil {
		return 0, fmt.Errorf("mysqlstore: mark all read: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mysqlstore: mark all read: %w", err)
	}
	return n, nil
}

func (s *Store) LookupUsers(ctx context.Context, ids []string) (map[string]model.User, error) {
	found := make(map[string]model.User, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.DB.QueryContext(ctx,
		"SELECT id, name, role FROM users WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, fmt.Errorf("mysqlstore: lookup users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Role); err != nil {
			return nil, fmt.Errorf("mysqlstore: scan user: %w", err)
		}
		found[u.ID] = u
	}
	return found, rows.Err()
}

// Close closes the underlying pool.
func (s *Store) Close(context.Context) error {
	return s.DB.Close()
}
