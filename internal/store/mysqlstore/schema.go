package mysqlstore

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied in order at startup. Statements are idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		role VARCHAR(20) NOT NULL DEFAULT 'user'
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

	`CREATE TABLE IF NOT EXISTS conversations (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		participant_a VARCHAR(64) NOT NULL,
		participant_b VARCHAR(64) NOT NULL,
		pair_key VARCHAR(160) NOT NULL,
		last_sender VARCHAR(64) NULL,
		last_text TEXT NULL,
		last_at DATETIME(6) NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		UNIQUE KEY uq_conversations_pair (pair_key),
		KEY idx_conversations_a (participant_a),
		KEY idx_conversations_b (participant_b)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

	`CREATE TABLE IF NOT EXISTS messages (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		conversation_id BIGINT NOT NULL,
		sender_id VARCHAR(64) NOT NULL,
		text TEXT NOT NULL,
		created_at DATETIME(6) NOT NULL,
		KEY idx_messages_conversation (conversation_id, created_at, id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

	`CREATE TABLE IF NOT EXISTS notifications (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		recipient_id VARCHAR(64) NOT NULL,
		sender_id VARCHAR(64) NULL,
		type VARCHAR(40) NOT NULL,
		message TEXT NOT NULL,
		link VARCHAR(512) NULL,
		is_read BOOLEAN NOT NULL DEFAULT FALSE,
		conversation_id BIGINT NULL,
		created_at DATETIME(6) NOT NULL,
		KEY idx_notifications_recipient (recipient_id, created_at),
		KEY idx_notifications_unread (recipient_id, is_read)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
}

// Migrate creates the tables used by Store.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("mysqlstore: migration %d: %w", i, err)
		}
	}
	return nil
}
