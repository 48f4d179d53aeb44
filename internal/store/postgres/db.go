package postgres

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"marketchat/internal/domain"
)

// storeErr tags a driver failure as retryable so the transport layer
// answers 503 instead of a generic 500.
func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrUnavailable, err)
}

// Open opens a PostgreSQL database using the pgx stdlib driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate runs idempotent DDL migrations for the messaging schema.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id              TEXT        PRIMARY KEY,
			participant_a   TEXT        NOT NULL,
			participant_b   TEXT        NOT NULL,
			last_message    TEXT        NOT NULL DEFAULT '',
			last_message_at TIMESTAMPTZ,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (participant_a, participant_b)
		)`,

		`CREATE TABLE IF NOT EXISTS conversation_unread (
			conversation_id TEXT    NOT NULL REFERENCES conversations(id),
			user_id         TEXT    NOT NULL,
			count           INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (conversation_id, user_id)
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id              BIGSERIAL   PRIMARY KEY,
			conversation_id TEXT        NOT NULL REFERENCES conversations(id),
			sender_id       TEXT        NOT NULL,
			recipient_id    TEXT        NOT NULL,
			text            TEXT        NOT NULL,
			attachments     JSONB,
			created_at      TIMESTAMPTZ NOT NULL,
			read_at         TIMESTAMPTZ
		)`,

		`CREATE INDEX IF NOT EXISTS idx_conversations_participant_a ON conversations(participant_a)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_participant_b ON conversations(participant_b)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_last_message_at ON conversations(last_message_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conv_created ON messages(conversation_id, created_at DESC, id DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_recipient_unread ON messages(conversation_id, recipient_id) WHERE read_at IS NULL`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	return nil
}
