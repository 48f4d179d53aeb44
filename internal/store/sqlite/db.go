package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"marketchat/internal/domain"
)

// storeErr tags a driver failure as retryable so the transport layer
// answers 503 instead of a generic 500.
func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrUnavailable, err)
}

// Open opens a SQLite database with the given DSN.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	return db, nil
}

// Migrate creates the schema. Statements are idempotent so they run on
// every start.
func Migrate(db *sql.DB) error {
	stmts := []string{
		// One row per unordered participant pair; the canonical order
		// (participant_a < participant_b) plus the UNIQUE constraint is
		// what makes Ensure idempotent under concurrent creates.
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			participant_a TEXT NOT NULL,
			participant_b TEXT NOT NULL,
			last_message TEXT NOT NULL DEFAULT '',
			last_message_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (participant_a, participant_b)
		);`,
		// Per-participant unread counters, co-located with the
		// conversation so increments and resets stay single-statement.
		`CREATE TABLE IF NOT EXISTS conversation_unread (
			conversation_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (conversation_id, user_id),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);`,
		// Append-only. The INTEGER PRIMARY KEY doubles as the insertion
		// sequence; ordering by (created_at, id) recovers creation order
		// even for same-millisecond inserts.
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			recipient_id TEXT NOT NULL,
			text TEXT NOT NULL,
			attachments TEXT,
			created_at DATETIME NOT NULL,
			read_at DATETIME,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_participant_a ON conversations(participant_a);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_participant_b ON conversations(participant_b);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_last_message_at ON conversations(last_message_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conv_created ON messages(conversation_id, created_at DESC, id DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_recipient_unread ON messages(conversation_id, recipient_id) WHERE read_at IS NULL;`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	return nil
}
