package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"marketchat/internal/domain"
)

type ConversationRepo struct {
	db *sql.DB
}

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

var _ domain.ConversationRepository = (*ConversationRepo)(nil)

const conversationColumns = `id, participant_a, participant_b, last_message, last_message_at, created_at`

func scanConversation(row interface{ Scan(...any) error }) (*domain.Conversation, error) {
	c := &domain.Conversation{}
	err := row.Scan(
		&c.ID,
		&c.ParticipantA,
		&c.ParticipantB,
		&c.LastMessage,
		&c.LastMessageAt,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Ensure returns the conversation for the canonical pair (a, b), creating
// it if absent. INSERT OR IGNORE plus the UNIQUE(participant_a,
// participant_b) constraint makes this race-safe: when two callers race,
// one insert wins and the re-select returns the surviving row to both.
func (r *ConversationRepo) Ensure(ctx context.Context, a, b string) (*domain.Conversation, error) {
	if c, err := r.getByPair(ctx, a, b); err != nil {
		return nil, err
	} else if c != nil {
		return c, nil
	}

	id := uuid.New().String()
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO conversations (id, participant_a, participant_b, created_at)
		VALUES (?, ?, ?, ?)
	`, id, a, b, time.Now().UTC())
	if err != nil {
		return nil, storeErr("insert conversation", err)
	}

	c, err := r.getByPair(ctx, a, b)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("ensure conversation (%s, %s): %w", a, b, domain.ErrUnavailable)
	}
	return c, nil
}

func (r *ConversationRepo) getByPair(ctx context.Context, a, b string) (*domain.Conversation, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE participant_a = ? AND participant_b = ?
	`, a, b)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get conversation by pair", err)
	}
	return c, nil
}

func (r *ConversationRepo) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE id = ?
	`, id)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get conversation", err)
	}
	return c, nil
}

func (r *ConversationRepo) ListForUser(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE participant_a = ? OR participant_b = ?
		ORDER BY last_message_at DESC, created_at DESC
	`, userID, userID)
	if err != nil {
		return nil, storeErr("list conversations", err)
	}
	defer rows.Close()

	var res []*domain.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, storeErr("scan conversation", err)
		}
		res = append(res, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list conversations", err)
	}
	return res, nil
}

// ApplyMessage refreshes the last-message snapshot and bumps the
// recipient's unread counter. The upsert increments in place, so two
// simultaneous sends never lose an update.
func (r *ConversationRepo) ApplyMessage(ctx context.Context, conversationID, recipientID, text string, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations
		SET last_message = ?, last_message_at = ?
		WHERE id = ?
	`, text, at, conversationID); err != nil {
		return storeErr("update conversation summary", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversation_unread (conversation_id, user_id, count)
		VALUES (?, ?, 1)
		ON CONFLICT (conversation_id, user_id) DO UPDATE SET count = count + 1
	`, conversationID, recipientID); err != nil {
		return storeErr("increment unread", err)
	}

	if err := tx.Commit(); err != nil {
		return storeErr("commit", err)
	}
	return nil
}

func (r *ConversationRepo) ResetUnread(ctx context.Context, conversationID, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO conversation_unread (conversation_id, user_id, count)
		VALUES (?, ?, 0)
		ON CONFLICT (conversation_id, user_id) DO UPDATE SET count = 0
	`, conversationID, userID)
	if err != nil {
		return storeErr("reset unread", err)
	}
	return nil
}

func (r *ConversationRepo) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT count
		FROM conversation_unread
		WHERE conversation_id = ? AND user_id = ?
	`, conversationID, userID).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, storeErr("get unread count", err)
	}
	return count, nil
}
