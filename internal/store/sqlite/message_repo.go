package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"marketchat/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	var attachments any
	if len(m.Attachments) > 0 {
		raw, err := json.Marshal(m.Attachments)
		if err != nil {
			return fmt.Errorf("marshal attachments: %w", err)
		}
		attachments = string(raw)
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, sender_id, recipient_id, text, attachments, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		m.ConversationID,
		m.SenderID,
		m.RecipientID,
		m.Text,
		attachments,
		m.CreatedAt,
	)
	if err != nil {
		return storeErr("insert message", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return storeErr("last insert id", err)
	}
	m.ID = id
	return nil
}

// ListBefore pages backwards through history. New messages are always
// newer than any existing cursor, so a page fetched "before X" is stable
// under concurrent inserts. The cursor compares (created_at, id): when a
// page boundary falls inside a run of same-timestamp messages, the id
// keeps the rest of the run in the next page instead of skipping it.
func (r *MessageRepo) ListBefore(ctx context.Context, conversationID string, before *domain.MessageCursor, limit int) ([]*domain.Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, recipient_id, text, attachments, created_at, read_at
		FROM messages
		WHERE conversation_id = ?
	`
	args := []any{conversationID}
	if before != nil {
		at := before.CreatedAt.UTC()
		if before.ID > 0 {
			query += " AND (created_at < ? OR (created_at = ? AND id < ?))"
			args = append(args, at, at, before.ID)
		} else {
			query += " AND created_at < ?"
			args = append(args, at)
		}
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list messages", err)
	}
	defer rows.Close()

	var res []*domain.Message
	for rows.Next() {
		m := &domain.Message{}
		var attachments sql.NullString
		if err := rows.Scan(
			&m.ID,
			&m.ConversationID,
			&m.SenderID,
			&m.RecipientID,
			&m.Text,
			&attachments,
			&m.CreatedAt,
			&m.ReadAt,
		); err != nil {
			return nil, storeErr("scan message", err)
		}
		if attachments.Valid && attachments.String != "" {
			if err := json.Unmarshal([]byte(attachments.String), &m.Attachments); err != nil {
				return nil, fmt.Errorf("unmarshal attachments: %w", err)
			}
		}
		res = append(res, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list messages", err)
	}
	return res, nil
}

func (r *MessageRepo) MarkRead(ctx context.Context, conversationID, recipientID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET read_at = ?
		WHERE conversation_id = ? AND recipient_id = ? AND read_at IS NULL
	`, at, conversationID, recipientID)
	if err != nil {
		return storeErr("mark messages read", err)
	}
	return nil
}
