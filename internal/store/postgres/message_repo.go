package postgres

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

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO messages (conversation_id, sender_id, recipient_id, text, attachments, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`,
		m.ConversationID,
		m.SenderID,
		m.RecipientID,
		m.Text,
		attachments,
		m.CreatedAt,
	).Scan(&m.ID)
	if err != nil {
		return storeErr("insert message", err)
	}
	return nil
}

// ListBefore pages backwards through history. The cursor compares
// (created_at, id) so a page boundary inside a run of same-timestamp
// messages never skips the rest of the run.
func (r *MessageRepo) ListBefore(ctx context.Context, conversationID string, before *domain.MessageCursor, limit int) ([]*domain.Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, recipient_id, text, attachments, created_at, read_at
		FROM messages
		WHERE conversation_id = $1
	`
	args := []any{conversationID}
	if before != nil {
		at := before.CreatedAt.UTC()
		if before.ID > 0 {
			query += fmt.Sprintf(" AND (created_at < $%d OR (created_at = $%d AND id < $%d))",
				len(args)+1, len(args)+2, len(args)+3)
			args = append(args, at, at, before.ID)
		} else {
			query += fmt.Sprintf(" AND created_at < $%d", len(args)+1)
			args = append(args, at)
		}
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args)+1)
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
		SET read_at = $1
		WHERE conversation_id = $2 AND recipient_id = $3 AND read_at IS NULL
	`, at, conversationID, recipientID)
	if err != nil {
		return storeErr("mark messages read", err)
	}
	return nil
}
