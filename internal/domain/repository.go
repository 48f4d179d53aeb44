package domain

import (
	"context"
	"time"
)

// ConversationRepository defines persistence operations for conversations
// and their per-participant unread counters. Counters live next to the
// conversation row because they share its atomic-update boundary.
type ConversationRepository interface {
	// Ensure returns the conversation for the canonical pair (a, b),
	// creating it if absent. Concurrent callers for the same pair must
	// all observe the same conversation.
	Ensure(ctx context.Context, a, b string) (*Conversation, error)
	GetByID(ctx context.Context, id string) (*Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]*Conversation, error)

	// ApplyMessage updates the denormalized last-message fields and
	// atomically increments the recipient's unread counter. Must not
	// lose increments under concurrent sends.
	ApplyMessage(ctx context.Context, conversationID, recipientID, text string, at time.Time) error
	// ResetUnread atomically zeroes one participant's counter. Idempotent.
	ResetUnread(ctx context.Context, conversationID, userID string) error
	UnreadCount(ctx context.Context, conversationID, userID string) (int, error)
}

// MessageRepository defines persistence operations for messages.
// Messages are append-only; the generated ID is a monotonic insertion
// sequence that breaks ties between identical timestamps.
type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	// ListBefore returns up to limit messages in descending creation
	// order, restricted to those strictly before the cursor when set.
	// The cursor compares (created_at, id) so that same-timestamp
	// messages straddling a page boundary are neither skipped nor
	// repeated.
	ListBefore(ctx context.Context, conversationID string, before *MessageCursor, limit int) ([]*Message, error)
	// MarkRead stamps read_at on the recipient's unread messages.
	MarkRead(ctx context.Context, conversationID, recipientID string, at time.Time) error
}

// ProfileDirectory resolves public profiles from the external identity
// service. The messaging core never owns user records.
type ProfileDirectory interface {
	Profile(ctx context.Context, userID string) (*Profile, error)
}
