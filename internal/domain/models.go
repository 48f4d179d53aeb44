package domain

import "time"

// Profile is the public summary of a user, supplied by the external
// identity service. User IDs are opaque strings owned by that service.
type Profile struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	Role   string `json:"role,omitempty"`
}

// Conversation represents a two-party messaging thread between a buyer
// and a seller. Participants are stored in canonical order
// (ParticipantA < ParticipantB) so that each unordered pair maps to at
// most one row.
type Conversation struct {
	ID            string     `db:"id"`
	ParticipantA  string     `db:"participant_a"`
	ParticipantB  string     `db:"participant_b"`
	LastMessage   string     `db:"last_message"`
	LastMessageAt *time.Time `db:"last_message_at"`
	CreatedAt     time.Time  `db:"created_at"`
}

// HasParticipant reports whether the given user belongs to the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	return userID == c.ParticipantA || userID == c.ParticipantB
}

// OtherParticipant returns the peer of the given participant.
func (c *Conversation) OtherParticipant(userID string) string {
	if userID == c.ParticipantA {
		return c.ParticipantB
	}
	return c.ParticipantA
}

// CanonicalPair orders two user IDs into the canonical (a, b) form used
// for conversation lookup and the uniqueness constraint.
func CanonicalPair(x, y string) (a, b string) {
	if x < y {
		return x, y
	}
	return y, x
}

// Attachment describes a file already stored elsewhere; only metadata
// travels with the message.
type Attachment struct {
	URL  string `json:"url"`
	Type string `json:"type,omitempty"`
	Name string `json:"name,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// Message is a single chat message. Messages are append-only: once
// persisted they are never edited or deleted. ReadAt is the only field
// written after creation, set when the recipient acknowledges the
// conversation.
type Message struct {
	ID             int64        `db:"id"`
	ConversationID string       `db:"conversation_id"`
	SenderID       string       `db:"sender_id"`
	RecipientID    string       `db:"recipient_id"`
	Text           string       `db:"text"`
	Attachments    []Attachment `db:"attachments"`
	CreatedAt      time.Time    `db:"created_at"`
	ReadAt         *time.Time   `db:"read_at"`
}

// MessageCursor is the exclusive lower bound for a history page, taken
// from the oldest message of the previous page. Timestamps can collide,
// so the message ID disambiguates the boundary; with ID zero the cursor
// degrades to a plain strictly-older timestamp bound.
type MessageCursor struct {
	CreatedAt time.Time
	ID        int64
}
