package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"marketchat/internal/domain"
)

const (
	maxTextRunes    = 5000
	defaultPageSize = 50
	maxPageSize     = 200

	EventMessageNew = "message:new"
)

// Broker is the slice of the realtime layer the message service needs.
// Publish is fire-and-forget: delivery failures stay inside the broker.
type Broker interface {
	Publish(roomID, event string, payload any)
}

// NopBroker discards all events. Used when realtime is disabled and as
// the default in tests.
type NopBroker struct{}

func (NopBroker) Publish(roomID, event string, payload any) {}

// MessageService handles the send/read/paginate paths of a conversation.
type MessageService struct {
	conversations domain.ConversationRepository
	messages      domain.MessageRepository
	profiles      domain.ProfileDirectory
	broker        Broker
	readTimeout   time.Duration
	logger        *slog.Logger
}

func NewMessageService(
	conversations domain.ConversationRepository,
	messages domain.MessageRepository,
	profiles domain.ProfileDirectory,
	broker Broker,
	readTimeout time.Duration,
	logger *slog.Logger,
) *MessageService {
	if broker == nil {
		broker = NopBroker{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageService{
		conversations: conversations,
		messages:      messages,
		profiles:      profiles,
		broker:        broker,
		readTimeout:   readTimeout,
		logger:        logger.With("component", "message_service"),
	}
}

// MessageResponse is the wire form of a message, with participant
// display info resolved.
type MessageResponse struct {
	ID             int64               `json:"id"`
	ConversationID string              `json:"conversation_id"`
	Sender         *domain.Profile     `json:"sender"`
	Recipient      *domain.Profile     `json:"recipient"`
	Text           string              `json:"text"`
	Attachments    []domain.Attachment `json:"attachments,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	ReadAt         *time.Time          `json:"read_at,omitempty"`
}

// SendMessage persists a message from senderID into the conversation,
// updates the conversation summary and the recipient's unread counter,
// and notifies connected clients. The realtime notification runs on a
// detached goroutine: a slow or dead subscriber can never delay the
// sender's acknowledgement, and publish failures never fail the send.
func (s *MessageService) SendMessage(ctx context.Context, conversationID, senderID, text string, attachments []domain.Attachment) (*MessageResponse, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("message text must not be empty: %w", domain.ErrInvalidInput)
	}
	if len([]rune(text)) > maxTextRunes {
		return nil, fmt.Errorf("message text exceeds %d characters: %w", maxTextRunes, domain.ErrInvalidInput)
	}

	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if conv == nil {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, domain.ErrNotFound)
	}
	if !conv.HasParticipant(senderID) {
		return nil, fmt.Errorf("sender is not a participant: %w", domain.ErrForbidden)
	}

	msg := &domain.Message{
		ConversationID: conv.ID,
		SenderID:       senderID,
		RecipientID:    conv.OtherParticipant(senderID),
		Text:           text,
		Attachments:    attachments,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}

	// The message is durable at this point. A failed summary update
	// leaves counters briefly stale, which the next send repairs; it
	// must not fail a send whose message already exists.
	if err := s.conversations.ApplyMessage(ctx, conv.ID, msg.RecipientID, msg.Text, msg.CreatedAt); err != nil {
		s.logger.Error("conversation summary update failed",
			"conversation_id", conv.ID,
			"message_id", msg.ID,
			"error", err)
	}

	resp := s.toResponse(ctx, msg)

	go s.broker.Publish(conv.ID, EventMessageNew, resp)

	return resp, nil
}

// GetMessages returns one page of history, oldest-first. Callers outside
// the conversation get NotFound rather than Forbidden so the existence
// of the thread does not leak.
func (s *MessageService) GetMessages(ctx context.Context, conversationID, callerID string, limit int, before *domain.MessageCursor) ([]*MessageResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()

	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if conv == nil || !conv.HasParticipant(callerID) {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, domain.ErrNotFound)
	}

	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	msgs, err := s.messages.ListBefore(ctx, conv.ID, before, limit)
	if err != nil {
		return nil, err
	}

	// Reverse to chronological order (repo returns DESC).
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	res := make([]*MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		res = append(res, s.toResponse(ctx, m))
	}
	return res, nil
}

// MarkRead acknowledges the whole conversation for userID: the unread
// counter drops to zero and pending messages get their read stamp.
// Idempotent.
func (s *MessageService) MarkRead(ctx context.Context, conversationID, userID string) error {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("get conversation: %w", err)
	}
	if conv == nil || !conv.HasParticipant(userID) {
		return fmt.Errorf("conversation %s: %w", conversationID, domain.ErrNotFound)
	}

	if err := s.conversations.ResetUnread(ctx, conv.ID, userID); err != nil {
		return err
	}
	return s.messages.MarkRead(ctx, conv.ID, userID, time.Now().UTC())
}

func (s *MessageService) toResponse(ctx context.Context, m *domain.Message) *MessageResponse {
	return &MessageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sender:         s.resolveProfile(ctx, m.SenderID),
		Recipient:      s.resolveProfile(ctx, m.RecipientID),
		Text:           m.Text,
		Attachments:    m.Attachments,
		CreatedAt:      m.CreatedAt,
		ReadAt:         m.ReadAt,
	}
}

// resolveProfile falls back to a bare profile when the identity service
// cannot answer; a missing display name must not break messaging.
func (s *MessageService) resolveProfile(ctx context.Context, userID string) *domain.Profile {
	p, err := s.profiles.Profile(ctx, userID)
	if err != nil || p == nil {
		if err != nil {
			s.logger.Warn("profile lookup failed", "user_id", userID, "error", err)
		}
		return &domain.Profile{ID: userID}
	}
	return p
}
