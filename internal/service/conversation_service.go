package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"marketchat/internal/domain"
)

// ConversationService manages conversation lifecycle and list views.
type ConversationService struct {
	conversations domain.ConversationRepository
	profiles      domain.ProfileDirectory
	readTimeout   time.Duration
	logger        *slog.Logger
}

func NewConversationService(
	conversations domain.ConversationRepository,
	profiles domain.ProfileDirectory,
	readTimeout time.Duration,
	logger *slog.Logger,
) *ConversationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationService{
		conversations: conversations,
		profiles:      profiles,
		readTimeout:   readTimeout,
		logger:        logger.With("component", "conversation_service"),
	}
}

// EnsureConversation returns the conversation between the two users,
// creating it on first contact. Idempotent: concurrent calls for the
// same pair all observe the same conversation.
func (s *ConversationService) EnsureConversation(ctx context.Context, userA, userB string) (*domain.Conversation, error) {
	if userA == "" || userB == "" {
		return nil, fmt.Errorf("user id required: %w", domain.ErrInvalidInput)
	}
	if userA == userB {
		return nil, fmt.Errorf("cannot start a conversation with yourself: %w", domain.ErrInvalidInput)
	}
	a, b := domain.CanonicalPair(userA, userB)
	return s.conversations.Ensure(ctx, a, b)
}

// ConversationSummary is one entry of a user's conversation list.
type ConversationSummary struct {
	ID            string          `json:"id"`
	Peer          *domain.Profile `json:"peer"`
	LastMessage   string          `json:"last_message"`
	LastMessageAt *time.Time      `json:"last_message_at"`
	Unread        int             `json:"unread"`
}

// ListConversations returns the user's conversations sorted by most
// recent activity, each with the peer's public profile and the caller's
// unread count. Pure read.
func (s *ConversationService) ListConversations(ctx context.Context, userID string) ([]*ConversationSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()

	convs, err := s.conversations.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	res := make([]*ConversationSummary, 0, len(convs))
	for _, c := range convs {
		unread, err := s.conversations.UnreadCount(ctx, c.ID, userID)
		if err != nil {
			return nil, err
		}
		res = append(res, &ConversationSummary{
			ID:            c.ID,
			Peer:          s.resolveProfile(ctx, c.OtherParticipant(userID)),
			LastMessage:   c.LastMessage,
			LastMessageAt: c.LastMessageAt,
			Unread:        unread,
		})
	}
	return res, nil
}

// resolveProfile falls back to a bare profile when the identity service
// cannot answer; a missing display name must not break messaging.
func (s *ConversationService) resolveProfile(ctx context.Context, userID string) *domain.Profile {
	p, err := s.profiles.Profile(ctx, userID)
	if err != nil || p == nil {
		if err != nil {
			s.logger.Warn("profile lookup failed", "user_id", userID, "error", err)
		}
		return &domain.Profile{ID: userID}
	}
	return p
}
