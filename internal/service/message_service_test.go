package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"marketchat/internal/domain"
	"marketchat/internal/identity"
	"marketchat/internal/service"
)

// Mock repositories

type MockConversationRepo struct {
	mock.Mock
}

func (m *MockConversationRepo) Ensure(ctx context.Context, a, b string) (*domain.Conversation, error) {
	args := m.Called(ctx, a, b)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockConversationRepo) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockConversationRepo) ListForUser(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Conversation), args.Error(1)
}

func (m *MockConversationRepo) ApplyMessage(ctx context.Context, conversationID, recipientID, text string, at time.Time) error {
	args := m.Called(ctx, conversationID, recipientID, text, at)
	return args.Error(0)
}

func (m *MockConversationRepo) ResetUnread(ctx context.Context, conversationID, userID string) error {
	args := m.Called(ctx, conversationID, userID)
	return args.Error(0)
}

func (m *MockConversationRepo) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Int(0), args.Error(1)
}

type MockMessageRepo struct {
	mock.Mock
}

func (m *MockMessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockMessageRepo) ListBefore(ctx context.Context, conversationID string, before *domain.MessageCursor, limit int) ([]*domain.Message, error) {
	args := m.Called(ctx, conversationID, before, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Message), args.Error(1)
}

func (m *MockMessageRepo) MarkRead(ctx context.Context, conversationID, recipientID string, at time.Time) error {
	args := m.Called(ctx, conversationID, recipientID, at)
	return args.Error(0)
}

// recordingBroker captures publishes so tests can assert on the
// fire-and-forget path.
type recordingBroker struct {
	events chan recordedEvent
}

type recordedEvent struct {
	RoomID  string
	Event   string
	Payload any
}

func newRecordingBroker() *recordingBroker {
	return &recordingBroker{events: make(chan recordedEvent, 16)}
}

func (b *recordingBroker) Publish(roomID, event string, payload any) {
	b.events <- recordedEvent{RoomID: roomID, Event: event, Payload: payload}
}

func directConversation(id, a, b string) *domain.Conversation {
	pa, pb := domain.CanonicalPair(a, b)
	return &domain.Conversation{
		ID:           id,
		ParticipantA: pa,
		ParticipantB: pb,
		CreatedAt:    time.Now().UTC(),
	}
}

func TestSendMessage(t *testing.T) {
	directory := identity.NewStaticDirectory(
		domain.Profile{ID: "alice", Name: "Alice", Role: "buyer"},
		domain.Profile{ID: "bob", Name: "Bob", Role: "seller"},
	)

	t.Run("Success", func(t *testing.T) {
		convRepo := new(MockConversationRepo)
		msgRepo := new(MockMessageRepo)
		broker := newRecordingBroker()
		svc := service.NewMessageService(convRepo, msgRepo, directory, broker, time.Second, nil)

		conv := directConversation("c1", "alice", "bob")
		convRepo.On("GetByID", mock.Anything, "c1").Return(conv, nil)
		msgRepo.On("Create", mock.Anything, mock.MatchedBy(func(m *domain.Message) bool {
			return m.ConversationID == "c1" &&
				m.SenderID == "alice" &&
				m.RecipientID == "bob" &&
				m.Text == "hello"
		})).Return(nil).Run(func(args mock.Arguments) {
			args.Get(1).(*domain.Message).ID = 42
		})
		convRepo.On("ApplyMessage", mock.Anything, "c1", "bob", "hello", mock.Anything).Return(nil)

		msg, err := svc.SendMessage(context.Background(), "c1", "alice", "  hello  ", nil)
		require.NoError(t, err)
		assert.Equal(t, int64(42), msg.ID)
		assert.Equal(t, "hello", msg.Text)
		assert.Equal(t, "Alice", msg.Sender.Name)
		assert.Equal(t, "Bob", msg.Recipient.Name)

		select {
		case e := <-broker.events:
			assert.Equal(t, "c1", e.RoomID)
			assert.Equal(t, service.EventMessageNew, e.Event)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for realtime publish")
		}

		convRepo.AssertExpectations(t)
		msgRepo.AssertExpectations(t)
	})

	t.Run("EmptyTextAfterTrim", func(t *testing.T) {
		convRepo := new(MockConversationRepo)
		msgRepo := new(MockMessageRepo)
		svc := service.NewMessageService(convRepo, msgRepo, directory, nil, time.Second, nil)

		msg, err := svc.SendMessage(context.Background(), "c1", "alice", "   \n\t ", nil)
		assert.Nil(t, msg)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
		msgRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("TextTooLong", func(t *testing.T) {
		convRepo := new(MockConversationRepo)
		msgRepo := new(MockMessageRepo)
		svc := service.NewMessageService(convRepo, msgRepo, directory, nil, time.Second, nil)

		long := make([]rune, 5001)
		for i := range long {
			long[i] = 'x'
		}
		msg, err := svc.SendMessage(context.Background(), "c1", "alice", string(long), nil)
		assert.Nil(t, msg)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
		msgRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("NonParticipantForbidden", func(t *testing.T) {
		convRepo := new(MockConversationRepo)
		msgRepo := new(MockMessageRepo)
		svc := service.NewMessageService(convRepo, msgRepo, directory, nil, time.Second, nil)

		conv := directConversation("c1", "alice", "bob")
		convRepo.On("GetByID", mock.Anything, "c1").Return(conv, nil)

		msg, err := svc.SendMessage(context.Background(), "c1", "mallory", "hi", nil)
		assert.Nil(t, msg)
		assert.ErrorIs(t, err, domain.ErrForbidden)
		msgRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("ConversationMissing", func(t *testing.T) {
		convRepo := new(MockConversationRepo)
		msgRepo := new(MockMessageRepo)
		svc := service.NewMessageService(convRepo, msgRepo, directory, nil, time.Second, nil)

		convRepo.On("GetByID", mock.Anything, "nope").Return(nil, nil)

		msg, err := svc.SendMessage(context.Background(), "nope", "alice", "hi", nil)
		assert.Nil(t, msg)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("SummaryUpdateFailureDoesNotFailSend", func(t *testing.T) {
		convRepo := new(MockConversationRepo)
		msgRepo := new(MockMessageRepo)
		broker := newRecordingBroker()
		svc := service.NewMessageService(convRepo, msgRepo, directory, broker, time.Second, nil)

		conv := directConversation("c1", "alice", "bob")
		convRepo.On("GetByID", mock.Anything, "c1").Return(conv, nil)
		msgRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
		convRepo.On("ApplyMessage", mock.Anything, "c1", "bob", "hi", mock.Anything).
			Return(assert.AnError)

		msg, err := svc.SendMessage(context.Background(), "c1", "alice", "hi", nil)
		require.NoError(t, err)
		assert.NotNil(t, msg)
	})
}

// failingDirectory always errors, standing in for an unreachable
// identity service.
type failingDirectory struct{}

func (failingDirectory) Profile(ctx context.Context, userID string) (*domain.Profile, error) {
	return nil, assert.AnError
}

func TestSendMessageDirectoryFailureFallsBackToBareProfiles(t *testing.T) {
	convRepo := new(MockConversationRepo)
	msgRepo := new(MockMessageRepo)
	svc := service.NewMessageService(convRepo, msgRepo, failingDirectory{}, nil, time.Second, nil)

	conv := directConversation("c1", "alice", "bob")
	convRepo.On("GetByID", mock.Anything, "c1").Return(conv, nil)
	msgRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
	convRepo.On("ApplyMessage", mock.Anything, "c1", "bob", "hi", mock.Anything).Return(nil)

	msg, err := svc.SendMessage(context.Background(), "c1", "alice", "hi", nil)
	require.NoError(t, err)
	require.NotNil(t, msg.Sender)
	require.NotNil(t, msg.Recipient)
	assert.Equal(t, "alice", msg.Sender.ID)
	assert.Empty(t, msg.Sender.Name)
	assert.Equal(t, "bob", msg.Recipient.ID)
}

func TestGetMessages(t *testing.T) {
	directory := identity.NewStaticDirectory()

	t.Run("ReversesToChronologicalOrder", func(t *testing.T) {
		convRepo := new(MockConversationRepo)
		msgRepo := new(MockMessageRepo)
		svc := service.NewMessageService(convRepo, msgRepo, directory, nil, time.Second, nil)

		conv := directConversation("c1", "alice", "bob")
		convRepo.On("GetByID", mock.Anything, "c1").Return(conv, nil)

		now := time.Now().UTC()
		descending := []*domain.Message{
			{ID: 3, ConversationID: "c1", SenderID: "alice", RecipientID: "bob", Text: "third", CreatedAt: now},
			{ID: 2, ConversationID: "c1", SenderID: "bob", RecipientID: "alice", Text: "second", CreatedAt: now.Add(-time.Second)},
			{ID: 1, ConversationID: "c1", SenderID: "alice", RecipientID: "bob", Text: "first", CreatedAt: now.Add(-2 * time.Second)},
		}
		msgRepo.On("ListBefore", mock.Anything, "c1", (*domain.MessageCursor)(nil), 50).Return(descending, nil)

		items, err := svc.GetMessages(context.Background(), "c1", "alice", 0, nil)
		require.NoError(t, err)
		require.Len(t, items, 3)
		assert.Equal(t, int64(1), items[0].ID)
		assert.Equal(t, int64(2), items[1].ID)
		assert.Equal(t, int64(3), items[2].ID)
	})

	t.Run("NonParticipantGetsNotFound", func(t *testing.T) {
		convRepo := new(MockConversationRepo)
		msgRepo := new(MockMessageRepo)
		svc := service.NewMessageService(convRepo, msgRepo, directory, nil, time.Second, nil)

		conv := directConversation("c1", "alice", "bob")
		convRepo.On("GetByID", mock.Anything, "c1").Return(conv, nil)

		items, err := svc.GetMessages(context.Background(), "c1", "mallory", 10, nil)
		assert.Nil(t, items)
		// NotFound, not Forbidden: existence must not leak.
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.NotErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("LimitClamped", func(t *testing.T) {
		convRepo := new(MockConversationRepo)
		msgRepo := new(MockMessageRepo)
		svc := service.NewMessageService(convRepo, msgRepo, directory, nil, time.Second, nil)

		conv := directConversation("c1", "alice", "bob")
		convRepo.On("GetByID", mock.Anything, "c1").Return(conv, nil)
		msgRepo.On("ListBefore", mock.Anything, "c1", (*domain.MessageCursor)(nil), 200).Return([]*domain.Message{}, nil)

		_, err := svc.GetMessages(context.Background(), "c1", "alice", 9999, nil)
		require.NoError(t, err)
		msgRepo.AssertCalled(t, "ListBefore", mock.Anything, "c1", (*domain.MessageCursor)(nil), 200)
	})
}

func TestMarkRead(t *testing.T) {
	directory := identity.NewStaticDirectory()

	t.Run("ResetsCounterAndStampsMessages", func(t *testing.T) {
		convRepo := new(MockConversationRepo)
		msgRepo := new(MockMessageRepo)
		svc := service.NewMessageService(convRepo, msgRepo, directory, nil, time.Second, nil)

		conv := directConversation("c1", "alice", "bob")
		convRepo.On("GetByID", mock.Anything, "c1").Return(conv, nil)
		convRepo.On("ResetUnread", mock.Anything, "c1", "bob").Return(nil)
		msgRepo.On("MarkRead", mock.Anything, "c1", "bob", mock.Anything).Return(nil)

		err := svc.MarkRead(context.Background(), "c1", "bob")
		require.NoError(t, err)
		convRepo.AssertExpectations(t)
		msgRepo.AssertExpectations(t)
	})

	t.Run("NonParticipantGetsNotFound", func(t *testing.T) {
		convRepo := new(MockConversationRepo)
		msgRepo := new(MockMessageRepo)
		svc := service.NewMessageService(convRepo, msgRepo, directory, nil, time.Second, nil)

		conv := directConversation("c1", "alice", "bob")
		convRepo.On("GetByID", mock.Anything, "c1").Return(conv, nil)

		err := svc.MarkRead(context.Background(), "c1", "mallory")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		convRepo.AssertNotCalled(t, "ResetUnread", mock.Anything, mock.Anything, mock.Anything)
	})
}
