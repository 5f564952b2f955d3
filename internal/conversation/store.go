// Package conversation threads chat messages into per-session conversations.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"church-assistant/internal/domain"
)

// ErrConversationNotFound is returned when a caller-supplied conversation does
// not exist or belongs to another session.
var ErrConversationNotFound = errors.New("conversation: not found")

// Repository is the persistence surface the store needs. GetConversation
// reports found=false for unknown ids. ListMessages returns messages in
// ascending creation order; limit <= 0 means no limit, otherwise the most
// recent limit messages are returned.
type Repository interface {
	CreateConversation(ctx context.Context, conv domain.Conversation) error
	GetConversation(ctx context.Context, id string) (conv domain.Conversation, found bool, err error)
	AppendMessage(ctx context.Context, msg domain.Message) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)
}

type Store struct {
	repo       Repository
	maxHistory int
	now        func() time.Time
	newID      func() string
}

type Option func(*Store)

// WithMaxHistory caps History to the most recent n messages. n <= 0 disables
// the cap.
func WithMaxHistory(n int) Option {
	return func(s *Store) { s.maxHistory = n }
}

// WithClock overrides the timestamp source for new records.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(repo Repository, opts ...Option) (*Store, error) {
	if repo == nil {
		return nil, errors.New("conversation: repository must not be nil")
	}
	s := &Store{
		repo:  repo,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Resolve returns conversationID when it exists and is owned by owner, or
// creates a new conversation for owner when conversationID is empty.
func (s *Store) Resolve(ctx context.Context, conversationID, owner string) (string, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		conv := domain.Conversation{ID: s.newID(), SessionID: owner, CreatedAt: s.now()}
		if err := s.repo.CreateConversation(ctx, conv); err != nil {
			return "", fmt.Errorf("conversation: create: %w", err)
		}
		return conv.ID, nil
	}

	conv, found, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return "", fmt.Errorf("conversation: get %q: %w", conversationID, err)
	}
	if !found || conv.SessionID != owner {
		return "", ErrConversationNotFound
	}
	return conv.ID, nil
}

// Append persists a new message and returns its id.
func (s *Store) Append(ctx context.Context, conversationID string, role domain.Role, content string) (string, error) {
	if !role.Valid() {
		return "", fmt.Errorf("conversation: invalid role %q", role)
	}
	msg := domain.Message{
		ID:             s.newID(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      s.now(),
	}
	if err := s.repo.AppendMessage(ctx, msg); err != nil {
		return "", fmt.Errorf("conversation: append %s message: %w", role, err)
	}
	return msg.ID, nil
}

// History returns the transcript in ascending creation order.
func (s *Store) History(ctx context.Context, conversationID string) ([]domain.Message, error) {
	msgs, err := s.repo.ListMessages(ctx, conversationID, s.maxHistory)
	if err != nil {
		return nil, fmt.Errorf("conversation: history: %w", err)
	}
	return msgs, nil
}
