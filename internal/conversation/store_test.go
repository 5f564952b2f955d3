package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"church-assistant/internal/domain"
)

type memRepo struct {
	convs     map[string]domain.Conversation
	msgs      []domain.Message
	createErr error
	getErr    error
	appendErr error
	listErr   error
	lastLimit int
}

func newMemRepo() *memRepo {
	return &memRepo{convs: map[string]domain.Conversation{}}
}

func (m *memRepo) CreateConversation(_ context.Context, conv domain.Conversation) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.convs[conv.ID] = conv
	return nil
}

func (m *memRepo) GetConversation(_ context.Context, id string) (domain.Conversation, bool, error) {
	if m.getErr != nil {
		return domain.Conversation{}, false, m.getErr
	}
	c, ok := m.convs[id]
	return c, ok, nil
}

func (m *memRepo) AppendMessage(_ context.Context, msg domain.Message) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	m.msgs = append(m.msgs, msg)
	return nil
}

func (m *memRepo) ListMessages(_ context.Context, conversationID string, limit int) ([]domain.Message, error) {
	m.lastLimit = limit
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []domain.Message
	for _, msg := range m.msgs {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func mustNewStore(t *testing.T, repo Repository, opts ...Option) *Store {
	t.Helper()
	s, err := NewStore(repo, opts...)
	require.NoError(t, err)
	return s
}

func TestNewStore_ValidatesRepository(t *testing.T) {
	_, err := NewStore(nil)
	require.Error(t, err)
}

func TestResolve_CreatesConversationForOwner(t *testing.T) {
	repo := newMemRepo()
	now := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	s := mustNewStore(t, repo, WithClock(func() time.Time { return now }))

	id, err := s.Resolve(context.Background(), "", "sess-1")
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Equal(t, "sess-1", repo.convs[id].SessionID)
	require.Equal(t, now, repo.convs[id].CreatedAt)
}

func TestResolve_ExistingConversationOwnedByCaller(t *testing.T) {
	repo := newMemRepo()
	repo.convs["conv-1"] = domain.Conversation{ID: "conv-1", SessionID: "sess-1"}
	s := mustNewStore(t, repo)

	id, err := s.Resolve(context.Background(), "conv-1", "sess-1")
	require.NoError(t, err)
	require.Equal(t, "conv-1", id)
}

func TestResolve_RejectsUnknownOrForeignConversation(t *testing.T) {
	repo := newMemRepo()
	repo.convs["conv-1"] = domain.Conversation{ID: "conv-1", SessionID: "sess-1"}
	s := mustNewStore(t, repo)

	_, err := s.Resolve(context.Background(), "conv-1", "sess-2")
	require.ErrorIs(t, err, ErrConversationNotFound)

	_, err = s.Resolve(context.Background(), "missing", "sess-1")
	require.ErrorIs(t, err, ErrConversationNotFound)
}

func TestResolve_StorageErrors(t *testing.T) {
	repo := newMemRepo()
	repo.createErr = errors.New("insert failed")
	s := mustNewStore(t, repo)
	_, err := s.Resolve(context.Background(), "", "sess-1")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrConversationNotFound)

	repo = newMemRepo()
	repo.getErr = errors.New("read failed")
	s = mustNewStore(t, repo)
	_, err = s.Resolve(context.Background(), "conv-1", "sess-1")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrConversationNotFound)
}

func TestAppendThenHistory_RoundTrip(t *testing.T) {
	repo := newMemRepo()
	s := mustNewStore(t, repo)
	ctx := context.Background()

	id, err := s.Resolve(ctx, "", "sess-1")
	require.NoError(t, err)
	_, err = s.Append(ctx, id, domain.RoleAssistant, "bonjour")
	require.NoError(t, err)
	msgID, err := s.Append(ctx, id, domain.RoleUser, "hello")
	require.NoError(t, err)
	require.NotEmpty(t, msgID)

	history, err := s.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, domain.RoleUser, history[1].Role)
	require.Equal(t, "hello", history[1].Content)
	require.Equal(t, msgID, history[1].ID)
}

func TestAppend_RejectsUnknownRole(t *testing.T) {
	repo := newMemRepo()
	s := mustNewStore(t, repo)
	_, err := s.Append(context.Background(), "conv-1", domain.Role("tool"), "x")
	require.Error(t, err)
	require.Empty(t, repo.msgs)
}

func TestAppend_StorageError(t *testing.T) {
	repo := newMemRepo()
	repo.appendErr = errors.New("write failed")
	s := mustNewStore(t, repo)
	_, err := s.Append(context.Background(), "conv-1", domain.RoleUser, "x")
	require.Error(t, err)
	require.Contains(t, err.Error(), "append user message")
}

func TestHistory_PassesConfiguredCap(t *testing.T) {
	repo := newMemRepo()
	s := mustNewStore(t, repo, WithMaxHistory(2))
	ctx := context.Background()
	for _, c := range []string{"one", "two", "three"} {
		_, err := s.Append(ctx, "conv-1", domain.RoleUser, c)
		require.NoError(t, err)
	}

	history, err := s.History(ctx, "conv-1")
	require.NoError(t, err)
	require.Equal(t, 2, repo.lastLimit)
	require.Equal(t, "two", history[0].Content)
	require.Equal(t, "three", history[1].Content)
}
