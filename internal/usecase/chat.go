package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"church-assistant/internal/compose"
	"church-assistant/internal/conversation"
	"church-assistant/internal/domain"
	"church-assistant/internal/integrations/openai"
	"church-assistant/internal/ratelimit"
)

const defaultMaxMessage = 2000

// Turn states, logged once per turn when it ends.
const (
	stateResponded = "RESPONDED"
	stateRejected  = "REJECTED"
	stateFailed    = "FAILED"
)

type RateLimiter interface {
	Admit(ctx context.Context, identifier string, now time.Time) (ratelimit.Decision, error)
}

type ConversationStore interface {
	Resolve(ctx context.Context, conversationID, owner string) (string, error)
	Append(ctx context.Context, conversationID string, role domain.Role, content string) (string, error)
	History(ctx context.Context, conversationID string) ([]domain.Message, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, query string) []domain.ScoredEntry
}

type Composer interface {
	Reply(ctx context.Context, conversationID string, history []domain.Message, entries []domain.ScoredEntry) (string, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

type ChatService struct {
	limiter       RateLimiter
	conversations ConversationStore
	retriever     Retriever
	composer      Composer
	logger        *slog.Logger
	maxMessageLen int
	now           func() time.Time
}

type ChatInput struct {
	Message        string
	ConversationID string
	SessionID      string
	// ForwardedFor is the caller's network origin, used when no session is
	// present.
	ForwardedFor string
}

type ChatOutput struct {
	Message        string
	ConversationID string
}

type Dependencies struct {
	Limiter       RateLimiter
	Conversations ConversationStore
	Retriever     Retriever
	Composer      Composer
	Logger        *slog.Logger
}

func NewChatService(deps Dependencies, maxMessageLen int) (*ChatService, error) {
	if deps.Limiter == nil {
		return nil, errors.New("usecase: rate limiter must not be nil")
	}
	if deps.Conversations == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if deps.Retriever == nil {
		return nil, errors.New("usecase: retriever must not be nil")
	}
	if deps.Composer == nil {
		return nil, errors.New("usecase: composer must not be nil")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if maxMessageLen <= 0 {
		maxMessageLen = defaultMaxMessage
	}
	return &ChatService{
		limiter:       deps.Limiter,
		conversations: deps.Conversations,
		retriever:     deps.Retriever,
		composer:      deps.Composer,
		logger:        deps.Logger,
		maxMessageLen: maxMessageLen,
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

// Chat runs one turn: admit, resolve the conversation, save the user message,
// retrieve context, then compose and save the reply. The user message stays
// persisted when a later step fails.
func (s *ChatService) Chat(ctx context.Context, in ChatInput) (out ChatOutput, err error) {
	identifier := ratelimit.Identifier(in.SessionID, in.ForwardedFor)
	defer func() { s.logTurn(ctx, identifier, out, err) }()

	message := strings.TrimSpace(in.Message)
	if message == "" {
		return ChatOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if utf8.RuneCountInString(message) > s.maxMessageLen {
		return ChatOutput{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}

	decision, err := s.limiter.Admit(ctx, identifier, s.now())
	if err != nil {
		return ChatOutput{}, newError(ErrorStorage, "rate_limit_store_error", err)
	}
	if !decision.Allowed {
		e := newError(ErrorRateLimited, "rate_limit_exceeded", nil)
		e.RetryAfter = decision.RetryAfter
		return ChatOutput{}, e
	}

	convID, err := s.conversations.Resolve(ctx, in.ConversationID, identifier)
	if err != nil {
		if errors.Is(err, conversation.ErrConversationNotFound) {
			return ChatOutput{}, newError(ErrorConversationNotFound, "conversation_not_owned", err)
		}
		return ChatOutput{}, newError(ErrorStorage, "conversation_resolve_error", err)
	}

	if _, err := s.conversations.Append(ctx, convID, domain.RoleUser, message); err != nil {
		return ChatOutput{ConversationID: convID}, newError(ErrorStorage, "user_message_write_error", err)
	}

	history, err := s.conversations.History(ctx, convID)
	if err != nil {
		return ChatOutput{ConversationID: convID}, newError(ErrorStorage, "history_read_error", err)
	}

	entries := s.retriever.Retrieve(ctx, message)

	reply, err := s.composer.Reply(ctx, convID, history, entries)
	if err != nil {
		return ChatOutput{ConversationID: convID}, classifyComposeError(err)
	}

	return ChatOutput{Message: reply, ConversationID: convID}, nil
}

func classifyComposeError(err error) *Error {
	var storeErr *compose.ReplyStoreError
	if errors.As(err, &storeErr) {
		return newError(ErrorStorage, "reply_write_error", err)
	}
	var timeoutErr *openai.TimeoutError
	if errors.As(err, &timeoutErr) {
		return newError(ErrorUpstreamTimeout, "openai_timeout", err)
	}
	if errors.Is(err, openai.ErrMalformedResponse) {
		return newError(ErrorUpstream, "openai_malformed_response", err)
	}
	if status, ok := upstreamStatusCode(err); ok && status == 429 {
		return newError(ErrorUpstream, "openai_rate_limited", err)
	}
	return newError(ErrorUpstream, "openai_error", err)
}

func (s *ChatService) logTurn(ctx context.Context, identifier string, out ChatOutput, err error) {
	if err == nil {
		s.logger.InfoContext(ctx, "chat turn", "state", stateResponded, "conversation_id", out.ConversationID)
		return
	}
	var ucErr *Error
	if !errors.As(err, &ucErr) {
		s.logger.ErrorContext(ctx, "chat turn", "state", stateFailed, "err", err)
		return
	}
	switch ucErr.Code {
	case ErrorRateLimited:
		s.logger.WarnContext(ctx, "chat turn", "state", stateRejected, "identifier", identifier, "retry_after", ucErr.RetryAfter)
	case ErrorInvalidInput, ErrorConversationNotFound:
		s.logger.InfoContext(ctx, "chat turn", "state", stateFailed, "reason", ucErr.Reason)
	default:
		s.logger.ErrorContext(ctx, "chat turn", "state", stateFailed, "reason", ucErr.Reason,
			"conversation_id", out.ConversationID, "err", ucErr.Err)
	}
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
