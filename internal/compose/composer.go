// Package compose turns a conversation transcript and retrieved knowledge into
// a single completion request and records the provider's reply.
package compose

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"church-assistant/internal/domain"
	"church-assistant/internal/integrations/openai"
)

const (
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 500
)

type LLMClient interface {
	Chat(ctx context.Context, req openai.Request) (domain.ChatMessage, error)
}

// Appender persists messages into a conversation.
type Appender interface {
	Append(ctx context.Context, conversationID string, role domain.Role, content string) (string, error)
}

// ReplyStoreError marks a reply that was produced but could not be saved.
type ReplyStoreError struct {
	Err error
}

func (e *ReplyStoreError) Error() string {
	return fmt.Sprintf("compose: save reply: %v", e.Err)
}

func (e *ReplyStoreError) Unwrap() error {
	return e.Err
}

type Settings struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

type Composer struct {
	llm      LLMClient
	store    Appender
	settings Settings
}

func New(llm LLMClient, store Appender, settings Settings) (*Composer, error) {
	if llm == nil {
		return nil, errors.New("compose: llm client must not be nil")
	}
	if store == nil {
		return nil, errors.New("compose: appender must not be nil")
	}
	settings.Model = strings.TrimSpace(settings.Model)
	if settings.Model == "" {
		settings.Model = DefaultModel
	}
	if settings.Temperature < 0 {
		settings.Temperature = DefaultTemperature
	}
	if settings.MaxTokens <= 0 {
		settings.MaxTokens = DefaultMaxTokens
	}
	return &Composer{llm: llm, store: store, settings: settings}, nil
}

// Reply sends persona, context and history to the provider and appends the
// answer as an assistant message. Provider errors are returned unchanged and
// nothing is persisted.
func (c *Composer) Reply(ctx context.Context, conversationID string, history []domain.Message, entries []domain.ScoredEntry) (string, error) {
	msg, err := c.llm.Chat(ctx, openai.Request{
		Model:       c.settings.Model,
		Messages:    buildMessages(history, entries),
		Temperature: c.settings.Temperature,
		MaxTokens:   c.settings.MaxTokens,
	})
	if err != nil {
		return "", err
	}

	if _, err := c.store.Append(ctx, conversationID, domain.RoleAssistant, msg.Content); err != nil {
		return "", &ReplyStoreError{Err: err}
	}
	return msg.Content, nil
}
