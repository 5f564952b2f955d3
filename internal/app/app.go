// Package app assembles the chat service from configuration and storage
// backends. The binaries under cmd/ pick the backends.
package app

import (
	"errors"
	"fmt"
	"log/slog"

	"church-assistant/internal/compose"
	"church-assistant/internal/config"
	"church-assistant/internal/conversation"
	"church-assistant/internal/ratelimit"
	"church-assistant/internal/retrieval"
	"church-assistant/internal/usecase"
)

// Backends are the stores one deployment runs on.
type Backends struct {
	Conversations conversation.Repository
	Windows       ratelimit.WindowStore
	Knowledge     retrieval.KnowledgeSource
}

// NewChatService wires limiter, conversation store, retriever and composer
// around llm. model overrides cfg.OpenAIModel when non-empty.
func NewChatService(cfg config.Config, b Backends, llm compose.LLMClient, model string, logger *slog.Logger) (*usecase.ChatService, error) {
	if b.Conversations == nil || b.Windows == nil || b.Knowledge == nil {
		return nil, errors.New("app: conversations, windows and knowledge backends are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if model == "" {
		model = cfg.OpenAIModel
	}

	limiter, err := ratelimit.New(b.Windows, cfg.RateLimitWindow, cfg.RateLimitMax)
	if err != nil {
		return nil, fmt.Errorf("app: rate limiter: %w", err)
	}
	store, err := conversation.NewStore(b.Conversations, conversation.WithMaxHistory(cfg.MaxHistoryMessages))
	if err != nil {
		return nil, fmt.Errorf("app: conversation store: %w", err)
	}
	retriever, err := retrieval.New(b.Knowledge, logger)
	if err != nil {
		return nil, fmt.Errorf("app: retriever: %w", err)
	}
	composer, err := compose.New(llm, store, compose.Settings{
		Model:       model,
		Temperature: cfg.OpenAITemperature,
		MaxTokens:   cfg.OpenAIMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("app: composer: %w", err)
	}

	svc, err := usecase.NewChatService(usecase.Dependencies{
		Limiter:       limiter,
		Conversations: store,
		Retriever:     retriever,
		Composer:      composer,
		Logger:        logger,
	}, cfg.MaxMessageLength)
	if err != nil {
		return nil, fmt.Errorf("app: chat service: %w", err)
	}
	return svc, nil
}
