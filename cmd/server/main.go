package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"church-assistant/handler"
	"church-assistant/internal/app"
	"church-assistant/internal/config"
	"church-assistant/internal/integrations/openai"
	"church-assistant/internal/logging"
	"church-assistant/internal/ratelimit"
	"church-assistant/internal/repository"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config.LoadDotEnv(slog.Default())

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	logger, err := logging.Setup(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if err != nil {
		slog.Error("failed to configure logging", "err", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	store, err := repository.NewSQLiteStore(cfg.SQLitePath)
	if err != nil {
		return err
	}
	defer store.Close()

	var windows ratelimit.WindowStore = store
	if cfg.RedisURL != "" {
		rdb, err := repository.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		if windows, err = repository.NewRedisWindowStore(rdb, ""); err != nil {
			return err
		}
		logger.Info("rate windows stored in redis")
	}

	llm, err := openai.NewClient(
		openai.WithAPIKey(cfg.OpenAIAPIKey),
		openai.WithBaseURL(cfg.OpenAIBaseURL),
		openai.WithTimeout(cfg.OpenAITimeout),
	)
	if err != nil {
		return err
	}

	chatService, err := app.NewChatService(cfg, app.Backends{
		Conversations: store,
		Windows:       windows,
		Knowledge:     store,
	}, llm, "", logger)
	if err != nil {
		return err
	}

	router, err := handler.NewRouter(chatService, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	logger.Info("church assistant listening", "addr", cfg.HTTPAddr, "sqlite", cfg.SQLitePath)
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
