package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"church-assistant/handler"
	"church-assistant/internal/app"
	"church-assistant/internal/config"
	"church-assistant/internal/integrations/openai"
	"church-assistant/internal/integrations/paramstore"
	"church-assistant/internal/logging"
	"church-assistant/internal/repository"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	if err := cfg.RequireAWS(); err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger, err := logging.Setup(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if err != nil {
		slog.Error("failed to configure logging", "err", err)
		os.Exit(1)
	}

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		logger.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	stateClient, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
	if err != nil {
		logger.Error("failed to create state client", "err", err)
		os.Exit(1)
	}

	opts := []openai.Option{
		openai.WithBaseURL(cfg.OpenAIBaseURL),
		openai.WithTimeout(cfg.OpenAITimeout),
	}
	if cfg.OpenAIAPIKey != "" {
		opts = append(opts, openai.WithAPIKey(cfg.OpenAIAPIKey))
	} else {
		opts = append(opts, openai.WithParamStore(ssmClient, cfg.ParamPrefix))
	}
	openaiClient, err := openai.NewClient(opts...)
	if err != nil {
		logger.Error("failed to create OpenAI client", "err", err)
		os.Exit(1)
	}

	model, err := ssmClient.StringOr(ctx, cfg.ParamPrefix+"/config/openai_model", cfg.OpenAIModel)
	if err != nil {
		logger.Warn("failed to read model override, using configured model", "err", err, "model", cfg.OpenAIModel)
		model = cfg.OpenAIModel
	}

	// ---- Handler ----
	chatService, err := app.NewChatService(cfg, app.Backends{
		Conversations: stateClient,
		Windows:       stateClient,
		Knowledge:     stateClient,
	}, openaiClient, model, logger)
	if err != nil {
		logger.Error("failed to create chat service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(chatService)
	if err != nil {
		logger.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}
