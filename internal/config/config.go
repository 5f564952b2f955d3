// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is read once at startup and passed down explicitly.
type Config struct {
	// AWS deployment.
	StateTable  string `envconfig:"STATE_TABLE"`
	ParamPrefix string `envconfig:"PARAM_PREFIX"`

	// Provider.
	OpenAIAPIKey      string        `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL     string        `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	OpenAIModel       string        `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	OpenAITimeout     time.Duration `envconfig:"OPENAI_TIMEOUT" default:"30s"`
	OpenAITemperature float64       `envconfig:"OPENAI_TEMPERATURE" default:"0.7"`
	OpenAIMaxTokens   int           `envconfig:"OPENAI_MAX_TOKENS" default:"500"`

	// Chat limits.
	RateLimitWindow    time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"60s"`
	RateLimitMax       int           `envconfig:"RATE_LIMIT_MAX" default:"10"`
	MaxHistoryMessages int           `envconfig:"MAX_HISTORY_MESSAGES" default:"0"`
	MaxMessageLength   int           `envconfig:"MAX_MESSAGE_LENGTH" default:"2000"`

	// Local server.
	HTTPAddr   string `envconfig:"HTTP_ADDR" default:":8080"`
	SQLitePath string `envconfig:"SQLITE_PATH" default:"data/church-assistant.db"`
	RedisURL   string `envconfig:"REDIS_URL"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

// Load reads the environment into a validated Config.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: process environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges that envconfig cannot express.
func (c Config) Validate() error {
	var errs []error
	if c.OpenAITimeout <= 0 {
		errs = append(errs, errors.New("OPENAI_TIMEOUT must be positive"))
	}
	if c.OpenAITemperature < 0 || c.OpenAITemperature > 2 {
		errs = append(errs, errors.New("OPENAI_TEMPERATURE must be between 0 and 2"))
	}
	if c.OpenAIMaxTokens <= 0 {
		errs = append(errs, errors.New("OPENAI_MAX_TOKENS must be positive"))
	}
	if c.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_WINDOW must be positive"))
	}
	if c.RateLimitMax <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_MAX must be positive"))
	}
	if c.MaxHistoryMessages < 0 {
		errs = append(errs, errors.New("MAX_HISTORY_MESSAGES must not be negative"))
	}
	if c.MaxMessageLength <= 0 {
		errs = append(errs, errors.New("MAX_MESSAGE_LENGTH must be positive"))
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q must be json or text", c.LogFormat))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// RequireAWS checks the keys the Lambda deployment cannot run without.
func (c Config) RequireAWS() error {
	var missing []string
	if strings.TrimSpace(c.StateTable) == "" {
		missing = append(missing, "STATE_TABLE")
	}
	if strings.TrimSpace(c.ParamPrefix) == "" {
		missing = append(missing, "PARAM_PREFIX")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: required environment variables not set: %s", strings.Join(missing, ", "))
	}
	return nil
}

// LoadDotEnv loads .env style files into the environment. A missing file is
// logged and ignored; variables already set are not overridden.
func LoadDotEnv(logger *slog.Logger, files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				logger.Debug("no env file, using process environment", "file", f)
				continue
			}
			logger.Warn("failed to load env file", "file", f, "err", err)
		}
	}
}
