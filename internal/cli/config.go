package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/shopassist/server/internal/agent/model"
	"github.com/shopassist/server/internal/core"
	logx "github.com/shopassist/server/pkg/logger"
	pkgredis "github.com/shopassist/server/pkg/redis"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// AppConfig defines all configurable parameters of the assistant, sourced
// from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment core.Environment `envconfig:"ENVIRONMENT" default:"development"`
	HTTPAddr    string           `envconfig:"HTTP_ADDR" default:":8080"`

	// Infrastructure
	StoreBackend string `envconfig:"STORE_BACKEND" default:"memory"`
	Redis        pkgredis.Config

	// Agent configs
	ChatModel    model.ChatModelConfig
	Embedding    model.EmbeddingConfig
	Search       model.SearchConfig
	Prompt       model.PromptConfig
	Conversation model.ConversationConfig
}

// LoadConfig reads envFile (if present) into the process environment and
// decodes AppConfig from it.
func LoadConfig(envFile string) (AppConfig, error) {
	var cfg AppConfig
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, fmt.Errorf("failed to process environment config: %w", err)
	}

	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	switch cfg.StoreBackend {
	case BackendMemory, BackendRedis:
	default:
		return cfg, fmt.Errorf("unsupported STORE_BACKEND %q", cfg.StoreBackend)
	}
	return cfg, nil
}

// initLogger configures logx for the environment.
func initLogger(cfg AppConfig) {
	logx.Init(logx.LoggerOpts{Environment: cfg.Environment})
}
