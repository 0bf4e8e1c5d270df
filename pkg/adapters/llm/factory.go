package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/jcoler76/nectar-api-sub011/pkg/adapters/llm/anthropic"
	"github.com/jcoler76/nectar-api-sub011/pkg/ports"
)

// Config holds LLM client configuration.
type Config struct {
	Provider string
	APIKey   string
	Logger   *zap.Logger
}

// NewClient creates a new LLM client based on provider.
func NewClient(cfg *Config) (ports.LLMClient, error) {
	switch cfg.Provider {
	case "anthropic":
		return anthropic.NewClient(cfg.APIKey, cfg.Logger)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
