package llm

import (
	"github.com/sashabaranov/go-openai"

	"github.com/comigor/huddle/internal/config"
)

// NewClient creates a new OpenAI-compatible client
func NewClient(cfg config.LLMConfig) *openai.Client {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return openai.NewClientWithConfig(config)
}
