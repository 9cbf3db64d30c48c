package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ClientType selects the MCP transport used to reach the recipe server.
type ClientType string

const (
	ClientTypeSSE            ClientType = "sse"
	ClientTypeStreamableHTTP ClientType = "streamable_http"
	ClientTypeStdio          ClientType = "stdio"
)

// Config holds the application configuration
type Config struct {
	LLM       LLMConfig
	Server    ServerConfig
	Assistant AssistantConfig
	History   HistoryConfig
	Recipes   RecipesConfig
	Log       LogConfig
}

// LLMConfig holds the completion service configuration
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"`
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float32       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether enough is configured to call the completion service.
func (c LLMConfig) Enabled() bool {
	return c.APIKey != "" && c.Model != ""
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

// AssistantConfig tunes the request-processing engine.
type AssistantConfig struct {
	SenderID         string        `mapstructure:"sender_id"`
	Timezone         string        `mapstructure:"timezone"`
	ContextTurns     int           `mapstructure:"context_turns"`
	MemoryWindow     int           `mapstructure:"memory_window"`
	DecisionWindow   int           `mapstructure:"decision_window"`
	IdempotencyLimit int           `mapstructure:"idempotency_limit"`
	CacheTTL         time.Duration `mapstructure:"cache_ttl"`
	CacheLimit       int           `mapstructure:"cache_limit"`
	StoreTimeout     time.Duration `mapstructure:"store_timeout"`
}

// HistoryConfig points at the SQLite message database.
type HistoryConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// RecipesConfig describes the optional recipe MCP server.
type RecipesConfig struct {
	Enabled    bool              `mapstructure:"enabled"`
	Name       string            `mapstructure:"name"`
	Type       ClientType        `mapstructure:"type"`
	URL        string            `mapstructure:"url"`
	Command    string            `mapstructure:"command"`
	Args       []string          `mapstructure:"args"`
	Env        map[string]string `mapstructure:"env"`
	Headers    map[string]string `mapstructure:"headers"`
	Budget     time.Duration     `mapstructure:"budget"`
	MaxResults int               `mapstructure:"max_results"`

	// ConnectTimeout bounds the startup handshake with the server.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// LogConfig holds logging options
type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.temperature", 0.4)
	v.SetDefault("llm.max_tokens", 600)
	v.SetDefault("llm.timeout", "8s")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")

	v.SetDefault("assistant.sender_id", "assistant")
	v.SetDefault("assistant.timezone", "UTC")
	v.SetDefault("assistant.context_turns", 10)
	v.SetDefault("assistant.memory_window", 200)
	v.SetDefault("assistant.decision_window", 50)
	v.SetDefault("assistant.idempotency_limit", 1000)
	v.SetDefault("assistant.cache_ttl", "5m")
	v.SetDefault("assistant.cache_limit", 1000)
	v.SetDefault("assistant.store_timeout", "5s")

	v.SetDefault("history.db_path", "history.db")

	v.SetDefault("recipes.enabled", false)
	v.SetDefault("recipes.name", "recipes")
	v.SetDefault("recipes.type", "")
	v.SetDefault("recipes.url", "")
	v.SetDefault("recipes.command", "")
	v.SetDefault("recipes.budget", "4s")
	v.SetDefault("recipes.max_results", 3)
	v.SetDefault("recipes.connect_timeout", "5s")

	v.SetDefault("log.level", "info")
}

// Load loads the configuration from config.yaml (or the file named by CONFIG_PATH),
// applying defaults and HUDDLE_* environment overrides.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("huddle")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, err
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Location resolves the configured default timezone, falling back to UTC.
func (c AssistantConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
