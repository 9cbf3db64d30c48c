package config

import (
	"os"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `
llm:
  provider: openai
  base_url: https://api.example.com
  api_key: dummy
  model: gpt-4o
  timeout: 3s
server:
  host: 0.0.0.0
  port: "8080"
assistant:
  sender_id: huddle-bot
  timezone: America/Sao_Paulo
recipes:
  enabled: true
  type: stdio
  command: ./mock
  args: ["--flag"]
  env:
    FOO: bar
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	tmp, err := os.CreateTemp(t.TempDir(), "cfg-*.yaml")
	require.NoError(t, err)
	_, err = tmp.WriteString(body)
	require.NoError(t, err)
	require.NoError(t, tmp.Close())
	return tmp.Name()
}

// TestLoad_File verifies that Load unmarshals the yaml file and keeps defaults for the rest.
func TestLoad_File(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeConfig(t, sampleConfig))

	cfg, err := Load()
	require.NoError(t, err)

	require.True(t, cfg.LLM.Enabled())
	require.Equal(t, 3*time.Second, cfg.LLM.Timeout)
	require.Equal(t, 600, cfg.LLM.MaxTokens)
	require.Equal(t, "huddle-bot", cfg.Assistant.SenderID)
	require.Equal(t, 200, cfg.Assistant.MemoryWindow)
	require.Equal(t, "America/Sao_Paulo", cfg.Assistant.Location().String())

	r := cfg.Recipes
	require.True(t, r.Enabled)
	require.Equal(t, ClientTypeStdio, r.Type)
	require.Equal(t, "./mock", r.Command)
	require.Equal(t, []string{"--flag"}, r.Args)
	// viper lower-cases map keys
	require.Equal(t, "bar", r.Env["foo"])
	require.Equal(t, 4*time.Second, r.Budget)
	require.Equal(t, 5*time.Second, r.ConnectTimeout)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeConfig(t, sampleConfig))
	t.Setenv("HUDDLE_LLM_MODEL", "gpt-4o-mini")
	t.Setenv("HUDDLE_ASSISTANT_CONTEXT_TURNS", "4")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	require.Equal(t, 4, cfg.Assistant.ContextTurns)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", "/nonexistent/config.yaml")
	_, err := Load()
	require.Error(t, err)
}

func TestLocation_Invalid(t *testing.T) {
	require.Equal(t, time.UTC, AssistantConfig{Timezone: "Mars/Olympus"}.Location())
	require.Equal(t, time.UTC, AssistantConfig{}.Location())
}
