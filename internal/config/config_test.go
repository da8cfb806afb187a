package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const validYAML = `
llm:
  default_provider: local
  default_model: llama3.2
  providers:
    - name: local
      type: ollama
      models:
        - llama3.2
mcp:
  transport: stdio
  command: kubectl-mcp
store:
  backend: memory
`

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	cfg, err := LoadFromFile(writeConfigFile(t, validYAML))
	require.NoError(t, err)

	require.Equal(t, "local", cfg.LLM.DefaultProvider)
	require.Equal(t, "llama3.2", cfg.LLM.DefaultModel)
	// Defaults survive partial files.
	require.Equal(t, 10, cfg.Session.MaxPerUser)
	require.InDelta(t, 0.8, cfg.Memory.SummarizeThreshold, 1e-9)
	require.Equal(t, 4, cfg.Memory.KeepRecent)
}

func TestLoadFromFileExpandsEnv(t *testing.T) {
	t.Setenv("KUBECHAT_TEST_KEY", "sk-from-env")

	yaml := `
llm:
  providers:
    - name: claude
      type: anthropic
      api_key: ${KUBECHAT_TEST_KEY}
      models:
        - claude-sonnet-4-20250514
mcp:
  transport: http
  url: http://localhost:8931/mcp
`
	cfg, err := LoadFromFile(writeConfigFile(t, yaml))
	require.NoError(t, err)
	require.Equal(t, "sk-from-env", cfg.LLM.Providers[0].APIKey)
}

func TestValidateFailures(t *testing.T) {
	base := func() *Config {
		cfg := DefaultConfig()
		cfg.LLM.Providers = []ProviderConfig{{Name: "local", Type: "ollama", Models: []string{"llama3.2"}}}
		cfg.MCP.Command = "kubectl-mcp"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"no providers", func(c *Config) { c.LLM.Providers = nil }, "at least one provider"},
		{"provider missing type", func(c *Config) { c.LLM.Providers[0].Type = "" }, "type is required"},
		{"provider missing models", func(c *Config) { c.LLM.Providers[0].Models = nil }, "at least one model"},
		{"unknown default provider", func(c *Config) { c.LLM.DefaultProvider = "missing" }, "not in the provider catalog"},
		{"stdio without command", func(c *Config) { c.MCP.Command = "" }, "mcp.command is required"},
		{"http without url", func(c *Config) { c.MCP.Transport = "http" }, "mcp.url is required"},
		{"unknown store", func(c *Config) { c.Store.Backend = "dynamo" }, "unknown store backend"},
		{"file store without path", func(c *Config) { c.Store.Backend = "file" }, "store.path is required"},
		{"bad threshold", func(c *Config) { c.Memory.SummarizeThreshold = 1.5 }, "summarize_threshold"},
		{"zero cap", func(c *Config) { c.Session.MaxPerUser = 0 }, "max_per_user"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestProviderLookup(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.Providers = []ProviderConfig{
		{Name: "claude", Type: "anthropic", Models: []string{"claude-sonnet-4-20250514"}},
		{Name: "local", Type: "ollama", Models: []string{"llama3.2"}},
	}

	p, ok := cfg.Provider("local")
	require.True(t, ok)
	require.Equal(t, "ollama", p.Type)

	_, ok = cfg.Provider("nope")
	require.False(t, ok)
}
