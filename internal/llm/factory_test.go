package llm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kubechat/kubechat/internal/config"
	"github.com/kubechat/kubechat/pkg/errors"
)

func catalog() config.LLMConfig {
	return config.LLMConfig{
		DefaultProvider: "local",
		DefaultModel:    "llama3.2",
		Providers: []config.ProviderConfig{
			{Name: "local", Type: "ollama", Models: []string{"llama3.2", "nomic-embed-text"}},
			{Name: "claude", Type: "anthropic", APIKey: "sk-test", Models: []string{"claude-sonnet-4-20250514"}},
			{Name: "claude-nokey", Type: "anthropic", Models: []string{"claude-sonnet-4-20250514"}},
		},
	}
}

func TestBindValidSelection(t *testing.T) {
	f := NewFactory(catalog())

	b, err := f.Bind("local", "llama3.2", 0.5)
	require.NoError(t, err)
	require.Equal(t, "local/llama3.2", b.ModelKey())
	require.InDelta(t, 0.5, b.Temperature(), 1e-9)
}

func TestBindUnknownProvider(t *testing.T) {
	f := NewFactory(catalog())

	_, err := f.Bind("bedrock", "titan", 0)
	require.Equal(t, errors.KindConfig, errors.KindOf(err))
	require.Contains(t, err.Error(), "not in the catalog")
}

func TestBindUnknownModel(t *testing.T) {
	f := NewFactory(catalog())

	_, err := f.Bind("local", "gpt-4o", 0)
	require.Equal(t, errors.KindConfig, errors.KindOf(err))
}

func TestBindMissingCredentials(t *testing.T) {
	f := NewFactory(catalog())

	_, err := f.Bind("claude-nokey", "claude-sonnet-4-20250514", 0)
	require.Equal(t, errors.KindConfig, errors.KindOf(err))
	require.Contains(t, err.Error(), "api key is required")
}

func TestTemperatureAdjustsWithoutRebind(t *testing.T) {
	f := NewFactory(catalog())

	b, err := f.Bind("local", "llama3.2", 0.7)
	require.NoError(t, err)

	key := b.ModelKey()
	b.SetTemperature(0.1)
	require.InDelta(t, 0.1, b.Temperature(), 1e-9)
	require.Equal(t, key, b.ModelKey())
}

func TestEmbedderRequiresSupport(t *testing.T) {
	f := NewFactory(catalog())

	e, err := f.Embedder("local", "nomic-embed-text")
	require.NoError(t, err)
	require.Equal(t, "nomic-embed-text", e.Model())

	// The anthropic adapter has no embeddings endpoint.
	_, err = f.Embedder("claude", "claude-sonnet-4-20250514")
	require.Equal(t, errors.KindConfig, errors.KindOf(err))
}
