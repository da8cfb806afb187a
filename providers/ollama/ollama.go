// Package ollama provides the Ollama provider adapter for local models.
// Ollama exposes an OpenAI-compatible endpoint and needs no API key.
package ollama

import (
	"github.com/kubechat/kubechat/pkg/provider"
	"github.com/kubechat/kubechat/providers/openailike"
)

const (
	// ProviderName is the identifier for this provider.
	ProviderName = "ollama"

	// DefaultBaseURL is the default local Ollama endpoint.
	DefaultBaseURL = "http://localhost:11434/v1"
)

var providerInfo = openailike.Info{
	Name:           ProviderName,
	DefaultBaseURL: DefaultBaseURL,
	ModelPrefixes:  []string{"llama", "mistral", "qwen", "gemma", "phi", "nomic-embed"},
}

// Provider implements the Ollama API adapter.
type Provider struct{ *openailike.Provider }

// New creates an Ollama provider with the given options.
func New(opts ...openailike.Option) *Provider {
	return &Provider{Provider: openailike.New(providerInfo, opts...)}
}

// NewFromConfig creates a provider from configuration.
func NewFromConfig(cfg provider.Config) (provider.Provider, error) {
	return openailike.NewFromConfig(providerInfo, cfg)
}
