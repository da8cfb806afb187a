// Package openai provides the OpenAI provider adapter.
// OpenAI speaks its own dialect natively, so this is a thin wrapper
// around the shared openailike base.
package openai

import (
	"github.com/kubechat/kubechat/pkg/provider"
	"github.com/kubechat/kubechat/providers/openailike"
)

const (
	// ProviderName is the identifier for this provider.
	ProviderName = "openai"

	// DefaultBaseURL is the default OpenAI API endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"
)

var providerInfo = openailike.Info{
	Name:           ProviderName,
	DefaultBaseURL: DefaultBaseURL,
	RequiresAPIKey: true,
	ModelPrefixes:  []string{"gpt-", "o1-", "o3-", "text-embedding-"},
}

// Provider implements the OpenAI API adapter.
type Provider struct{ *openailike.Provider }

// New creates an OpenAI provider with the given options.
func New(opts ...openailike.Option) *Provider {
	return &Provider{Provider: openailike.New(providerInfo, opts...)}
}

// NewFromConfig creates a provider from configuration.
func NewFromConfig(cfg provider.Config) (provider.Provider, error) {
	return openailike.NewFromConfig(providerInfo, cfg)
}
