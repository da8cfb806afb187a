// Package llm binds configured provider/model selections to concrete
// adapters and exposes streaming generation, one-shot completion, and
// embeddings on top of them.
package llm

import (
	"fmt"
	"net/http"
	"time"

	"github.com/kubechat/kubechat/internal/config"
	"github.com/kubechat/kubechat/pkg/errors"
	"github.com/kubechat/kubechat/pkg/provider"
	"github.com/kubechat/kubechat/providers"
)

// DefaultTimeout bounds a single provider HTTP call when the
// configuration does not set one.
const DefaultTimeout = 120 * time.Second

// Factory validates model selections against the provider catalog and
// builds bindings for them.
type Factory struct {
	cfg    config.LLMConfig
	client *http.Client
}

// NewFactory creates a factory over the given catalog.
func NewFactory(cfg config.LLMConfig) *Factory {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Factory{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// Bind resolves providerName/model against the catalog and returns a
// Binding for it. Unknown selections and missing credentials surface as
// configuration errors; nothing is retried here.
func (f *Factory) Bind(providerName, model string, temperature float64) (*Binding, error) {
	pc, adapter, err := f.adapter(providerName)
	if err != nil {
		return nil, err
	}

	if !modelAllowed(pc, model) {
		return nil, errors.NewConfigError("llm.bind",
			fmt.Sprintf("model %q is not in the catalog for provider %q", model, providerName))
	}

	return &Binding{
		provider:     adapter,
		providerName: providerName,
		model:        model,
		temperature:  temperature,
		client:       f.client,
	}, nil
}

// Embedder builds an embedding client for the given provider and model.
// The provider must expose an embeddings endpoint.
func (f *Factory) Embedder(providerName, model string) (*Embedder, error) {
	_, adapter, err := f.adapter(providerName)
	if err != nil {
		return nil, err
	}

	emb, ok := adapter.(provider.Embedder)
	if !ok {
		return nil, errors.NewConfigError("llm.embedder",
			fmt.Sprintf("provider %q does not support embeddings", providerName))
	}

	return newEmbedder(emb, providerName, model, f.client), nil
}

func (f *Factory) adapter(providerName string) (*config.ProviderConfig, provider.Provider, error) {
	var pc *config.ProviderConfig
	for i := range f.cfg.Providers {
		if f.cfg.Providers[i].Name == providerName {
			pc = &f.cfg.Providers[i]
			break
		}
	}
	if pc == nil {
		return nil, nil, errors.NewConfigError("llm.bind",
			fmt.Sprintf("provider %q is not in the catalog", providerName))
	}

	adapter, err := providers.Create(provider.Config{
		Name:    pc.Name,
		Type:    pc.Type,
		APIKey:  pc.APIKey,
		BaseURL: pc.BaseURL,
		Models:  pc.Models,
		Headers: pc.Headers,
	})
	if err != nil {
		if errors.KindOf(err) != "" {
			return nil, nil, err
		}
		return nil, nil, errors.NewConfigError("llm.bind", err.Error()).WithCause(err)
	}

	return pc, adapter, nil
}

func modelAllowed(pc *config.ProviderConfig, model string) bool {
	for _, m := range pc.Models {
		if m == model {
			return true
		}
	}
	return false
}
