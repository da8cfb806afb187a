// Package providers maintains the registry of built-in provider adapters
// so bindings can be created from configuration by provider type name.
package providers

import (
	"fmt"
	"sync"

	"github.com/kubechat/kubechat/pkg/provider"
	"github.com/kubechat/kubechat/providers/anthropic"
	"github.com/kubechat/kubechat/providers/ollama"
	"github.com/kubechat/kubechat/providers/openai"
)

var (
	registry     = make(map[string]provider.Factory)
	registryOnce sync.Once
	registryMu   sync.RWMutex
)

// Register registers a provider factory under the given type name.
func Register(providerType string, factory provider.Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[providerType] = factory
}

// Create creates a provider instance from configuration.
func Create(cfg provider.Config) (provider.Provider, error) {
	registryMu.RLock()
	factory, ok := registry[cfg.Type]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown provider type: %s (available: %v)", cfg.Type, List())
	}
	return factory(cfg)
}

// List returns all registered provider type names.
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

// RegisterBuiltins registers the built-in provider factories.
// Called automatically on first use.
func RegisterBuiltins() {
	registryOnce.Do(func() {
		Register("anthropic", anthropic.NewFromConfig)
		Register("openai", openai.NewFromConfig)
		Register("ollama", ollama.NewFromConfig)
	})
}

func init() {
	RegisterBuiltins()
}
