// Package provider defines the interface for LLM provider adapters.
// Each provider (Anthropic, OpenAI, Ollama) implements this interface to
// handle request building and response parsing against its native API.
package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/kubechat/kubechat/pkg/types"
)

// Provider is the adapter contract for a single LLM backend.
type Provider interface {
	// Name returns the provider identifier (e.g. "anthropic", "ollama").
	Name() string

	// SupportsModel checks if the provider can serve the given model.
	SupportsModel(model string) bool

	// BuildRequest transforms a unified ChatRequest into a provider-specific
	// HTTP request, including headers and body serialization.
	BuildRequest(ctx context.Context, req *types.ChatRequest) (*http.Request, error)

	// ParseResponse transforms a provider response into the unified format.
	ParseResponse(resp *http.Response) (*types.ChatResponse, error)

	// ParseStreamChunk parses one SSE line from a streaming response.
	// Returns nil, nil for keep-alive and non-content events.
	ParseStreamChunk(data []byte) (*types.StreamChunk, error)

	// MapError converts a provider error response into a standardized error.
	MapError(statusCode int, body []byte) error
}

// Embedder is implemented by providers that expose an embeddings endpoint.
type Embedder interface {
	// BuildEmbeddingRequest creates an HTTP request for the embedding API.
	BuildEmbeddingRequest(ctx context.Context, req *types.EmbeddingRequest) (*http.Request, error)

	// ParseEmbeddingResponse transforms the response into the unified format.
	ParseEmbeddingResponse(resp *http.Response) (*types.EmbeddingResponse, error)
}

// Config carries provider construction parameters from configuration.
type Config struct {
	Name    string
	Type    string
	APIKey  string
	BaseURL string
	Models  []string
	Timeout time.Duration
	Headers map[string]string
}

// Factory creates provider instances from configuration.
type Factory func(cfg Config) (Provider, error)
