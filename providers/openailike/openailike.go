// Package openailike provides a base implementation for OpenAI-compatible
// providers. OpenAI and Ollama both speak this dialect; the thin wrappers
// in their own packages only differ in endpoint and authentication details.
package openailike

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/kubechat/kubechat/pkg/errors"
	"github.com/kubechat/kubechat/pkg/provider"
	"github.com/kubechat/kubechat/pkg/types"
)

// Info contains the per-provider knobs for the shared implementation.
type Info struct {
	// Name is the provider identifier (e.g. "openai", "ollama").
	Name string

	// DefaultBaseURL is the default API endpoint.
	DefaultBaseURL string

	// RequiresAPIKey rejects construction without a key when set.
	RequiresAPIKey bool

	// ChatEndpoint is the chat completions path. Default: "/chat/completions".
	ChatEndpoint string

	// EmbeddingEndpoint is the embeddings path. Default: "/embeddings".
	EmbeddingEndpoint string

	// ModelPrefixes identify models served by this provider when they are
	// not in the explicit model list.
	ModelPrefixes []string
}

// Provider implements a generic OpenAI-compatible adapter.
type Provider struct {
	info    Info
	apiKey  string
	baseURL string
	models  []string
	headers map[string]string
}

// New creates an OpenAI-like provider instance.
func New(info Info, opts ...Option) *Provider {
	p := &Provider{
		info:    info,
		baseURL: info.DefaultBaseURL,
		headers: make(map[string]string),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewFromConfig creates a provider from configuration.
// Construction fails when the provider requires an API key and none is set.
func NewFromConfig(info Info, cfg provider.Config) (provider.Provider, error) {
	p := New(info,
		WithAPIKey(cfg.APIKey),
		WithBaseURL(cfg.BaseURL),
		WithModels(cfg.Models...),
	)
	for k, v := range cfg.Headers {
		p.headers[k] = v
	}
	if info.RequiresAPIKey && p.apiKey == "" {
		return nil, errors.NewConfigError("provider.new",
			fmt.Sprintf("%s: api key is required", info.Name))
	}
	return p, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return p.info.Name
}

// SupportsModel checks the explicit model list, then the prefix list.
func (p *Provider) SupportsModel(model string) bool {
	for _, m := range p.models {
		if m == model {
			return true
		}
	}
	for _, prefix := range p.info.ModelPrefixes {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

// BuildRequest creates an HTTP request for the chat completions API.
func (p *Provider) BuildRequest(ctx context.Context, req *types.ChatRequest) (*http.Request, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := p.info.ChatEndpoint
	if endpoint == "" {
		endpoint = "/chat/completions"
	}

	url := strings.TrimSuffix(p.baseURL, "/") + endpoint
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	p.setHeaders(httpReq)
	return httpReq, nil
}

func (p *Provider) setHeaders(httpReq *http.Request) {
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	for k, v := range p.headers {
		httpReq.Header.Set(k, v)
	}
}

// ParseResponse decodes an OpenAI-format chat completion response.
func (p *Provider) ParseResponse(resp *http.Response) (*types.ChatResponse, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var chatResp types.ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &chatResp, nil
}

// ParseStreamChunk parses a single SSE line.
func (p *Provider) ParseStreamChunk(data []byte) (*types.StreamChunk, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("[DONE]")) {
		return nil, nil
	}

	if bytes.HasPrefix(trimmed, []byte("data: ")) {
		trimmed = bytes.TrimPrefix(trimmed, []byte("data: "))
	}
	if bytes.Equal(trimmed, []byte("[DONE]")) {
		return nil, nil
	}

	var chunk types.StreamChunk
	if err := json.Unmarshal(trimmed, &chunk); err != nil {
		return nil, fmt.Errorf("unmarshal chunk: %w", err)
	}
	return &chunk, nil
}

// MapError converts an OpenAI-format error body to a standardized error.
func (p *Provider) MapError(statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}

	message := "unknown error"
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	return mapStatus(p.info.Name, statusCode, message)
}

// mapStatus classifies a provider HTTP failure. Auth and bad-request
// failures point at configuration; everything else is a generation failure.
func mapStatus(providerName string, statusCode int, message string) error {
	msg := fmt.Sprintf("%s: %s", providerName, message)
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.NewConfigError("provider.auth", msg)
	case http.StatusNotFound:
		return errors.NewNotFoundError("provider.request", msg)
	default:
		return errors.NewGenerationError("provider.request",
			fmt.Sprintf("%s (status %d)", msg, statusCode))
	}
}

// BuildEmbeddingRequest creates an HTTP request for the embeddings API.
func (p *Provider) BuildEmbeddingRequest(ctx context.Context, req *types.EmbeddingRequest) (*http.Request, error) {
	if len(req.Input) == 0 {
		return nil, errors.NewConfigError("provider.embed", "embedding input is empty")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := p.info.EmbeddingEndpoint
	if endpoint == "" {
		endpoint = "/embeddings"
	}

	url := strings.TrimSuffix(p.baseURL, "/") + endpoint
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	p.setHeaders(httpReq)
	return httpReq, nil
}

// ParseEmbeddingResponse decodes an OpenAI-format embeddings response.
func (p *Provider) ParseEmbeddingResponse(resp *http.Response) (*types.EmbeddingResponse, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var embResp types.EmbeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &embResp, nil
}
