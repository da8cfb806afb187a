package llm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/kubechat/kubechat/pkg/errors"
	"github.com/kubechat/kubechat/pkg/provider"
	"github.com/kubechat/kubechat/pkg/types"
)

// Binding is one resolved provider/model/temperature selection.
// Model identity is immutable; changing model or provider means building
// a new Binding. Temperature can be adjusted in place.
type Binding struct {
	provider     provider.Provider
	providerName string
	model        string
	client       *http.Client

	mu          sync.RWMutex
	temperature float64
}

// ModelKey identifies the bound model as provider/model.
// Temperature is deliberately excluded.
func (b *Binding) ModelKey() string {
	return b.providerName + "/" + b.model
}

// Provider returns the configured provider name.
func (b *Binding) Provider() string {
	return b.providerName
}

// Model returns the bound model name.
func (b *Binding) Model() string {
	return b.model
}

// Temperature returns the current sampling temperature.
func (b *Binding) Temperature() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.temperature
}

// SetTemperature adjusts the sampling temperature without rebinding.
func (b *Binding) SetTemperature(t float64) {
	b.mu.Lock()
	b.temperature = t
	b.mu.Unlock()
}

// Generate issues a streaming chat completion and returns the stream.
// The caller owns the stream and must Close it. Failures are not retried.
func (b *Binding) Generate(ctx context.Context, messages []types.ChatMessage, tools []types.Tool) (*Stream, error) {
	temp := b.Temperature()
	req := &types.ChatRequest{
		Model:       b.model,
		Messages:    messages,
		Stream:      true,
		Temperature: &temp,
		Tools:       tools,
	}

	resp, err := b.do(ctx, req)
	if err != nil {
		return nil, err
	}
	return newStream(resp.Body, b.provider), nil
}

// Complete issues a non-streaming chat completion and returns the first
// choice message text. Used for memory extraction and summarization.
func (b *Binding) Complete(ctx context.Context, messages []types.ChatMessage) (string, error) {
	temp := b.Temperature()
	req := &types.ChatRequest{
		Model:       b.model,
		Messages:    messages,
		Temperature: &temp,
	}

	resp, err := b.do(ctx, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	parsed, err := b.provider.ParseResponse(resp)
	if err != nil {
		return "", errors.NewGenerationError("llm.complete", err.Error()).WithCause(err)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.NewGenerationError("llm.complete", "response contained no choices")
	}
	return parsed.Choices[0].Message.TextContent(), nil
}

func (b *Binding) do(ctx context.Context, req *types.ChatRequest) (*http.Response, error) {
	httpReq, err := b.provider.BuildRequest(ctx, req)
	if err != nil {
		if errors.KindOf(err) != "" {
			return nil, err
		}
		return nil, errors.NewGenerationError("llm.request", err.Error()).WithCause(err)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, errors.NewGenerationError("llm.request",
			fmt.Sprintf("%s: %v", b.ModelKey(), err)).WithCause(err)
	}

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, b.provider.MapError(resp.StatusCode, body)
	}

	return resp, nil
}
