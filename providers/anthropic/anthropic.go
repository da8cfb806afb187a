// Package anthropic provides the Anthropic Claude provider adapter.
// It translates between the unified OpenAI-style format and Anthropic's
// Messages API, including tool use blocks and SSE stream events.
package anthropic

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

const (
	// ProviderName is the identifier for this provider.
	ProviderName = "anthropic"

	// DefaultBaseURL is the default Anthropic API endpoint.
	DefaultBaseURL = "https://api.anthropic.com"

	// DefaultAPIVersion is the anthropic-version header value.
	DefaultAPIVersion = "2023-06-01"

	// DefaultMaxTokens applies when the request does not set max_tokens.
	// Anthropic requires the field.
	DefaultMaxTokens = 4096
)

// Provider implements the Anthropic Messages API adapter.
type Provider struct {
	apiKey     string
	baseURL    string
	apiVersion string
	models     []string
	headers    map[string]string
}

// New creates an Anthropic provider with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{
		baseURL:    DefaultBaseURL,
		apiVersion: DefaultAPIVersion,
		headers:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewFromConfig creates a provider from configuration.
// Anthropic always requires an API key.
func NewFromConfig(cfg provider.Config) (provider.Provider, error) {
	p := New(
		WithAPIKey(cfg.APIKey),
		WithBaseURL(cfg.BaseURL),
		WithModels(cfg.Models...),
	)
	for k, v := range cfg.Headers {
		p.headers[k] = v
	}
	if p.apiKey == "" {
		return nil, errors.NewConfigError("provider.new", "anthropic: api key is required")
	}
	return p, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return ProviderName
}

// SupportsModel checks the explicit model list, then the claude- prefix.
func (p *Provider) SupportsModel(model string) bool {
	for _, m := range p.models {
		if m == model {
			return true
		}
	}
	return strings.HasPrefix(model, "claude-")
}

type messagesRequest struct {
	Model         string          `json:"model"`
	Messages      []message       `json:"messages"`
	MaxTokens     int             `json:"max_tokens"`
	System        string          `json:"system,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	Tools         []toolDef       `json:"tools,omitempty"`
	ToolChoice    json.RawMessage `json:"tool_choice,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentBlock struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Input     any    `json:"input,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type toolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type messagesResponse struct {
	ID         string         `json:"id"`
	Role       string         `json:"role"`
	Content    []contentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      usage          `json:"usage"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// BuildRequest creates an HTTP request for the Messages API.
func (p *Provider) BuildRequest(ctx context.Context, req *types.ChatRequest) (*http.Request, error) {
	native, err := toMessagesRequest(req)
	if err != nil {
		return nil, fmt.Errorf("transform request: %w", err)
	}

	body, err := json.Marshal(native)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimSuffix(p.baseURL, "/") + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", p.apiVersion)
	for k, v := range p.headers {
		httpReq.Header.Set(k, v)
	}

	return httpReq, nil
}

func toMessagesRequest(req *types.ChatRequest) (*messagesRequest, error) {
	native := &messagesRequest{
		Model:         req.Model,
		MaxTokens:     DefaultMaxTokens,
		Stream:        req.Stream,
		Temperature:   req.Temperature,
		StopSequences: req.Stop,
	}
	if req.MaxTokens > 0 {
		native.MaxTokens = req.MaxTokens
	}

	for _, msg := range req.Messages {
		switch {
		case msg.Role == "system":
			native.System += msg.TextContent()

		case msg.Role == "assistant" && len(msg.ToolCalls) > 0:
			blocks := make([]contentBlock, 0, len(msg.ToolCalls)+1)
			if text := msg.TextContent(); text != "" && text != "null" {
				blocks = append(blocks, contentBlock{Type: "text", Text: text})
			}
			for _, tc := range msg.ToolCalls {
				var input any
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
					input = tc.Function.Arguments
				}
				blocks = append(blocks, contentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Function.Name,
					Input: input,
				})
			}
			native.Messages = append(native.Messages, message{Role: "assistant", Content: blocks})

		case msg.Role == "tool":
			// Tool results travel back as user-role tool_result blocks.
			native.Messages = append(native.Messages, message{
				Role: "user",
				Content: []contentBlock{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.TextContent(),
				}},
			})

		default:
			native.Messages = append(native.Messages, message{Role: msg.Role, Content: msg.TextContent()})
		}
	}

	for _, tool := range req.Tools {
		if tool.Type != "function" {
			continue
		}
		schema := tool.Function.Parameters
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		native.Tools = append(native.Tools, toolDef{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			InputSchema: schema,
		})
	}

	return native, nil
}

// ParseResponse transforms a Messages API response into the unified format.
func (p *Provider) ParseResponse(resp *http.Response) (*types.ChatResponse, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var native messagesResponse
	if err := json.Unmarshal(body, &native); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	var text string
	var toolCalls []types.ToolCall
	for _, block := range native.Content {
		switch block.Type {
		case "text":
			text += block.Text
		case "tool_use":
			args, err := json.Marshal(block.Input)
			if err != nil {
				args = []byte("{}")
			}
			toolCalls = append(toolCalls, types.ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: types.ToolCallFunction{
					Name:      block.Name,
					Arguments: string(args),
				},
			})
		}
	}

	msg := types.TextMessage("assistant", text)
	msg.ToolCalls = toolCalls

	return &types.ChatResponse{
		ID:     native.ID,
		Object: "chat.completion",
		Model:  native.Model,
		Choices: []types.Choice{{
			Message:      msg,
			FinishReason: mapStopReason(native.StopReason),
		}},
		Usage: &types.Usage{
			PromptTokens:     native.Usage.InputTokens,
			CompletionTokens: native.Usage.OutputTokens,
			TotalTokens:      native.Usage.InputTokens + native.Usage.OutputTokens,
		},
	}, nil
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return reason
	}
}

// ParseStreamChunk parses one Anthropic SSE event line.
// Text deltas become content chunks, tool_use blocks become indexed
// tool call deltas so the stream accumulator can merge them.
func (p *Provider) ParseStreamChunk(data []byte) (*types.StreamChunk, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.HasPrefix(trimmed, []byte("event:")) {
		return nil, nil
	}
	if bytes.HasPrefix(trimmed, []byte("data: ")) {
		trimmed = bytes.TrimPrefix(trimmed, []byte("data: "))
	}
	if bytes.Equal(trimmed, []byte("[DONE]")) {
		return nil, nil
	}

	var event struct {
		Type    string `json:"type"`
		Index   int    `json:"index"`
		Message struct {
			ID    string `json:"id"`
			Model string `json:"model"`
		} `json:"message"`
		ContentBlock struct {
			Type string `json:"type"`
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"content_block"`
		Delta struct {
			Type        string `json:"type"`
			Text        string `json:"text"`
			PartialJSON string `json:"partial_json"`
			StopReason  string `json:"stop_reason"`
		} `json:"delta"`
	}
	if err := json.Unmarshal(trimmed, &event); err != nil {
		return nil, nil
	}

	switch event.Type {
	case "message_start":
		return &types.StreamChunk{
			ID:     event.Message.ID,
			Object: "chat.completion.chunk",
			Model:  event.Message.Model,
			Choices: []types.StreamChoice{{
				Delta: types.StreamDelta{Role: "assistant"},
			}},
		}, nil

	case "content_block_start":
		if event.ContentBlock.Type != "tool_use" {
			return nil, nil
		}
		idx := event.Index
		return &types.StreamChunk{
			Object: "chat.completion.chunk",
			Choices: []types.StreamChoice{{
				Delta: types.StreamDelta{ToolCalls: []types.ToolCall{{
					Index: &idx,
					ID:    event.ContentBlock.ID,
					Type:  "function",
					Function: types.ToolCallFunction{
						Name: event.ContentBlock.Name,
					},
				}}},
			}},
		}, nil

	case "content_block_delta":
		switch event.Delta.Type {
		case "text_delta":
			return &types.StreamChunk{
				Object: "chat.completion.chunk",
				Choices: []types.StreamChoice{{
					Delta: types.StreamDelta{Content: event.Delta.Text},
				}},
			}, nil
		case "input_json_delta":
			idx := event.Index
			return &types.StreamChunk{
				Object: "chat.completion.chunk",
				Choices: []types.StreamChoice{{
					Delta: types.StreamDelta{ToolCalls: []types.ToolCall{{
						Index: &idx,
						Function: types.ToolCallFunction{
							Arguments: event.Delta.PartialJSON,
						},
					}}},
				}},
			}, nil
		}
		return nil, nil

	case "message_delta":
		if event.Delta.StopReason == "" {
			return nil, nil
		}
		return &types.StreamChunk{
			Object: "chat.completion.chunk",
			Choices: []types.StreamChoice{{
				FinishReason: mapStopReason(event.Delta.StopReason),
			}},
		}, nil
	}

	return nil, nil
}

// MapError converts an Anthropic error response to a standardized error.
func (p *Provider) MapError(statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}

	message := "unknown error"
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	msg := fmt.Sprintf("anthropic: %s", message)
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
