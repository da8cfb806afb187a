package anthropic

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/kubechat/kubechat/pkg/errors"
	"github.com/kubechat/kubechat/pkg/provider"
	"github.com/kubechat/kubechat/pkg/types"
)

func TestNewFromConfigRequiresAPIKey(t *testing.T) {
	_, err := NewFromConfig(provider.Config{Type: "anthropic"})
	require.Error(t, err)
	require.Equal(t, errors.KindConfig, errors.KindOf(err))

	p, err := NewFromConfig(provider.Config{Type: "anthropic", APIKey: "sk-test"})
	require.NoError(t, err)
	require.Equal(t, "anthropic", p.Name())
}

func TestSupportsModel(t *testing.T) {
	p := New(WithAPIKey("k"), WithModels("claude-sonnet-4-20250514"))
	require.True(t, p.SupportsModel("claude-sonnet-4-20250514"))
	require.True(t, p.SupportsModel("claude-3-5-haiku-20241022"))
	require.False(t, p.SupportsModel("gpt-4o"))
}

func TestBuildRequestTranslatesMessages(t *testing.T) {
	p := New(WithAPIKey("sk-test"))

	temp := 0.2
	req := &types.ChatRequest{
		Model:       "claude-sonnet-4-20250514",
		Temperature: &temp,
		Messages: []types.ChatMessage{
			types.TextMessage("system", "You are a Kubernetes operations assistant."),
			types.TextMessage("user", "scale deployment web to 3 replicas"),
		},
		Tools: []types.Tool{{
			Type: "function",
			Function: types.ToolFunction{
				Name:       "kubectl_scale",
				Parameters: json.RawMessage(`{"type":"object","properties":{"replicas":{"type":"integer"}}}`),
			},
		}},
	}

	httpReq, err := p.BuildRequest(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "sk-test", httpReq.Header.Get("x-api-key"))
	require.Equal(t, DefaultAPIVersion, httpReq.Header.Get("anthropic-version"))
	require.Contains(t, httpReq.URL.Path, "/v1/messages")

	body, err := io.ReadAll(httpReq.Body)
	require.NoError(t, err)

	var native map[string]any
	require.NoError(t, json.Unmarshal(body, &native))
	require.Equal(t, "You are a Kubernetes operations assistant.", native["system"])
	require.Equal(t, float64(DefaultMaxTokens), native["max_tokens"])
	require.Len(t, native["messages"], 1)
	require.Len(t, native["tools"], 1)
}

func TestBuildRequestToolResultBecomesUserBlock(t *testing.T) {
	p := New(WithAPIKey("sk-test"))

	req := &types.ChatRequest{
		Model: "claude-sonnet-4-20250514",
		Messages: []types.ChatMessage{
			{
				Role:    "assistant",
				Content: json.RawMessage(`""`),
				ToolCalls: []types.ToolCall{{
					ID:   "toolu_1",
					Type: "function",
					Function: types.ToolCallFunction{
						Name:      "kubectl_get",
						Arguments: `{"resource":"pods"}`,
					},
				}},
			},
			{
				Role:       "tool",
				Content:    json.RawMessage(`"3 pods running"`),
				ToolCallID: "toolu_1",
			},
		},
	}

	httpReq, err := p.BuildRequest(context.Background(), req)
	require.NoError(t, err)

	body, err := io.ReadAll(httpReq.Body)
	require.NoError(t, err)

	var native struct {
		Messages []struct {
			Role    string `json:"role"`
			Content []struct {
				Type      string `json:"type"`
				ToolUseID string `json:"tool_use_id"`
				Content   string `json:"content"`
			} `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(body, &native))
	require.Len(t, native.Messages, 2)
	require.Equal(t, "assistant", native.Messages[0].Role)
	require.Equal(t, "tool_use", native.Messages[0].Content[0].Type)
	require.Equal(t, "user", native.Messages[1].Role)
	require.Equal(t, "tool_result", native.Messages[1].Content[0].Type)
	require.Equal(t, "toolu_1", native.Messages[1].Content[0].ToolUseID)
	require.Equal(t, "3 pods running", native.Messages[1].Content[0].Content)
}

func TestParseResponseWithToolUse(t *testing.T) {
	p := New(WithAPIKey("k"))

	raw := `{
		"id": "msg_01",
		"role": "assistant",
		"model": "claude-sonnet-4-20250514",
		"stop_reason": "tool_use",
		"content": [
			{"type": "text", "text": "Checking pods."},
			{"type": "tool_use", "id": "toolu_9", "name": "kubectl_get", "input": {"resource": "pods"}}
		],
		"usage": {"input_tokens": 12, "output_tokens": 7}
	}`

	resp := &http.Response{Body: io.NopCloser(bytes.NewReader([]byte(raw)))}
	parsed, err := p.ParseResponse(resp)
	require.NoError(t, err)
	require.Len(t, parsed.Choices, 1)

	choice := parsed.Choices[0]
	require.Equal(t, "tool_calls", choice.FinishReason)
	require.Equal(t, "Checking pods.", choice.Message.TextContent())
	require.Len(t, choice.Message.ToolCalls, 1)
	require.Equal(t, "kubectl_get", choice.Message.ToolCalls[0].Function.Name)
	require.JSONEq(t, `{"resource":"pods"}`, choice.Message.ToolCalls[0].Function.Arguments)
	require.Equal(t, 19, parsed.Usage.TotalTokens)
}

func TestParseStreamChunk(t *testing.T) {
	p := New(WithAPIKey("k"))

	tests := []struct {
		name    string
		line    string
		content string
		finish  string
		skipped bool
	}{
		{
			name:    "text delta",
			line:    `data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"hel"}}`,
			content: "hel",
		},
		{
			name:   "stop reason",
			line:   `data: {"type":"message_delta","delta":{"stop_reason":"end_turn"}}`,
			finish: "stop",
		},
		{name: "event line", line: `event: content_block_delta`, skipped: true},
		{name: "ping", line: `data: {"type":"ping"}`, skipped: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunk, err := p.ParseStreamChunk([]byte(tt.line))
			require.NoError(t, err)
			if tt.skipped {
				require.Nil(t, chunk)
				return
			}
			require.NotNil(t, chunk)
			if tt.content != "" {
				require.Equal(t, tt.content, chunk.Choices[0].Delta.Content)
			}
			if tt.finish != "" {
				require.Equal(t, tt.finish, chunk.Choices[0].FinishReason)
			}
		})
	}
}

func TestParseStreamChunkToolUse(t *testing.T) {
	p := New(WithAPIKey("k"))

	start := `data: {"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_5","name":"kubectl_get"}}`
	chunk, err := p.ParseStreamChunk([]byte(start))
	require.NoError(t, err)
	require.NotNil(t, chunk)
	tc := chunk.Choices[0].Delta.ToolCalls[0]
	require.Equal(t, 1, *tc.Index)
	require.Equal(t, "toolu_5", tc.ID)
	require.Equal(t, "kubectl_get", tc.Function.Name)

	delta := `data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"resource\":"}}`
	chunk, err = p.ParseStreamChunk([]byte(delta))
	require.NoError(t, err)
	require.NotNil(t, chunk)
	require.Equal(t, `{"resource":`, chunk.Choices[0].Delta.ToolCalls[0].Function.Arguments)
}

func TestMapError(t *testing.T) {
	p := New(WithAPIKey("k"))

	err := p.MapError(http.StatusUnauthorized, []byte(`{"error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	require.Equal(t, errors.KindConfig, errors.KindOf(err))
	require.Contains(t, err.Error(), "invalid x-api-key")

	err = p.MapError(http.StatusInternalServerError, []byte(`{}`))
	require.Equal(t, errors.KindGeneration, errors.KindOf(err))
}
