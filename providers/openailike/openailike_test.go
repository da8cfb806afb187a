package openailike

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

var testInfo = Info{
	Name:           "testprov",
	DefaultBaseURL: "https://api.test.example/v1",
	RequiresAPIKey: true,
	ModelPrefixes:  []string{"test-"},
}

func TestNewFromConfigEnforcesAPIKey(t *testing.T) {
	_, err := NewFromConfig(testInfo, provider.Config{})
	require.Equal(t, errors.KindConfig, errors.KindOf(err))

	noKey := testInfo
	noKey.RequiresAPIKey = false
	p, err := NewFromConfig(noKey, provider.Config{})
	require.NoError(t, err)
	require.Equal(t, "testprov", p.Name())
}

func TestBuildRequestHeadersAndBody(t *testing.T) {
	p := New(testInfo, WithAPIKey("sk-abc"), WithHeader("X-Custom", "yes"))

	req := &types.ChatRequest{
		Model:    "test-small",
		Messages: []types.ChatMessage{types.TextMessage("user", "hi")},
		Stream:   true,
	}

	httpReq, err := p.BuildRequest(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "Bearer sk-abc", httpReq.Header.Get("Authorization"))
	require.Equal(t, "yes", httpReq.Header.Get("X-Custom"))
	require.Equal(t, "https://api.test.example/v1/chat/completions", httpReq.URL.String())

	body, err := io.ReadAll(httpReq.Body)
	require.NoError(t, err)

	var decoded types.ChatRequest
	require.NoError(t, json.Unmarshal(body, &decoded))
	require.True(t, decoded.Stream)
	require.Equal(t, "test-small", decoded.Model)
}

func TestParseStreamChunkVariants(t *testing.T) {
	p := New(testInfo)

	chunk, err := p.ParseStreamChunk([]byte(`data: {"choices":[{"delta":{"content":"tok"}}]}`))
	require.NoError(t, err)
	require.Equal(t, "tok", chunk.Choices[0].Delta.Content)

	chunk, err = p.ParseStreamChunk([]byte("data: [DONE]"))
	require.NoError(t, err)
	require.Nil(t, chunk)

	chunk, err = p.ParseStreamChunk([]byte("   "))
	require.NoError(t, err)
	require.Nil(t, chunk)

	_, err = p.ParseStreamChunk([]byte("data: {not json"))
	require.Error(t, err)
}

func TestMapErrorClassification(t *testing.T) {
	p := New(testInfo)

	tests := []struct {
		status int
		kind   errors.Kind
	}{
		{http.StatusUnauthorized, errors.KindConfig},
		{http.StatusForbidden, errors.KindConfig},
		{http.StatusNotFound, errors.KindNotFound},
		{http.StatusTooManyRequests, errors.KindGeneration},
		{http.StatusInternalServerError, errors.KindGeneration},
	}

	for _, tt := range tests {
		err := p.MapError(tt.status, []byte(`{"error":{"message":"nope"}}`))
		require.Equal(t, tt.kind, errors.KindOf(err), "status %d", tt.status)
	}
}

func TestEmbeddingRoundTrip(t *testing.T) {
	p := New(testInfo, WithAPIKey("sk-abc"))

	_, err := p.BuildEmbeddingRequest(context.Background(), &types.EmbeddingRequest{Model: "test-embed"})
	require.Equal(t, errors.KindConfig, errors.KindOf(err))

	httpReq, err := p.BuildEmbeddingRequest(context.Background(), &types.EmbeddingRequest{
		Model: "test-embed",
		Input: []string{"pod crashloop"},
	})
	require.NoError(t, err)
	require.Equal(t, "https://api.test.example/v1/embeddings", httpReq.URL.String())

	raw := `{"object":"list","model":"test-embed","data":[{"object":"embedding","index":0,"embedding":[0.1,0.2]}]}`
	resp := &http.Response{Body: io.NopCloser(bytes.NewReader([]byte(raw)))}
	parsed, err := p.ParseEmbeddingResponse(resp)
	require.NoError(t, err)
	require.Len(t, parsed.Data, 1)
	require.Equal(t, []float32{0.1, 0.2}, parsed.Data[0].Embedding)
}
