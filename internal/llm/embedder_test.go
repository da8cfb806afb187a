package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kubechat/kubechat/internal/config"
)

func TestEmbedCachesByText(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.Equal(t, "/embeddings", r.URL.Path)
		fmt.Fprint(w, `{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.5,0.5]}]}`)
	}))
	defer srv.Close()

	f := NewFactory(config.LLMConfig{
		Providers: []config.ProviderConfig{
			{Name: "local", Type: "ollama", BaseURL: srv.URL, Models: []string{"nomic-embed-text"}},
		},
	})
	e, err := f.Embedder("local", "nomic-embed-text")
	require.NoError(t, err)

	v1, err := e.Embed(context.Background(), "cluster upgraded to 1.31")
	require.NoError(t, err)
	v2, err := e.Embed(context.Background(), "cluster upgraded to 1.31")
	require.NoError(t, err)

	require.Equal(t, v1, v2)
	require.Equal(t, int32(1), calls.Load())
}

func TestEmbedBatchCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"object":"list","data":[]}`)
	}))
	defer srv.Close()

	f := NewFactory(config.LLMConfig{
		Providers: []config.ProviderConfig{
			{Name: "local", Type: "ollama", BaseURL: srv.URL, Models: []string{"nomic-embed-text"}},
		},
	})
	e, err := f.Embedder("local", "nomic-embed-text")
	require.NoError(t, err)

	_, err = e.EmbedBatch(context.Background(), []string{"a", "b"})
	require.Error(t, err)
}
