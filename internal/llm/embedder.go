package llm

import (
	"context"
	"io"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/kubechat/kubechat/pkg/errors"
	"github.com/kubechat/kubechat/pkg/provider"
	"github.com/kubechat/kubechat/pkg/types"
)

const (
	embedCacheTTL     = 30 * time.Minute
	embedCacheCleanup = 10 * time.Minute
)

// Embedder produces embedding vectors for memory storage and search.
// Identical texts hit a local cache instead of the provider.
type Embedder struct {
	provider     provider.Embedder
	providerName string
	model        string
	client       *http.Client
	cache        *gocache.Cache
}

func newEmbedder(p provider.Embedder, providerName, model string, client *http.Client) *Embedder {
	return &Embedder{
		provider:     p,
		providerName: providerName,
		model:        model,
		client:       client,
		cache:        gocache.New(embedCacheTTL, embedCacheCleanup),
	}
}

// Model returns the embedding model name.
func (e *Embedder) Model() string {
	return e.model
}

// Embed returns the embedding vector for one text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := e.cache.Get(text); ok {
		return cached.([]float32), nil
	}

	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns embedding vectors for a batch of texts, in input order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	req := &types.EmbeddingRequest{Model: e.model, Input: texts}

	httpReq, err := e.provider.BuildEmbeddingRequest(ctx, req)
	if err != nil {
		if errors.KindOf(err) != "" {
			return nil, err
		}
		return nil, errors.NewGenerationError("llm.embed", err.Error()).WithCause(err)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, errors.NewGenerationError("llm.embed", err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		if mapper, ok := e.provider.(interface {
			MapError(int, []byte) error
		}); ok {
			return nil, mapper.MapError(resp.StatusCode, body)
		}
		return nil, errors.NewGenerationError("llm.embed", string(body))
	}

	parsed, err := e.provider.ParseEmbeddingResponse(resp)
	if err != nil {
		return nil, errors.NewGenerationError("llm.embed", err.Error()).WithCause(err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, errors.NewGenerationError("llm.embed", "embedding count does not match input count")
	}

	vectors := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, errors.NewGenerationError("llm.embed", "embedding index out of range")
		}
		vectors[d.Index] = d.Embedding
		e.cache.Set(texts[d.Index], d.Embedding, gocache.DefaultExpiration)
	}
	return vectors, nil
}
