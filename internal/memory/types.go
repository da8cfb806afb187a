// Package memory gives sessions long-term recall. Facts extracted from
// conversations and summaries produced by compaction are embedded and
// stored per user, then retrieved by similarity when new sessions start.
package memory

import (
	"context"
	"time"

	"github.com/kubechat/kubechat/pkg/types"
)

// Item kinds.
const (
	KindFact    = "fact"
	KindSummary = "summary"
)

// Item is one stored memory. Items are immutable; retention is handled
// by deletion, never mutation.
type Item struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"embedding"`
	CreatedAt time.Time `json:"created_at"`
}

// VectorStore persists memory items and ranks them against query vectors.
type VectorStore interface {
	Add(ctx context.Context, item *Item) error
	// Search returns up to limit items for the user, most similar first.
	Search(ctx context.Context, userID string, query []float32, limit int) ([]Item, error)
	List(ctx context.Context, userID string) ([]Item, error)
	Delete(ctx context.Context, userID, id string) error
	DeleteOlderThan(ctx context.Context, userID string, cutoff time.Time) (int, error)
}

// Embedder turns text into vectors. Implemented by internal/llm.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Completer runs one-shot LLM completions for extraction and
// summarization. Implemented by internal/llm bindings.
type Completer interface {
	Complete(ctx context.Context, messages []types.ChatMessage) (string, error)
}
