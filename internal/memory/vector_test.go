package memory

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func vectorStores(t *testing.T) map[string]VectorStore {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return map[string]VectorStore{
		"memory": NewInMemoryVectorStore(),
		"redis":  NewRedisVectorStore(client),
	}
}

func item(id, userID, kind, content string, embedding []float32, age time.Duration) *Item {
	return &Item{
		ID:        id,
		UserID:    userID,
		Kind:      kind,
		Content:   content,
		Embedding: embedding,
		CreatedAt: time.Now().UTC().Add(-age),
	}
}

func TestVectorStoreSearchRanksBySimilarity(t *testing.T) {
	for name, vs := range vectorStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, vs.Add(ctx, item("a", "u1", KindFact, "prod runs 1.31", []float32{1, 0, 0}, time.Hour)))
			require.NoError(t, vs.Add(ctx, item("b", "u1", KindFact, "user prefers yaml", []float32{0, 1, 0}, time.Hour)))
			require.NoError(t, vs.Add(ctx, item("c", "u1", KindSummary, "old incident recap", []float32{0.9, 0.1, 0}, time.Hour)))

			got, err := vs.Search(ctx, "u1", []float32{1, 0, 0}, 2)
			require.NoError(t, err)
			require.Len(t, got, 2)
			require.Equal(t, "a", got[0].ID)
			require.Equal(t, "c", got[1].ID)
		})
	}
}

func TestVectorStoreRecencyBreaksSimilarityTies(t *testing.T) {
	for name, vs := range vectorStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			vec := []float32{0, 1, 0}
			require.NoError(t, vs.Add(ctx, item("old", "u1", KindSummary, "stale", vec, 240*time.Hour)))
			require.NoError(t, vs.Add(ctx, item("new", "u1", KindSummary, "fresh", vec, time.Minute)))

			got, err := vs.Search(ctx, "u1", vec, 2)
			require.NoError(t, err)
			require.Len(t, got, 2)
			require.Equal(t, "new", got[0].ID)
		})
	}
}

func TestVectorStoreDedupeReplacesNearDuplicateFacts(t *testing.T) {
	for name, vs := range vectorStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, vs.Add(ctx, item("a", "u1", KindFact, "prod runs 1.30", []float32{1, 0, 0}, time.Hour)))
			require.NoError(t, vs.Add(ctx, item("b", "u1", KindFact, "prod runs 1.31", []float32{0.99, 0.01, 0}, 0)))

			all, err := vs.List(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, all, 1)
			require.Equal(t, "b", all[0].ID)
		})
	}
}

func TestVectorStoreDedupeIgnoresSummaries(t *testing.T) {
	for name, vs := range vectorStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			vec := []float32{1, 0, 0}
			require.NoError(t, vs.Add(ctx, item("s1", "u1", KindSummary, "recap one", vec, time.Hour)))
			require.NoError(t, vs.Add(ctx, item("s2", "u1", KindSummary, "recap two", vec, 0)))

			all, err := vs.List(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, all, 2)
		})
	}
}

func TestVectorStoreIsolatesUsers(t *testing.T) {
	for name, vs := range vectorStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, vs.Add(ctx, item("a", "alice", KindFact, "alice fact", []float32{1, 0}, 0)))
			require.NoError(t, vs.Add(ctx, item("b", "bob", KindFact, "bob fact", []float32{1, 0}, 0)))

			got, err := vs.Search(ctx, "alice", []float32{1, 0}, 10)
			require.NoError(t, err)
			require.Len(t, got, 1)
			require.Equal(t, "a", got[0].ID)
		})
	}
}

func TestVectorStoreDeleteOlderThan(t *testing.T) {
	for name, vs := range vectorStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, vs.Add(ctx, item("old", "u1", KindFact, "ancient", []float32{1, 0}, 48*time.Hour)))
			require.NoError(t, vs.Add(ctx, item("new", "u1", KindFact, "recent", []float32{0, 1}, time.Minute)))

			removed, err := vs.DeleteOlderThan(ctx, "u1", time.Now().UTC().Add(-24*time.Hour))
			require.NoError(t, err)
			require.Equal(t, 1, removed)

			all, err := vs.List(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, all, 1)
			require.Equal(t, "new", all[0].ID)
		})
	}
}

func TestVectorStoreDelete(t *testing.T) {
	for name, vs := range vectorStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, vs.Add(ctx, item("a", "u1", KindFact, "fact", []float32{1, 0}, 0)))
			require.NoError(t, vs.Delete(ctx, "u1", "a"))

			all, err := vs.List(ctx, "u1")
			require.NoError(t, err)
			require.Empty(t, all)
		})
	}
}

func TestCosineSimilarity(t *testing.T) {
	require.InDelta(t, 1.0, cosineSimilarity([]float32{1, 0}, []float32{1, 0}), 1e-6)
	require.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-6)
	require.InDelta(t, -1.0, cosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-6)
	require.Zero(t, cosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}))
	require.Zero(t, cosineSimilarity([]float32{0, 0}, []float32{0, 0}))
}
