package memory

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"
)

// Hybrid ranking weights: mostly semantic, with a recency nudge so
// fresh operational facts beat stale ones at equal similarity.
const (
	semanticWeight  = 0.8
	recencyWeight   = 0.2
	recencyDecay    = 0.01 // per hour
	dedupeThreshold = 0.90
)

// InMemoryVectorStore is a thread-safe brute-force vector store.
type InMemoryVectorStore struct {
	mu    sync.RWMutex
	items map[string]map[string]Item // userID -> id -> item
}

// NewInMemoryVectorStore creates an empty store.
func NewInMemoryVectorStore() *InMemoryVectorStore {
	return &InMemoryVectorStore{items: make(map[string]map[string]Item)}
}

// Add stores one item. Near-duplicates of an existing fact (cosine
// similarity at or above the dedupe threshold) replace it instead of
// accumulating.
func (s *InMemoryVectorStore) Add(_ context.Context, item *Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user := s.items[item.UserID]
	if user == nil {
		user = make(map[string]Item)
		s.items[item.UserID] = user
	}

	if item.Kind == KindFact {
		for id, existing := range user {
			if existing.Kind != KindFact {
				continue
			}
			if cosineSimilarity(item.Embedding, existing.Embedding) >= dedupeThreshold {
				delete(user, id)
				break
			}
		}
	}

	user[item.ID] = *item
	return nil
}

// Search returns up to limit items for the user ranked by hybrid score.
func (s *InMemoryVectorStore) Search(_ context.Context, userID string, query []float32, limit int) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return rankItems(s.snapshot(userID), query, limit), nil
}

// List returns all items for the user in no particular order.
func (s *InMemoryVectorStore) List(_ context.Context, userID string) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot(userID), nil
}

func (s *InMemoryVectorStore) snapshot(userID string) []Item {
	user := s.items[userID]
	out := make([]Item, 0, len(user))
	for _, item := range user {
		out = append(out, item)
	}
	return out
}

// Delete removes one item by id.
func (s *InMemoryVectorStore) Delete(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items[userID], id)
	return nil
}

// DeleteOlderThan removes the user's items created before cutoff and
// returns how many were removed.
func (s *InMemoryVectorStore) DeleteOlderThan(_ context.Context, userID string, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, item := range s.items[userID] {
		if item.CreatedAt.Before(cutoff) {
			delete(s.items[userID], id)
			removed++
		}
	}
	return removed, nil
}

// rankItems scores candidates against the query vector and returns the
// top limit, most relevant first.
func rankItems(candidates []Item, query []float32, limit int) []Item {
	type scored struct {
		item  Item
		score float64
	}

	results := make([]scored, 0, len(candidates))
	for _, item := range candidates {
		if len(item.Embedding) != len(query) {
			continue
		}
		semantic := float64(cosineSimilarity(query, item.Embedding))
		hours := time.Since(item.CreatedAt).Hours()
		recency := math.Exp(-recencyDecay * hours)
		results = append(results, scored{
			item:  item,
			score: semantic*semanticWeight + recency*recencyWeight,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})

	if limit <= 0 {
		limit = 5
	}
	if limit > len(results) {
		limit = len(results)
	}

	out := make([]Item, limit)
	for i := 0; i < limit; i++ {
		out[i] = results[i].item
	}
	return out
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
