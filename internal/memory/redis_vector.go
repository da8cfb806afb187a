package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/kubechat/kubechat/pkg/errors"
)

// Redis key layout: one JSON blob per item plus a per-user id set.
const (
	memItemKeyFmt  = "mem:%s:%s"     // userID, itemID
	memIndexKeyFmt = "mem:%s:index"  // userID
)

// RedisVectorStore persists memory items in redis. Ranking happens
// client-side over the user's items; memory sets per user are small
// enough that a full scan is cheaper than a server-side index.
type RedisVectorStore struct {
	client redis.UniversalClient
}

// NewRedisVectorStore creates a store over an existing redis client.
func NewRedisVectorStore(client redis.UniversalClient) *RedisVectorStore {
	return &RedisVectorStore{client: client}
}

func memItemKey(userID, id string) string { return fmt.Sprintf(memItemKeyFmt, userID, id) }
func memIndexKey(userID string) string    { return fmt.Sprintf(memIndexKeyFmt, userID) }

// Add stores one item. Near-duplicate facts replace the older copy.
func (s *RedisVectorStore) Add(ctx context.Context, item *Item) error {
	if item.Kind == KindFact {
		existing, err := s.List(ctx, item.UserID)
		if err != nil {
			return err
		}
		for _, e := range existing {
			if e.Kind != KindFact {
				continue
			}
			if cosineSimilarity(item.Embedding, e.Embedding) >= dedupeThreshold {
				if err := s.Delete(ctx, item.UserID, e.ID); err != nil {
					return err
				}
				break
			}
		}
	}

	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal memory item: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, memItemKey(item.UserID, item.ID), raw, 0)
	pipe.SAdd(ctx, memIndexKey(item.UserID), item.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.NewConnectionError("memory.redis", err.Error()).WithCause(err)
	}
	return nil
}

// Search returns up to limit items for the user ranked by hybrid score.
func (s *RedisVectorStore) Search(ctx context.Context, userID string, query []float32, limit int) ([]Item, error) {
	items, err := s.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	return rankItems(items, query, limit), nil
}

// List returns all items for the user.
func (s *RedisVectorStore) List(ctx context.Context, userID string) ([]Item, error) {
	ids, err := s.client.SMembers(ctx, memIndexKey(userID)).Result()
	if err != nil {
		return nil, errors.NewConnectionError("memory.redis", err.Error()).WithCause(err)
	}

	items := make([]Item, 0, len(ids))
	for _, id := range ids {
		raw, err := s.client.Get(ctx, memItemKey(userID, id)).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, errors.NewConnectionError("memory.redis", err.Error()).WithCause(err)
		}
		var item Item
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			return nil, fmt.Errorf("parse memory item: %w", err)
		}
		items = append(items, item)
	}
	return items, nil
}

// Delete removes one item by id.
func (s *RedisVectorStore) Delete(ctx context.Context, userID, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, memItemKey(userID, id))
	pipe.SRem(ctx, memIndexKey(userID), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.NewConnectionError("memory.redis", err.Error()).WithCause(err)
	}
	return nil
}

// DeleteOlderThan removes the user's items created before cutoff.
func (s *RedisVectorStore) DeleteOlderThan(ctx context.Context, userID string, cutoff time.Time) (int, error) {
	items, err := s.List(ctx, userID)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, item := range items {
		if item.CreatedAt.Before(cutoff) {
			if err := s.Delete(ctx, userID, item.ID); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}
