package store

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/kubechat/kubechat/pkg/errors"
)

// Redis key layout. All writes for a session hit session-scoped keys,
// so different sessions never contend.
const (
	redisTurnsKeyFmt = "chat:%s:turns"      // list of turn JSON
	redisMetaKeyFmt  = "chat:%s:meta"       // metadata JSON
	redisIndexKeyFmt = "chat:user:%s:index" // zset sid -> updated_at ms
)

// RedisStore persists conversations in a shared redis instance so
// multiple processes can serve the same users.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a store over an existing redis client.
// The caller keeps ownership of the client unless Close is used.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func turnsKey(sessionID string) string { return fmt.Sprintf(redisTurnsKeyFmt, sessionID) }
func metaKey(sessionID string) string  { return fmt.Sprintf(redisMetaKeyFmt, sessionID) }
func indexKey(userID string) string    { return fmt.Sprintf(redisIndexKeyFmt, userID) }

func (s *RedisStore) loadMeta(ctx context.Context, sessionID string) (*Metadata, error) {
	raw, err := s.client.Get(ctx, metaKey(sessionID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewConnectionError("store.redis", err.Error()).WithCause(err)
	}

	var m Metadata
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("parse session metadata: %w", err)
	}
	return &m, nil
}

func (s *RedisStore) saveMeta(ctx context.Context, m *Metadata) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal session metadata: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, metaKey(m.SessionID), raw, 0)
	pipe.ZAdd(ctx, indexKey(m.UserID), redis.Z{
		Score:  float64(m.UpdatedAt.UnixMilli()),
		Member: m.SessionID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.NewConnectionError("store.redis", err.Error()).WithCause(err)
	}
	return nil
}

// Append stores one turn and updates session metadata.
func (s *RedisStore) Append(ctx context.Context, userID, sessionID string, turn Turn) (Turn, error) {
	now := time.Now().UTC()

	m, err := s.loadMeta(ctx, sessionID)
	if err != nil {
		return Turn{}, err
	}
	if m == nil {
		m = &Metadata{SessionID: sessionID, UserID: userID, CreatedAt: now}
	}

	turn.Position = m.TurnCount
	if turn.Timestamp.IsZero() {
		turn.Timestamp = now
	}

	raw, err := json.Marshal(turn)
	if err != nil {
		return Turn{}, fmt.Errorf("marshal turn: %w", err)
	}
	if err := s.client.RPush(ctx, turnsKey(sessionID), raw).Err(); err != nil {
		return Turn{}, errors.NewConnectionError("store.redis", err.Error()).WithCause(err)
	}

	m.TurnCount++
	m.UpdatedAt = now
	if err := s.saveMeta(ctx, m); err != nil {
		return Turn{}, err
	}
	return turn, nil
}

// Load returns all turns of a session in position order.
func (s *RedisStore) Load(ctx context.Context, sessionID string) ([]Turn, error) {
	raws, err := s.client.LRange(ctx, turnsKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, errors.NewConnectionError("store.redis", err.Error()).WithCause(err)
	}

	turns := make([]Turn, 0, len(raws))
	for _, raw := range raws {
		var t Turn
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("parse turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// ListMetadata returns the user's sessions, most recently updated first.
func (s *RedisStore) ListMetadata(ctx context.Context, userID string) ([]Metadata, error) {
	ids, err := s.client.ZRevRange(ctx, indexKey(userID), 0, -1).Result()
	if err != nil {
		return nil, errors.NewConnectionError("store.redis", err.Error()).WithCause(err)
	}

	out := make([]Metadata, 0, len(ids))
	for _, id := range ids {
		m, err := s.loadMeta(ctx, id)
		if err != nil {
			return nil, err
		}
		if m != nil {
			out = append(out, *m)
		}
	}
	return out, nil
}

// SetTitle updates the session title.
func (s *RedisStore) SetTitle(ctx context.Context, sessionID, title string) error {
	m, err := s.loadMeta(ctx, sessionID)
	if err != nil {
		return err
	}
	if m == nil {
		return errors.NewNotFoundError("store.set_title", "session not found: "+sessionID)
	}
	m.Title = title
	return s.saveMeta(ctx, m)
}

// Delete removes a session's turns, metadata, and index entry.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	m, err := s.loadMeta(ctx, sessionID)
	if err != nil {
		return err
	}
	if m == nil {
		return errors.NewNotFoundError("store.delete", "session not found: "+sessionID)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, turnsKey(sessionID), metaKey(sessionID))
	pipe.ZRem(ctx, indexKey(m.UserID), sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.NewConnectionError("store.redis", err.Error()).WithCause(err)
	}
	return nil
}

// Close closes the underlying redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
