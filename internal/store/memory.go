package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kubechat/kubechat/pkg/errors"
)

// MemoryStore keeps conversations in process memory. State is lost on
// restart; intended for tests and throwaway sessions.
type MemoryStore struct {
	mu    sync.RWMutex
	turns map[string][]Turn
	meta  map[string]*Metadata
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		turns: make(map[string][]Turn),
		meta:  make(map[string]*Metadata),
	}
}

// Append stores one turn and updates session metadata.
func (s *MemoryStore) Append(_ context.Context, userID, sessionID string, turn Turn) (Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	m, ok := s.meta[sessionID]
	if !ok {
		m = &Metadata{SessionID: sessionID, UserID: userID, CreatedAt: now}
		s.meta[sessionID] = m
	}

	turn.Position = len(s.turns[sessionID])
	if turn.Timestamp.IsZero() {
		turn.Timestamp = now
	}
	s.turns[sessionID] = append(s.turns[sessionID], turn)

	m.TurnCount = len(s.turns[sessionID])
	m.UpdatedAt = now
	return turn, nil
}

// Load returns all turns of a session in position order.
func (s *MemoryStore) Load(_ context.Context, sessionID string) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := s.turns[sessionID]
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out, nil
}

// ListMetadata returns the user's sessions, most recently updated first.
func (s *MemoryStore) ListMetadata(_ context.Context, userID string) ([]Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Metadata
	for _, m := range s.meta {
		if m.UserID == userID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out, nil
}

// SetTitle updates the session title.
func (s *MemoryStore) SetTitle(_ context.Context, sessionID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.meta[sessionID]
	if !ok {
		return errors.NewNotFoundError("store.set_title", "session not found: "+sessionID)
	}
	m.Title = title
	return nil
}

// Delete removes a session's turns and metadata.
func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.meta[sessionID]; !ok {
		return errors.NewNotFoundError("store.delete", "session not found: "+sessionID)
	}
	delete(s.meta, sessionID)
	delete(s.turns, sessionID)
	return nil
}

// Close is a no-op for the in-memory backend.
func (s *MemoryStore) Close() error {
	return nil
}
