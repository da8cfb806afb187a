package store

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/kubechat/kubechat/pkg/errors"
)

// FileStore persists conversations as JSONL files under a base
// directory. Each session gets sessions/<id>.jsonl with one turn per
// line; a shared index.jsonl holds one metadata record per line and is
// rewritten on every update. One process at a time.
type FileStore struct {
	base string

	mu   sync.Mutex
	meta map[string]*Metadata
}

// NewFileStore opens (or creates) a file store rooted at base.
func NewFileStore(base string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(base, "sessions"), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	s := &FileStore{base: base, meta: make(map[string]*Metadata)}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) indexPath() string {
	return filepath.Join(s.base, "index.jsonl")
}

func (s *FileStore) turnsPath(sessionID string) string {
	return filepath.Join(s.base, "sessions", sessionID+".jsonl")
}

func (s *FileStore) loadIndex() error {
	f, err := os.Open(s.indexPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var m Metadata
		if err := json.Unmarshal(line, &m); err != nil {
			return fmt.Errorf("parse index entry: %w", err)
		}
		s.meta[m.SessionID] = &m
	}
	return scanner.Err()
}

// writeIndex rewrites the whole index atomically via a temp file rename.
func (s *FileStore) writeIndex() error {
	tmp, err := os.CreateTemp(s.base, "index-*.tmp")
	if err != nil {
		return fmt.Errorf("create index temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	for _, m := range s.meta {
		line, err := json.Marshal(m)
		if err != nil {
			tmp.Close()
			return fmt.Errorf("marshal index entry: %w", err)
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.indexPath())
}

// Append stores one turn and updates session metadata.
func (s *FileStore) Append(_ context.Context, userID, sessionID string, turn Turn) (Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	m, ok := s.meta[sessionID]
	if !ok {
		m = &Metadata{SessionID: sessionID, UserID: userID, CreatedAt: now}
		s.meta[sessionID] = m
	}

	turn.Position = m.TurnCount
	if turn.Timestamp.IsZero() {
		turn.Timestamp = now
	}

	line, err := json.Marshal(turn)
	if err != nil {
		return Turn{}, fmt.Errorf("marshal turn: %w", err)
	}

	f, err := os.OpenFile(s.turnsPath(sessionID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return Turn{}, fmt.Errorf("open session file: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return Turn{}, fmt.Errorf("write turn: %w", err)
	}
	if err := f.Close(); err != nil {
		return Turn{}, err
	}

	m.TurnCount++
	m.UpdatedAt = now
	if err := s.writeIndex(); err != nil {
		return Turn{}, err
	}
	return turn, nil
}

// Load returns all turns of a session in position order.
func (s *FileStore) Load(_ context.Context, sessionID string) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.turnsPath(sessionID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open session file: %w", err)
	}
	defer f.Close()

	var turns []Turn
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var t Turn
		if err := json.Unmarshal(line, &t); err != nil {
			return nil, fmt.Errorf("parse turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return turns, nil
}

// ListMetadata returns the user's sessions, most recently updated first.
func (s *FileStore) ListMetadata(_ context.Context, userID string) ([]Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

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
func (s *FileStore) SetTitle(_ context.Context, sessionID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.meta[sessionID]
	if !ok {
		return errors.NewNotFoundError("store.set_title", "session not found: "+sessionID)
	}
	m.Title = title
	return s.writeIndex()
}

// Delete removes a session's turns and metadata.
func (s *FileStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.meta[sessionID]; !ok {
		return errors.NewNotFoundError("store.delete", "session not found: "+sessionID)
	}
	delete(s.meta, sessionID)

	if err := os.Remove(s.turnsPath(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return s.writeIndex()
}

// Close is a no-op; files are closed per operation.
func (s *FileStore) Close() error {
	return nil
}
