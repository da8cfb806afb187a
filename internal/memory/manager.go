package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kubechat/kubechat/internal/config"
	"github.com/kubechat/kubechat/internal/metrics"
	"github.com/kubechat/kubechat/internal/store"
	"github.com/kubechat/kubechat/pkg/types"
)

const summaryPrompt = `Summarize the following Kubernetes operations conversation. Preserve: cluster and namespace names, workload names, commands that were run, their outcomes, and any unresolved issues. Be concise; output plain text only.

Conversation:
%s`

// Manager orchestrates fact extraction, similarity search, and
// conversation compaction for one deployment.
type Manager struct {
	vectors  VectorStore
	embedder Embedder
	llm      Completer
	cfg      config.MemoryConfig
	logger   *slog.Logger

	mu        sync.Mutex
	extracted map[string]int // sessionID -> turns already extracted
}

// NewManager wires a memory manager from its dependencies.
func NewManager(vectors VectorStore, embedder Embedder, llm Completer, cfg config.MemoryConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		vectors:   vectors,
		embedder:  embedder,
		llm:       llm,
		cfg:       cfg,
		logger:    logger,
		extracted: make(map[string]int),
	}
}

// estimateTokens approximates token usage as characters divided by four.
func estimateTokens(turns []store.Turn) int {
	chars := 0
	for _, t := range turns {
		chars += len(t.Content) + len(t.ToolInput) + len(t.ToolOutput)
	}
	return chars / 4
}

// ShouldSummarize reports whether the dialogue has grown past the
// configured fraction of the model context window.
func (m *Manager) ShouldSummarize(turns []store.Turn) bool {
	budget := float64(m.cfg.MaxContextTokens) * m.cfg.SummarizeThreshold
	return float64(estimateTokens(turns)) > budget
}

// ShouldExtract reports whether enough new turns accumulated in the
// session since the last extraction.
func (m *Manager) ShouldExtract(sessionID string, turnCount int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return turnCount-m.extracted[sessionID] >= m.cfg.ExtractEvery
}

// Extract pulls facts from the session's turns that were not covered by
// a previous extraction, embeds them, and stores them for the user. The
// coverage offset advances only on success, so turns behind a failed
// extraction are retried on the next call; the store's near-duplicate
// handling absorbs any partial overlap.
func (m *Manager) Extract(ctx context.Context, userID, sessionID string, turns []store.Turn) ([]Item, error) {
	m.mu.Lock()
	offset := m.extracted[sessionID]
	m.mu.Unlock()
	if offset >= len(turns) {
		return nil, nil
	}
	fresh := turns[offset:]

	extractor := NewExtractor(m.llm)
	facts, err := extractor.Extract(ctx, fresh)
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(facts))
	for _, fact := range facts {
		vec, err := m.embedder.Embed(ctx, fact.Content)
		if err != nil {
			return items, fmt.Errorf("embed fact: %w", err)
		}
		item := Item{
			ID:        uuid.NewString(),
			UserID:    userID,
			SessionID: sessionID,
			Kind:      KindFact,
			Content:   fact.Content,
			Embedding: vec,
			CreatedAt: time.Now().UTC(),
		}
		if err := m.vectors.Add(ctx, &item); err != nil {
			return items, err
		}
		metrics.RecordMemoryItem(KindFact)
		items = append(items, item)
	}

	m.mu.Lock()
	if len(turns) > m.extracted[sessionID] {
		m.extracted[sessionID] = len(turns)
	}
	m.mu.Unlock()

	if len(items) > 0 {
		m.logger.Debug("memories extracted",
			"user", userID,
			"session", sessionID,
			"count", len(items),
		)
	}
	return items, nil
}

// ExtractRemaining extracts whatever turns the periodic cadence has not
// covered yet, then drops the session's bookkeeping. Called on session
// cleanup.
func (m *Manager) ExtractRemaining(ctx context.Context, userID, sessionID string, turns []store.Turn) ([]Item, error) {
	items, err := m.Extract(ctx, userID, sessionID, turns)
	m.Forget(sessionID)
	return items, err
}

// Forget drops the extraction bookkeeping for a session.
func (m *Manager) Forget(sessionID string) {
	m.mu.Lock()
	delete(m.extracted, sessionID)
	m.mu.Unlock()
}

// Search returns the user's most relevant memories for a query,
// most similar first.
func (m *Manager) Search(ctx context.Context, userID, query string, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = m.cfg.MaxResults
	}
	vec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return m.vectors.Search(ctx, userID, vec, limit)
}

// Compact summarizes all but the most recent turns into one summary,
// stores it as a memory item, and returns the summary text with the
// turns that remain in context. Compaction is one-way.
func (m *Manager) Compact(ctx context.Context, userID, sessionID string, turns []store.Turn) (string, []store.Turn, error) {
	keep := m.cfg.KeepRecent
	if keep >= len(turns) {
		return "", turns, nil
	}

	old, recent := turns[:len(turns)-keep], turns[len(turns)-keep:]

	transcript := renderTranscript(old)
	messages := []types.ChatMessage{
		types.TextMessage("system", "You summarize operations conversations."),
		types.TextMessage("user", fmt.Sprintf(summaryPrompt, transcript)),
	}
	summary, err := m.llm.Complete(ctx, messages)
	if err != nil {
		return "", nil, fmt.Errorf("summarize: %w", err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", turns, nil
	}

	vec, err := m.embedder.Embed(ctx, summary)
	if err != nil {
		return "", nil, fmt.Errorf("embed summary: %w", err)
	}
	item := Item{
		ID:        uuid.NewString(),
		UserID:    userID,
		SessionID: sessionID,
		Kind:      KindSummary,
		Content:   summary,
		Embedding: vec,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.vectors.Add(ctx, &item); err != nil {
		return "", nil, err
	}
	metrics.RecordMemoryItem(KindSummary)

	return summary, recent, nil
}

// Delete removes one memory item by id.
func (m *Manager) Delete(ctx context.Context, userID, id string) error {
	return m.vectors.Delete(ctx, userID, id)
}

// DeleteOlderThan removes the user's items older than the given age.
func (m *Manager) DeleteOlderThan(ctx context.Context, userID string, age time.Duration) (int, error) {
	return m.vectors.DeleteOlderThan(ctx, userID, time.Now().UTC().Add(-age))
}
