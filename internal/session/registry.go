package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/kubechat/kubechat/internal/config"
	"github.com/kubechat/kubechat/internal/metrics"
	"github.com/kubechat/kubechat/internal/store"
	"github.com/kubechat/kubechat/pkg/errors"
)

// RegistryParams wires a registry's dependencies.
type RegistryParams struct {
	Store    store.Store
	Binder   Binder
	Memory   Memory            // nil disables memory
	NewTools func() ToolRunner // nil disables tools; called once per session
	LLM      config.LLMConfig  // default model selection
	Session  config.SessionConfig
	Memcfg   config.MemoryConfig
	Logger   *slog.Logger
}

// Registry owns the live sessions of all users, capping each user at a
// configured number and evicting the stalest idle session on overflow.
type Registry struct {
	store    store.Store
	binder   Binder
	mem      Memory
	newTools func() ToolRunner
	llmCfg   config.LLMConfig
	cfg      config.SessionConfig
	memCfg   config.MemoryConfig
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]map[string]*Session // userID -> sessionID
	closed   bool
}

// NewRegistry creates an empty registry.
func NewRegistry(p RegistryParams) *Registry {
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Session.MaxPerUser <= 0 {
		p.Session.MaxPerUser = 10
	}
	return &Registry{
		store:    p.Store,
		binder:   p.Binder,
		mem:      p.Memory,
		newTools: p.NewTools,
		llmCfg:   p.LLM,
		cfg:      p.Session,
		memCfg:   p.Memcfg,
		logger:   p.Logger,
		sessions: make(map[string]map[string]*Session),
	}
}

// NewSessionID returns a fresh session id.
func NewSessionID() string { return uuid.NewString() }

// Get returns the user's session, creating it on first access. Admission
// and eviction happen atomically; initialization runs outside the lock.
// When the new session's tool connection fails, the session is returned
// in degraded mode together with the connection error.
func (r *Registry) Get(ctx context.Context, userID, sessionID string) (*Session, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, errors.NewNotFoundError("registry.get", "registry is shut down")
	}

	user := r.sessions[userID]
	if sess, ok := user[sessionID]; ok {
		r.mu.Unlock()
		return sess, sess.Initialize(ctx)
	}

	var evicted *Session
	if len(user) >= r.cfg.MaxPerUser {
		victim := r.pickVictim(user)
		if victim == nil {
			r.mu.Unlock()
			return nil, errors.NewBusyError("registry.get")
		}
		delete(user, victim.ID())
		evicted = victim
	}

	var tools ToolRunner
	if r.newTools != nil {
		tools = r.newTools()
	}
	sess := New(Params{
		UserID:            userID,
		SessionID:         sessionID,
		Store:             r.store,
		Binder:            r.binder,
		Tools:             tools,
		Memory:            r.mem,
		Provider:          r.llmCfg.DefaultProvider,
		Model:             r.llmCfg.DefaultModel,
		Temperature:       r.llmCfg.DefaultTemperature,
		MaxToolIterations: r.cfg.MaxToolIterations,
		MemoryResults:     r.memCfg.MaxResults,
		Logger:            r.logger,
	})

	if user == nil {
		user = make(map[string]*Session)
		r.sessions[userID] = user
	}
	user[sessionID] = sess
	r.recordActiveLocked()
	r.mu.Unlock()

	if evicted != nil {
		r.dropSession(ctx, evicted)
		metrics.RecordEviction()
		r.logger.Info("[Registry] session evicted",
			"user", userID,
			"session", evicted.ID(),
		)
	}

	return sess, sess.Initialize(ctx)
}

// pickVictim returns the least-recently-updated non-busy session, ties
// broken by oldest creation. Nil when every session is busy.
func (r *Registry) pickVictim(user map[string]*Session) *Session {
	var victim *Session
	for _, sess := range user {
		if sess.Busy() {
			continue
		}
		if victim == nil {
			victim = sess
			continue
		}
		su, vu := sess.UpdatedAt(), victim.UpdatedAt()
		switch {
		case su.Before(vu):
			victim = sess
		case su.Equal(vu) && sess.CreatedAt().Before(victim.CreatedAt()):
			victim = sess
		}
	}
	return victim
}

// dropSession tears down a live session and removes its history.
func (r *Registry) dropSession(ctx context.Context, sess *Session) {
	if err := sess.Cleanup(ctx); err != nil {
		r.logger.Warn("[Registry] session cleanup failed",
			"session", sess.ID(),
			"error", err,
		)
	}
	if err := r.store.Delete(ctx, sess.ID()); err != nil && errors.KindOf(err) != errors.KindNotFound {
		r.logger.Warn("[Registry] session history delete failed",
			"session", sess.ID(),
			"error", err,
		)
	}
}

// List returns the user's stored session metadata, most recent first.
func (r *Registry) List(ctx context.Context, userID string) ([]store.Metadata, error) {
	return r.store.ListMetadata(ctx, userID)
}

// Delete removes a session and its stored history. Unknown sessions
// yield a not-found error.
func (r *Registry) Delete(ctx context.Context, userID, sessionID string) error {
	r.mu.Lock()
	var live *Session
	if user := r.sessions[userID]; user != nil {
		live = user[sessionID]
		delete(user, sessionID)
	}
	r.recordActiveLocked()
	r.mu.Unlock()

	if live != nil {
		if err := live.Cleanup(ctx); err != nil {
			r.logger.Warn("[Registry] session cleanup failed",
				"session", sessionID,
				"error", err,
			)
		}
	}

	err := r.store.Delete(ctx, sessionID)
	if err != nil && live == nil {
		return err
	}
	if err != nil && errors.KindOf(err) != errors.KindNotFound {
		return err
	}
	return nil
}

// Shutdown drains every live session. The registry refuses new sessions
// afterwards.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	var all []*Session
	for _, user := range r.sessions {
		for _, sess := range user {
			all = append(all, sess)
		}
	}
	r.sessions = make(map[string]map[string]*Session)
	r.mu.Unlock()

	var firstErr error
	for _, sess := range all {
		if err := sess.Cleanup(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("cleanup session %s: %w", sess.ID(), err)
		}
	}
	metrics.RecordActiveSessions(0)
	return firstErr
}

func (r *Registry) recordActiveLocked() {
	n := 0
	for _, user := range r.sessions {
		n += len(user)
	}
	metrics.RecordActiveSessions(n)
}
