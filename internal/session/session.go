// Package session holds the per-conversation agent: a dialogue bound to
// one model, one tool connection, and one user, plus the registry that
// caps and evicts live sessions.
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kubechat/kubechat/internal/llm"
	"github.com/kubechat/kubechat/internal/metrics"
	"github.com/kubechat/kubechat/internal/store"
	"github.com/kubechat/kubechat/pkg/errors"
	"github.com/kubechat/kubechat/pkg/types"
)

const (
	logPrefix = "[Session]"

	titleMaxLen      = 50
	eventBufferSize  = 64
	defaultMaxIters  = 10
	defaultMemResult = 5

	systemPrompt = "You are KubeChat, a Kubernetes operations assistant. " +
		"You inspect and manage clusters through the tools available to you. " +
		"Prefer read-only tools when diagnosing. Report commands you ran and " +
		"their outcomes. If a tool fails, explain the failure and suggest a next step."
)

// Params configures one session.
type Params struct {
	UserID    string
	SessionID string

	Store  store.Store
	Binder Binder
	Tools  ToolRunner // nil disables tools
	Memory Memory     // nil disables memory

	Provider    string
	Model       string
	Temperature float64

	MaxToolIterations int
	MemoryResults     int

	Logger *slog.Logger
}

// Session is one conversation. A session is single-writer: one Send at
// a time, enforced internally. Multiple sessions run fully in parallel.
type Session struct {
	id     string
	userID string

	store  store.Store
	binder Binder
	tools  ToolRunner
	mem    Memory
	logger *slog.Logger

	maxIters   int
	memResults int

	busy atomic.Bool

	mu             sync.Mutex
	binding        Binding
	providerName   string
	model          string
	temperature    float64
	dialogue       []store.Turn
	ready          bool
	closed         bool
	toolsConnected bool
	createdAt      time.Time
	updatedAt      time.Time
}

// New creates an uninitialized session.
func New(p Params) *Session {
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.MaxToolIterations <= 0 {
		p.MaxToolIterations = defaultMaxIters
	}
	if p.MemoryResults <= 0 {
		p.MemoryResults = defaultMemResult
	}
	now := time.Now().UTC()
	return &Session{
		id:           p.SessionID,
		userID:       p.UserID,
		store:        p.Store,
		binder:       p.Binder,
		tools:        p.Tools,
		mem:          p.Memory,
		logger:       p.Logger,
		maxIters:     p.MaxToolIterations,
		memResults:   p.MemoryResults,
		providerName: p.Provider,
		model:        p.Model,
		temperature:  p.Temperature,
		createdAt:    now,
		updatedAt:    now,
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// UserID returns the owning user.
func (s *Session) UserID() string { return s.userID }

// Ready reports whether Initialize completed.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Busy reports whether a send is in flight.
func (s *Session) Busy() bool { return s.busy.Load() }

// ToolsConnected reports whether the tool connection is up.
func (s *Session) ToolsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.toolsConnected
}

// ModelKey returns the bound provider/model, or empty before Initialize.
func (s *Session) ModelKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.binding == nil {
		return ""
	}
	return s.binding.ModelKey()
}

// CreatedAt returns when the live session object was created.
func (s *Session) CreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createdAt
}

// UpdatedAt returns when the session last accepted a send.
func (s *Session) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

// Initialize binds the model, loads persisted turns, and connects the
// tool server. A tool connection failure leaves the session usable in a
// degraded no-tools mode; the connection error is returned so the caller
// can report it. Idempotent once ready.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready {
		return nil
	}
	if s.closed {
		return errors.NewNotFoundError("session.initialize", "session is closed")
	}

	binding, err := s.binder.Bind(s.providerName, s.model, s.temperature)
	if err != nil {
		return err
	}

	turns, err := s.store.Load(ctx, s.id)
	if err != nil {
		return err
	}

	s.binding = binding
	s.dialogue = turns
	s.ready = true

	if s.tools == nil {
		return nil
	}
	if err := s.tools.Connect(ctx); err != nil {
		s.toolsConnected = false
		s.logger.Warn(logPrefix+" tool server unreachable, continuing without tools",
			"session", s.id,
			"error", err,
		)
		return err
	}
	s.toolsConnected = true
	return nil
}

// Send submits one user message and returns the event stream for the
// resulting turn. The channel is closed by the producer after exactly
// one terminal event. A second Send while one is in flight fails with a
// busy error.
func (s *Session) Send(ctx context.Context, message string) (<-chan Event, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, errors.NewConfigError("session.send", "empty message")
	}
	if !s.Ready() {
		return nil, errors.NewConfigError("session.send", "session not initialized")
	}

	if !s.busy.CompareAndSwap(false, true) {
		return nil, errors.NewBusyError("session.send")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.busy.Store(false)
		return nil, errors.NewNotFoundError("session.send", "session is closed")
	}
	s.updatedAt = time.Now().UTC()
	s.mu.Unlock()

	if err := s.compactIfNeeded(ctx); err != nil {
		s.logger.Warn(logPrefix+" compaction failed, continuing uncompacted",
			"session", s.id,
			"error", err,
		)
	}

	firstUserTurn := !s.hasUserTurn()
	if _, err := s.appendTurn(ctx, store.Turn{Role: store.RoleUser, Content: message}); err != nil {
		s.busy.Store(false)
		return nil, err
	}
	if firstUserTurn {
		if err := s.store.SetTitle(ctx, s.id, makeTitle(message)); err != nil {
			s.logger.Warn(logPrefix+" set title failed", "session", s.id, "error", err)
		}
	}

	ch := make(chan Event, eventBufferSize)
	go s.run(ctx, ch, message)
	return ch, nil
}

// compactIfNeeded summarizes old turns when the dialogue outgrows the
// context budget. The summary is appended to the durable log; the
// in-memory dialogue shrinks to the summary plus the recent tail.
func (s *Session) compactIfNeeded(ctx context.Context) error {
	if s.mem == nil {
		return nil
	}

	s.mu.Lock()
	dialogue := append([]store.Turn(nil), s.dialogue...)
	s.mu.Unlock()

	if !s.mem.ShouldSummarize(dialogue) {
		return nil
	}

	summary, recent, err := s.mem.Compact(ctx, s.userID, s.id, dialogue)
	if err != nil {
		return err
	}
	if summary == "" {
		return nil
	}

	stored, err := s.store.Append(ctx, s.userID, s.id, store.Turn{
		Role:    store.RoleSummary,
		Content: summary,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.dialogue = append([]store.Turn{stored}, recent...)
	s.mu.Unlock()

	s.logger.Info(logPrefix+" dialogue compacted",
		"session", s.id,
		"kept", len(recent),
	)
	return nil
}

func (s *Session) hasUserTurn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.dialogue {
		if t.Role == store.RoleUser {
			return true
		}
	}
	return false
}

// appendTurn persists one turn and mirrors it into the dialogue.
func (s *Session) appendTurn(ctx context.Context, turn store.Turn) (store.Turn, error) {
	stored, err := s.store.Append(ctx, s.userID, s.id, turn)
	if err != nil {
		return store.Turn{}, err
	}

	s.mu.Lock()
	s.dialogue = append(s.dialogue, stored)
	s.updatedAt = time.Now().UTC()
	s.mu.Unlock()

	metrics.RecordTurn(turn.Role)
	return stored, nil
}

// run is the agent loop. It owns the event channel and always delivers
// exactly one terminal event before closing it.
func (s *Session) run(ctx context.Context, ch chan<- Event, userMessage string) {
	defer close(ch)
	defer s.busy.Store(false)

	emit := func(ev Event) {
		if ev.Err != nil && ev.ErrKind == "" {
			ev.ErrKind = errors.KindOf(ev.Err)
		}
		if ev.Terminal() {
			// The terminal event waits for a slow consumer; only a
			// stream whose context was cancelled and whose buffer is
			// full may lose it.
			select {
			case ch <- ev:
			case <-ctx.Done():
				select {
				case ch <- ev:
				default:
				}
			}
			return
		}
		select {
		case ch <- ev:
		case <-ctx.Done():
		}
	}

	messages := s.buildMessages(ctx, userMessage)
	toolDefs := s.toolDefs()

	iterations := 0
	for {
		iterations++

		msg, err := s.generate(ctx, messages, toolDefs, emit)
		if err != nil {
			emit(Event{Type: EventError, Err: err})
			return
		}

		if text := msg.TextContent(); text != "" {
			if _, err := s.appendTurn(ctx, store.Turn{Role: store.RoleAssistant, Content: text}); err != nil {
				emit(Event{Type: EventError, Err: err})
				return
			}
		}

		if len(msg.ToolCalls) == 0 {
			break
		}

		messages = append(messages, msg)
		for _, tc := range msg.ToolCalls {
			result, ok := s.runTool(ctx, tc, emit)
			if !ok {
				// Cancelled between appends.
				emit(Event{Type: EventError, Err: ctx.Err()})
				return
			}
			toolMsg := types.TextMessage("tool", result)
			toolMsg.ToolCallID = tc.ID
			messages = append(messages, toolMsg)
		}

		if iterations >= s.maxIters {
			s.logger.Warn(logPrefix+" tool iteration limit reached",
				"session", s.id,
				"iterations", iterations,
			)
			break
		}
		if ctx.Err() != nil {
			emit(Event{Type: EventError, Err: ctx.Err()})
			return
		}
	}

	metrics.RecordAgentIterations(iterations)
	s.extractIfDue(ctx)
	emit(Event{Type: EventDone})
}

// generate streams one completion, emitting token events, and returns
// the accumulated assistant message.
func (s *Session) generate(ctx context.Context, messages []types.ChatMessage, toolDefs []types.Tool, emit func(Event)) (types.ChatMessage, error) {
	s.mu.Lock()
	binding := s.binding
	s.mu.Unlock()

	stream, err := binding.Generate(ctx, messages, toolDefs)
	if err != nil {
		return types.ChatMessage{}, err
	}
	defer stream.Close()

	var acc llm.Accumulator
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return types.ChatMessage{}, errors.NewGenerationError("session.generate", err.Error()).WithCause(err)
		}
		if delta := acc.Add(chunk); delta != "" {
			emit(Event{Type: EventToken, Text: delta})
		}
		if ctx.Err() != nil {
			return types.ChatMessage{}, ctx.Err()
		}
	}

	return acc.Message(), nil
}

// runTool invokes one tool call, appends the tool turn, and emits the
// start/end events. Tool and transport failures are reported inline and
// fed back to the model; ok is false only on context cancellation.
func (s *Session) runTool(ctx context.Context, tc types.ToolCall, emit func(Event)) (result string, ok bool) {
	name := tc.Function.Name
	args := tc.Function.Arguments

	emit(Event{Type: EventToolStart, ToolName: name, ToolInput: args})

	turn := store.Turn{
		Role:      store.RoleTool,
		ToolName:  name,
		ToolInput: args,
	}

	if s.tools == nil || !s.ToolsConnected() {
		turn.ToolError = "tool server not connected"
		result = turn.ToolError
	} else {
		res, err := s.tools.Invoke(ctx, name, args)
		switch {
		case err != nil:
			turn.ToolError = err.Error()
			result = fmt.Sprintf("tool %s failed: %v", name, err)
			emit(Event{Type: EventToolEnd, ToolName: name, ToolFailed: true, Err: err})
		case res.IsError:
			turn.ToolError = res.Content
			result = res.Content
			emit(Event{Type: EventToolEnd, ToolName: name, ToolOutput: res.Content, ToolFailed: true})
		default:
			turn.ToolOutput = res.Content
			result = res.Content
			emit(Event{Type: EventToolEnd, ToolName: name, ToolOutput: res.Content})
		}
		if _, aerr := s.appendTurn(ctx, turn); aerr != nil {
			s.logger.Warn(logPrefix+" tool turn not persisted", "session", s.id, "error", aerr)
		}
		return result, ctx.Err() == nil
	}

	emit(Event{Type: EventToolEnd, ToolName: name, ToolFailed: true, Err: errors.NewConnectionError("session.tool", turn.ToolError)})
	if _, aerr := s.appendTurn(ctx, turn); aerr != nil {
		s.logger.Warn(logPrefix+" tool turn not persisted", "session", s.id, "error", aerr)
	}
	return result, ctx.Err() == nil
}

// extractIfDue runs memory extraction when enough new turns accumulated.
func (s *Session) extractIfDue(ctx context.Context) {
	if s.mem == nil {
		return
	}

	s.mu.Lock()
	dialogue := append([]store.Turn(nil), s.dialogue...)
	s.mu.Unlock()

	if !s.mem.ShouldExtract(s.id, len(dialogue)) {
		return
	}
	if _, err := s.mem.Extract(ctx, s.userID, s.id, dialogue); err != nil {
		s.logger.Warn(logPrefix+" memory extraction failed", "session", s.id, "error", err)
	}
}

// buildMessages renders the dialogue for the model: system prompt,
// recalled memories, then the conversation history.
func (s *Session) buildMessages(ctx context.Context, userMessage string) []types.ChatMessage {
	prompt := systemPrompt
	if s.mem != nil {
		if items, err := s.mem.Search(ctx, s.userID, userMessage, s.memResults); err == nil && len(items) > 0 {
			var b strings.Builder
			b.WriteString("\n\nRelevant facts from earlier conversations:\n")
			for _, item := range items {
				b.WriteString("- ")
				b.WriteString(item.Content)
				b.WriteString("\n")
			}
			prompt += b.String()
		}
	}

	s.mu.Lock()
	dialogue := append([]store.Turn(nil), s.dialogue...)
	s.mu.Unlock()

	messages := make([]types.ChatMessage, 0, len(dialogue)+1)
	messages = append(messages, types.TextMessage("system", prompt))
	for _, t := range dialogue {
		switch t.Role {
		case store.RoleUser:
			messages = append(messages, types.TextMessage("user", t.Content))
		case store.RoleAssistant:
			messages = append(messages, types.TextMessage("assistant", t.Content))
		case store.RoleSummary:
			messages = append(messages, types.TextMessage("system",
				"Summary of the earlier conversation: "+t.Content))
		case store.RoleTool:
			// Historical tool turns are replayed as plain context; the
			// live call/result pairing only exists within one send.
			out := t.ToolOutput
			if t.ToolError != "" {
				out = "error: " + t.ToolError
			}
			messages = append(messages, types.TextMessage("assistant",
				fmt.Sprintf("[tool %s] %s", t.ToolName, out)))
		}
	}
	return messages
}

func (s *Session) toolDefs() []types.Tool {
	if s.tools == nil || !s.ToolsConnected() {
		return nil
	}
	return s.tools.Tools()
}

// UpdateSettings changes the model selection. A provider or model change
// builds and swaps in a new binding atomically; a temperature-only
// change adjusts the live binding in place. Reports whether a rebind
// happened. Dialogue state and stored turns are untouched either way.
func (s *Session) UpdateSettings(_ context.Context, providerName, model string, temperature float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return false, errors.NewConfigError("session.update", "session not initialized")
	}

	if providerName == "" {
		providerName = s.providerName
	}
	if model == "" {
		model = s.model
	}

	if providerName == s.providerName && model == s.model {
		if temperature != s.temperature {
			s.temperature = temperature
			s.binding.SetTemperature(temperature)
		}
		return false, nil
	}

	binding, err := s.binder.Bind(providerName, model, temperature)
	if err != nil {
		return false, err
	}

	s.binding = binding
	s.providerName = providerName
	s.model = model
	s.temperature = temperature

	s.logger.Info(logPrefix+" model rebound",
		"session", s.id,
		"model", binding.ModelKey(),
	)
	return true, nil
}

// Cleanup extracts any remaining memories and closes the tool
// connection. Safe to call multiple times.
func (s *Session) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.ready = false
	dialogue := append([]store.Turn(nil), s.dialogue...)
	s.mu.Unlock()

	if s.mem != nil && len(dialogue) > 0 {
		if _, err := s.mem.ExtractRemaining(ctx, s.userID, s.id, dialogue); err != nil {
			s.logger.Warn(logPrefix+" final memory extraction failed", "session", s.id, "error", err)
		}
	}

	if s.tools != nil {
		s.mu.Lock()
		s.toolsConnected = false
		s.mu.Unlock()
		return s.tools.Close()
	}
	return nil
}

// makeTitle derives the session title from the first user message.
func makeTitle(message string) string {
	if len(message) <= titleMaxLen {
		return message
	}
	return message[:titleMaxLen] + "..."
}
