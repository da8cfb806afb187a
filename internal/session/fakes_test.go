package session

import (
	"context"
	"io"
	"sync"

	"github.com/kubechat/kubechat/internal/mcp"
	"github.com/kubechat/kubechat/internal/memory"
	"github.com/kubechat/kubechat/internal/store"
	"github.com/kubechat/kubechat/pkg/errors"
	"github.com/kubechat/kubechat/pkg/types"
)

func textChunk(text string) *types.StreamChunk {
	return &types.StreamChunk{Choices: []types.StreamChoice{{
		Delta: types.StreamDelta{Content: text},
	}}}
}

func toolChunk(index int, id, name, args string) *types.StreamChunk {
	return &types.StreamChunk{Choices: []types.StreamChoice{{
		Delta: types.StreamDelta{ToolCalls: []types.ToolCall{{
			Index:    &index,
			ID:       id,
			Type:     "function",
			Function: types.ToolCallFunction{Name: name, Arguments: args},
		}}},
	}}}
}

type fakeStream struct {
	chunks []*types.StreamChunk
	err    error
	closed bool
}

func (s *fakeStream) Recv() (*types.StreamChunk, error) {
	if len(s.chunks) == 0 {
		if s.err != nil {
			err := s.err
			s.err = nil
			return nil, err
		}
		return nil, io.EOF
	}
	chunk := s.chunks[0]
	s.chunks = s.chunks[1:]
	return chunk, nil
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

// fakeBinding pops one scripted stream per Generate call and records
// the messages each call saw. An exhausted script yields empty streams.
type fakeBinding struct {
	key string

	mu          sync.Mutex
	streams     []*fakeStream
	streamFn    func() Stream
	genErr      error
	calls       [][]types.ChatMessage
	toolDefs    [][]types.Tool
	temperature float64
	block       chan struct{}
}

func (b *fakeBinding) Generate(_ context.Context, messages []types.ChatMessage, tools []types.Tool) (Stream, error) {
	if b.block != nil {
		<-b.block
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls = append(b.calls, append([]types.ChatMessage(nil), messages...))
	b.toolDefs = append(b.toolDefs, tools)

	if b.genErr != nil {
		err := b.genErr
		b.genErr = nil
		return nil, err
	}
	if b.streamFn != nil {
		return b.streamFn(), nil
	}
	if len(b.streams) == 0 {
		return &fakeStream{}, nil
	}
	stream := b.streams[0]
	b.streams = b.streams[1:]
	return stream, nil
}

func (b *fakeBinding) SetTemperature(t float64) {
	b.mu.Lock()
	b.temperature = t
	b.mu.Unlock()
}

func (b *fakeBinding) ModelKey() string { return b.key }

func (b *fakeBinding) generateCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

// fakeBinder returns a fresh fakeBinding per Bind and counts binds.
type fakeBinder struct {
	mu       sync.Mutex
	binds    int
	err      error
	bindings []*fakeBinding
	streams  []*fakeStream
}

func (f *fakeBinder) Bind(providerName, model string, temperature float64) (Binding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	f.binds++
	b := &fakeBinding{
		key:         providerName + "/" + model,
		temperature: temperature,
		streams:     f.streams,
	}
	f.bindings = append(f.bindings, b)
	return b, nil
}

func (f *fakeBinder) bindCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.binds
}

func (f *fakeBinder) lastBinding() *fakeBinding {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.bindings) == 0 {
		return nil
	}
	return f.bindings[len(f.bindings)-1]
}

// fakeTools is a scripted ToolRunner.
type fakeTools struct {
	mu         sync.Mutex
	connectErr error
	connects   int
	tools      []types.Tool
	results    map[string]*mcp.ToolResult
	invokeErr  error
	invoked    []string
	closes     int
}

func (f *fakeTools) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.connectErr
}

func (f *fakeTools) Tools() []types.Tool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tools
}

func (f *fakeTools) Invoke(_ context.Context, name, _ string) (*mcp.ToolResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invoked = append(f.invoked, name)
	if f.invokeErr != nil {
		return nil, f.invokeErr
	}
	if res, ok := f.results[name]; ok {
		return res, nil
	}
	return &mcp.ToolResult{Name: name, Content: "ok"}, nil
}

func (f *fakeTools) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

// fakeMemory scripts compaction and records extraction calls.
type fakeMemory struct {
	mu             sync.Mutex
	summarize      bool
	summary        string
	keepRecent     int
	extractEvery   int
	extracts       int
	finalExtracts  int
	searched       []string
	searchResults  []memory.Item
	extractedTurns int
}

func (m *fakeMemory) ShouldExtract(_ string, turnCount int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.extractEvery > 0 && turnCount-m.extractedTurns >= m.extractEvery
}

func (m *fakeMemory) Extract(_ context.Context, _, _ string, turns []store.Turn) ([]memory.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extracts++
	m.extractedTurns = len(turns)
	return nil, nil
}

func (m *fakeMemory) ExtractRemaining(_ context.Context, _, _ string, turns []store.Turn) ([]memory.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalExtracts++
	m.extractedTurns = len(turns)
	return nil, nil
}

func (m *fakeMemory) ShouldSummarize([]store.Turn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summarize
}

func (m *fakeMemory) Compact(_ context.Context, _, _ string, turns []store.Turn) (string, []store.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summarize = false
	keep := m.keepRecent
	if keep > len(turns) {
		keep = len(turns)
	}
	return m.summary, turns[len(turns)-keep:], nil
}

func (m *fakeMemory) Search(_ context.Context, _, query string, _ int) ([]memory.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searched = append(m.searched, query)
	return m.searchResults, nil
}

// hangingStream yields one chunk, then blocks until released and
// reports the cancellation the way a closed response body would.
type hangingStream struct {
	release chan struct{}
	sent    bool
}

func (s *hangingStream) Recv() (*types.StreamChunk, error) {
	if !s.sent {
		s.sent = true
		return textChunk("checking the cluster"), nil
	}
	<-s.release
	return nil, context.Canceled
}

func (s *hangingStream) Close() error { return nil }

func connectionRefused() error {
	return errors.NewConnectionError("mcp.connect", "connection refused")
}
