package session

import (
	"context"

	"github.com/kubechat/kubechat/internal/llm"
	"github.com/kubechat/kubechat/internal/mcp"
	"github.com/kubechat/kubechat/internal/memory"
	"github.com/kubechat/kubechat/internal/store"
	"github.com/kubechat/kubechat/pkg/types"
)

// Stream is the slice of llm.Stream the session consumes.
type Stream interface {
	Recv() (*types.StreamChunk, error)
	Close() error
}

// Binding is one bound model selection the session generates with.
type Binding interface {
	Generate(ctx context.Context, messages []types.ChatMessage, tools []types.Tool) (Stream, error)
	SetTemperature(t float64)
	ModelKey() string
}

// Binder resolves catalog selections into bindings. Implemented by
// llm.Factory via FactoryBinder.
type Binder interface {
	Bind(providerName, model string, temperature float64) (Binding, error)
}

// BinderFunc adapts a function to the Binder interface. It lets callers
// resolve each bind against whatever catalog is current at call time,
// so a config reload takes effect on the next bind.
type BinderFunc func(providerName, model string, temperature float64) (Binding, error)

func (f BinderFunc) Bind(providerName, model string, temperature float64) (Binding, error) {
	return f(providerName, model, temperature)
}

// FactoryBinder adapts an llm.Factory to the Binder interface.
type FactoryBinder struct {
	Factory *llm.Factory
}

func (f FactoryBinder) Bind(providerName, model string, temperature float64) (Binding, error) {
	b, err := f.Factory.Bind(providerName, model, temperature)
	if err != nil {
		return nil, err
	}
	return boundModel{b}, nil
}

type boundModel struct {
	*llm.Binding
}

func (b boundModel) Generate(ctx context.Context, messages []types.ChatMessage, tools []types.Tool) (Stream, error) {
	return b.Binding.Generate(ctx, messages, tools)
}

// ToolRunner is the slice of mcp.Conn the session drives. A nil runner
// means the session operates without tools.
type ToolRunner interface {
	Connect(ctx context.Context) error
	Tools() []types.Tool
	Invoke(ctx context.Context, name, argsJSON string) (*mcp.ToolResult, error)
	Close() error
}

// Memory is the slice of memory.Manager the session uses. A nil Memory
// disables recall, extraction, and compaction.
type Memory interface {
	ShouldExtract(sessionID string, turnCount int) bool
	Extract(ctx context.Context, userID, sessionID string, turns []store.Turn) ([]memory.Item, error)
	ExtractRemaining(ctx context.Context, userID, sessionID string, turns []store.Turn) ([]memory.Item, error)
	ShouldSummarize(turns []store.Turn) bool
	Compact(ctx context.Context, userID, sessionID string, turns []store.Turn) (string, []store.Turn, error)
	Search(ctx context.Context, userID, query string, limit int) ([]memory.Item, error)
}
