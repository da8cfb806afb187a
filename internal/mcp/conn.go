// Package mcp maintains the connection to the Kubernetes tool server
// over the Model Context Protocol. It discovers the server's tools,
// exposes them as chat tool definitions, and executes invocations with
// a single bounded reconnect on transport failure.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kubechat/kubechat/internal/config"
	"github.com/kubechat/kubechat/internal/metrics"
	"github.com/kubechat/kubechat/pkg/errors"
	"github.com/kubechat/kubechat/pkg/types"
)

const (
	clientName    = "kubechat"
	clientVersion = "1.0.0"

	logPrefix = "[MCP]"
)

// ToolResult is the outcome of one tool invocation. IsError marks
// tool-level failures reported by the server; those are carried back to
// the model rather than raised as Go errors.
type ToolResult struct {
	Name    string
	Content string
	IsError bool
}

// rpcClient is the slice of the mcp-go client the Conn uses.
// Narrowed to an interface so transport failures can be simulated.
type rpcClient interface {
	Start(ctx context.Context) error
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// Conn is one connection to one MCP server.
// Methods are safe for concurrent use; the session layer serializes
// invocations per session but multiple sessions may share a process.
type Conn struct {
	cfg    config.MCPConfig
	logger *slog.Logger
	dialFn func() (rpcClient, error)

	mu        sync.Mutex
	client    rpcClient
	tools     []types.Tool
	connected bool
}

// NewConn creates an unconnected Conn for the configured server.
func NewConn(cfg config.MCPConfig, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Conn{cfg: cfg, logger: logger}
	c.dialFn = c.dial
	return c
}

// Connect dials the transport, runs the MCP handshake, and discovers
// the server's tools. The descriptor set is replaced wholesale on every
// successful connect.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Conn) connectLocked(ctx context.Context) error {
	if c.client != nil {
		_ = c.client.Close()
		c.client = nil
		c.connected = false
	}

	mcpClient, err := c.dialFn()
	if err != nil {
		return errors.NewConnectionError("mcp.connect", err.Error()).WithCause(err)
	}

	timeout := c.cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := mcpClient.Start(ctx); err != nil {
		_ = mcpClient.Close()
		return errors.NewConnectionError("mcp.connect",
			fmt.Sprintf("start transport: %v", err)).WithCause(err)
	}

	initReq := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcp.Implementation{
				Name:    clientName,
				Version: clientVersion,
			},
		},
	}
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		_ = mcpClient.Close()
		return errors.NewConnectionError("mcp.connect",
			fmt.Sprintf("initialize: %v", err)).WithCause(err)
	}

	tools, err := discoverTools(ctx, mcpClient)
	if err != nil {
		_ = mcpClient.Close()
		return errors.NewConnectionError("mcp.connect",
			fmt.Sprintf("list tools: %v", err)).WithCause(err)
	}

	c.client = mcpClient
	c.tools = tools
	c.connected = true
	metrics.RecordMCPConnected(true)

	c.logger.Info(logPrefix+" connected",
		"transport", c.cfg.Transport,
		"tools", len(tools),
	)
	return nil
}

func (c *Conn) dial() (rpcClient, error) {
	switch c.cfg.Transport {
	case "http":
		t, err := transport.NewStreamableHTTP(
			c.cfg.URL,
			transport.WithHTTPHeaders(c.cfg.Headers),
		)
		if err != nil {
			return nil, fmt.Errorf("create http transport: %w", err)
		}
		return client.NewClient(t), nil

	case "stdio":
		t := transport.NewStdio(c.cfg.Command, c.cfg.Envs, c.cfg.Args...)
		return client.NewClient(t), nil

	default:
		return nil, fmt.Errorf("unsupported transport: %s", c.cfg.Transport)
	}
}

func discoverTools(ctx context.Context, mcpClient rpcClient) ([]types.Tool, error) {
	listReq := mcp.ListToolsRequest{
		PaginatedRequest: mcp.PaginatedRequest{
			Request: mcp.Request{
				Method: string(mcp.MethodToolsList),
			},
		},
	}

	resp, err := mcpClient.ListTools(ctx, listReq)
	if err != nil {
		return nil, err
	}

	tools := make([]types.Tool, 0, len(resp.Tools))
	for i := range resp.Tools {
		tools = append(tools, convertTool(&resp.Tools[i]))
	}
	return tools, nil
}

// Connected reports whether the connection is currently established.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Tools returns the descriptors discovered on the last connect.
func (c *Conn) Tools() []types.Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Tool, len(c.tools))
	copy(out, c.tools)
	return out
}

// Invoke executes one tool call. Transport failures trigger exactly one
// reconnect and retry; a second failure surfaces a connection error.
// Tool-level failures come back as ToolResult{IsError: true}.
func (c *Conn) Invoke(ctx context.Context, name, argsJSON string) (*ToolResult, error) {
	start := time.Now()

	result, err := c.invokeOnce(ctx, name, argsJSON)
	if err != nil {
		c.logger.Warn(logPrefix+" invocation failed, reconnecting",
			"tool", name,
			"error", err,
		)
		metrics.RecordMCPConnected(false)

		if rerr := c.Connect(ctx); rerr != nil {
			metrics.RecordToolExecution(name, "connection_error", time.Since(start).Seconds())
			return nil, errors.NewConnectionError("mcp.invoke",
				fmt.Sprintf("tool %s: reconnect failed: %v", name, rerr)).WithCause(rerr)
		}

		result, err = c.invokeOnce(ctx, name, argsJSON)
		if err != nil {
			metrics.RecordToolExecution(name, "connection_error", time.Since(start).Seconds())
			return nil, errors.NewConnectionError("mcp.invoke",
				fmt.Sprintf("tool %s: %v", name, err)).WithCause(err)
		}
	}

	status := "ok"
	if result.IsError {
		status = "tool_error"
	}
	metrics.RecordToolExecution(name, status, time.Since(start).Seconds())
	return result, nil
}

func (c *Conn) invokeOnce(ctx context.Context, name, argsJSON string) (*ToolResult, error) {
	c.mu.Lock()
	mcpClient := c.client
	connected := c.connected
	c.mu.Unlock()

	if !connected || mcpClient == nil {
		return nil, fmt.Errorf("not connected")
	}

	args, err := parseArguments(argsJSON)
	if err != nil {
		// Malformed arguments are a tool-level failure the model can
		// correct; they never touch the transport.
		return &ToolResult{
			Name:    name,
			Content: fmt.Sprintf("invalid tool arguments: %v", err),
			IsError: true,
		}, nil
	}

	timeout := c.cfg.InvokeTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	callReq := mcp.CallToolRequest{
		Request: mcp.Request{
			Method: string(mcp.MethodToolsCall),
		},
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}

	resp, err := mcpClient.CallTool(ctx, callReq)
	if err != nil {
		return nil, err
	}

	return &ToolResult{
		Name:    name,
		Content: extractText(resp, name),
		IsError: resp != nil && resp.IsError,
	}, nil
}

// Close releases the transport. Safe to call multiple times.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	c.connected = false
	metrics.RecordMCPConnected(false)
	return err
}
