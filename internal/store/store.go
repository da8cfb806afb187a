// Package store persists conversation history. Turns are append-only;
// session metadata is maintained alongside for listing and eviction.
// Three backends exist: in-process memory, JSONL files, and redis.
package store

import (
	"context"
	"time"
)

// Turn is one immutable dialogue entry. Position is assigned by the
// store and is strictly monotonic within a session.
type Turn struct {
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	Position   int       `json:"position"`
	Timestamp  time.Time `json:"timestamp"`
	ToolName   string    `json:"tool_name,omitempty"`
	ToolInput  string    `json:"tool_input,omitempty"`
	ToolOutput string    `json:"tool_output,omitempty"`
	ToolError  string    `json:"tool_error,omitempty"`
}

// Metadata describes one session for listing and admission decisions.
type Metadata struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	TurnCount int       `json:"turn_count"`
}

// Store is the conversation persistence contract.
//
// Append creates the session metadata on first use and bumps
// TurnCount/UpdatedAt on every call; it returns the stored turn with
// its assigned position. Load returns all turns in position order.
// ListMetadata returns a user's sessions, most recently updated first.
// Delete removes a session's turns and metadata and reports not_found
// for unknown sessions.
type Store interface {
	Append(ctx context.Context, userID, sessionID string, turn Turn) (Turn, error)
	Load(ctx context.Context, sessionID string) ([]Turn, error)
	ListMetadata(ctx context.Context, userID string) ([]Metadata, error)
	SetTitle(ctx context.Context, sessionID, title string) error
	Delete(ctx context.Context, sessionID string) error
	Close() error
}

// Turn roles. Summaries produced by compaction are stored as assistant
// turns flagged with RoleSummary.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	RoleSummary   = "summary"
)
