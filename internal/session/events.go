package session

import "github.com/kubechat/kubechat/pkg/errors"

// EventType discriminates events on a send stream.
type EventType string

const (
	// EventToken carries one text delta from the model.
	EventToken EventType = "token"
	// EventToolStart announces a tool invocation about to run.
	EventToolStart EventType = "tool_start"
	// EventToolEnd carries the invocation outcome. Tool failures ride
	// here inline; the turn keeps going.
	EventToolEnd EventType = "tool_end"
	// EventError terminates the stream after an unrecoverable failure.
	EventError EventType = "error"
	// EventDone terminates the stream after a completed turn.
	EventDone EventType = "done"
)

// Event is one item on the stream returned by Send. Every stream ends
// with exactly one EventError or EventDone, then the channel closes.
type Event struct {
	Type EventType

	// Text is set on token events.
	Text string

	// Tool fields are set on tool_start and tool_end events.
	ToolName   string
	ToolInput  string
	ToolOutput string
	ToolFailed bool

	// Err is set on error events and on tool_end events whose
	// invocation failed at the transport level. ErrKind carries its
	// taxonomy classification for renderers that never unwrap.
	Err     error
	ErrKind errors.Kind
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventError || e.Type == EventDone
}
