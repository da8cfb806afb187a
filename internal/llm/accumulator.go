package llm

import (
	"strings"

	"github.com/kubechat/kubechat/pkg/types"
)

// Accumulator merges stream chunks into a complete assistant message.
// Tool call fragments arriving with the same index are stitched back
// together; fragments without an index start a new call.
type Accumulator struct {
	content   strings.Builder
	toolCalls []types.ToolCall
	finish    string
}

// Add folds one chunk into the accumulated message and returns any text
// delta it carried.
func (a *Accumulator) Add(chunk *types.StreamChunk) string {
	if chunk == nil || len(chunk.Choices) == 0 {
		return ""
	}

	choice := chunk.Choices[0]
	if choice.FinishReason != "" {
		a.finish = choice.FinishReason
	}

	a.content.WriteString(choice.Delta.Content)

	for _, tc := range choice.Delta.ToolCalls {
		a.mergeToolCall(tc)
	}

	return choice.Delta.Content
}

func (a *Accumulator) mergeToolCall(tc types.ToolCall) {
	if tc.Index == nil {
		a.toolCalls = append(a.toolCalls, tc)
		return
	}

	idx := *tc.Index
	for len(a.toolCalls) <= idx {
		a.toolCalls = append(a.toolCalls, types.ToolCall{})
	}

	merged := &a.toolCalls[idx]
	if tc.ID != "" {
		merged.ID = tc.ID
	}
	if tc.Type != "" {
		merged.Type = tc.Type
	}
	if tc.Function.Name != "" {
		merged.Function.Name = tc.Function.Name
	}
	merged.Function.Arguments += tc.Function.Arguments
}

// Message returns the accumulated assistant message.
// Empty placeholder calls (index gaps) are dropped and indexes cleared.
func (a *Accumulator) Message() types.ChatMessage {
	msg := types.TextMessage("assistant", a.content.String())
	for _, tc := range a.toolCalls {
		if tc.ID == "" && tc.Function.Name == "" {
			continue
		}
		tc.Index = nil
		if tc.Type == "" {
			tc.Type = "function"
		}
		msg.ToolCalls = append(msg.ToolCalls, tc)
	}
	return msg
}

// ToolCalls reports whether the accumulated message contains tool calls.
func (a *Accumulator) ToolCalls() bool {
	for _, tc := range a.toolCalls {
		if tc.ID != "" || tc.Function.Name != "" {
			return true
		}
	}
	return false
}

// FinishReason returns the last finish reason seen on the stream.
func (a *Accumulator) FinishReason() string {
	return a.finish
}
