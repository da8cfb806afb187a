package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/kubechat/kubechat/internal/store"
	"github.com/kubechat/kubechat/pkg/types"
)

const extractionPrompt = `You extract durable operational facts from a Kubernetes operations conversation so they can be recalled in future sessions.

Rules:
1. Extract independent, standalone facts about the cluster, workloads, incidents, and the user's stated preferences.
2. Ignore greetings, acknowledgements, and transient command output.
3. Categorize each fact as "cluster", "incident", or "preference".
4. Output JSON only.

Conversation:
%s

Output format:
{
  "facts": [
    { "content": "Production cluster runs Kubernetes 1.31", "category": "cluster" },
    { "content": "User prefers kubectl output in YAML", "category": "preference" }
  ]
}`

// Fact is one extracted statement.
type Fact struct {
	Content  string `json:"content"`
	Category string `json:"category"`
}

type extractionResult struct {
	Facts []Fact `json:"facts"`
}

// Extractor turns conversation turns into standalone facts via an LLM.
type Extractor struct {
	llm Completer
}

// NewExtractor creates an extractor over the given completion backend.
func NewExtractor(llm Completer) *Extractor {
	return &Extractor{llm: llm}
}

// Extract returns the facts found in the given turns. A conversation
// with nothing worth remembering yields an empty slice.
func (e *Extractor) Extract(ctx context.Context, turns []store.Turn) ([]Fact, error) {
	transcript := renderTranscript(turns)
	if transcript == "" {
		return nil, nil
	}

	messages := []types.ChatMessage{
		types.TextMessage("system", "You are a memory extraction assistant that outputs JSON."),
		types.TextMessage("user", fmt.Sprintf(extractionPrompt, transcript)),
	}

	out, err := e.llm.Complete(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("extraction completion: %w", err)
	}

	// An empty completion means the model found nothing worth keeping.
	out = stripCodeFence(out)
	if out == "" {
		return nil, nil
	}

	var result extractionResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		return nil, fmt.Errorf("parse extraction output: %w", err)
	}

	facts := result.Facts[:0]
	for _, f := range result.Facts {
		if strings.TrimSpace(f.Content) != "" {
			facts = append(facts, f)
		}
	}
	return facts, nil
}

// renderTranscript flattens turns into role-prefixed lines. Tool turns
// contribute their name and a trimmed output sample.
func renderTranscript(turns []store.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		switch t.Role {
		case store.RoleTool:
			fmt.Fprintf(&b, "tool[%s]: %s\n", t.ToolName, truncate(t.ToolOutput, 500))
		default:
			if strings.TrimSpace(t.Content) == "" {
				continue
			}
			fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
		}
	}
	return strings.TrimSpace(b.String())
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// stripCodeFence removes a markdown fence if the model wrapped its JSON.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
