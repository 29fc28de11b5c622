package conversations

import (
	"fmt"

	"github.com/cloudwego/eino/schema"
	"github.com/tiktoken-go/tokenizer"

	logx "github.com/shopassist/server/pkg/logger"
)

// DefaultBudget is used when the configured token budget is not positive.
const DefaultBudget = 6000

// per-message overhead of role markers and separators
const messageOverhead = 4

// Window selects the part of a transcript that is sent to the completion
// model. It keeps the system prompt, the whole current turn and as many
// earlier exchanges as fit the token budget. Earlier history is dropped in
// whole exchanges, each starting at a user message, so a tool result never
// loses the agent entry that requested it.
type Window struct {
	codec  tokenizer.Codec
	budget int
}

// NewWindow creates a window with the given token budget.
func NewWindow(budget int) (*Window, error) {
	if budget <= 0 {
		budget = DefaultBudget
	}
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec: %w", err)
	}
	return &Window{codec: codec, budget: budget}, nil
}

// Budget returns the token budget.
func (w *Window) Budget() int { return w.budget }

// Count estimates the tokens of one message.
func (w *Window) Count(m *schema.Message) int {
	if m == nil {
		return 0
	}
	n := messageOverhead + w.count(m.Content)
	for _, tc := range m.ToolCalls {
		n += w.count(tc.Function.Name) + w.count(tc.Function.Arguments)
	}
	return n
}

func (w *Window) count(s string) int {
	if s == "" {
		return 0
	}
	if w.codec == nil {
		return len(s) / 4
	}
	n, err := w.codec.Count(s)
	if err != nil {
		return len(s) / 4
	}
	return n
}

// Build returns the system prompt followed by the selected history.
func (w *Window) Build(system string, history []*schema.Message) []*schema.Message {
	sys := schema.SystemMessage(system)
	used := w.Count(sys)

	// the current turn starts at the last user message and is always kept
	cut := lastUserIndex(history, len(history))
	if cut < 0 {
		cut = 0
	}
	for _, m := range history[cut:] {
		used += w.Count(m)
	}

	start := cut
	for start > 0 {
		prev := lastUserIndex(history, start)
		if prev < 0 {
			// leading entries without a user message are kept only with the rest
			prev = 0
		}
		cost := 0
		for _, m := range history[prev:start] {
			cost += w.Count(m)
		}
		if used+cost > w.budget {
			break
		}
		used += cost
		start = prev
	}

	if start > 0 {
		logx.Debug().
			Int("dropped_messages", start).
			Int("kept_messages", len(history)-start).
			Int("tokens", used).
			Int("budget", w.budget).
			Msg("Trimmed conversation history")
	}

	out := make([]*schema.Message, 0, len(history)-start+1)
	out = append(out, sys)
	for _, m := range history[start:] {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}

// lastUserIndex returns the index of the last user message before end, or -1.
func lastUserIndex(history []*schema.Message, end int) int {
	for i := end - 1; i >= 0; i-- {
		if history[i] != nil && history[i].Role == schema.User {
			return i
		}
	}
	return -1
}
