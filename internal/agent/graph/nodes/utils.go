package nodes

import (
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/shopassist/server/internal/agent/model"
)

// Node keys of the turn graph.
const (
	NodeIntake         = "Intake"
	NodeAgent          = "Agent"
	NodeToolExecutor   = "ToolExecutor"
	NodeAwaitingReview = "AwaitingReview"
	NodeEscalated      = "Escalated"
	NodeFallback       = "Fallback"
)

const DefaultMaxIterations = 10

// normalizeMaxIterations returns a sane default when the provided value is invalid.
func normalizeMaxIterations(n int) int {
	if n <= 0 {
		return DefaultMaxIterations
	}
	return n
}

// normalizeCallIDs replaces empty or already used call ids with synthetic
// ones. Some providers omit ids or reuse the function name as the id.
func normalizeCallIDs(conv *model.Conversation, msg *schema.Message) {
	if len(msg.ToolCalls) == 0 {
		return
	}
	used := make(map[string]bool)
	for _, m := range conv.Messages {
		if m == nil {
			continue
		}
		for _, tc := range m.ToolCalls {
			used[tc.ID] = true
		}
	}
	for i := range msg.ToolCalls {
		id := strings.TrimSpace(msg.ToolCalls[i].ID)
		if id == "" || used[id] {
			id = conv.NextCallID()
			for used[id] {
				id = conv.NextCallID()
			}
			msg.ToolCalls[i].ID = id
		}
		used[id] = true
	}
}
