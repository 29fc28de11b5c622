package model

import (
	"github.com/cloudwego/eino/schema"
)

// TurnStatus is the terminal condition a turn ended with.
type TurnStatus string

const (
	TurnCompleted       TurnStatus = "completed"
	TurnAwaitingReview  TurnStatus = "awaiting_review"
	TurnEscalated       TurnStatus = "escalated"
	TurnIterationLimit  TurnStatus = "iteration_limit"
	TurnUpstreamFailure TurnStatus = "upstream_failure"
)

// TurnInput is the graph input: the thread's working copy plus the user text.
type TurnInput struct {
	Conversation *Conversation
	Text         string
	Trace        *TurnTrace
}

// TurnTrace collects what happened during one graph invocation. The runner
// owns it; graph nodes fill it from inside state handlers.
type TurnTrace struct {
	Status       TurnStatus
	Cause        error
	Iterations   int
	ToolCalls    int
	TotalCostUSD float64
}

// TurnState stores per-invocation state for the Eino Graph.
// Concurrency model:
//   - Registered as Graph Local State via compose.WithGenLocalState.
//   - Read and written only inside WithStatePreHandler, WithStatePostHandler or
//     compose.ProcessState, which serialise access.
//   - Conversation is the working copy of the thread; the runner persists it
//     only after the graph returns without error.
type TurnState struct {
	Conversation *Conversation
	Trace        *TurnTrace
	Iterations   int
	// agent message currently being answered by the tools node
	Pending *schema.Message
}

// Record sets the terminal status of the turn.
func (s *TurnState) Record(status TurnStatus, cause error) {
	if s.Trace == nil {
		s.Trace = &TurnTrace{}
	}
	s.Trace.Status = status
	s.Trace.Cause = cause
	s.Trace.Iterations = s.Iterations
}

// TurnResult is returned by the conversation entry point.
type TurnResult struct {
	ThreadID          string     `json:"thread_id"`
	Reply             string     `json:"reply"`
	Status            TurnStatus `json:"status"`
	ActiveAgent       AgentKind  `json:"active_agent"`
	PendingEscalation bool       `json:"pending_escalation"`
	Iterations        int        `json:"iterations"`
	CostUSD           float64    `json:"cost_usd,omitempty"`
	Cause             string     `json:"cause,omitempty"`
}
