package tools

import (
	"fmt"

	"github.com/shopassist/server/internal/agent/model"
	logx "github.com/shopassist/server/pkg/logger"
)

// EscalationAck is the tool result returned for an accepted escalation.
const EscalationAck = "Escalation received (urgency: %s). A human support specialist will review this conversation before the assistant continues."

// escalate moves the conversation into the awaiting-approval state. Other
// calls of the same batch still run; the orchestrator stops scheduling agent
// turns once the batch is done.
func (e *Executor) escalate(conv *model.Conversation, callID string, a EscalationArgs) (string, error) {
	conv.Escalations = append(conv.Escalations, model.Escalation{
		CallID:   callID,
		Reason:   a.Reason,
		Urgency:  a.Urgency,
		RaisedAt: e.now().UTC(),
	})
	conv.PendingEscalation = true

	logx.Warn().
		Str("thread_id", conv.ThreadID).
		Str("call_id", callID).
		Str("urgency", string(a.Urgency)).
		Str("reason", a.Reason).
		Msg("Conversation escalated to human review")
	return fmt.Sprintf(EscalationAck, a.Urgency), nil
}

func (e *Executor) transfer(conv *model.Conversation, c transferCall) (string, error) {
	if conv.ActiveAgent == c.to {
		return fmt.Sprintf("The %s agent is already handling this conversation.", c.to), nil
	}
	from := conv.ActiveAgent
	conv.ActiveAgent = c.to

	logx.Debug().
		Str("thread_id", conv.ThreadID).
		Str("from", string(from)).
		Str("to", string(c.to)).
		Str("reason", c.Reason).
		Msg("Agent handoff")
	return fmt.Sprintf("Transferred from the %s agent to the %s agent.", from, c.to), nil
}
