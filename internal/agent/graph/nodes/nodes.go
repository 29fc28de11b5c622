package nodes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/shopassist/server/internal/agent/graph/tools"
	"github.com/shopassist/server/internal/agent/model"
	errx "github.com/shopassist/server/internal/core/error"
	logx "github.com/shopassist/server/pkg/logger"
)

// Fixed replies of the orchestrator.
const (
	AwaitingReviewReply  = "Your conversation is awaiting review by a human support specialist. We will get back to you as soon as possible."
	EscalatedReply       = "I've passed your request to a human support specialist. They will review this conversation and get back to you shortly."
	FallbackReply        = "I'm sorry, I was unable to complete your request. Please try rephrasing it or ask for one thing at a time."
	UpstreamFailureReply = "I'm sorry, I'm having trouble responding right now. Please try again in a moment."
)

// NewIntakePreHandler loads the turn input into graph state.
func NewIntakePreHandler() func(context.Context, model.TurnInput, *model.TurnState) (model.TurnInput, error) {
	return func(ctx context.Context, in model.TurnInput, s *model.TurnState) (model.TurnInput, error) {
		if in.Conversation == nil {
			return in, fmt.Errorf("turn input has no conversation")
		}
		s.Conversation = in.Conversation
		s.Trace = in.Trace
		if s.Trace == nil {
			s.Trace = &model.TurnTrace{}
		}
		s.Iterations = 0
		s.Pending = nil
		return in, nil
	}
}

// NewIntakeNode appends the user message to the conversation.
func NewIntakeNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.TurnInput) ([]*schema.Message, error) {
		text := strings.TrimSpace(in.Text)
		if text == "" {
			return nil, errx.InvalidArgument("message text is required")
		}
		msg := schema.UserMessage(text)

		var out []*schema.Message
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.TurnState) error {
			s.Conversation.Append(msg)
			out = s.Conversation.Messages
			logx.Debug().
				Str("thread_id", s.Conversation.ThreadID).
				Str("active_agent", string(s.Conversation.ActiveAgent)).
				Bool("pending_escalation", s.Conversation.PendingEscalation).
				Msg("User message received")
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}
		return out, nil
	})
}

// NewEscalationGateCondition suspends the thread while an escalation is open.
func NewEscalationGateCondition() func(context.Context, []*schema.Message) (string, error) {
	return func(ctx context.Context, _ []*schema.Message) (string, error) {
		var pending bool
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.TurnState) error {
			pending = s.Conversation.PendingEscalation
			return nil
		})
		if err != nil {
			return "", err
		}
		if pending {
			logx.Debug().Msg("Escalation pending - routing to awaiting review")
			return NodeAwaitingReview, nil
		}
		return NodeAgent, nil
	}
}

// NewAgentNode invokes the active agent. Completer failures end the turn with
// a fixed apology unless the caller's context is done, which is an
// infrastructure failure returned to the caller.
func NewAgentNode(agents map[model.AgentKind]*Agent) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, _ []*schema.Message) (*schema.Message, error) {
		var (
			conv      *model.Conversation
			iteration int
		)
		if err := compose.ProcessState(ctx, func(_ context.Context, s *model.TurnState) error {
			conv = s.Conversation
			iteration = s.Iterations + 1
			return nil
		}); err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}

		agent, ok := agents[conv.ActiveAgent]
		if !ok {
			return nil, fmt.Errorf("no agent registered for %q", conv.ActiveAgent)
		}

		logx.Debug().
			Str("thread_id", conv.ThreadID).
			Str("active_agent", string(agent.Kind())).
			Int("iteration", iteration).
			Msg("Agent thinking...")

		out, err := agent.Step(ctx, conv)
		if err == nil {
			return out, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("agent %s: %w", agent.Kind(), ctxErr)
		}
		if !errors.Is(err, errx.ErrUpstreamFailure) {
			return nil, err
		}

		logx.Error().
			Err(err).
			Str("thread_id", conv.ThreadID).
			Str("active_agent", string(agent.Kind())).
			Int("iteration", iteration).
			Msg("Dialogue completion failed")
		_ = compose.ProcessState(ctx, func(_ context.Context, s *model.TurnState) error {
			s.Record(model.TurnUpstreamFailure, err)
			return nil
		})
		return fixedReply(UpstreamFailureReply, agent.Kind(), model.TurnUpstreamFailure), nil
	})
}

// NewAgentPostHandler gives every requested call a thread-unique id, appends
// the agent entry and accounts for usage cost.
func NewAgentPostHandler(agents map[model.AgentKind]*Agent) func(context.Context, *schema.Message, *model.TurnState) (*schema.Message, error) {
	return func(ctx context.Context, out *schema.Message, s *model.TurnState) (*schema.Message, error) {
		if out == nil {
			return nil, fmt.Errorf("agent returned no message")
		}
		conv := s.Conversation
		s.Iterations++
		s.Trace.Iterations = s.Iterations

		if a, ok := agents[conv.ActiveAgent]; ok {
			cost := model.MessageCost(out, a.ModelName())
			s.Trace.TotalCostUSD += cost
			if cost > 0 {
				logx.Debug().
					Str("thread_id", conv.ThreadID).
					Str("model", a.ModelName()).
					Float64("total_cost_usd", cost).
					Msg("LLM usage")
			}
		}

		normalizeCallIDs(conv, out)
		conv.Append(out)

		if len(out.ToolCalls) > 0 {
			s.Pending = out
			s.Trace.ToolCalls += len(out.ToolCalls)
			logx.Debug().Int("tool_count", len(out.ToolCalls)).Msg("Calling tools")
		} else if s.Trace.Status == "" {
			s.Record(model.TurnCompleted, nil)
			logx.Debug().Msg("AI response ready")
		}
		return out, nil
	}
}

// NewToolExecutorCondition routes agent entries with tool calls to the
// executor and ends the turn otherwise.
func NewToolExecutorCondition() func(context.Context, *schema.Message) (string, error) {
	return func(ctx context.Context, input *schema.Message) (string, error) {
		if len(input.ToolCalls) > 0 {
			logx.Debug().Int("tool_count", len(input.ToolCalls)).Msg("Routing to ToolExecutor")
			return NodeToolExecutor, nil
		}
		return compose.END, nil
	}
}

// NewToolExecutorNode answers every call of the pending agent entry. The
// calls run with the tool set of the agent that issued them.
func NewToolExecutorNode(executor *tools.Executor) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in *schema.Message) ([]*schema.Message, error) {
		var results []*schema.Message
		err := compose.ProcessState(ctx, func(ctx context.Context, s *model.TurnState) error {
			conv := s.Conversation
			results = executor.Execute(ctx, conv, conv.ActiveAgent, in.ToolCalls)
			conv.Append(results...)
			s.Pending = nil
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}
		return results, nil
	})
}

// NewLoopCondition decides what follows a tool batch: suspension when an
// escalation was raised, the fallback when the iteration bound is reached,
// otherwise another agent step.
func NewLoopCondition(maxIterations int) func(context.Context, []*schema.Message) (string, error) {
	maxIterations = normalizeMaxIterations(maxIterations)
	return func(ctx context.Context, _ []*schema.Message) (string, error) {
		var (
			pending    bool
			iterations int
		)
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.TurnState) error {
			pending = s.Conversation.PendingEscalation
			iterations = s.Iterations
			return nil
		})
		if err != nil {
			return "", err
		}
		switch {
		case pending:
			return NodeEscalated, nil
		case iterations >= maxIterations:
			return NodeFallback, nil
		}
		return NodeAgent, nil
	}
}

// NewAwaitingReviewNode answers a suspended thread without invoking an agent.
func NewAwaitingReviewNode() *compose.Lambda {
	return newTerminalNode(AwaitingReviewReply, model.TurnAwaitingReview, func(s *model.TurnState) error { return nil })
}

// NewEscalatedNode ends the turn in which an escalation was raised.
func NewEscalatedNode() *compose.Lambda {
	return newTerminalNode(EscalatedReply, model.TurnEscalated, func(s *model.TurnState) error {
		if e := s.Conversation.OpenEscalation(); e != nil {
			logx.Info().
				Str("thread_id", s.Conversation.ThreadID).
				Str("urgency", string(e.Urgency)).
				Msg("Thread suspended for human review")
		}
		return nil
	})
}

// NewFallbackNode ends a turn that hit the iteration bound.
func NewFallbackNode(maxIterations int) *compose.Lambda {
	maxIterations = normalizeMaxIterations(maxIterations)
	return newTerminalNode(FallbackReply, model.TurnIterationLimit, func(s *model.TurnState) error {
		err := errx.IterationLimitExceeded(maxIterations)
		logx.Warn().
			Err(err).
			Str("thread_id", s.Conversation.ThreadID).
			Str("active_agent", string(s.Conversation.ActiveAgent)).
			Int("iteration", s.Iterations).
			Msg("Iteration limit reached")
		return err
	})
}

// newTerminalNode appends a fixed reply and records the turn status. cause
// returns the error recorded with the status.
func newTerminalNode(reply string, status model.TurnStatus, cause func(*model.TurnState) error) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, _ []*schema.Message) (*schema.Message, error) {
		var out *schema.Message
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.TurnState) error {
			out = fixedReply(reply, s.Conversation.ActiveAgent, status)
			s.Conversation.Append(out)
			s.Record(status, cause(s))
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}
		return out, nil
	})
}

func fixedReply(content string, agent model.AgentKind, status model.TurnStatus) *schema.Message {
	msg := schema.AssistantMessage(content, nil)
	msg.Extra = map[string]any{
		model.ExtraAgent: string(agent),
		model.ExtraTurn:  string(status),
	}
	return msg
}
