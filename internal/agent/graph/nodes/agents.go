package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/shopassist/server/internal/agent/graph/conversations"
	"github.com/shopassist/server/internal/agent/graph/prompts"
	"github.com/shopassist/server/internal/agent/graph/tools"
	"github.com/shopassist/server/internal/agent/model"
	errx "github.com/shopassist/server/internal/core/error"
)

// Completer is the dialogue-completion capability: given the prompt and
// history it returns either a reply or tool-call requests. Eino chat models
// satisfy it.
type Completer interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error)
}

// AgentOptions is shared by all agents of a graph.
type AgentOptions struct {
	Prompt      model.PromptConfig
	Window      *conversations.Window
	Departments []string
}

// Agent is a dialogue policy. Step reads the conversation and returns the
// next agent entry; it never writes the conversation.
type Agent struct {
	kind      model.AgentKind
	completer Completer
	modelName string
	opts      AgentOptions
}

func NewAgent(kind model.AgentKind, completer Completer, modelName string, opts AgentOptions) *Agent {
	return &Agent{kind: kind, completer: completer, modelName: modelName, opts: opts}
}

func (a *Agent) Kind() model.AgentKind { return a.kind }

func (a *Agent) ModelName() string { return a.modelName }

// Step asks the completer for the next entry and binds thread-scoped
// arguments into the tool calls it requests. Completer failures are
// returned as UpstreamFailure.
func (a *Agent) Step(ctx context.Context, conv *model.Conversation) (*schema.Message, error) {
	system, err := prompts.RenderAgentSystem(ctx, a.kind, a.opts.Prompt, prompts.AgentContext{
		ThreadID:    conv.ThreadID,
		UserID:      conv.UserID,
		Departments: a.opts.Departments,
	})
	if err != nil {
		return nil, err
	}

	var input []*schema.Message
	if a.opts.Window != nil {
		input = a.opts.Window.Build(system, conv.Messages)
	} else {
		input = append([]*schema.Message{schema.SystemMessage(system)}, conv.Messages...)
	}

	ctx = callbacks.ReuseHandlers(ctx, &callbacks.RunInfo{
		Name:      string(a.kind),
		Type:      a.modelName,
		Component: components.ComponentOfChatModel,
	})
	out, err := a.completer.Generate(ctx, input)
	if err != nil {
		return nil, errx.UpstreamFailure(err)
	}
	if out == nil {
		return nil, errx.UpstreamFailure(errors.New("completion returned no message"))
	}

	msg := *out
	msg.Role = schema.Assistant
	msg.Extra = map[string]any{model.ExtraAgent: string(a.kind)}
	for k, v := range out.Extra {
		msg.Extra[k] = v
	}
	if len(out.ToolCalls) > 0 {
		msg.ToolCalls = make([]schema.ToolCall, len(out.ToolCalls))
		for i, tc := range out.ToolCalls {
			msg.ToolCalls[i] = bindCall(tc, conv)
		}
	}
	return &msg, nil
}

// bindCall pins cart calls to the conversation's thread and history searches
// to its known user, whatever the completer produced. A user id supplied by
// the completer is always discarded.
func bindCall(tc schema.ToolCall, conv *model.Conversation) schema.ToolCall {
	name := tools.Name(tc.Function.Name)
	switch name {
	case tools.AddToCart, tools.RemoveFromCart, tools.UpdateCart, tools.ViewCart,
		tools.StructuredSearch:
	default:
		return tc
	}

	args := map[string]any{}
	if raw := strings.TrimSpace(tc.Function.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
			// left for the executor to reject
			return tc
		}
	}

	if name == tools.StructuredSearch {
		delete(args, "user_id")
		if conv.UserID != "" && truthy(args["history_only"]) {
			args["user_id"] = conv.UserID
		}
	} else {
		args["thread_id"] = conv.ThreadID
	}

	b, err := json.Marshal(args)
	if err != nil {
		return tc
	}
	tc.Function.Arguments = string(b)
	return tc
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(t))
		return b
	}
	return false
}
