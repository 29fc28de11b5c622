package prompts

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/shopassist/server/internal/agent/graph/tools"
	"github.com/shopassist/server/internal/agent/model"
)

//go:embed template/sales_prompt.txt
var salesSystemPrompt string

//go:embed template/support_prompt.txt
var supportSystemPrompt string

// AgentContext is the per-turn data a system prompt is rendered with.
type AgentContext struct {
	ThreadID    string
	UserID      string
	Departments []string
}

// RenderAgentSystem renders the system prompt of agent via the Eino prompt
// component so prompt callbacks fire.
func RenderAgentSystem(ctx context.Context, agent model.AgentKind, config model.PromptConfig, ac AgentContext) (string, error) {
	var tplText string
	switch agent {
	case model.AgentSales:
		tplText = salesSystemPrompt
	case model.AgentSupport:
		tplText = supportSystemPrompt
	default:
		return "", fmt.Errorf("no system prompt for agent %q", agent)
	}

	handoff := tools.TransferToSupport
	if agent == model.AgentSupport {
		handoff = tools.TransferToSales
	}

	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(tplText),
	)
	vars := map[string]any{
		"StoreName":      config.StoreName,
		"StoreType":      config.StoreType,
		"ThreadID":       ac.ThreadID,
		"UserID":         ac.UserID,
		"Departments":    strings.Join(ac.Departments, ", "),
		"SemanticTool":   tools.SearchProducts,
		"StructuredTool": tools.StructuredSearch,
		"AddTool":        tools.AddToCart,
		"RemoveTool":     tools.RemoveFromCart,
		"UpdateTool":     tools.UpdateCart,
		"ViewTool":       tools.ViewCart,
		"HandoffTool":    handoff,
		"EscalationTool": tools.RouteToCustomerSupport,
	}
	ctx = callbacks.ReuseHandlers(ctx, &callbacks.RunInfo{
		Name:      string(agent) + "_system_prompt",
		Type:      "Default",
		Component: components.ComponentOfPrompt,
	})
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("%s prompt render: %w", agent, err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("%s prompt render: empty result", agent)
	}
	return msgs[0].Content, nil
}
