package observers

import (
	"context"
	"strings"

	einocb "github.com/cloudwego/eino/callbacks"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	"github.com/shopassist/server/internal/agent/metrics"
	"github.com/shopassist/server/internal/agent/model"
	logx "github.com/shopassist/server/pkg/logger"
)

// newModelHandler logs the user message and the completion around every model
// call and records completion metrics. RunInfo.Name is the agent and
// RunInfo.Type the model name.
func newModelHandler(rec *metrics.Recorder) *callbackHelper.ModelCallbackHandler {
	return &callbackHelper.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *einomodel.CallbackInput) context.Context {
			ev := logx.Debug().Str("agent", info.Name).Str("model", info.Type)
			if input != nil {
				ev = ev.Int("messages", len(input.Messages))
				if um := lastUserContent(input.Messages); um != "" {
					ev = ev.Str("user", um)
				}
			}
			ev.Msg("Model call started")
			return ctx
		},
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *einomodel.CallbackOutput) context.Context {
			var cost float64
			ev := logx.Debug().Str("agent", info.Name).Str("model", info.Type)
			if output != nil && output.Message != nil {
				cost = model.MessageCost(output.Message, info.Type)
				if content := strings.TrimSpace(output.Message.Content); content != "" {
					ev = ev.Str("assistant", content)
				}
				ev = ev.Int("tool_calls", len(output.Message.ToolCalls))
				if meta := output.Message.ResponseMeta; meta != nil && meta.Usage != nil {
					ev = ev.Int("prompt_tokens", meta.Usage.PromptTokens).
						Int("completion_tokens", meta.Usage.CompletionTokens).
						Float64("total_cost_usd", cost)
				}
			}
			ev.Msg("Model call finished")
			rec.ObserveCompletion(info.Type, true, cost)
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Error().Err(err).Str("agent", info.Name).Str("model", info.Type).Msg("Model call failed")
			rec.ObserveCompletion(info.Type, false, 0)
			return ctx
		},
	}
}

func lastUserContent(msgs []*schema.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m == nil {
			continue
		}
		if m.Role == schema.User {
			return strings.TrimSpace(m.Content)
		}
	}
	return ""
}
