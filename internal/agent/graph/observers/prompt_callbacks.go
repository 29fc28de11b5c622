package observers

import (
	"context"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/prompt"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	logx "github.com/shopassist/server/pkg/logger"
)

// newPromptHandler logs rendered system prompts.
func newPromptHandler() *callbackHelper.PromptCallbackHandler {
	return &callbackHelper.PromptCallbackHandler{
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *prompt.CallbackOutput) context.Context {
			if output != nil && len(output.Result) > 0 && output.Result[0] != nil {
				logx.Debug().
					Str("prompt", info.Name).
					Int("length", len(output.Result[0].Content)).
					Msg("Prompt rendered")
			}
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Error().Err(err).Str("prompt", info.Name).Msg("Prompt rendering failed")
			return ctx
		},
	}
}
