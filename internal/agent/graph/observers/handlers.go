package observers

import (
	"context"

	einocb "github.com/cloudwego/eino/callbacks"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	"github.com/shopassist/server/internal/agent/graph/tools"
	"github.com/shopassist/server/internal/agent/metrics"
)

// NewAllCallbacks aggregates the model and prompt handlers into one
// callbacks.Handler. rec may be nil.
func NewAllCallbacks(rec *metrics.Recorder) einocb.Handler {
	return callbackHelper.NewHandlerHelper().
		ChatModel(newModelHandler(rec)).
		Prompt(newPromptHandler()).
		Handler()
}

// NewToolObserver feeds executed tool calls into rec.
func NewToolObserver(rec *metrics.Recorder) tools.Observer {
	return func(_ context.Context, o tools.Outcome) {
		rec.ObserveToolCall(string(o.Tool), o.Err == nil)
	}
}
