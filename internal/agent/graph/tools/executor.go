package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/schema"
	"golang.org/x/sync/errgroup"

	"github.com/shopassist/server/internal/agent/model"
	"github.com/shopassist/server/internal/agent/semantic"
	errx "github.com/shopassist/server/internal/core/error"
	logx "github.com/shopassist/server/pkg/logger"
)

// Catalog is the read-only product store the tools query.
type Catalog interface {
	Search(ctx context.Context, f model.Filter) ([]model.ProductRecord, error)
	Product(id int64) (model.Product, bool)
}

// SemanticIndex answers nearest-neighbour queries.
type SemanticIndex interface {
	Query(ctx context.Context, text string, k int) ([]semantic.Hit, error)
}

// Outcome describes one executed call, for observers.
type Outcome struct {
	Tool     Name
	CallID   string
	Agent    model.AgentKind
	Err      error
	Duration time.Duration
}

// Observer receives every outcome.
type Observer func(ctx context.Context, o Outcome)

// Executor is the Tool Execution Layer. It answers every requested call with
// exactly one tool-result message, whatever the call does.
type Executor struct {
	catalog     Catalog
	index       SemanticIndex
	defaultK    int
	concurrency int
	now         func() time.Time
	observers   []Observer
}

type ExecutorOption func(*Executor)

// WithDefaultK sets the semantic result count used when a call gives none.
func WithDefaultK(k int) ExecutorOption {
	return func(e *Executor) {
		if k > 0 {
			e.defaultK = k
		}
	}
}

// WithObserver registers an outcome observer.
func WithObserver(o Observer) ExecutorOption {
	return func(e *Executor) { e.observers = append(e.observers, o) }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// NewExecutor builds an executor. index may be nil; semantic calls then fail
// with IndexUnavailable.
func NewExecutor(catalog Catalog, index SemanticIndex, opts ...ExecutorOption) *Executor {
	e := &Executor{
		catalog:     catalog,
		index:       index,
		defaultK:    semantic.DefaultK,
		concurrency: 4,
		now:         time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Execute runs the calls requested by agent against conv and returns the
// result messages in request order. Catalog and index calls run concurrently;
// calls that touch conv run one at a time, in request order. conv must not be
// touched by anyone else until Execute returns.
func (e *Executor) Execute(ctx context.Context, conv *model.Conversation, agent model.AgentKind, calls []schema.ToolCall) []*schema.Message {
	results := make([]*schema.Message, len(calls))
	var g errgroup.Group
	g.SetLimit(e.concurrency)

	for i, tc := range calls {
		if Name(tc.Function.Name).Stateful() {
			continue
		}
		g.Go(func() error {
			results[i] = e.run(ctx, conv, agent, tc)
			return nil
		})
	}
	for i, tc := range calls {
		if Name(tc.Function.Name).Stateful() {
			results[i] = e.run(ctx, conv, agent, tc)
		}
	}
	_ = g.Wait()
	return results
}

func (e *Executor) run(ctx context.Context, conv *model.Conversation, agent model.AgentKind, tc schema.ToolCall) (msg *schema.Message) {
	start := e.now()
	name := Name(tc.Function.Name)
	var (
		content string
		err     error
	)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", name, r)
			content = ""
		}
		msg = resultMessage(tc, content, err)
		e.observe(ctx, Outcome{Tool: name, CallID: tc.ID, Agent: agent, Err: err, Duration: e.now().Sub(start)})
	}()

	call, err := Parse(tc.Function.Name, tc.Function.Arguments)
	if err != nil {
		return
	}
	if !Allowed(agent, call.Tool()) {
		err = errx.UnknownTool(string(call.Tool()))
		return
	}

	content, err = e.dispatch(ctx, conv, tc.ID, call)
	return
}

// dispatch matches every Call implementation.
func (e *Executor) dispatch(ctx context.Context, conv *model.Conversation, callID string, call Call) (string, error) {
	switch c := call.(type) {
	case SemanticSearchArgs:
		return e.semanticSearch(ctx, c)
	case StructuredSearchArgs:
		return e.structuredSearch(ctx, c)
	case AddToCartArgs:
		return e.addToCart(conv, callID, c)
	case RemoveFromCartArgs:
		return e.removeFromCart(conv, callID, c)
	case UpdateCartArgs:
		return e.updateCart(conv, callID, c)
	case ViewCartArgs:
		return e.viewCart(conv, c)
	case transferCall:
		return e.transfer(conv, c)
	case EscalationArgs:
		return e.escalate(conv, callID, c)
	}
	return "", errx.UnknownTool(string(call.Tool()))
}

func (e *Executor) observe(ctx context.Context, o Outcome) {
	status := model.StatusSuccess
	ev := logx.Debug()
	if o.Err != nil {
		status = model.StatusFailure
		ev = logx.Warn().Str("error_kind", errx.KindOf(o.Err)).Err(o.Err)
	}
	ev.Str("tool", string(o.Tool)).
		Str("status", status).
		Str("call_id", o.CallID).
		Str("agent", string(o.Agent)).
		Int64("duration_ms", o.Duration.Milliseconds()).
		Msg("Tool executed")
	for _, obs := range e.observers {
		obs(ctx, o)
	}
}

// resultMessage builds the tool-result entry for a call.
func resultMessage(tc schema.ToolCall, content string, err error) *schema.Message {
	msg := schema.ToolMessage(content, tc.ID)
	msg.ToolName = tc.Function.Name
	msg.Extra = map[string]any{model.ExtraStatus: model.StatusSuccess}
	if err != nil {
		kind := errx.KindOf(err)
		msg.Content = fmt.Sprintf("%s: %s", kind, failureText(err))
		msg.Extra[model.ExtraStatus] = model.StatusFailure
		msg.Extra[model.ExtraErrorKind] = kind
	}
	return msg
}

func failureText(err error) string {
	if errx.KindOf(err) == "InternalError" {
		return "the tool failed unexpectedly, try again or use another tool"
	}
	return errx.MessageOf(err)
}

// Failed reports whether a tool-result message carries a failure status.
func Failed(msg *schema.Message) bool {
	return msg != nil && msg.Extra != nil && msg.Extra[model.ExtraStatus] == model.StatusFailure
}
