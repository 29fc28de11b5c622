package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopassist/server/internal/agent/catalog"
	"github.com/shopassist/server/internal/agent/graph/conversations"
	"github.com/shopassist/server/internal/agent/graph/nodes"
	"github.com/shopassist/server/internal/agent/graph/tools"
	"github.com/shopassist/server/internal/agent/metrics"
	"github.com/shopassist/server/internal/agent/model"
	"github.com/shopassist/server/internal/agent/repo"
	"github.com/shopassist/server/internal/agent/semantic"
	errx "github.com/shopassist/server/internal/core/error"
)

type completerFunc func(ctx context.Context, input []*schema.Message) (*schema.Message, error)

func (f completerFunc) Generate(ctx context.Context, input []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	return f(ctx, input)
}

type fixture struct {
	runner *Runner
	repo   *repo.MemoryConversationRepository
	store  *catalog.Store
}

type fixtureOptions struct {
	catalog       tools.Catalog
	noIndex       bool
	completers    map[model.AgentKind]nodes.Completer
	maxIterations int
	timeout       string
}

func newFixture(t *testing.T, opt fixtureOptions) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := catalog.LoadSample(ctx, catalog.DefaultMaxResults)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	var cat tools.Catalog = store
	if opt.catalog != nil {
		cat = opt.catalog
	}
	var index tools.SemanticIndex
	if !opt.noIndex {
		idx, err := semantic.Build(ctx, semantic.NewHashEmbedder(256), store.Products())
		require.NoError(t, err)
		index = idx
	}
	executor := tools.NewExecutor(cat, index)

	departments, err := store.Departments(ctx)
	require.NoError(t, err)
	window, err := conversations.NewWindow(6000)
	require.NoError(t, err)
	agentOpts := nodes.AgentOptions{
		Prompt:      model.PromptConfig{StoreName: "FreshCart", StoreType: "online grocery store"},
		Window:      window,
		Departments: departments,
	}
	agents := nodes.KeywordAgents(agentOpts)
	for kind, c := range opt.completers {
		agents[kind] = nodes.NewAgent(kind, c, "scripted", agentOpts)
	}

	if opt.timeout == "" {
		opt.timeout = "10s"
	}
	memRepo := repo.NewMemoryConversationRepository(time.Hour)
	runner, err := NewRunner(ctx, Config{
		Graph: GraphConfig{
			Agents:        agents,
			Executor:      executor,
			MaxIterations: opt.maxIterations,
		},
		Conversation: model.ConversationConfig{
			MaxIterations: 10,
			TurnTimeout:   opt.timeout,
			DefaultUserID: "1",
		},
		ConversationRepo: memRepo,
		Locker:           repo.NewMemoryLocker(0),
		Metrics:          metrics.NewRecorder(prometheus.NewRegistry()),
	})
	require.NoError(t, err)
	return &fixture{runner: runner, repo: memRepo, store: store}
}

func (f *fixture) conversation(t *testing.T, threadID string) *model.Conversation {
	t.Helper()
	conv, err := f.runner.Conversation(context.Background(), threadID)
	require.NoError(t, err)
	require.NoError(t, conv.Validate())
	return conv
}

// toolTurn returns the tool calls and results of the latest turn.
func toolTurn(conv *model.Conversation) (calls []schema.ToolCall, results []*schema.Message) {
	start := 0
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		if conv.Messages[i].Role == schema.User {
			start = i
			break
		}
	}
	for _, m := range conv.Messages[start:] {
		calls = append(calls, m.ToolCalls...)
		if m.Role == schema.Tool {
			results = append(results, m)
		}
	}
	return calls, results
}

func args(t *testing.T, tc schema.ToolCall) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(tc.Function.Arguments), &m))
	return m
}

func TestStructuredSearchScenario(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	res, err := f.runner.RunSingleTurn(context.Background(), "t1", "Show me products under $5 in produce")
	require.NoError(t, err)
	assert.Equal(t, model.TurnCompleted, res.Status)
	assert.Equal(t, 2, res.Iterations)

	calls, results := toolTurn(f.conversation(t, "t1"))
	require.Len(t, calls, 1)
	assert.Equal(t, "structured_search", calls[0].Function.Name)
	a := args(t, calls[0])
	assert.Equal(t, 5.0, a["max_price"])
	assert.Equal(t, "produce", a["department"])

	require.Len(t, results, 1)
	assert.False(t, tools.Failed(results[0]))
	records, err := tools.DecodeRecords(results[0].Content)
	require.NoError(t, err)
	require.NotEmpty(t, records)
	for i, r := range records {
		assert.LessOrEqual(t, r.Price, 5.0)
		assert.Equal(t, "produce", r.Department)
		if i > 0 {
			prev := records[i-1]
			assert.True(t, prev.Price < r.Price || (prev.Price == r.Price && prev.ID < r.ID))
		}
	}
	assert.Contains(t, res.Reply, "Here is what I found")
}

func TestSemanticSearchScenario(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	res, err := f.runner.RunSingleTurn(context.Background(), "t1", "I need bananas")
	require.NoError(t, err)
	assert.Equal(t, model.TurnCompleted, res.Status)

	calls, _ := toolTurn(f.conversation(t, "t1"))
	require.Len(t, calls, 1)
	assert.Equal(t, "search_products", calls[0].Function.Name)
	assert.Equal(t, "bananas", args(t, calls[0])["query"])
	assert.Contains(t, strings.ToLower(res.Reply), "banana")
}

func TestAddToCartScenario(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	res, err := f.runner.RunSingleTurn(context.Background(), "t1", "Add product 123 to my cart")
	require.NoError(t, err)
	assert.Equal(t, model.TurnCompleted, res.Status)

	conv := f.conversation(t, "t1")
	assert.Equal(t, map[int64]int{123: 1}, conv.Cart.Items)

	calls, _ := toolTurn(conv)
	require.Len(t, calls, 1)
	assert.Equal(t, "t1", args(t, calls[0])["thread_id"])
	assert.Contains(t, res.Reply, "Organic Baby Spinach")
}

func TestEscalationScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOptions{})

	_, err := f.runner.RunSingleTurn(ctx, "t1", "Add product 123 to my cart")
	require.NoError(t, err)

	res, err := f.runner.RunSingleTurn(ctx, "t1", "I want a refund")
	require.NoError(t, err)
	assert.Equal(t, model.TurnEscalated, res.Status)
	assert.True(t, res.PendingEscalation)
	assert.Equal(t, model.AgentSupport, res.ActiveAgent)
	assert.Equal(t, nodes.EscalatedReply, res.Reply)

	before := f.conversation(t, "t1")
	open := before.OpenEscalation()
	require.NotNil(t, open)
	assert.Equal(t, "I want a refund", open.Reason)
	assert.Equal(t, model.UrgencyLow, open.Urgency)

	res, err = f.runner.RunSingleTurn(ctx, "t1", "hello?")
	require.NoError(t, err)
	assert.Equal(t, model.TurnAwaitingReview, res.Status)
	assert.Equal(t, nodes.AwaitingReviewReply, res.Reply)
	assert.Equal(t, 0, res.Iterations)

	after := f.conversation(t, "t1")
	assert.Len(t, after.Messages, len(before.Messages)+2)
	assert.Equal(t, before.Cart.Items, after.Cart.Items)
	assert.Equal(t, before.ActiveAgent, after.ActiveAgent)
	assert.True(t, after.PendingEscalation)

	// any content gets the same reply while suspended
	res, err = f.runner.RunSingleTurn(ctx, "t1", "Add product 24852 to my cart")
	require.NoError(t, err)
	assert.Equal(t, nodes.AwaitingReviewReply, res.Reply)
	assert.Equal(t, 1, f.conversation(t, "t1").Cart.Quantity(123))
	assert.Equal(t, 0, f.conversation(t, "t1").Cart.Quantity(24852))

	conv, err := f.runner.ResolveEscalation(ctx, "t1", "Refund of $3.49 approved.")
	require.NoError(t, err)
	assert.False(t, conv.PendingEscalation)
	require.NotNil(t, conv.Escalations[0].ResolvedAt)
	assert.Equal(t, "Refund of $3.49 approved.", conv.Escalations[0].Resolution)

	res, err = f.runner.RunSingleTurn(ctx, "t1", "thanks")
	require.NoError(t, err)
	assert.Equal(t, model.TurnCompleted, res.Status)
	assert.Equal(t, model.AgentSupport, res.ActiveAgent)
	assert.Contains(t, res.Reply, "Refund of $3.49 approved.")

	_, err = f.runner.ResolveEscalation(ctx, "t1", "again")
	assert.ErrorIs(t, err, errx.ErrInvalidArgument)
}

func TestSupportHandsBackToSales(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOptions{})

	_, err := f.runner.RunSingleTurn(ctx, "t1", "my eggs arrived broken, refund please")
	require.NoError(t, err)
	_, err = f.runner.ResolveEscalation(ctx, "t1", "Refund issued.")
	require.NoError(t, err)

	res, err := f.runner.RunSingleTurn(ctx, "t1", "I'm looking for some limes")
	require.NoError(t, err)
	assert.Equal(t, model.TurnCompleted, res.Status)
	assert.Equal(t, model.AgentSales, res.ActiveAgent)
	assert.Contains(t, res.Reply, "Limes")
}

type panickyCatalog struct{ tools.Catalog }

func (panickyCatalog) Search(context.Context, model.Filter) ([]model.ProductRecord, error) {
	panic("catalog corrupted")
}

func TestToolFaultDoesNotAbortTurn(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f2 := newFixture(t, fixtureOptions{catalog: panickyCatalog{Catalog: f.store}})

	res, err := f2.runner.RunSingleTurn(context.Background(), "t1", "Show me products under $5 in produce")
	require.NoError(t, err)
	assert.Equal(t, model.TurnCompleted, res.Status)

	_, results := toolTurn(f2.conversation(t, "t1"))
	require.Len(t, results, 1)
	assert.True(t, tools.Failed(results[0]))
	assert.Equal(t, "InternalError", results[0].Extra[model.ExtraErrorKind])
	assert.Contains(t, res.Reply, "couldn't complete")
}

func TestIndexUnavailableIsToolFailure(t *testing.T) {
	f := newFixture(t, fixtureOptions{noIndex: true})
	res, err := f.runner.RunSingleTurn(context.Background(), "t1", "I need bananas")
	require.NoError(t, err)
	assert.Equal(t, model.TurnCompleted, res.Status)

	_, results := toolTurn(f.conversation(t, "t1"))
	require.Len(t, results, 1)
	assert.True(t, tools.Failed(results[0]))
	assert.True(t, strings.HasPrefix(results[0].Content, "IndexUnavailable:"))
}

func TestIterationLimit(t *testing.T) {
	calls := 0
	looping := completerFunc(func(_ context.Context, _ []*schema.Message) (*schema.Message, error) {
		calls++
		return schema.AssistantMessage("", []schema.ToolCall{{Function: schema.FunctionCall{Name: "view_cart", Arguments: "{}"}}}), nil
	})
	f := newFixture(t, fixtureOptions{
		completers:    map[model.AgentKind]nodes.Completer{model.AgentSales: looping},
		maxIterations: 3,
	})

	res, err := f.runner.RunSingleTurn(context.Background(), "t1", "show my cart forever")
	require.NoError(t, err)
	assert.Equal(t, model.TurnIterationLimit, res.Status)
	assert.Equal(t, nodes.FallbackReply, res.Reply)
	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, 3, calls)
	assert.Contains(t, res.Cause, "IterationLimitExceeded")

	conv := f.conversation(t, "t1")
	ids := map[string]bool{}
	for _, m := range conv.Messages {
		for _, tc := range m.ToolCalls {
			assert.False(t, ids[tc.ID], tc.ID)
			ids[tc.ID] = true
		}
	}
	assert.Len(t, ids, 3)
}

func TestUpstreamFailureKeepsThreadResumable(t *testing.T) {
	fail := true
	flaky := completerFunc(func(_ context.Context, _ []*schema.Message) (*schema.Message, error) {
		if fail {
			return nil, errors.New("quota exceeded")
		}
		return schema.AssistantMessage("Hello again!", nil), nil
	})
	f := newFixture(t, fixtureOptions{completers: map[model.AgentKind]nodes.Completer{model.AgentSales: flaky}})

	res, err := f.runner.RunSingleTurn(context.Background(), "t1", "hi")
	require.NoError(t, err)
	assert.Equal(t, model.TurnUpstreamFailure, res.Status)
	assert.Equal(t, nodes.UpstreamFailureReply, res.Reply)
	assert.Contains(t, res.Cause, "UpstreamFailure")

	fail = false
	res, err = f.runner.RunSingleTurn(context.Background(), "t1", "hi")
	require.NoError(t, err)
	assert.Equal(t, model.TurnCompleted, res.Status)
	assert.Equal(t, "Hello again!", res.Reply)
	assert.Len(t, f.conversation(t, "t1").Messages, 4)
}

func TestTimeoutIsInfrastructureFailure(t *testing.T) {
	blocking := completerFunc(func(ctx context.Context, _ []*schema.Message) (*schema.Message, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	f := newFixture(t, fixtureOptions{
		completers: map[model.AgentKind]nodes.Completer{model.AgentSales: blocking},
		timeout:    "50ms",
	})

	_, err := f.runner.RunSingleTurn(context.Background(), "t1", "hi")
	require.Error(t, err)

	_, err = f.runner.Conversation(context.Background(), "t1")
	assert.ErrorIs(t, err, errx.ErrThreadNotFound)
}

func TestThreadBusy(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	slow := completerFunc(func(ctx context.Context, _ []*schema.Message) (*schema.Message, error) {
		close(started)
		<-release
		return schema.AssistantMessage("done", nil), nil
	})
	f := newFixture(t, fixtureOptions{completers: map[model.AgentKind]nodes.Completer{model.AgentSales: slow}})

	done := make(chan error, 1)
	go func() {
		_, err := f.runner.RunSingleTurn(context.Background(), "t1", "hi")
		done <- err
	}()
	<-started

	_, err := f.runner.RunSingleTurn(context.Background(), "t1", "hello")
	assert.ErrorIs(t, err, errx.ErrThreadBusy)

	close(release)
	require.NoError(t, <-done)
}

func TestHandoffAndEscalationInOneBatch(t *testing.T) {
	sales := completerFunc(func(_ context.Context, input []*schema.Message) (*schema.Message, error) {
		return schema.AssistantMessage("", []schema.ToolCall{
			{Function: schema.FunctionCall{Name: "add_to_cart", Arguments: `{"product_id":24852,"quantity":2}`}},
			{Function: schema.FunctionCall{Name: "transfer_to_support", Arguments: `{"reason":"damaged delivery"}`}},
		}), nil
	})
	support := completerFunc(func(_ context.Context, input []*schema.Message) (*schema.Message, error) {
		return schema.AssistantMessage("", []schema.ToolCall{
			{Function: schema.FunctionCall{Name: "route_to_customer_support", Arguments: `{"reason":"damaged delivery","urgency":"high"}`}},
			{Function: schema.FunctionCall{Name: "view_cart", Arguments: `{}`}},
			{Function: schema.FunctionCall{Name: "add_to_cart", Arguments: `{"product_id":123}`}},
		}), nil
	})
	f := newFixture(t, fixtureOptions{completers: map[model.AgentKind]nodes.Completer{
		model.AgentSales:   sales,
		model.AgentSupport: support,
	}})

	res, err := f.runner.RunSingleTurn(context.Background(), "t1", "bananas arrived squashed")
	require.NoError(t, err)
	assert.Equal(t, model.TurnEscalated, res.Status)
	assert.Equal(t, 2, res.Iterations)

	conv := f.conversation(t, "t1")
	assert.Equal(t, map[int64]int{24852: 2}, conv.Cart.Items)
	_, results := toolTurn(conv)
	require.Len(t, results, 5)
	assert.Contains(t, results[2].Content, "urgency: high")
	assert.Contains(t, results[3].Content, "Banana (ID: 24852) x 2")
	// add_to_cart is not in the support tool set
	assert.Equal(t, "UnknownTool", results[4].Extra[model.ExtraErrorKind])
}

func TestNewThreadAndValidation(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()

	res, err := f.runner.RunSingleTurn(ctx, "", "hello")
	require.NoError(t, err)
	assert.NotEmpty(t, res.ThreadID)
	assert.Equal(t, "1", f.conversation(t, res.ThreadID).UserID)

	_, err = f.runner.RunSingleTurn(ctx, "t1", "   ")
	assert.ErrorIs(t, err, errx.ErrInvalidArgument)

	ids, err := f.runner.Threads(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{res.ThreadID}, ids)

	require.NoError(t, f.runner.Reset(ctx, res.ThreadID))
	_, err = f.runner.Conversation(ctx, res.ThreadID)
	assert.ErrorIs(t, err, errx.ErrThreadNotFound)
}

func TestThreadsAreIndependent(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.runner.RunSingleTurn(ctx, fmt.Sprintf("t%d", i), "Add product 123 to my cart")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		assert.Equal(t, map[int64]int{123: 1}, f.conversation(t, fmt.Sprintf("t%d", i)).Cart.Items)
	}
}
