package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopassist/server/internal/agent/graph/tools"
	"github.com/shopassist/server/internal/agent/model"
	errx "github.com/shopassist/server/internal/core/error"
)

type stubCompleter struct {
	out   *schema.Message
	err   error
	input []*schema.Message
}

func (s *stubCompleter) Generate(_ context.Context, input []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	s.input = input
	return s.out, s.err
}

func toolCall(id, name, args string) schema.ToolCall {
	return schema.ToolCall{ID: id, Function: schema.FunctionCall{Name: name, Arguments: args}}
}

func decodeArgs(t *testing.T, tc schema.ToolCall) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(tc.Function.Arguments), &m))
	return m
}

func TestAgentBindsThreadAndUser(t *testing.T) {
	conv := model.NewConversation("thread-a", "7")
	conv.Append(schema.UserMessage("add product 5"))

	stub := &stubCompleter{out: schema.AssistantMessage("", []schema.ToolCall{
		toolCall("1", "add_to_cart", `{"product_id":5,"thread_id":"thread-b"}`),
		toolCall("2", "view_cart", ``),
		toolCall("3", "structured_search", `{"history_only":true,"user_id":"99"}`),
		toolCall("4", "structured_search", `{"department":"produce"}`),
		toolCall("5", "search_products", `{"query":"milk"}`),
	})}
	agent := NewAgent(model.AgentSales, stub, "test", AgentOptions{Prompt: model.PromptConfig{StoreName: "S", StoreType: "shop"}})

	out, err := agent.Step(context.Background(), conv)
	require.NoError(t, err)
	require.Len(t, out.ToolCalls, 5)

	assert.Equal(t, "thread-a", decodeArgs(t, out.ToolCalls[0])["thread_id"])
	assert.Equal(t, "thread-a", decodeArgs(t, out.ToolCalls[1])["thread_id"])
	assert.Equal(t, "7", decodeArgs(t, out.ToolCalls[2])["user_id"])
	assert.NotContains(t, decodeArgs(t, out.ToolCalls[3]), "user_id")
	assert.Equal(t, `{"query":"milk"}`, out.ToolCalls[4].Function.Arguments)
	assert.Equal(t, "sales", out.Extra[model.ExtraAgent])

	// the completer's message is not modified
	assert.Equal(t, `{"product_id":5,"thread_id":"thread-b"}`, stub.out.ToolCalls[0].Function.Arguments)
	// system prompt first, then the history
	require.Len(t, stub.input, 2)
	assert.Equal(t, schema.System, stub.input[0].Role)
	assert.Len(t, conv.Messages, 1)
}

func TestAgentDropsInventedUserWhenNoneIsKnown(t *testing.T) {
	conv := model.NewConversation("t1", "")
	conv.Append(schema.UserMessage("what did I buy?"))

	stub := &stubCompleter{out: schema.AssistantMessage("", []schema.ToolCall{
		toolCall("1", "structured_search", `{"history_only":true,"user_id":"999"}`),
		toolCall("2", "structured_search", `{"product_name":"milk","user_id":"999"}`),
	})}
	agent := NewAgent(model.AgentSales, stub, "test", AgentOptions{})

	out, err := agent.Step(context.Background(), conv)
	require.NoError(t, err)
	require.Len(t, out.ToolCalls, 2)

	args := decodeArgs(t, out.ToolCalls[0])
	assert.NotContains(t, args, "user_id")
	assert.Equal(t, true, args["history_only"])
	assert.NotContains(t, decodeArgs(t, out.ToolCalls[1]), "user_id")

	_, err = tools.Parse(out.ToolCalls[0].Function.Name, out.ToolCalls[0].Function.Arguments)
	require.NoError(t, err)
}

func TestAgentWrapsCompleterFailure(t *testing.T) {
	conv := model.NewConversation("t", "")
	agent := NewAgent(model.AgentSupport, &stubCompleter{err: errors.New("quota")}, "test", AgentOptions{})

	_, err := agent.Step(context.Background(), conv)
	assert.ErrorIs(t, err, errx.ErrUpstreamFailure)

	agent = NewAgent(model.AgentSupport, &stubCompleter{}, "test", AgentOptions{})
	_, err = agent.Step(context.Background(), conv)
	assert.ErrorIs(t, err, errx.ErrUpstreamFailure)
}

func TestBindCallLeavesMalformedArguments(t *testing.T) {
	conv := model.NewConversation("t", "1")
	tc := bindCall(toolCall("1", "add_to_cart", `{oops`), conv)
	assert.Equal(t, `{oops`, tc.Function.Arguments)
}

func TestNormalizeCallIDs(t *testing.T) {
	conv := model.NewConversation("t", "")
	conv.Append(schema.AssistantMessage("", []schema.ToolCall{toolCall("view_cart", "view_cart", "{}")}))

	msg := schema.AssistantMessage("", []schema.ToolCall{
		toolCall("", "view_cart", "{}"),
		toolCall("view_cart", "view_cart", "{}"),
		toolCall("abc", "view_cart", "{}"),
		toolCall("abc", "view_cart", "{}"),
	})
	normalizeCallIDs(conv, msg)

	ids := map[string]bool{}
	for _, tc := range msg.ToolCalls {
		assert.NotEmpty(t, tc.ID)
		assert.False(t, ids[tc.ID], tc.ID)
		ids[tc.ID] = true
	}
	assert.Equal(t, "call_1", msg.ToolCalls[0].ID)
	assert.Equal(t, "call_2", msg.ToolCalls[1].ID)
	assert.Equal(t, "abc", msg.ToolCalls[2].ID)
	assert.Equal(t, "call_3", msg.ToolCalls[3].ID)
}

func generate(t *testing.T, kind model.AgentKind, msgs ...*schema.Message) *schema.Message {
	t.Helper()
	out, err := NewKeywordCompleter(kind).Generate(context.Background(), msgs)
	require.NoError(t, err)
	return out
}

func TestKeywordSalesRouting(t *testing.T) {
	cases := []struct {
		text string
		tool tools.Name
		args map[string]any
	}{
		{"Show me products under $5 in produce", tools.StructuredSearch, map[string]any{"max_price": 5.0, "department": "produce"}},
		{"I need bananas", tools.SearchProducts, map[string]any{"query": "bananas"}},
		{"Add product 123 to my cart", tools.AddToCart, map[string]any{"product_id": 123.0}},
		{"add 3 of product 24852", tools.AddToCart, map[string]any{"product_id": 24852.0, "quantity": 3.0}},
		{"remove product 123", tools.RemoveFromCart, map[string]any{"product_id": 123.0}},
		{"set product 123 to 4", tools.UpdateCart, map[string]any{"product_id": 123.0, "quantity": 4.0}},
		{"what's in my cart?", tools.ViewCart, map[string]any{}},
		{"what have I bought before?", tools.StructuredSearch, map[string]any{"history_only": true}},
		{"I want a refund", tools.TransferToSupport, map[string]any{"reason": "I want a refund"}},
	}
	for _, tc := range cases {
		out := generate(t, model.AgentSales, schema.SystemMessage("sys"), schema.UserMessage(tc.text))
		require.Len(t, out.ToolCalls, 1, tc.text)
		assert.Equal(t, string(tc.tool), out.ToolCalls[0].Function.Name, tc.text)
		assert.Equal(t, tc.args, decodeArgs(t, out.ToolCalls[0]), tc.text)
	}

	out := generate(t, model.AgentSales, schema.UserMessage("hello"))
	assert.Empty(t, out.ToolCalls)
	assert.NotEmpty(t, out.Content)
}

func TestKeywordSupportRouting(t *testing.T) {
	handoff := schema.ToolMessage("Transferred from the sales agent to the support agent.", "call_1")
	handoff.ToolName = string(tools.TransferToSupport)
	handoff.Extra = map[string]any{model.ExtraStatus: model.StatusSuccess}

	out := generate(t, model.AgentSupport,
		schema.UserMessage("My eggs arrived broken, I want a refund"),
		schema.AssistantMessage("", []schema.ToolCall{toolCall("call_1", "transfer_to_support", "{}")}),
		handoff,
	)
	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, string(tools.RouteToCustomerSupport), out.ToolCalls[0].Function.Name)
	args := decodeArgs(t, out.ToolCalls[0])
	assert.Equal(t, "My eggs arrived broken, I want a refund", args["reason"])
	assert.Equal(t, "medium", args["urgency"])

	out = generate(t, model.AgentSupport, schema.UserMessage("I'd like to buy some milk"))
	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, string(tools.TransferToSales), out.ToolCalls[0].Function.Name)

	out = generate(t, model.AgentSupport,
		schema.AssistantMessage(EscalatedReply, nil),
		schema.UserMessage(model.SupervisorPrefix+" Refund approved."),
		schema.UserMessage("thanks"),
	)
	assert.Empty(t, out.ToolCalls)
	assert.Contains(t, out.Content, "Refund approved.")
}

func TestKeywordSummarizesResults(t *testing.T) {
	search := schema.ToolMessage(`[{"id":24852,"name":"Banana","department":"produce","aisle":"fresh fruits","price":0.29}]`, "call_1")
	search.ToolName = string(tools.SearchProducts)
	search.Extra = map[string]any{model.ExtraStatus: model.StatusSuccess}

	failed := schema.ToolMessage("ProductNotFound: product 9 not found", "call_2")
	failed.ToolName = string(tools.AddToCart)
	failed.Extra = map[string]any{model.ExtraStatus: model.StatusFailure}

	out := generate(t, model.AgentSales,
		schema.UserMessage("I need bananas"),
		schema.AssistantMessage("", []schema.ToolCall{toolCall("call_1", "search_products", "{}"), toolCall("call_2", "add_to_cart", "{}")}),
		search, failed,
	)
	assert.Empty(t, out.ToolCalls)
	assert.Contains(t, out.Content, "Banana (ID: 24852) $0.29")
	assert.Contains(t, out.Content, "ProductNotFound")
}
