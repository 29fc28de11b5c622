package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopassist/server/internal/agent/model"
	errx "github.com/shopassist/server/internal/core/error"
)

func TestParseDispatchesEveryRegisteredTool(t *testing.T) {
	args := map[Name]string{
		SearchProducts:         `{"query":"milk"}`,
		StructuredSearch:       `{}`,
		AddToCart:              `{"product_id":1}`,
		RemoveFromCart:         `{"product_id":1}`,
		UpdateCart:             `{"product_id":1,"quantity":2}`,
		ViewCart:               ``,
		TransferToSupport:      `{}`,
		TransferToSales:        `{}`,
		RouteToCustomerSupport: `{"reason":"late delivery","urgency":"high"}`,
	}
	for _, name := range Registry {
		c, err := Parse(string(name), args[name])
		require.NoError(t, err, name)
		assert.Equal(t, name, c.Tool())
		assert.NotNil(t, Info(name, nil), name)
	}
}

func TestParseCoercesLooseTypes(t *testing.T) {
	c, err := Parse("structured_search", `{"max_price":"$4.50","history_only":"true","min_orders":"2","user_id":"7","limit":3.0}`)
	require.NoError(t, err)
	a := c.(StructuredSearchArgs)
	require.NotNil(t, a.MaxPrice)
	assert.InDelta(t, 4.5, *a.MaxPrice, 1e-9)
	assert.True(t, a.HistoryOnly)
	assert.Equal(t, 2, a.MinOrders)
	assert.Equal(t, 3, a.Limit)
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name, args string
		kind       error
		contains   string
	}{
		{"nope", `{}`, errx.ErrUnknownTool, ""},
		{"search_products", `{}`, errx.ErrInvalidArgument, "query is required"},
		{"search_products", `{"query":"x","k":-1}`, errx.ErrInvalidArgument, "k must be at least 1"},
		{"add_to_cart", `{"product_id":-4}`, errx.ErrInvalidArgument, "product_id must be greater than 0"},
		{"update_cart", `{"product_id":4}`, errx.ErrInvalidArgument, "quantity is required"},
		{"structured_search", `{"max_price":-1}`, errx.ErrInvalidArgument, "max_price must be at least 0"},
		{"add_to_cart", `not json`, errx.ErrInvalidArgument, "malformed arguments"},
		{"route_to_customer_support", `{"reason":"x","urgency":"meh"}`, errx.ErrInvalidArgument, "urgency must be one of"},
	}
	for _, tc := range cases {
		_, err := Parse(tc.name, tc.args)
		assert.ErrorIs(t, err, tc.kind, tc.name+" "+tc.args)
		if tc.contains != "" {
			assert.ErrorContains(t, err, tc.contains)
		}
	}
}

func TestEscalationDefaultsToLowUrgency(t *testing.T) {
	c, err := Parse("route_to_customer_support", `{"reason":" refund please "}`)
	require.NoError(t, err)
	a := c.(EscalationArgs)
	assert.Equal(t, "refund please", a.Reason)
	assert.Equal(t, model.UrgencyLow, a.Urgency)
}

func TestToolSets(t *testing.T) {
	assert.True(t, Allowed(model.AgentSupport, RouteToCustomerSupport))
	assert.False(t, Allowed(model.AgentSales, RouteToCustomerSupport))
	assert.True(t, Allowed(model.AgentSales, AddToCart))
	assert.False(t, Allowed(model.AgentSupport, AddToCart))
	assert.Len(t, Infos(model.AgentSales, []string{"produce"}), len(ToolSets[model.AgentSales]))
}

func TestTransferTarget(t *testing.T) {
	to, ok := Target(Transfer(model.AgentSupport, "refund"))
	assert.True(t, ok)
	assert.Equal(t, model.AgentSupport, to)

	_, ok = Target(ViewCartArgs{})
	assert.False(t, ok)
}
