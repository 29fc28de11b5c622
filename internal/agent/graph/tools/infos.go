package tools

import (
	"github.com/cloudwego/eino/schema"

	"github.com/shopassist/server/internal/agent/model"
)

func str(desc string, required bool) *schema.ParameterInfo {
	return &schema.ParameterInfo{Type: schema.String, Desc: desc, Required: required}
}

func integer(desc string, required bool) *schema.ParameterInfo {
	return &schema.ParameterInfo{Type: schema.Integer, Desc: desc, Required: required}
}

func number(desc string) *schema.ParameterInfo {
	return &schema.ParameterInfo{Type: schema.Number, Desc: desc}
}

func boolean(desc string) *schema.ParameterInfo {
	return &schema.ParameterInfo{Type: schema.Boolean, Desc: desc}
}

// Info returns the schema of one tool. departments, when known, constrains
// the department parameter of structured search.
func Info(name Name, departments []string) *schema.ToolInfo {
	switch name {
	case SearchProducts:
		return &schema.ToolInfo{
			Name: string(name),
			Desc: "Semantic product search. Use for free-text needs such as \"something for breakfast\" or \"bananas\" when no explicit filter is given.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"query": str("What the customer is looking for, in their words.", true),
				"k":     integer("Number of products to return (default 5, at most 20).", false),
			}),
		}
	case StructuredSearch:
		dept := str("Exact department name.", false)
		if len(departments) > 0 {
			dept.Enum = departments
		}
		return &schema.ToolInfo{
			Name: string(name),
			Desc: "Filter the catalog by department, aisle, maximum price and name substring, or restrict to the customer's purchase history. Results are ordered by price.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"product_name": str("Case-insensitive substring of the product name.", false),
				"department":   dept,
				"aisle":        str("Aisle name, case-insensitive.", false),
				"max_price":    number("Maximum unit price in dollars."),
				"history_only": boolean("Only products the customer bought before."),
				"reordered":    boolean("With history_only: true for products reordered at least once, false for products bought once."),
				"min_orders":   integer("With history_only: minimum number of past orders containing the product.", false),
				"limit":        integer("Maximum number of results.", false),
			}),
		}
	case AddToCart:
		return &schema.ToolInfo{
			Name: string(name),
			Desc: "Add a product to the customer's cart.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"product_id": integer("Catalog product id.", true),
				"quantity":   integer("Units to add, at least 1 (default 1).", false),
			}),
		}
	case RemoveFromCart:
		return &schema.ToolInfo{
			Name: string(name),
			Desc: "Remove a product from the cart, or only some units of it when quantity is given.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"product_id": integer("Catalog product id.", true),
				"quantity":   integer("Units to remove; omit to remove the whole line.", false),
			}),
		}
	case UpdateCart:
		return &schema.ToolInfo{
			Name: string(name),
			Desc: "Set the quantity of a product that is already in the cart.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"product_id": integer("Catalog product id.", true),
				"quantity":   integer("New quantity, at least 1.", true),
			}),
		}
	case ViewCart:
		return &schema.ToolInfo{
			Name:        string(name),
			Desc:        "List the cart content with a subtotal.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
		}
	case TransferToSupport:
		return &schema.ToolInfo{
			Name: string(name),
			Desc: "Hand the conversation to the support agent for complaints, refunds, damaged or missing items.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"reason": str("Why the customer needs support.", false),
			}),
		}
	case TransferToSales:
		return &schema.ToolInfo{
			Name: string(name),
			Desc: "Hand the conversation back to the sales agent for shopping and cart requests.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"reason": str("Why the customer is going back to shopping.", false),
			}),
		}
	case RouteToCustomerSupport:
		return &schema.ToolInfo{
			Name: string(name),
			Desc: "Escalate to a human support specialist. The conversation pauses until a supervisor responds.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"reason": str("The customer's concern, stated plainly.", true),
				"urgency": {
					Type: schema.String,
					Desc: "How urgent the issue is (default low).",
					Enum: []string{string(model.UrgencyLow), string(model.UrgencyMedium), string(model.UrgencyHigh)},
				},
			}),
		}
	}
	return nil
}

// Infos returns the schemas of the tools agent may call.
func Infos(agent model.AgentKind, departments []string) []*schema.ToolInfo {
	names := ToolSets[agent]
	out := make([]*schema.ToolInfo, 0, len(names))
	for _, n := range names {
		out = append(out, Info(n, departments))
	}
	return out
}
