// Package tools holds the closed set of tools agents may call and the layer
// that executes them against a conversation.
package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/shopassist/server/internal/agent/model"
	errx "github.com/shopassist/server/internal/core/error"
)

// Name identifies a registered tool.
type Name string

const (
	SearchProducts         Name = "search_products"
	StructuredSearch       Name = "structured_search"
	AddToCart              Name = "add_to_cart"
	RemoveFromCart         Name = "remove_from_cart"
	UpdateCart             Name = "update_cart"
	ViewCart               Name = "view_cart"
	TransferToSupport      Name = "transfer_to_support"
	TransferToSales        Name = "transfer_to_sales"
	RouteToCustomerSupport Name = "route_to_customer_support"
)

// Registry lists every tool in a stable order.
var Registry = []Name{
	SearchProducts,
	StructuredSearch,
	AddToCart,
	RemoveFromCart,
	UpdateCart,
	ViewCart,
	TransferToSupport,
	TransferToSales,
	RouteToCustomerSupport,
}

// ToolSets maps each agent to the tools it may call.
var ToolSets = map[model.AgentKind][]Name{
	model.AgentSales: {
		SearchProducts, StructuredSearch,
		AddToCart, RemoveFromCart, UpdateCart, ViewCart,
		TransferToSupport,
	},
	model.AgentSupport: {
		StructuredSearch, ViewCart,
		TransferToSales, RouteToCustomerSupport,
	},
}

// Allowed reports whether agent may call tool.
func Allowed(agent model.AgentKind, tool Name) bool {
	for _, n := range ToolSets[agent] {
		if n == tool {
			return true
		}
	}
	return false
}

// Stateful reports whether tool reads or writes conversation state.
func (n Name) Stateful() bool {
	switch n {
	case AddToCart, RemoveFromCart, UpdateCart, ViewCart, TransferToSupport, TransferToSales, RouteToCustomerSupport:
		return true
	}
	return false
}

// Call is a parsed, validated tool invocation. The set of implementations is closed.
type Call interface {
	Tool() Name
	sealed()
}

type SemanticSearchArgs struct {
	Query string `json:"query" validate:"required,notblank"`
	K     int    `json:"k,omitempty" validate:"omitempty,min=1"`
}

type StructuredSearchArgs struct {
	ProductName string   `json:"product_name,omitempty"`
	Department  string   `json:"department,omitempty"`
	Aisle       string   `json:"aisle,omitempty"`
	MaxPrice    *float64 `json:"max_price,omitempty" validate:"omitempty,gte=0"`
	HistoryOnly bool     `json:"history_only,omitempty"`
	UserID      string   `json:"user_id,omitempty"`
	Reordered   *bool    `json:"reordered,omitempty"`
	MinOrders   int      `json:"min_orders,omitempty" validate:"omitempty,min=1"`
	Limit       int      `json:"limit,omitempty" validate:"omitempty,min=1"`
}

// Filter converts the arguments to catalog predicates.
func (a StructuredSearchArgs) Filter() model.Filter {
	return model.Filter{
		Department:   a.Department,
		Aisle:        a.Aisle,
		MaxPrice:     a.MaxPrice,
		NameContains: a.ProductName,
		HistoryOnly:  a.HistoryOnly,
		UserID:       a.UserID,
		Reordered:    a.Reordered,
		MinOrders:    a.MinOrders,
		Limit:        a.Limit,
	}
}

type AddToCartArgs struct {
	ThreadID  string `json:"thread_id,omitempty"`
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	Quantity  *int   `json:"quantity,omitempty" validate:"omitempty,min=1"`
}

type RemoveFromCartArgs struct {
	ThreadID  string `json:"thread_id,omitempty"`
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	Quantity  *int   `json:"quantity,omitempty" validate:"omitempty,min=1"`
}

type UpdateCartArgs struct {
	ThreadID  string `json:"thread_id,omitempty"`
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	Quantity  *int   `json:"quantity" validate:"required,min=1"`
}

type ViewCartArgs struct {
	ThreadID string `json:"thread_id,omitempty"`
}

type TransferArgs struct {
	Reason string `json:"reason,omitempty"`
}

type EscalationArgs struct {
	model.RouteToCustomerSupport
}

func (SemanticSearchArgs) Tool() Name   { return SearchProducts }
func (StructuredSearchArgs) Tool() Name { return StructuredSearch }
func (AddToCartArgs) Tool() Name        { return AddToCart }
func (RemoveFromCartArgs) Tool() Name   { return RemoveFromCart }
func (UpdateCartArgs) Tool() Name       { return UpdateCart }
func (ViewCartArgs) Tool() Name         { return ViewCart }
func (EscalationArgs) Tool() Name       { return RouteToCustomerSupport }

// transferCall serves both handoff tools; the target decides the name.
type transferCall struct {
	TransferArgs
	to model.AgentKind
}

func (c transferCall) Tool() Name {
	if c.to == model.AgentSupport {
		return TransferToSupport
	}
	return TransferToSales
}

func (SemanticSearchArgs) sealed()   {}
func (StructuredSearchArgs) sealed() {}
func (AddToCartArgs) sealed()        {}
func (RemoveFromCartArgs) sealed()   {}
func (UpdateCartArgs) sealed()       {}
func (ViewCartArgs) sealed()         {}
func (transferCall) sealed()         {}
func (EscalationArgs) sealed()       {}

// Transfer builds a handoff call to agent.
func Transfer(to model.AgentKind, reason string) Call {
	return transferCall{TransferArgs: TransferArgs{Reason: reason}, to: to}
}

// Target returns the agent a handoff call activates.
func Target(c Call) (model.AgentKind, bool) {
	t, ok := c.(transferCall)
	return t.to, ok
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
}

// Parse decodes and validates the JSON arguments of a named tool.
func Parse(name, arguments string) (Call, error) {
	var call Call
	switch Name(name) {
	case SearchProducts:
		var a SemanticSearchArgs
		if err := decode(arguments, &a); err != nil {
			return nil, err
		}
		a.Query = strings.TrimSpace(a.Query)
		call = a
	case StructuredSearch:
		var a StructuredSearchArgs
		if err := decode(arguments, &a); err != nil {
			return nil, err
		}
		call = a
	case AddToCart:
		var a AddToCartArgs
		if err := decode(arguments, &a); err != nil {
			return nil, err
		}
		call = a
	case RemoveFromCart:
		var a RemoveFromCartArgs
		if err := decode(arguments, &a); err != nil {
			return nil, err
		}
		call = a
	case UpdateCart:
		var a UpdateCartArgs
		if err := decode(arguments, &a); err != nil {
			return nil, err
		}
		call = a
	case ViewCart:
		var a ViewCartArgs
		if err := decode(arguments, &a); err != nil {
			return nil, err
		}
		call = a
	case TransferToSupport, TransferToSales:
		var a TransferArgs
		if err := decode(arguments, &a); err != nil {
			return nil, err
		}
		to := model.AgentSales
		if Name(name) == TransferToSupport {
			to = model.AgentSupport
		}
		call = transferCall{TransferArgs: a, to: to}
	case RouteToCustomerSupport:
		var a EscalationArgs
		if err := decode(arguments, &a); err != nil {
			return nil, err
		}
		a.Reason = strings.TrimSpace(a.Reason)
		if a.Urgency == "" {
			a.Urgency = model.UrgencyLow
		}
		call = a
	default:
		return nil, errx.UnknownTool(name)
	}

	if err := validate.Struct(call); err != nil {
		return nil, validationError(err)
	}
	return call, nil
}

func decode(arguments string, into any) error {
	arguments = strings.TrimSpace(arguments)
	if arguments == "" {
		arguments = "{}"
	}
	if err := json.Unmarshal(sanitize(arguments), into); err != nil {
		return errx.InvalidArgument("malformed arguments: %v", err)
	}
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return errx.InvalidArgument("%v", err)
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, describe(fe))
	}
	return errx.InvalidArgument("%s", strings.Join(parts, "; "))
}

func describe(fe validator.FieldError) string {
	field := jsonName(fe.Field())
	switch fe.Tag() {
	case "required", "notblank":
		return fmt.Sprintf("%s is required", field)
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
}

var fieldNames = map[string]string{
	"Query":     "query",
	"K":         "k",
	"MaxPrice":  "max_price",
	"MinOrders": "min_orders",
	"Limit":     "limit",
	"ProductID": "product_id",
	"Quantity":  "quantity",
	"Reason":    "reason",
	"Urgency":   "urgency",
}

func jsonName(field string) string {
	if n, ok := fieldNames[field]; ok {
		return n
	}
	return field
}

var (
	intFields   = []string{"product_id", "quantity", "k", "min_orders", "limit"}
	floatFields = []string{"max_price"}
	boolFields  = []string{"history_only", "reordered"}
)

// sanitize coerces loosely typed model output ("3", "true", 2.0) into the
// JSON types the argument records expect. Unparseable input is returned as is.
func sanitize(arguments string) []byte {
	var m map[string]any
	if err := json.Unmarshal([]byte(arguments), &m); err != nil {
		return []byte(arguments)
	}
	for _, k := range intFields {
		switch v := m[k].(type) {
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				m[k] = n
			}
		case float64:
			if v == float64(int64(v)) {
				m[k] = int64(v)
			}
		}
	}
	for _, k := range floatFields {
		if v, ok := m[k].(string); ok {
			if f, err := strconv.ParseFloat(strings.TrimPrefix(strings.TrimSpace(v), "$"), 64); err == nil {
				m[k] = f
			}
		}
	}
	for _, k := range boolFields {
		if v, ok := m[k].(string); ok {
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				m[k] = b
			}
		}
	}
	for k, v := range m {
		if v == nil {
			delete(m, k)
		}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return []byte(arguments)
	}
	return b
}
