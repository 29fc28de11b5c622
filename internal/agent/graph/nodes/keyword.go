package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/callbacks"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/shopassist/server/internal/agent/graph/tools"
	"github.com/shopassist/server/internal/agent/model"
)

// KeywordModelName is reported as the model of keyword completers.
const KeywordModelName = "keyword"

// KeywordCompleter is a deterministic offline Completer. It maps a few
// phrasings to tool calls and summarises tool results, which is enough to
// run the assistant without a model provider.
type KeywordCompleter struct {
	kind model.AgentKind
}

func NewKeywordCompleter(kind model.AgentKind) *KeywordCompleter {
	return &KeywordCompleter{kind: kind}
}

// KeywordAgents builds both agents on keyword completers.
func KeywordAgents(opts AgentOptions) map[model.AgentKind]*Agent {
	return map[model.AgentKind]*Agent{
		model.AgentSales:   NewAgent(model.AgentSales, NewKeywordCompleter(model.AgentSales), KeywordModelName, opts),
		model.AgentSupport: NewAgent(model.AgentSupport, NewKeywordCompleter(model.AgentSupport), KeywordModelName, opts),
	}
}

var (
	reAddProduct    = regexp.MustCompile(`\badd\s+(?:(\d+)\s+(?:x\s+|units?\s+of\s+|of\s+)?)?(?:product|item|id)\s*#?\s*(\d+)`)
	reRemoveProduct = regexp.MustCompile(`\b(?:remove|delete|drop)\s+(?:(\d+)\s+(?:x\s+|units?\s+of\s+|of\s+)?)?(?:product|item|id)\s*#?\s*(\d+)`)
	reSetQuantity   = regexp.MustCompile(`\b(?:set|change|update)\s+(?:product|item|id)\s*#?\s*(\d+)\s+to\s+(\d+)`)
	reUnder         = regexp.MustCompile(`\b(?:under|below|less than|cheaper than)\s+\$?\s*(\d+(?:\.\d+)?)`)
	reInDepartment  = regexp.MustCompile(`\bin\s+(?:the\s+)?([a-z][a-z ]*?)(?:\s+department|\s+aisle)?\s*[.?!]*$`)
	reNeed          = regexp.MustCompile(`\b(?:i need|i want|i'm looking for|i am looking for|looking for|find me|show me|do you have)\s+(.+)`)
)

var complaintWords = []string{
	"refund", "broken", "damaged", "defective", "complaint", "complain",
	"return", "missing", "wrong item", "spoiled", "rotten", "late delivery",
}

var shoppingWords = []string{
	"buy", "search", "find", "product", "add", "cart", "looking for", "i need", "shop",
}

func (k *KeywordCompleter) Generate(ctx context.Context, input []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	ctx = callbacks.OnStart(ctx, &einomodel.CallbackInput{Messages: input})
	out := k.respond(input)
	callbacks.OnEnd(ctx, &einomodel.CallbackOutput{Message: out})
	return out, nil
}

func (k *KeywordCompleter) respond(input []*schema.Message) *schema.Message {
	results := trailingResults(input)
	if len(results) > 0 && !handedOff(results) {
		return schema.AssistantMessage(summarize(results), nil)
	}

	raw := strings.TrimSpace(lastUserText(input))
	if k.kind == model.AgentSupport {
		return k.support(input, raw)
	}
	return k.sales(raw)
}

func (k *KeywordCompleter) sales(raw string) *schema.Message {
	text := strings.ToLower(raw)
	switch {
	case containsAny(text, complaintWords):
		return call(tools.TransferToSupport, map[string]any{"reason": raw})
	case reAddProduct.MatchString(text):
		m := reAddProduct.FindStringSubmatch(text)
		args := map[string]any{"product_id": atoi(m[2])}
		if m[1] != "" {
			args["quantity"] = atoi(m[1])
		}
		return call(tools.AddToCart, args)
	case reRemoveProduct.MatchString(text):
		m := reRemoveProduct.FindStringSubmatch(text)
		args := map[string]any{"product_id": atoi(m[2])}
		if m[1] != "" {
			args["quantity"] = atoi(m[1])
		}
		return call(tools.RemoveFromCart, args)
	case reSetQuantity.MatchString(text):
		m := reSetQuantity.FindStringSubmatch(text)
		return call(tools.UpdateCart, map[string]any{"product_id": atoi(m[1]), "quantity": atoi(m[2])})
	case strings.Contains(text, "cart"):
		return call(tools.ViewCart, map[string]any{})
	case strings.Contains(text, "bought before") || strings.Contains(text, "past orders") ||
		strings.Contains(text, "my usual") || strings.Contains(text, "order again"):
		return call(tools.StructuredSearch, map[string]any{"history_only": true})
	case reUnder.MatchString(text):
		args := map[string]any{}
		price, _ := strconv.ParseFloat(reUnder.FindStringSubmatch(text)[1], 64)
		args["max_price"] = price
		if m := reInDepartment.FindStringSubmatch(text); m != nil {
			args["department"] = strings.TrimSpace(m[1])
		}
		return call(tools.StructuredSearch, args)
	case reNeed.MatchString(text):
		q := cleanQuery(reNeed.FindStringSubmatch(text)[1])
		if q != "" {
			return call(tools.SearchProducts, map[string]any{"query": q})
		}
	}
	return schema.AssistantMessage("Hi! I can help you find groceries and manage your cart. What are you looking for today?", nil)
}

func (k *KeywordCompleter) support(input []*schema.Message, raw string) *schema.Message {
	text := strings.ToLower(raw)
	switch {
	case containsAny(text, complaintWords):
		return call(tools.RouteToCustomerSupport, map[string]any{
			"reason":  raw,
			"urgency": urgencyOf(text),
		})
	case containsAny(text, shoppingWords):
		return call(tools.TransferToSales, map[string]any{"reason": raw})
	}
	if note := supervisorNote(input); note != "" {
		return schema.AssistantMessage("A support specialist reviewed your request: "+note, nil)
	}
	return schema.AssistantMessage("I'm sorry to hear that. Could you tell me more about the problem with your order?", nil)
}

func call(name tools.Name, args map[string]any) *schema.Message {
	b, _ := json.Marshal(args)
	return schema.AssistantMessage("", []schema.ToolCall{{
		Type: "function",
		Function: schema.FunctionCall{
			Name:      string(name),
			Arguments: string(b),
		},
	}})
}

// trailingResults returns the tool results after the last agent entry.
func trailingResults(input []*schema.Message) []*schema.Message {
	i := len(input)
	for i > 0 && input[i-1] != nil && input[i-1].Role == schema.Tool {
		i--
	}
	return input[i:]
}

func handedOff(results []*schema.Message) bool {
	for _, r := range results {
		name := tools.Name(r.ToolName)
		if (name == tools.TransferToSupport || name == tools.TransferToSales) && !tools.Failed(r) {
			return true
		}
	}
	return false
}

func summarize(results []*schema.Message) string {
	var parts []string
	for _, r := range results {
		if tools.Failed(r) {
			parts = append(parts, "Sorry, I couldn't complete that. "+r.Content)
			continue
		}
		switch tools.Name(r.ToolName) {
		case tools.SearchProducts, tools.StructuredSearch:
			parts = append(parts, describeRecords(r.Content))
		default:
			parts = append(parts, r.Content)
		}
	}
	return strings.Join(parts, "\n")
}

func describeRecords(content string) string {
	records, err := tools.DecodeRecords(content)
	if err != nil {
		return content
	}
	if len(records) == 0 {
		return "I couldn't find any matching products."
	}
	var sb strings.Builder
	sb.WriteString("Here is what I found:")
	for i, r := range records {
		if i == 5 {
			fmt.Fprintf(&sb, "\n...and %d more.", len(records)-5)
			break
		}
		fmt.Fprintf(&sb, "\n- %s (ID: %d) $%.2f", r.Name, r.ID, r.Price)
	}
	return sb.String()
}

func lastUserText(input []*schema.Message) string {
	for i := len(input) - 1; i >= 0; i-- {
		m := input[i]
		if m != nil && m.Role == schema.User && !strings.HasPrefix(m.Content, model.SupervisorPrefix) {
			return m.Content
		}
	}
	return ""
}

// supervisorNote returns the latest supervisor response not yet followed by
// an agent reply.
func supervisorNote(input []*schema.Message) string {
	for i := len(input) - 1; i >= 0; i-- {
		m := input[i]
		if m == nil {
			continue
		}
		switch {
		case m.Role == schema.Assistant && len(m.ToolCalls) == 0 && m.Content != "":
			return ""
		case m.Role == schema.User && strings.HasPrefix(m.Content, model.SupervisorPrefix):
			return strings.TrimSpace(strings.TrimPrefix(m.Content, model.SupervisorPrefix))
		}
	}
	return ""
}

func urgencyOf(text string) model.Urgency {
	switch {
	case containsAny(text, []string{"urgent", "asap", "immediately", "right now"}):
		return model.UrgencyHigh
	case containsAny(text, []string{"broken", "damaged", "defective", "spoiled", "rotten"}):
		return model.UrgencyMedium
	}
	return model.UrgencyLow
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func cleanQuery(q string) string {
	q = strings.TrimRight(strings.TrimSpace(q), ".?!")
	for _, p := range []string{"some ", "a ", "an ", "the "} {
		q = strings.TrimPrefix(q, p)
	}
	return strings.TrimSpace(q)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
