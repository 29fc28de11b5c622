package model

import (
	"strings"

	"github.com/cloudwego/eino/schema"
)

// Pricing is the USD price of one million text tokens.
type Pricing struct {
	InputPerM  float64
	OutputPerM float64
}

// Cost returns the USD cost of usage.
func (p Pricing) Cost(usage *schema.TokenUsage) float64 {
	if usage == nil {
		return 0
	}
	return (p.InputPerM*float64(usage.PromptTokens) + p.OutputPerM*float64(usage.CompletionTokens)) / 1_000_000.0
}

// Ordered longest prefix first so versioned names resolve to the closest family.
var pricingTable = []struct {
	prefix  string
	pricing Pricing
}{
	{"gemini-2.5-flash-lite", Pricing{InputPerM: 0.10, OutputPerM: 0.40}},
	{"gemini-2.5-flash", Pricing{InputPerM: 0.30, OutputPerM: 2.50}},
	{"gemini-2.5-pro", Pricing{InputPerM: 1.25, OutputPerM: 10.00}},
	{"gemini-2.0-flash", Pricing{InputPerM: 0.10, OutputPerM: 0.40}},
}

// PricingFor resolves the pricing of a model name such as
// "models/gemini-2.5-flash-001". Unknown models, including the offline
// keyword completer, are free.
func PricingFor(modelName string) Pricing {
	name := strings.TrimPrefix(strings.ToLower(modelName), "models/")
	for _, row := range pricingTable {
		if strings.HasPrefix(name, row.prefix) {
			return row.pricing
		}
	}
	return Pricing{}
}

// MessageCost returns the cost of a completion whose usage is attached to msg.
func MessageCost(msg *schema.Message, modelName string) float64 {
	if msg == nil || msg.ResponseMeta == nil {
		return 0
	}
	return PricingFor(modelName).Cost(msg.ResponseMeta.Usage)
}
