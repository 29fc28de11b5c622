package model

import (
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
)

func TestPricingForResolvesVersionedNames(t *testing.T) {
	assert.Equal(t, Pricing{InputPerM: 0.10, OutputPerM: 0.40}, PricingFor("gemini-2.5-flash-lite"))
	assert.Equal(t, Pricing{InputPerM: 0.30, OutputPerM: 2.50}, PricingFor("models/gemini-2.5-flash-001"))
	assert.Equal(t, Pricing{}, PricingFor("keyword"))
}

func TestMessageCost(t *testing.T) {
	msg := schema.AssistantMessage("hi", nil)
	assert.Zero(t, MessageCost(msg, "gemini-2.5-pro"))

	msg.ResponseMeta = &schema.ResponseMeta{Usage: &schema.TokenUsage{PromptTokens: 1_000_000, CompletionTokens: 100_000}}
	assert.InDelta(t, 1.25+1.00, MessageCost(msg, "gemini-2.5-pro"), 1e-9)
	assert.Zero(t, MessageCost(msg, "keyword"))
}
