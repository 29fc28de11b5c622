package nodes

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"google.golang.org/genai"

	"github.com/shopassist/server/internal/agent/graph/tools"
	"github.com/shopassist/server/internal/agent/model"
	logx "github.com/shopassist/server/pkg/logger"
)

// ChatModels holds one Gemini chat model per agent. Each agent gets its own
// instance because bound tools are stored on the model.
type ChatModels struct {
	Sales            *gemini.ChatModel
	Support          *gemini.ChatModel
	SalesModelName   string
	SupportModelName string
}

// NewGenAIClient creates the Gemini API client shared by chat models and the
// embedder.
func NewGenAIClient(ctx context.Context, config model.ChatModelConfig) (*genai.Client, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = config.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}
	return client, nil
}

// NewChatModels creates the sales and support chat models.
func NewChatModels(ctx context.Context, client *genai.Client, config model.ChatModelConfig) (*ChatModels, error) {
	sales, err := newChatModel(ctx, client, config.SalesModel, config.SalesTemperature, config.SalesMaxTokens)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating sales model")
		return nil, fmt.Errorf("error creating sales model: %w", err)
	}

	support, err := newChatModel(ctx, client, config.SupportModel, config.SupportTemperature, config.SupportMaxTokens)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating support model")
		return nil, fmt.Errorf("error creating support model: %w", err)
	}

	return &ChatModels{
		Sales:            sales,
		Support:          support,
		SalesModelName:   config.SalesModel,
		SupportModelName: config.SupportModel,
	}, nil
}

func newChatModel(ctx context.Context, client *genai.Client, name string, temperature float32, maxTokens int) (*gemini.ChatModel, error) {
	return gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       name,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  genai.Ptr(int32(1024)),
		},
	})
}

// BindTools binds each agent's tool set. departments feeds the enum of the
// structured search schema.
func (cm *ChatModels) BindTools(departments []string) error {
	if err := cm.Sales.BindTools(tools.Infos(model.AgentSales, departments)); err != nil {
		logx.Error().Err(err).Msg("Failed to bind sales tools")
		return fmt.Errorf("failed to bind sales tools: %w", err)
	}
	if err := cm.Support.BindTools(tools.Infos(model.AgentSupport, departments)); err != nil {
		logx.Error().Err(err).Msg("Failed to bind support tools")
		return fmt.Errorf("failed to bind support tools: %w", err)
	}

	logx.Debug().Msg("Successfully bound tools to agent models")
	return nil
}

// Agents builds the sales and support agents on top of the Gemini models.
func (cm *ChatModels) Agents(opts AgentOptions) map[model.AgentKind]*Agent {
	return map[model.AgentKind]*Agent{
		model.AgentSales:   NewAgent(model.AgentSales, cm.Sales, cm.SalesModelName, opts),
		model.AgentSupport: NewAgent(model.AgentSupport, cm.Support, cm.SupportModelName, opts),
	}
}
