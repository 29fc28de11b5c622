package graph

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/shopassist/server/internal/agent/graph/nodes"
	"github.com/shopassist/server/internal/agent/graph/tools"
	"github.com/shopassist/server/internal/agent/model"
	logx "github.com/shopassist/server/pkg/logger"
)

// GraphConfig holds all configuration needed to build the turn graph.
type GraphConfig struct {
	Agents        map[model.AgentKind]*nodes.Agent
	Executor      *tools.Executor
	MaxIterations int
}

// GraphBuilder handles the construction of the turn graph:
//
//	Intake -> (AwaitingReview | Agent)
//	Agent -> (ToolExecutor | END)
//	ToolExecutor -> (Escalated | Fallback | Agent)
type GraphBuilder struct {
	config *GraphConfig
	graph  *compose.Graph[model.TurnInput, *schema.Message]
}

// BuildGraph constructs and returns the compiled turn graph.
func BuildGraph(ctx context.Context, config *GraphConfig) (compose.Runnable[model.TurnInput, *schema.Message], error) {
	if config == nil {
		return nil, fmt.Errorf("graph config is nil")
	}
	for _, kind := range []model.AgentKind{model.AgentSales, model.AgentSupport} {
		if config.Agents[kind] == nil {
			return nil, fmt.Errorf("%s agent is not configured", kind)
		}
	}
	if config.Executor == nil {
		return nil, fmt.Errorf("tool executor is nil")
	}

	builder := &GraphBuilder{
		config: config,
		graph: compose.NewGraph[model.TurnInput, *schema.Message](
			compose.WithGenLocalState(func(ctx context.Context) *model.TurnState {
				return &model.TurnState{}
			}),
		),
	}

	if err := builder.addNodes(); err != nil {
		return nil, err
	}
	if err := builder.addEdges(); err != nil {
		return nil, err
	}
	if err := builder.addBranches(); err != nil {
		return nil, err
	}
	return builder.compile(ctx)
}

// addNodes adds all processing nodes to the graph
func (b *GraphBuilder) addNodes() error {
	g, cfg := b.graph, b.config
	steps := []struct {
		name string
		add  func() error
	}{
		{nodes.NodeIntake, func() error {
			return g.AddLambdaNode(nodes.NodeIntake, nodes.NewIntakeNode(),
				compose.WithStatePreHandler(nodes.NewIntakePreHandler()))
		}},
		{nodes.NodeAgent, func() error {
			return g.AddLambdaNode(nodes.NodeAgent, nodes.NewAgentNode(cfg.Agents),
				compose.WithStatePostHandler(nodes.NewAgentPostHandler(cfg.Agents)))
		}},
		{nodes.NodeToolExecutor, func() error {
			return g.AddLambdaNode(nodes.NodeToolExecutor, nodes.NewToolExecutorNode(cfg.Executor))
		}},
		{nodes.NodeAwaitingReview, func() error {
			return g.AddLambdaNode(nodes.NodeAwaitingReview, nodes.NewAwaitingReviewNode())
		}},
		{nodes.NodeEscalated, func() error {
			return g.AddLambdaNode(nodes.NodeEscalated, nodes.NewEscalatedNode())
		}},
		{nodes.NodeFallback, func() error {
			return g.AddLambdaNode(nodes.NodeFallback, nodes.NewFallbackNode(cfg.MaxIterations))
		}},
	}
	for _, s := range steps {
		if err := s.add(); err != nil {
			logx.Error().Err(err).Str("node", s.name).Msg("Error adding node")
			return fmt.Errorf("error adding node %s: %w", s.name, err)
		}
	}
	return nil
}

// addEdges creates the fixed connections between nodes
func (b *GraphBuilder) addEdges() error {
	edges := [][2]string{
		{compose.START, nodes.NodeIntake},
		{nodes.NodeAwaitingReview, compose.END},
		{nodes.NodeEscalated, compose.END},
		{nodes.NodeFallback, compose.END},
	}

	for _, edge := range edges {
		if err := b.graph.AddEdge(edge[0], edge[1]); err != nil {
			logx.Error().Err(err).Str("from", edge[0]).Str("to", edge[1]).Msg("Error adding edge")
			return fmt.Errorf("error adding edge %s -> %s: %w", edge[0], edge[1], err)
		}
	}
	return nil
}

// addBranches creates conditional routing branches
func (b *GraphBuilder) addBranches() error {
	gateBranch := compose.NewGraphBranch(
		nodes.NewEscalationGateCondition(),
		map[string]bool{
			nodes.NodeAwaitingReview: true,
			nodes.NodeAgent:          true,
		},
	)
	if err := b.graph.AddBranch(nodes.NodeIntake, gateBranch); err != nil {
		logx.Error().Err(err).Msg("Error adding escalation gate branch")
		return fmt.Errorf("error adding escalation gate branch: %w", err)
	}

	decisionBranch := compose.NewGraphBranch(
		nodes.NewToolExecutorCondition(),
		map[string]bool{
			nodes.NodeToolExecutor: true,
			compose.END:            true,
		},
	)
	if err := b.graph.AddBranch(nodes.NodeAgent, decisionBranch); err != nil {
		logx.Error().Err(err).Msg("Error adding decision branch")
		return fmt.Errorf("error adding decision branch: %w", err)
	}

	loopBranch := compose.NewGraphBranch(
		nodes.NewLoopCondition(b.config.MaxIterations),
		map[string]bool{
			nodes.NodeAgent:     true,
			nodes.NodeEscalated: true,
			nodes.NodeFallback:  true,
		},
	)
	if err := b.graph.AddBranch(nodes.NodeToolExecutor, loopBranch); err != nil {
		logx.Error().Err(err).Msg("Error adding loop branch")
		return fmt.Errorf("error adding loop branch: %w", err)
	}
	return nil
}

// compile finalizes and compiles the graph
func (b *GraphBuilder) compile(ctx context.Context) (compose.Runnable[model.TurnInput, *schema.Message], error) {
	// every iteration visits Agent and ToolExecutor; the bound itself is
	// enforced by the loop branch
	maxIterations := b.config.MaxIterations
	if maxIterations <= 0 {
		maxIterations = nodes.DefaultMaxIterations
	}
	maxSteps := 2*maxIterations + 10

	runnable, err := b.graph.Compile(ctx, compose.WithMaxRunSteps(maxSteps), compose.WithGraphName("ShoppingAssistantTurn"))
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}

	logx.Debug().Int("max_steps", maxSteps).Msg("Graph compiled successfully")
	return runnable, nil
}
