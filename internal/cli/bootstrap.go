package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"google.golang.org/genai"

	"github.com/shopassist/server/internal/agent/catalog"
	"github.com/shopassist/server/internal/agent/graph"
	"github.com/shopassist/server/internal/agent/graph/conversations"
	"github.com/shopassist/server/internal/agent/graph/nodes"
	"github.com/shopassist/server/internal/agent/graph/observers"
	"github.com/shopassist/server/internal/agent/graph/tools"
	"github.com/shopassist/server/internal/agent/metrics"
	"github.com/shopassist/server/internal/agent/model"
	"github.com/shopassist/server/internal/agent/repo"
	"github.com/shopassist/server/internal/agent/semantic"
	logx "github.com/shopassist/server/pkg/logger"
)

// App is a fully wired assistant.
type App struct {
	Runner   *graph.Runner
	Registry *prometheus.Registry
	Catalog  *catalog.Store

	closers []func() error
}

// Close releases the catalog and the Redis client.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// Bootstrap builds the catalog, semantic index, agents and thread store
// described by cfg.
func Bootstrap(ctx context.Context, cfg AppConfig) (*App, error) {
	app := &App{Registry: prometheus.NewRegistry()}
	app.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec := metrics.NewRecorder(app.Registry)

	store, err := loadCatalog(ctx, cfg.Search)
	if err != nil {
		return nil, err
	}
	app.Catalog = store
	app.closers = append(app.closers, store.Close)

	var client *genai.Client
	if !cfg.ChatModel.Offline() {
		client, err = nodes.NewGenAIClient(ctx, cfg.ChatModel)
		if err != nil {
			_ = app.Close()
			return nil, err
		}
	}

	index := buildIndex(ctx, cfg.Embedding, client, store.Products())
	executor := tools.NewExecutor(store, index,
		tools.WithDefaultK(cfg.Search.SemanticDefaultK),
		tools.WithObserver(observers.NewToolObserver(rec)),
	)

	departments, err := store.Departments(ctx)
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("failed to list departments: %w", err)
	}
	window, err := conversations.NewWindow(cfg.Conversation.ContextTokens)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	opts := nodes.AgentOptions{Prompt: cfg.Prompt, Window: window, Departments: departments}

	agents, err := buildAgents(ctx, cfg.ChatModel, client, opts)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	convRepo, locker, err := buildStore(ctx, app, cfg)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	runner, err := graph.NewRunner(ctx, graph.Config{
		Graph: graph.GraphConfig{
			Agents:        agents,
			Executor:      executor,
			MaxIterations: cfg.Conversation.MaxIterations,
		},
		Conversation:     cfg.Conversation,
		ConversationRepo: convRepo,
		Locker:           locker,
		Metrics:          rec,
	})
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.Runner = runner

	logx.Info().
		Str("store_backend", cfg.StoreBackend).
		Bool("offline", cfg.ChatModel.Offline()).
		Int("products", store.Len()).
		Int("indexed", index.Len()).
		Msg("Assistant ready")
	return app, nil
}

func loadCatalog(ctx context.Context, cfg model.SearchConfig) (*catalog.Store, error) {
	if cfg.CatalogDir != "" {
		if _, err := os.Stat(cfg.CatalogDir); err == nil {
			store, err := catalog.Load(ctx, cfg.CatalogDir, cfg.MaxResults)
			if err != nil {
				return nil, fmt.Errorf("failed to load catalog from %s: %w", cfg.CatalogDir, err)
			}
			return store, nil
		}
		logx.Warn().Str("catalog_dir", cfg.CatalogDir).Msg("Catalog directory not found, using bundled sample")
	}
	store, err := catalog.LoadSample(ctx, cfg.MaxResults)
	if err != nil {
		return nil, fmt.Errorf("failed to load sample catalog: %w", err)
	}
	return store, nil
}

// buildIndex never fails: a nil index answers semantic searches with
// IndexUnavailable and the rest of the assistant keeps working.
func buildIndex(ctx context.Context, cfg model.EmbeddingConfig, client *genai.Client, products []model.Product) *semantic.Index {
	var embedder embedding.Embedder
	switch cfg.Provider {
	case "gemini":
		if client == nil {
			logx.Warn().Msg("Gemini embeddings need GEMINI_API_KEY, falling back to hash embeddings")
			embedder = semantic.NewHashEmbedder(cfg.Dimensions)
		} else {
			embedder = semantic.NewGeminiEmbedder(client, cfg.Model, cfg.Dimensions)
		}
	case "hash", "":
		embedder = semantic.NewHashEmbedder(cfg.Dimensions)
	case "none":
		logx.Warn().Msg("Semantic index disabled")
		return nil
	default:
		logx.Warn().Str("provider", cfg.Provider).Msg("Unknown embedding provider, semantic index disabled")
		return nil
	}

	index, err := semantic.Build(ctx, embedder, products)
	if err != nil {
		logx.Error().Err(err).Msg("Failed to build semantic index")
		return nil
	}
	return index
}

func buildAgents(ctx context.Context, cfg model.ChatModelConfig, client *genai.Client, opts nodes.AgentOptions) (map[model.AgentKind]*nodes.Agent, error) {
	if client == nil {
		logx.Warn().Msg("GEMINI_API_KEY not set, using offline keyword agents")
		return nodes.KeywordAgents(opts), nil
	}
	models, err := nodes.NewChatModels(ctx, client, cfg)
	if err != nil {
		return nil, err
	}
	if err := models.BindTools(opts.Departments); err != nil {
		return nil, err
	}
	return models.Agents(opts), nil
}

func buildStore(ctx context.Context, app *App, cfg AppConfig) (model.ConversationRepository, model.Locker, error) {
	ttl := cfg.Conversation.TTLDuration()
	if cfg.StoreBackend != BackendRedis {
		return repo.NewMemoryConversationRepository(ttl), repo.NewMemoryLocker(0), nil
	}

	rdb, err := cfg.Redis.New(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialise Redis client: %w", err)
	}
	app.closers = append(app.closers, rdb.Close)
	logx.Info().Msg("Connected to Redis successfully")

	var cmd redis.Cmdable = rdb
	return repo.NewRedisConversationRepository(cmd, ttl), repo.NewRedisLocker(cmd, 0), nil
}
