package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/rotosaurio/iacandy/pkg/adapters/datasource"
	_ "github.com/rotosaurio/iacandy/pkg/adapters/datasource/firebird" // registers "firebird"
	_ "github.com/rotosaurio/iacandy/pkg/adapters/datasource/mssql"    // registers "sqlserver"
	_ "github.com/rotosaurio/iacandy/pkg/adapters/datasource/postgres" // registers "postgres"
	"github.com/rotosaurio/iacandy/pkg/auth"
	"github.com/rotosaurio/iacandy/pkg/config"
	"github.com/rotosaurio/iacandy/pkg/database"
	"github.com/rotosaurio/iacandy/pkg/handlers"
	"github.com/rotosaurio/iacandy/pkg/llm"
	"github.com/rotosaurio/iacandy/pkg/logging"
	"github.com/rotosaurio/iacandy/pkg/mcp"
	"github.com/rotosaurio/iacandy/pkg/metrics"
	"github.com/rotosaurio/iacandy/pkg/middleware"
	"github.com/rotosaurio/iacandy/pkg/repositories"
	"github.com/rotosaurio/iacandy/pkg/retry"
	"github.com/rotosaurio/iacandy/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.String("datasource_type", cfg.Datasource.Type),
		zap.String("datasource", logging.SanitizeConnectionString(fmt.Sprintf("%s@%s/%s", cfg.Datasource.User, cfg.Datasource.Host, cfg.Datasource.Database))),
		zap.String("standard_model", cfg.LLM.StandardModel),
		zap.String("advanced_model", cfg.LLM.AdvancedModel),
		zap.String("advanced_provider", cfg.LLM.AdvancedProvider))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Backing store
	adapter, err := datasource.Open(ctx, cfg.Datasource.Type, cfg.Datasource.ConnectionMap(), logger)
	if err != nil {
		return fmt.Errorf("open datasource: %w", err)
	}
	defer adapter.Close()

	// Embedding record store
	var embeddingRepo repositories.EmbeddingRepository
	if cfg.Embedding.StorePath != "" {
		db, err := database.NewConnection(ctx, &database.Config{Path: cfg.Embedding.StorePath})
		if err != nil {
			return fmt.Errorf("open embedding store: %w", err)
		}
		defer db.Close()
		if err := database.RunMigrations(db, logger); err != nil {
			return fmt.Errorf("migrate embedding store: %w", err)
		}
		embeddingRepo = repositories.NewEmbeddingRepository(db)
	}

	// Generation backends
	standard, err := llm.NewClient(&llm.Config{
		Endpoint:       cfg.LLM.BaseURL,
		Model:          cfg.LLM.StandardModel,
		APIKey:         cfg.LLM.OpenAIAPIKey,
		EmbeddingModel: cfg.Embedding.Model,
		Dimensions:     cfg.Embedding.Dimensions,
		Temperature:    cfg.LLM.Temperature,
		MaxTokens:      cfg.LLM.MaxTokens,
		RequestTimeout: cfg.LLM.RequestTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("create standard-tier client: %w", err)
	}

	var advanced llm.Completer
	switch cfg.LLM.AdvancedProvider {
	case "anthropic":
		advanced, err = llm.NewAnthropicClient(cfg.LLM.AnthropicAPIKey, cfg.LLM.AdvancedModel, cfg.LLM.MaxTokens, cfg.LLM.Temperature, logger)
	default:
		advanced, err = llm.NewClient(&llm.Config{
			Endpoint:       cfg.LLM.BaseURL,
			Model:          cfg.LLM.AdvancedModel,
			APIKey:         cfg.LLM.OpenAIAPIKey,
			Temperature:    cfg.LLM.Temperature,
			MaxTokens:      cfg.LLM.MaxTokens,
			RequestTimeout: cfg.LLM.RequestTimeout,
		}, logger)
	}
	if err != nil {
		return fmt.Errorf("create advanced-tier client: %w", err)
	}

	generator, err := llm.NewTieredGenerator(standard, advanced)
	if err != nil {
		return err
	}

	embedder := llm.NewResilientEmbedder(
		standard,
		llm.NewCircuitBreaker(llm.DefaultCircuitBreakerConfig()),
		retry.DefaultConfig(),
		cfg.Embedding.BatchSize,
		logger)

	go probeBackends(ctx, standard, advanced, embedder, logger)

	workerPool := llm.NewWorkerPool(llm.WorkerPoolConfig{MaxConcurrent: cfg.LLM.MaxConcurrent}, logger)

	// Schema cache
	descriptors := services.NewDescriptorBuilder(adapter, workerPool, cfg.Datasource.SampleRows, logger)
	procedures := services.NewProcedureMatcher(adapter, adapter.Dialect(), logger)
	indexes := services.NewIndexBuilder(services.IndexBuilderConfig{
		Model:        cfg.Embedding.Model,
		BatchSize:    cfg.Embedding.BatchSize,
		QueryTimeout: cfg.RAG.QueryTimeout,
	}, embedder, embeddingRepo, workerPool, m, logger)
	cache := services.NewSchemaCache(
		services.NewSnapshotBuilder(descriptors, procedures, indexes),
		services.SchemaCacheConfig{
			TTL:             cfg.Cache.TTL,
			BuildTimeout:    cfg.Cache.BuildTimeout,
			FailureCooldown: cfg.Cache.FailureCooldown,
		},
		m, logger)

	if cfg.Cache.WarmOnStart {
		go func() {
			if _, err := cache.GetOrBuild(ctx, false); err != nil {
				logger.Warn("Initial schema cache build failed; retrying on first question", zap.Error(err))
			}
		}()
	}

	// Generation pipeline
	executor := datasource.NewReadOnlyExecutor(adapter)
	loop := services.NewRefinementLoop(generator, executor, services.RefinementLoopConfig{
		MaxRetries:   cfg.Generation.MaxRetries,
		MaxRows:      cfg.Datasource.MaxRows,
		QueryTimeout: cfg.Datasource.QueryTimeout,
		Dialect:      adapter.Dialect(),
	}, m, logger)

	conversations := services.NewConversationStore(services.ConversationStoreConfig{
		MaxTurns:   cfg.Conversation.MaxTurns,
		SessionTTL: cfg.Conversation.SessionTTL,
		MaxTurnAge: cfg.Conversation.MaxTurnAge,
	}, logger)
	defer conversations.Close()

	assistant := services.NewAssistant(services.AssistantConfig{
		Dialect:            adapter.Dialect(),
		MaxRows:            cfg.Datasource.MaxRows,
		TopKTables:         cfg.RAG.TopKTables,
		TopKProcedures:     cfg.RAG.TopKProcedures,
		MinSimilarity:      cfg.RAG.MinSimilarity,
		RetrievalTimeout:   cfg.RAG.QueryTimeout,
		RelatedTables:      cfg.RAG.RelatedTables,
		RelatedScoreFactor: cfg.RAG.RelatedScoreFactor,
		MaxRelatedTables:   cfg.RAG.MaxRelatedTables,
		ContextTurns:       cfg.Conversation.ContextTurns,
	}, services.AssistantDeps{
		Cache:      cache,
		Procedures: procedures,
		Classifier: services.NewComplexityClassifier(cfg.Generation.ModerateAt, cfg.Generation.ComplexAt, cfg.Generation.VeryComplexAt),
		Router: services.NewModelRouter(services.ModelRouterConfig{
			TableThreshold: cfg.Generation.ComplexityThreshold,
			ForceAdvanced:  cfg.Generation.ForceAdvanced,
		}, m, logger),
		Loop:          loop,
		Narrative:     services.NewNarrativeWriter(generator, cfg.Generation.Narrative, 0, logger),
		Filter:        services.NewResultFilter(cfg.EdgeCase.Enabled, cfg.EdgeCase.ExcludedPatterns, logger),
		Conversations: conversations,
	}, m, logger)

	// Transports
	mux := http.NewServeMux()

	handlers.NewHealthHandler(cfg, assistant.GetCacheStatus, logger).RegisterRoutes(mux)
	handlers.RegisterMetricsRoute(mux, registry)

	sessions := auth.NewSessionStore(cfg.Session.CookieSecret, cfg.Session.CookieName, cfg.Conversation.SessionTTL, cfg.IsProduction())
	if cfg.Session.CookieSecret == "" {
		logger.Warn("SESSION_COOKIE_SECRET not set; session cookies will not survive a restart")
	}
	handlers.NewAssistantHandler(assistant, sessions, logger).RegisterRoutes(mux)

	mcpServer := mcp.NewServer("iacandy", cfg.Version, logger)
	mcpServer.RegisterAssistant(assistant, cfg.Version)
	mux.Handle("/mcp", mcpServer.Handler())

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.RequestLogger(logger, m)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting iacandy", zap.String("addr", server.Addr), zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		_ = server.Close()
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

// probeBackends logs whether the generation and embedding backends answer.
// Failures are reported but do not stop startup: retrieval degrades to
// lexical search and generation errors surface per question.
func probeBackends(ctx context.Context, standard, advanced llm.Completer, embedder llm.Embedder, logger *zap.Logger) {
	const timeout = 30 * time.Second
	results := []llm.ProbeResult{
		llm.ProbeCompleter(ctx, "standard", standard, timeout),
		llm.ProbeCompleter(ctx, "advanced", advanced, timeout),
		llm.ProbeEmbedder(ctx, "embeddings", embedder, timeout),
	}
	for _, r := range results {
		if r.Success {
			logger.Info("Backend reachable", zap.String("backend", r.Name), zap.String("model", r.Model), zap.Int64("ms", r.ResponseTimeMs))
			continue
		}
		logger.Warn("Backend unavailable",
			zap.String("backend", r.Name),
			zap.String("model", r.Model),
			zap.String("error_type", string(r.ErrorType)),
			zap.String("message", r.Message))
	}
}
