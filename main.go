package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abhirockzz/cosmosdb-go-sdk-helper/auth"
	"github.com/abhirockzz/langchaingo-site-assistant/agent"
	"github.com/abhirockzz/langchaingo-site-assistant/chat"
	"github.com/abhirockzz/langchaingo-site-assistant/config"
	"github.com/abhirockzz/langchaingo-site-assistant/cosmosdb"
	"github.com/abhirockzz/langchaingo-site-assistant/knowledge"
	"github.com/abhirockzz/langchaingo-site-assistant/server"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

// model is what the assistant needs from a provider: chat completion and embeddings.
type model interface {
	llms.Model
	embeddings.EmbedderClient
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.LogDevelopment)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	llm, err := newModel(ctx, cfg.LLM)
	if err != nil {
		logger.Fatal("Failed to initialize LLM", zap.String("provider", cfg.LLM.Provider), zap.Error(err))
	}

	embedder, err := embeddings.NewEmbedder(llm, embeddings.WithBatchSize(cfg.Knowledge.EmbedBatchSize))
	if err != nil {
		logger.Fatal("Failed to initialize embedder", zap.Error(err))
	}

	collection, err := knowledge.OpenCollection(ctx, knowledge.CollectionConfig{
		DatabaseURL: cfg.DatabaseURL,
		Name:        cfg.Knowledge.CollectionName,
		Recreate:    cfg.Knowledge.Recreate,
	}, embedder)
	if err != nil {
		logger.Fatal("Failed to open knowledge collection", zap.Error(err))
	}
	defer collection.Close()

	// No session starts against an unusable knowledge base.
	crawler := knowledge.NewCrawler(
		knowledge.WithMaxPages(cfg.Knowledge.MaxLinks),
		knowledge.WithMaxDepth(cfg.Knowledge.MaxDepth),
		knowledge.WithCrawlerLogger(logger.Named("crawler")),
	)
	job := knowledge.NewJob(crawler, collection,
		knowledge.WithChunking(cfg.Knowledge.ChunkSize, cfg.Knowledge.ChunkOverlap),
		knowledge.WithBatchSize(cfg.Knowledge.EmbedBatchSize),
		knowledge.WithJobLogger(logger.Named("ingest")),
	)
	stats, err := job.Run(ctx, cfg.Knowledge.SeedURL)
	if err != nil {
		logger.Fatal("Knowledge ingestion failed", zap.String("seed", cfg.Knowledge.SeedURL), zap.Error(err))
	}
	logger.Info("Knowledge base ready",
		zap.String("collection", cfg.Knowledge.CollectionName),
		zap.Int("pages", stats.Pages),
		zap.Int("chunks", stats.Chunks),
		zap.Duration("elapsed", stats.Elapsed))

	assistant := agent.New(llm, collection,
		agent.WithTopK(cfg.Agent.TopK),
		agent.WithMaxRetries(cfg.Agent.MaxRetries),
		agent.WithLogger(logger.Named("agent")),
	)

	registryOpts := []chat.RegistryOption{
		chat.WithSessionOptions(chat.WithAnswerTimeout(cfg.Agent.Timeout)),
		chat.WithRegistryLogger(logger.Named("chat")),
	}

	// conversations stays a nil interface when the archive is disabled.
	var conversations server.ConversationLister
	if cfg.ArchiveEnabled() {
		client, err := auth.GetCosmosDBClient(cfg.CosmosDB.EndpointURL, false, nil)
		if err != nil {
			logger.Fatal("Failed to create Cosmos DB client", zap.Error(err))
		}
		store, err := cosmosdb.NewStore(client, cfg.CosmosDB.DatabaseName, cfg.CosmosDB.ContainerName)
		if err != nil {
			logger.Fatal("Failed to open Cosmos DB container", zap.Error(err))
		}
		registryOpts = append(registryOpts, chat.WithArchiveFactory(store.History))
		conversations = store
		logger.Info("Transcript archive enabled",
			zap.String("database", cfg.CosmosDB.DatabaseName),
			zap.String("container", cfg.CosmosDB.ContainerName))
	}

	sessions := chat.NewRegistry(assistant, registryOpts...)
	sessions.StartSweeper(ctx, cfg.SessionTTL)

	app := server.New(sessions, conversations, logger.Named("server"))

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     app.Routes(),
		ReadTimeout: 30 * time.Second,
		// Answers can take up to the agent timeout plus rendering.
		WriteTimeout: cfg.Agent.Timeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("Web server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	stop()

	logger.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
		return
	}

	logger.Info("Server stopped")
}

func newLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newModel(ctx context.Context, cfg config.LLMConfig) (model, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		opts := []openai.Option{
			openai.WithModel(cfg.OpenAIModel),
			openai.WithEmbeddingModel(cfg.OpenAIEmbeddingModel),
		}
		if cfg.OpenAIAPIKey != "" {
			opts = append(opts, openai.WithToken(cfg.OpenAIAPIKey))
		} else {
			// local OpenAI-compatible endpoints such as Docker Model Runner ignore the token
			opts = append(opts, openai.WithToken("dummy_value"))
		}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
		}
		return openai.New(opts...)
	default:
		return googleai.New(ctx,
			googleai.WithAPIKey(cfg.GoogleAPIKey),
			googleai.WithDefaultModel(cfg.GeminiModel),
			googleai.WithDefaultEmbeddingModel(cfg.GeminiEmbeddingModel),
		)
	}
}
