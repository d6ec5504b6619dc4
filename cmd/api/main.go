package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/cjLee-cmd/test-PatAI/internal/answer"
	"github.com/cjLee-cmd/test-PatAI/internal/api/handlers"
	redisCache "github.com/cjLee-cmd/test-PatAI/internal/cache/redis"
	"github.com/cjLee-cmd/test-PatAI/internal/embedding"
	"github.com/cjLee-cmd/test-PatAI/internal/extract"
	"github.com/cjLee-cmd/test-PatAI/internal/ingestion"
	"github.com/cjLee-cmd/test-PatAI/internal/llm"
	"github.com/cjLee-cmd/test-PatAI/internal/metrics"
	"github.com/cjLee-cmd/test-PatAI/internal/query"
	"github.com/cjLee-cmd/test-PatAI/internal/rerank"
	"github.com/cjLee-cmd/test-PatAI/internal/retrieval"
	"github.com/cjLee-cmd/test-PatAI/internal/storage/sqlite"
	"github.com/cjLee-cmd/test-PatAI/internal/textproc"
	"github.com/cjLee-cmd/test-PatAI/internal/vector/milvus"
	"github.com/cjLee-cmd/test-PatAI/pkg/config"
	appLogger "github.com/cjLee-cmd/test-PatAI/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting patent RAG API server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	milvusClient, err := milvus.NewClient(
		cfg.Milvus.Endpoint,
		cfg.Milvus.CollectionName,
		cfg.Milvus.VectorDim,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
	}
	defer milvusClient.Close()

	if err := milvusClient.EnsureCollection(context.Background()); err != nil {
		appLogger.Fatal("Failed to ensure collection", zap.Error(err))
	}

	redisClient, err := redisCache.NewClient(
		cfg.Redis.Host,
		cfg.Redis.Port,
		cfg.Redis.Password,
		cfg.Redis.DB,
		time.Duration(cfg.Redis.QueryTTL)*time.Second,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Redis client", zap.Error(err))
	}
	defer redisClient.Close()

	llmClient := llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		Temperature:    cfg.LLM.Temperature,
		MaxTokens:      cfg.LLM.MaxTokens,
		TimeoutSec:     cfg.LLM.TimeoutSec,
	})

	embedder := embedding.NewClient(llmClient, redisClient)

	sparseIndex := retrieval.NewSparseIndex()
	if chunks, err := sqliteClient.GetAllChunks(); err != nil {
		appLogger.Warn("Failed to rebuild sparse index", zap.Error(err))
	} else {
		for _, chunk := range chunks {
			sparseIndex.Add(chunk)
		}
		appLogger.Info("Sparse index rebuilt", zap.Int("chunks", len(chunks)))
	}

	registry := extract.DefaultRegistry()
	chunker := textproc.NewChunker(textproc.DefaultPolicies(), nil)

	ingestService, err := ingestion.NewService(
		sqliteClient,
		registry,
		milvusClient,
		sparseIndex,
		redisClient,
		cfg.Pipeline.DataDir,
		cfg.Pipeline.MaxFileSize,
	)
	if err != nil {
		appLogger.Fatal("Failed to create ingestion service", zap.Error(err))
	}

	processor := ingestion.NewProcessor(
		sqliteClient,
		ingestService,
		registry,
		chunker,
		embedder,
		milvusClient,
		sparseIndex,
		redisClient,
		cfg.Pipeline.MaxPhaseAttempts,
	)

	runner := ingestion.NewRunner(sqliteClient, processor, cfg.Pipeline.Workers)
	runner.Start(context.Background())
	defer runner.Stop()

	pipeline := retrieval.NewPipeline(embedder, milvusClient, sparseIndex, retrieval.Config{
		DenseTopK:     cfg.Pipeline.DenseTopK,
		SparseTopK:    cfg.Pipeline.SparseTopK,
		SparseEnabled: cfg.Pipeline.SparseEnabled,
		MaxCandidates: cfg.Pipeline.MaxCandidates,
	})
	reranker := rerank.NewReranker(llmClient, cfg.Pipeline.RerankTopM)
	synthesizer := answer.NewSynthesizer(llmClient, cfg.Pipeline.RelevanceThreshold)

	queryEngine := query.NewEngine(
		pipeline,
		reranker,
		synthesizer,
		redisClient,
		sqliteClient,
		textproc.NormalizeQuery,
		cfg.Pipeline.RerankTopM,
	)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	queryHandler := handlers.NewQueryHandler(queryEngine)
	documentHandler := handlers.NewDocumentHandler(ingestService)
	wsHandler := handlers.NewWebSocketHandler(ingestService)

	api := app.Group("/api/v1")

	api.Post("/query", queryHandler.HandleQuery)
	api.Get("/query/history", queryHandler.GetQueryHistory)

	api.Post("/documents", documentHandler.UploadDocument)
	api.Get("/documents", documentHandler.ListDocuments)
	api.Get("/documents/:id", documentHandler.GetDocument)
	api.Delete("/documents/:id", documentHandler.DeleteDocument)
	api.Post("/documents/:id/reindex", documentHandler.ReIndexDocument)

	api.Get("/jobs/:id", documentHandler.GetJob)
	api.Post("/jobs/:id/cancel", documentHandler.CancelJob)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/jobs", websocket.New(wsHandler.HandleConnection))

	app.Get("/metrics", metrics.MetricsHandler())

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
