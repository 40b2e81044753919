package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"dashboard-knowledge-engine/internal/ai"
	"dashboard-knowledge-engine/internal/config"
	"dashboard-knowledge-engine/internal/logger"
	"dashboard-knowledge-engine/internal/telemetry"
	"dashboard-knowledge-engine/middleware"
	"dashboard-knowledge-engine/routes"
	"dashboard-knowledge-engine/services"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	// Tracing is optional; the knowledge API runs fine without a collector.
	if cfg.TracingEnabled {
		shutdown, err := telemetry.InitTracer("knowledge-engine", cfg.OTLPEndpoint)
		if err != nil {
			logger.Warn("failed to initialize tracer", "error", err)
		} else {
			defer shutdown()
		}
	}

	// Connect to MongoDB
	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mongoClient.Disconnect(ctx)
	}()

	// Connect to Redis (answer cache, rate limiting, queue broker)
	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer rdb.Close()

	// Gemini clients
	gemini, err := ai.NewGeminiClient(cfg.GeminiAPIKey, cfg.GenerationModel, cfg.GeminiTier)
	if err != nil {
		log.Fatal("Failed to initialize Gemini client:", err)
	}
	defer gemini.Close()

	embedder, err := ai.NewEmbeddingService(context.Background(), cfg.GeminiAPIKey,
		cfg.EmbeddingsModel, cfg.EmbeddingsFallbackModel,
		cfg.VectorDimensions, cfg.EmbedBatchSize, cfg.EmbedMaxAttempts, cfg.EmbedBaseDelayMS)
	if err != nil {
		log.Fatal("Failed to initialize embedding service:", err)
	}
	defer embedder.Close()

	// Knowledge services
	store := services.NewMongoKnowledgeStore(mongoClient.Database(cfg.DBName))
	index := services.NewVectorIndex(store, cfg.VectorDimensions)
	worker := services.NewSearchWorker(cfg.SemanticWeight, cfg.LexicalWeight, cfg.ScoreThreshold)
	defer worker.Stop()

	chunker := services.NewChunker(cfg.MaxChunkSize, cfg.ChunkOverlap)
	metadata := ai.NewMetadataService(gemini)
	cache := services.NewRedisAnswerCache(rdb, time.Duration(cfg.AnswerCacheTTLHours)*time.Hour)

	ingestion := services.NewIngestionService(store, chunker, embedder, metadata, index,
		cfg.MinDocumentLength, cfg.PersistBatchSize)
	retrieval := services.NewRetrievalService(store, index, worker, cache, embedder, gemini,
		cfg.DefaultTopK, cfg.ExcerptLength)

	// Asynq client for background ingestion
	queueClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer queueClient.Close()

	// Initialize Gin router
	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.CORSMiddleware(cfg.CORSOrigins))
	router.Use(middleware.RateLimitMiddleware(rdb, cfg))
	if cfg.TracingEnabled {
		router.Use(otelgin.Middleware("knowledge-engine"))
	}

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now()})
	})

	// Setup routes
	routes.SetupKnowledgeRoutes(router, ingestion, retrieval, store, queueClient)

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	logger.Info("server exited")
}
