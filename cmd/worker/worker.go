package main

import (
	"context"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"dashboard-knowledge-engine/internal/ai"
	"dashboard-knowledge-engine/internal/config"
	"dashboard-knowledge-engine/internal/logger"
	"dashboard-knowledge-engine/internal/queue"
	"dashboard-knowledge-engine/services"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

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

	// Knowledge services. The worker invalidates the shared index through
	// Mongo: the API process detects staleness via the chunk count check.
	store := services.NewMongoKnowledgeStore(mongoClient.Database(cfg.DBName))
	index := services.NewVectorIndex(store, cfg.VectorDimensions)
	chunker := services.NewChunker(cfg.MaxChunkSize, cfg.ChunkOverlap)
	metadata := ai.NewMetadataService(gemini)

	ingestion := services.NewIngestionService(store, chunker, embedder, metadata, index,
		cfg.MinDocumentLength, cfg.PersistBatchSize)

	// Redis options for Asynq
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	// Create Asynq server
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"ingest":  7,
				"default": 3,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("task failed", "type", task.Type(), "error", err)
			}),
		},
	)

	// Create task processor
	processor := queue.NewTaskProcessor(ingestion)

	// Create mux and register handlers
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskIngestDocument, processor.HandleIngest)

	logger.Info("starting ingestion worker", "redis", redisOpt.Addr, "concurrency", 10)

	// Start the server
	if err := server.Run(mux); err != nil {
		log.Fatal("Failed to start worker:", err)
	}
}
