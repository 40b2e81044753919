package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	MongoURI string
	DBName   string
	Port     string
	GinMode  string

	CORSOrigins []string

	// Redis (query cache, rate limiting, async queue broker)
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Gemini providers
	GeminiAPIKey            string
	GeminiTier              string
	GenerationModel         string
	EmbeddingsModel         string
	EmbeddingsFallbackModel string
	VectorDimensions        int

	// Chunking
	MaxChunkSize      int
	ChunkOverlap      int
	MinDocumentLength int

	// Embedding orchestration
	EmbedBatchSize   int
	EmbedMaxAttempts int
	EmbedBaseDelayMS int
	PersistBatchSize int

	// Hybrid search. The weights and threshold ship with the original
	// defaults but are tunable per deployment corpus.
	SemanticWeight float64
	LexicalWeight  float64
	ScoreThreshold float64
	DefaultTopK    int
	ExcerptLength  int

	// Query cache
	AnswerCacheTTLHours int

	// Rate limiting
	RateLimitReqs   int
	RateLimitWindow int

	// Tracing
	TracingEnabled bool
	OTLPEndpoint   string
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		MongoURI: getEnv("MONGO_URI", "mongodb://localhost:27017/dashboard_knowledge"),
		DBName:   getEnv("DB_NAME", "dashboard_knowledge"),
		Port:     getEnv("PORT", "8080"),
		GinMode:  getEnv("GIN_MODE", "debug"),

		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:8080"), ","),

		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		GeminiAPIKey:            getEnv("GEMINI_API_KEY", ""),
		GeminiTier:              getEnv("GEMINI_TIER", "free"),
		GenerationModel:         getEnv("GENERATION_MODEL", "gemini-2.0-flash"),
		EmbeddingsModel:         getEnv("EMBEDDINGS_MODEL", "text-embedding-004"),
		EmbeddingsFallbackModel: getEnv("EMBEDDINGS_FALLBACK_MODEL", "gemini-embedding-001"),
		VectorDimensions:        getEnvInt("VECTOR_DIM", 768),

		MaxChunkSize:      getEnvInt("MAX_CHUNK_SIZE", 800),
		ChunkOverlap:      getEnvInt("CHUNK_OVERLAP", 100),
		MinDocumentLength: getEnvInt("MIN_DOCUMENT_LENGTH", 50),

		EmbedBatchSize:   getEnvInt("EMBED_BATCH_SIZE", 5),
		EmbedMaxAttempts: getEnvInt("EMBED_MAX_ATTEMPTS", 4),
		EmbedBaseDelayMS: getEnvInt("EMBED_BASE_DELAY_MS", 500),
		PersistBatchSize: getEnvInt("PERSIST_BATCH_SIZE", 50),

		SemanticWeight: getEnvFloat64("HYBRID_SEMANTIC_WEIGHT", 0.7),
		LexicalWeight:  getEnvFloat64("HYBRID_LEXICAL_WEIGHT", 0.3),
		ScoreThreshold: getEnvFloat64("SCORE_THRESHOLD", 0.35),
		DefaultTopK:    getEnvInt("DEFAULT_TOP_K", 5),
		ExcerptLength:  getEnvInt("EXCERPT_LENGTH", 240),

		AnswerCacheTTLHours: getEnvInt("ANSWER_CACHE_TTL_HOURS", 24),

		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW", 60),

		TracingEnabled: getEnvBool("TRACING_ENABLED", false),
		OTLPEndpoint:   getEnv("OTLP_ENDPOINT", "localhost:4317"),
	}

	// Validate required fields
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required - set it in .env file")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
