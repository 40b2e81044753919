package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	genai "github.com/google/generative-ai-go/genai"

	"dashboard-knowledge-engine/internal/logger"
	"dashboard-knowledge-engine/models"
)

// EmbeddingService batches texts through the Google Generative AI embedding
// API. Transient provider failures retry with exponential backoff; a single
// item that keeps failing degrades to a zero vector instead of failing the
// whole document. Payloads that exceed the provider limit get one fallback
// attempt against a higher-capacity embedding model.
type EmbeddingService struct {
	client        *genai.Client
	model         string
	fallbackModel string
	dim           int
	batchSize     int
	maxAttempts   int
	baseDelay     time.Duration
}

func NewEmbeddingService(ctx context.Context, apiKey, model, fallbackModel string, dim, batchSize, maxAttempts, baseDelayMS int) (*EmbeddingService, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("missing GEMINI_API_KEY for embeddings")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = 5
	}
	if maxAttempts <= 0 {
		maxAttempts = 4
	}
	if baseDelayMS <= 0 {
		baseDelayMS = 500
	}
	return &EmbeddingService{
		client:        client,
		model:         model,
		fallbackModel: fallbackModel,
		dim:           dim,
		batchSize:     batchSize,
		maxAttempts:   maxAttempts,
		baseDelay:     time.Duration(baseDelayMS) * time.Millisecond,
	}, nil
}

func (s *EmbeddingService) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// EmbedDocuments returns one vector per input, in input order. The progress
// callback fires after each completed batch with (processed, total). The
// returned indices identify inputs that were degraded to zero vectors.
func (s *EmbeddingService) EmbedDocuments(ctx context.Context, texts []string, progress func(processed, total int)) ([][]float32, []int, error) {
	vectors := make([][]float32, 0, len(texts))
	var degraded []int
	total := len(texts)

	for start := 0; start < len(texts); start += s.batchSize {
		end := start + s.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		batchVectors, err := s.embedBatch(ctx, batch, s.model)
		if err != nil {
			if isCapacity(err) {
				// One shot against the higher-capacity variant, then give up
				// with an actionable message.
				batchVectors, err = s.embedBatch(ctx, batch, s.fallbackModel)
				if err != nil {
					return nil, nil, &models.CapacityError{Provider: "gemini-embeddings", Message: err.Error()}
				}
			} else if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			} else {
				// The batch as a whole kept failing. Try items one by one so
				// a single poisoned input only degrades itself.
				batchVectors = make([][]float32, len(batch))
				for i, text := range batch {
					vec, itemErr := s.embedBatch(ctx, []string{text}, s.model)
					if itemErr != nil {
						logger.Warn("embedding degraded to zero vector", "index", start+i, "error", itemErr)
						batchVectors[i] = make([]float32, s.dim)
						degraded = append(degraded, start+i)
						continue
					}
					batchVectors[i] = vec[0]
				}
			}
		}

		vectors = append(vectors, batchVectors...)
		if progress != nil {
			progress(end, total)
		}
	}

	return vectors, degraded, nil
}

// EmbedQuery embeds a single query string.
func (s *EmbeddingService) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.embedBatch(ctx, []string{text}, s.model)
	if err != nil {
		return nil, &models.ProviderError{Provider: "gemini-embeddings", Transient: isTransient(err), Err: err}
	}
	return vectors[0], nil
}

// embedBatch runs one provider round-trip under the retry policy: bounded
// attempts, geometrically growing delay from the base.
func (s *EmbeddingService) embedBatch(ctx context.Context, texts []string, modelName string) ([][]float32, error) {
	operation := func() ([][]float32, error) {
		em := s.client.EmbeddingModel(modelName)
		batch := em.NewBatch()
		for _, text := range texts {
			batch.AddContent(genai.Text(text))
		}

		resp, err := em.BatchEmbedContents(ctx, batch)
		if err != nil {
			if isTransient(err) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		if len(resp.Embeddings) != len(texts) {
			return nil, backoff.Permanent(fmt.Errorf("provider returned %d embeddings for %d inputs", len(resp.Embeddings), len(texts)))
		}

		vectors := make([][]float32, len(resp.Embeddings))
		for i, emb := range resp.Embeddings {
			if emb == nil || len(emb.Values) == 0 {
				return nil, backoff.Permanent(fmt.Errorf("empty embedding at index %d", i))
			}
			vectors[i] = emb.Values
		}
		return vectors, nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = s.baseDelay

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(s.maxAttempts)),
	)
}

// isTransient reports whether a provider error is worth retrying: rate
// limiting and 5xx-equivalent failures.
func isTransient(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "resource exhausted") ||
		strings.Contains(msg, "unavailable") ||
		strings.Contains(msg, "internal error")
}

// isCapacity reports whether the provider rejected the payload for size.
func isCapacity(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == 413 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "payload size exceeds") ||
		strings.Contains(msg, "request entity too large") ||
		strings.Contains(msg, "exceeds the maximum")
}
