package services

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"dashboard-knowledge-engine/internal/logger"
	"dashboard-knowledge-engine/models"
)

// NoInformationAnswer is returned when nothing in the knowledge base clears
// the score threshold. Search failures degrade to this rather than
// propagating an error to the end user.
const NoInformationAnswer = "I couldn't find relevant information in the knowledge base for that question."

// AnswerGenerator is the external generative collaborator. It receives the
// numbered context blocks in source order and is expected to cite them with
// bracketed 1-based markers.
type AnswerGenerator interface {
	GenerateAnswer(ctx context.Context, query string, contexts []string) (string, error)
}

// RetrievalService answers natural-language queries: cache check, query
// embedding, build-if-stale index snapshot, hybrid search on the background
// worker, chunk hydration, answer generation, cache store.
type RetrievalService struct {
	store     KnowledgeStore
	index     *VectorIndex
	worker    *SearchWorker
	cache     AnswerCache
	embedder  Embedder
	generator AnswerGenerator

	defaultTopK   int
	excerptLength int
}

func NewRetrievalService(store KnowledgeStore, index *VectorIndex, worker *SearchWorker, cache AnswerCache, embedder Embedder, generator AnswerGenerator, defaultTopK, excerptLength int) *RetrievalService {
	if defaultTopK <= 0 {
		defaultTopK = 5
	}
	if excerptLength <= 0 {
		excerptLength = 240
	}
	return &RetrievalService{
		store:         store,
		index:         index,
		worker:        worker,
		cache:         cache,
		embedder:      embedder,
		generator:     generator,
		defaultTopK:   defaultTopK,
		excerptLength: excerptLength,
	}
}

// Answer resolves a query. Identical trimmed queries within the cache TTL
// return the cached answer and source list without touching the providers.
func (s *RetrievalService) Answer(ctx context.Context, query string, topK int) (*models.QueryResponse, error) {
	tracer := otel.Tracer("retrieval")
	ctx, span := tracer.Start(ctx, "retrieval.answer")
	defer span.End()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &models.ValidationError{Reason: "query must not be empty"}
	}
	if topK <= 0 {
		topK = s.defaultTopK
	}

	if cached, ok := s.cache.Get(ctx, query); ok {
		span.SetAttributes(attribute.Bool("retrieval.cache_hit", true))
		return &models.QueryResponse{Answer: cached.Answer, Sources: cached.Sources, Cached: true}, nil
	}

	queryVector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	snapshot, err := s.index.Snapshot(ctx)
	if err != nil {
		logger.Warn("index unavailable, degrading to empty result", "error", err)
		return s.noInformation(span), nil
	}

	results, err := s.worker.Search(ctx, snapshot, queryVector, query, topK)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return s.noInformation(span), nil
	}

	sources, contexts, err := s.hydrate(ctx, results)
	if err != nil {
		logger.Warn("chunk hydration failed, degrading to empty result", "error", err)
		return s.noInformation(span), nil
	}

	answer, err := s.generator.GenerateAnswer(ctx, query, contexts)
	if err != nil {
		return nil, err
	}

	s.cache.Put(ctx, query, &models.CachedAnswer{
		Answer:   answer,
		Sources:  sources,
		StoredAt: time.Now(),
	})

	span.SetAttributes(attribute.Int("retrieval.sources", len(sources)))
	return &models.QueryResponse{Answer: answer, Sources: sources, Cached: false}, nil
}

// hydrate loads chunk records for the hits and builds the source list and
// generator context blocks in the exact search-result order. That ordering
// is the citation contract: marker [n] in the answer points at sources[n-1].
func (s *RetrievalService) hydrate(ctx context.Context, results []models.SearchResult) ([]models.Source, []string, error) {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ChunkID
	}
	chunks, err := s.store.ChunksByID(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	byID := make(map[string]models.Chunk, len(chunks))
	for _, ch := range chunks {
		byID[ch.ID] = ch
	}

	sources := make([]models.Source, 0, len(results))
	contexts := make([]string, 0, len(results))
	for _, r := range results {
		ch, ok := byID[r.ChunkID]
		if !ok {
			// Deleted between scoring and hydration; skip rather than cite
			// a chunk we cannot show.
			continue
		}
		sources = append(sources, models.Source{
			ChunkID:        ch.ID,
			DocumentTitle:  ch.SourceTitle,
			ContentExcerpt: excerpt(ch.Content, s.excerptLength),
			Score:          r.Score,
		})
		contexts = append(contexts, ch.Content)
	}
	return sources, contexts, nil
}

func (s *RetrievalService) noInformation(span trace.Span) *models.QueryResponse {
	span.SetAttributes(attribute.Bool("retrieval.no_results", true))
	return &models.QueryResponse{Answer: NoInformationAnswer, Sources: []models.Source{}}
}

// excerpt truncates at a byte budget, backing up to a rune boundary so the
// cut never emits invalid UTF-8.
func excerpt(content string, limit int) string {
	if len(content) <= limit {
		return content
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + "…"
}
