package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"dashboard-knowledge-engine/models"
)

type retrievalFixture struct {
	ingestion *IngestionService
	retrieval *RetrievalService
	store     *MemoryKnowledgeStore
	generator *fakeGenerator
	worker    *SearchWorker
}

func newRetrievalFixture(t *testing.T, embedder Embedder) *retrievalFixture {
	t.Helper()
	store := NewMemoryKnowledgeStore()
	index := NewVectorIndex(store, 2)
	worker := NewSearchWorker(0.7, 0.3, 0.35)
	t.Cleanup(worker.Stop)

	generator := &fakeGenerator{answer: "The refund window is 30 days [1]."}
	ingestion := NewIngestionService(store, NewChunker(800, 100), embedder, &fakeMetadata{}, index, 50, 50)
	retrieval := NewRetrievalService(store, index, worker, NewMemoryAnswerCache(time.Hour),
		embedder, generator, 5, 240)

	return &retrievalFixture{
		ingestion: ingestion,
		retrieval: retrieval,
		store:     store,
		generator: generator,
		worker:    worker,
	}
}

func TestAnswerEmptyQuery(t *testing.T) {
	f := newRetrievalFixture(t, &fakeEmbedder{dim: 2})
	_, err := f.retrieval.Answer(context.Background(), "   ", 5)
	var validationErr *models.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError for blank query, got %v", err)
	}
}

func TestAnswerEmptyKnowledgeBase(t *testing.T) {
	f := newRetrievalFixture(t, &fakeEmbedder{dim: 2, vectors: map[string][]float32{
		"anything at all": {1, 0},
	}})
	resp, err := f.retrieval.Answer(context.Background(), "anything at all", 5)
	if err != nil {
		t.Fatalf("answer error: %v", err)
	}
	if resp.Answer != NoInformationAnswer {
		t.Fatalf("expected no-information answer, got %q", resp.Answer)
	}
	if len(resp.Sources) != 0 {
		t.Fatalf("expected no sources, got %v", resp.Sources)
	}
	if f.generator.calls.Load() != 0 {
		t.Fatalf("generator must not run without retrieved context")
	}
}

func TestAnswerRetrievesMatchingChunk(t *testing.T) {
	refundText := strings.TrimSpace(strings.Repeat("Customers may request a refund within thirty days of purchase. ", 2))
	shippingText := strings.TrimSpace(strings.Repeat("Standard shipping takes five business days within the country. ", 2))

	embedder := &fakeEmbedder{dim: 2, vectors: map[string][]float32{
		refundText:                   {1, 0},
		shippingText:                 {0, 1},
		"what is the refund window?": {1, 0},
	}}
	f := newRetrievalFixture(t, embedder)

	ctx := context.Background()
	if _, err := f.ingestion.IngestDocument(ctx, "refunds", "Refund Policy", refundText, nil); err != nil {
		t.Fatalf("ingest error: %v", err)
	}
	if _, err := f.ingestion.IngestDocument(ctx, "shipping", "Shipping Policy", shippingText, nil); err != nil {
		t.Fatalf("ingest error: %v", err)
	}

	resp, err := f.retrieval.Answer(ctx, "what is the refund window?", 5)
	if err != nil {
		t.Fatalf("answer error: %v", err)
	}
	if resp.Cached {
		t.Fatalf("first answer must not be cached")
	}
	if len(resp.Sources) == 0 {
		t.Fatalf("expected at least one source")
	}
	if resp.Sources[0].DocumentTitle != "Refund Policy" {
		t.Fatalf("expected refund chunk ranked first, got %+v", resp.Sources[0])
	}
	if !strings.Contains(resp.Sources[0].ContentExcerpt, "refund") {
		t.Fatalf("excerpt should come from the matched chunk: %q", resp.Sources[0].ContentExcerpt)
	}
}

func TestAnswerSecondQueryServedFromCache(t *testing.T) {
	text := strings.TrimSpace(strings.Repeat("Customers may request a refund within thirty days of purchase. ", 2))
	embedder := &fakeEmbedder{dim: 2, vectors: map[string][]float32{
		text:               {1, 0},
		"refund question?": {1, 0},
	}}
	f := newRetrievalFixture(t, embedder)

	ctx := context.Background()
	if _, err := f.ingestion.IngestDocument(ctx, "refunds", "Refund Policy", text, nil); err != nil {
		t.Fatalf("ingest error: %v", err)
	}

	first, err := f.retrieval.Answer(ctx, "refund question?", 5)
	if err != nil {
		t.Fatalf("answer error: %v", err)
	}
	second, err := f.retrieval.Answer(ctx, "refund question?", 5)
	if err != nil {
		t.Fatalf("answer error: %v", err)
	}

	if !second.Cached {
		t.Fatalf("second identical query must be served from cache")
	}
	if second.Answer != first.Answer {
		t.Fatalf("cached answer differs: %q vs %q", second.Answer, first.Answer)
	}
	if len(second.Sources) != len(first.Sources) {
		t.Fatalf("cached sources differ: %d vs %d", len(second.Sources), len(first.Sources))
	}
	if f.generator.calls.Load() != 1 {
		t.Fatalf("generator should run exactly once, ran %d times", f.generator.calls.Load())
	}
}

func TestAnswerAfterDocumentDeleted(t *testing.T) {
	text := strings.TrimSpace(strings.Repeat("Customers may request a refund within thirty days of purchase. ", 2))
	embedder := &fakeEmbedder{dim: 2, vectors: map[string][]float32{
		text:               {1, 0},
		"refund question?": {1, 0},
	}}
	f := newRetrievalFixture(t, embedder)

	ctx := context.Background()
	if _, err := f.ingestion.IngestDocument(ctx, "refunds", "Refund Policy", text, nil); err != nil {
		t.Fatalf("ingest error: %v", err)
	}
	if err := f.ingestion.DeleteDocument(ctx, "refunds"); err != nil {
		t.Fatalf("delete error: %v", err)
	}

	resp, err := f.retrieval.Answer(ctx, "refund question?", 5)
	if err != nil {
		t.Fatalf("answer error: %v", err)
	}
	if resp.Answer != NoInformationAnswer {
		t.Fatalf("deleted content must not be cited, got %q", resp.Answer)
	}
}

func TestExcerptKeepsRuneBoundaries(t *testing.T) {
	ascii := strings.Repeat("a", 300)
	if got := excerpt(ascii, 240); got != ascii[:240]+"…" {
		t.Fatalf("unexpected ascii excerpt: %q", got)
	}

	multibyte := strings.Repeat("é", 200) // 2 bytes per rune
	got := excerpt(multibyte, 25)         // 25 lands mid-rune
	if !utf8.ValidString(got) {
		t.Fatalf("excerpt emitted invalid UTF-8: %q", got)
	}
	if !strings.HasSuffix(got, "…") {
		t.Fatalf("truncated excerpt missing ellipsis: %q", got)
	}
	if len(got) > 25+len("…") {
		t.Fatalf("excerpt over budget: %d bytes", len(got))
	}

	if got := excerpt("short", 240); got != "short" {
		t.Fatalf("short content must pass through, got %q", got)
	}
}

func TestAnswerGeneratorFailurePropagates(t *testing.T) {
	text := strings.TrimSpace(strings.Repeat("Customers may request a refund within thirty days of purchase. ", 2))
	embedder := &fakeEmbedder{dim: 2, vectors: map[string][]float32{
		text:               {1, 0},
		"refund question?": {1, 0},
	}}
	f := newRetrievalFixture(t, embedder)
	f.generator.err = &models.ProviderError{Provider: "generation", Transient: true, Err: errors.New("rate limited")}

	ctx := context.Background()
	if _, err := f.ingestion.IngestDocument(ctx, "refunds", "Refund Policy", text, nil); err != nil {
		t.Fatalf("ingest error: %v", err)
	}

	_, err := f.retrieval.Answer(ctx, "refund question?", 5)
	var providerErr *models.ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}

	// A failed generation must not be cached.
	f.generator.err = nil
	resp, err := f.retrieval.Answer(ctx, "refund question?", 5)
	if err != nil {
		t.Fatalf("answer error: %v", err)
	}
	if resp.Cached {
		t.Fatalf("failed generation must not populate the cache")
	}
}
