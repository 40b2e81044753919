package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"dashboard-knowledge-engine/internal/logger"
	"dashboard-knowledge-engine/models"
)

// IngestStage identifies a stage of the ingestion pipeline. The progress
// callback fires on every transition.
type IngestStage string

const (
	StageValidating         IngestStage = "validating"
	StageChunking           IngestStage = "chunking"
	StageMetadataExtracting IngestStage = "metadata_extracting"
	StageEmbedding          IngestStage = "embedding"
	StagePersisting         IngestStage = "persisting"
	StageIndexInvalidated   IngestStage = "index_invalidated"
	StageDone               IngestStage = "done"
	StageFailed             IngestStage = "failed"
)

// StageCallback receives ingestion stage transitions.
type StageCallback func(stage IngestStage)

// EmbedProgress receives (processed, total) after each embedding batch. An
// alias so implementations can declare the plain func type.
type EmbedProgress = func(processed, total int)

// Embedder turns text into fixed-dimension vectors via an external
// provider. EmbedDocuments returns one vector per input in input order plus
// the indices of inputs that permanently failed and were degraded to zero
// vectors.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string, progress EmbedProgress) ([][]float32, []int, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// MetadataExtractor is the external summarization collaborator. Failures
// are non-fatal to ingestion; the orchestrator substitutes a placeholder.
type MetadataExtractor interface {
	ExtractMetadata(ctx context.Context, title, text string) (*models.DocumentMetadata, error)
}

// IngestionService sequences chunking, metadata extraction, embedding,
// persistence and index invalidation for a document.
type IngestionService struct {
	store    KnowledgeStore
	chunker  *Chunker
	embedder Embedder
	metadata MetadataExtractor
	index    *VectorIndex

	minDocumentLength int
	persistBatchSize  int
}

func NewIngestionService(store KnowledgeStore, chunker *Chunker, embedder Embedder, metadata MetadataExtractor, index *VectorIndex, minDocumentLength, persistBatchSize int) *IngestionService {
	if minDocumentLength <= 0 {
		minDocumentLength = 50
	}
	if persistBatchSize <= 0 {
		persistBatchSize = 50
	}
	return &IngestionService{
		store:             store,
		chunker:           chunker,
		embedder:          embedder,
		metadata:          metadata,
		index:             index,
		minDocumentLength: minDocumentLength,
		persistBatchSize:  persistBatchSize,
	}
}

// IngestDocument runs the full pipeline. A persistence failure is fatal and
// leaves earlier successfully written batches in place; embedding
// degradation and metadata failure are not fatal. docID may be empty, in
// which case one is generated.
func (s *IngestionService) IngestDocument(ctx context.Context, docID, title, text string, onStage StageCallback) (*models.IngestResult, error) {
	stage := func(st IngestStage) {
		if onStage != nil {
			onStage(st)
		}
	}

	stage(StageValidating)
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < s.minDocumentLength {
		stage(StageFailed)
		return nil, &models.ValidationError{Reason: "document text is too short to ingest"}
	}
	if docID == "" {
		docID = uuid.NewString()
	}

	stage(StageChunking)
	segments := s.chunker.Split(trimmed)

	stage(StageMetadataExtracting)
	meta, err := s.metadata.ExtractMetadata(ctx, title, trimmed)
	if err != nil {
		logger.Warn("metadata extraction failed, using placeholder", "document_id", docID, "error", err)
		meta = placeholderMetadata(trimmed)
	}

	stage(StageEmbedding)
	vectors, degraded, err := s.embedder.EmbedDocuments(ctx, segments, nil)
	if err != nil {
		stage(StageFailed)
		return nil, err
	}
	if len(degraded) > 0 {
		logger.Warn("ingestion degraded: some chunks carry zero embeddings",
			"document_id", docID, "degraded", len(degraded), "total", len(segments))
	}

	stage(StagePersisting)
	doc := &models.Document{
		ID:         docID,
		Title:      title,
		Content:    trimmed,
		Summary:    meta.Summary,
		EntityTags: meta.EntityTags,
		Category:   meta.Category,
		UploadDate: time.Now(),
		Status:     models.StatusProcessing,
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		stage(StageFailed)
		return nil, &models.PersistenceError{Op: "document write", Err: err}
	}

	// Clear chunks from any previous ingestion of this document ID. A
	// shorter re-ingest would otherwise leave stale high-ordinal chunks
	// behind, still searchable.
	if err := s.store.DeleteChunks(ctx, docID); err != nil {
		s.failDocument(docID)
		stage(StageFailed)
		return nil, &models.PersistenceError{Op: "chunk cleanup", Err: err}
	}

	chunks := make([]models.Chunk, len(segments))
	for i, segment := range segments {
		chunks[i] = models.Chunk{
			ID:          models.ChunkID(docID, i),
			DocumentID:  docID,
			Order:       i,
			Content:     segment,
			Embedding:   vectors[i],
			SourceTitle: title,
			Tags:        meta.EntityTags,
		}
	}

	// Bounded batches, with a cancellation check between each so a long
	// ingest yields to the caller's deadline. A failed batch aborts the
	// rest but earlier batches stay persisted.
	for start := 0; start < len(chunks); start += s.persistBatchSize {
		if err := ctx.Err(); err != nil {
			s.failDocument(docID)
			stage(StageFailed)
			return nil, &models.PersistenceError{Op: "chunk write", Err: err}
		}
		end := start + s.persistBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		if err := s.store.InsertChunks(ctx, chunks[start:end]); err != nil {
			s.failDocument(docID)
			stage(StageFailed)
			return nil, &models.PersistenceError{Op: "chunk write", Err: err}
		}
	}

	stage(StageIndexInvalidated)
	s.index.Invalidate()

	if err := s.store.UpdateDocumentStatus(ctx, docID, models.StatusCompleted); err != nil {
		logger.Warn("failed to mark document completed", "document_id", docID, "error", err)
	}

	stage(StageDone)
	logger.Info("document ingested", "document_id", docID, "chunks", len(chunks), "degraded", len(degraded))

	return &models.IngestResult{
		DocumentID:         docID,
		ChunkCount:         len(chunks),
		DegradedChunks:     len(degraded),
		Summary:            meta.Summary,
		EntityTags:         meta.EntityTags,
		ExtractedRules:     meta.ExtractedRules,
		SuggestedQuestions: meta.SuggestedQuestions,
	}, nil
}

// DeleteDocument removes a document with its chunks and invalidates the
// index so the next search rebuilds.
func (s *IngestionService) DeleteDocument(ctx context.Context, docID string) error {
	if err := s.store.DeleteDocument(ctx, docID); err != nil {
		return &models.PersistenceError{Op: "document delete", Err: err}
	}
	s.index.Invalidate()
	return nil
}

// failDocument marks a partially ingested document. Best effort: the
// original persistence error is what surfaces.
func (s *IngestionService) failDocument(docID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.UpdateDocumentStatus(ctx, docID, models.StatusFailed); err != nil {
		logger.Warn("failed to mark document failed", "document_id", docID, "error", err)
	}
}

func placeholderMetadata(text string) *models.DocumentMetadata {
	excerpt := text
	if len(excerpt) > 200 {
		excerpt = excerpt[:200]
	}
	return &models.DocumentMetadata{
		Summary:            excerpt,
		Category:           "general",
		EntityTags:         []string{},
		ExtractedRules:     []string{},
		SuggestedQuestions: []string{},
	}
}
