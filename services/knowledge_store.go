package services

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"dashboard-knowledge-engine/models"
	"dashboard-knowledge-engine/utils"
)

// KnowledgeStore is the thin adapter over the persisted document/chunk
// collections. Documents and chunks are owned by the persistence layer; the
// retrieval core only ever rebuilds its index from what this interface
// reports.
type KnowledgeStore interface {
	InsertDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	ListDocuments(ctx context.Context) ([]models.Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status models.DocumentStatus) error
	DeleteDocument(ctx context.Context, id string) error

	InsertChunks(ctx context.Context, chunks []models.Chunk) error
	DeleteChunks(ctx context.Context, documentID string) error
	AllChunks(ctx context.Context) ([]models.Chunk, error)
	ChunksByID(ctx context.Context, ids []string) ([]models.Chunk, error)
	CountChunks(ctx context.Context) (int64, error)
}

// MongoKnowledgeStore persists documents and chunks in MongoDB. Chunk text
// is gzip-compressed at rest and decompressed transparently on read.
type MongoKnowledgeStore struct {
	documents *mongo.Collection
	chunks    *mongo.Collection
}

// storedChunk is the persisted chunk shape. Content is compressed when
// Compression is non-empty.
type storedChunk struct {
	ChunkID     string    `bson:"chunk_id"`
	DocumentID  string    `bson:"document_id"`
	Order       int       `bson:"order"`
	Content     []byte    `bson:"content"`
	Compression string    `bson:"compression,omitempty"`
	Embedding   []float32 `bson:"embedding,omitempty"`
	SourceTitle string    `bson:"source_title"`
	Tags        []string  `bson:"tags,omitempty"`
}

func NewMongoKnowledgeStore(db *mongo.Database) *MongoKnowledgeStore {
	return &MongoKnowledgeStore{
		documents: db.Collection("documents"),
		chunks:    db.Collection("chunks"),
	}
}

func (s *MongoKnowledgeStore) InsertDocument(ctx context.Context, doc *models.Document) error {
	_, err := s.documents.UpdateOne(ctx,
		bson.M{"_id": doc.ID},
		bson.M{"$set": doc},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upserting document %s: %w", doc.ID, err)
	}
	return nil
}

func (s *MongoKnowledgeStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	if err := s.documents.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *MongoKnowledgeStore) ListDocuments(ctx context.Context) ([]models.Document, error) {
	cursor, err := s.documents.Find(ctx, bson.M{},
		options.Find().SetSort(bson.M{"upload_date": -1}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	docs := make([]models.Document, 0)
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *MongoKnowledgeStore) UpdateDocumentStatus(ctx context.Context, id string, status models.DocumentStatus) error {
	_, err := s.documents.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"status": status}},
	)
	return err
}

func (s *MongoKnowledgeStore) DeleteDocument(ctx context.Context, id string) error {
	if err := s.DeleteChunks(ctx, id); err != nil {
		return err
	}
	if _, err := s.documents.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	return nil
}

// DeleteChunks removes every chunk belonging to a document.
func (s *MongoKnowledgeStore) DeleteChunks(ctx context.Context, documentID string) error {
	if _, err := s.chunks.DeleteMany(ctx, bson.M{"document_id": documentID}); err != nil {
		return fmt.Errorf("deleting chunks for document %s: %w", documentID, err)
	}
	return nil
}

// InsertChunks upserts by chunk_id so a re-ingested document overwrites its
// own chunks instead of duplicating them.
func (s *MongoKnowledgeStore) InsertChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	batch := make([]mongo.WriteModel, 0, len(chunks))
	for _, ch := range chunks {
		stored, err := encodeChunk(ch)
		if err != nil {
			return err
		}
		batch = append(batch, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"chunk_id": ch.ID}).
			SetUpdate(bson.M{"$set": stored}).
			SetUpsert(true))
	}
	_, err := s.chunks.BulkWrite(ctx, batch, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("writing %d chunks: %w", len(chunks), err)
	}
	return nil
}

func (s *MongoKnowledgeStore) AllChunks(ctx context.Context) ([]models.Chunk, error) {
	cursor, err := s.chunks.Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "document_id", Value: 1}, {Key: "order", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	return decodeChunkCursor(ctx, cursor)
}

func (s *MongoKnowledgeStore) ChunksByID(ctx context.Context, ids []string) ([]models.Chunk, error) {
	cursor, err := s.chunks.Find(ctx, bson.M{"chunk_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	return decodeChunkCursor(ctx, cursor)
}

func (s *MongoKnowledgeStore) CountChunks(ctx context.Context) (int64, error) {
	return s.chunks.CountDocuments(ctx, bson.M{})
}

func encodeChunk(ch models.Chunk) (*storedChunk, error) {
	content, compression, err := utils.CompressText(ch.Content)
	if err != nil {
		return nil, fmt.Errorf("compressing chunk %s: %w", ch.ID, err)
	}
	return &storedChunk{
		ChunkID:     ch.ID,
		DocumentID:  ch.DocumentID,
		Order:       ch.Order,
		Content:     content,
		Compression: string(compression),
		Embedding:   ch.Embedding,
		SourceTitle: ch.SourceTitle,
		Tags:        ch.Tags,
	}, nil
}

func decodeChunkCursor(ctx context.Context, cursor *mongo.Cursor) ([]models.Chunk, error) {
	chunks := make([]models.Chunk, 0)
	for cursor.Next(ctx) {
		var stored storedChunk
		if err := cursor.Decode(&stored); err != nil {
			return nil, err
		}
		content, err := utils.DecompressText(stored.Content, utils.CompressionAlgorithm(stored.Compression))
		if err != nil {
			return nil, fmt.Errorf("decompressing chunk %s: %w", stored.ChunkID, err)
		}
		chunks = append(chunks, models.Chunk{
			ID:          stored.ChunkID,
			DocumentID:  stored.DocumentID,
			Order:       stored.Order,
			Content:     content,
			Embedding:   stored.Embedding,
			SourceTitle: stored.SourceTitle,
			Tags:        stored.Tags,
		})
	}
	return chunks, cursor.Err()
}

// MemoryKnowledgeStore is an in-process store for tests and single-node
// development runs.
type MemoryKnowledgeStore struct {
	mu     sync.RWMutex
	docs   map[string]models.Document
	chunks map[string]models.Chunk
}

func NewMemoryKnowledgeStore() *MemoryKnowledgeStore {
	return &MemoryKnowledgeStore{
		docs:   make(map[string]models.Document),
		chunks: make(map[string]models.Chunk),
	}
}

func (s *MemoryKnowledgeStore) InsertDocument(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = *doc
	return nil
}

func (s *MemoryKnowledgeStore) GetDocument(_ context.Context, id string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, mongo.ErrNoDocuments
	}
	return &doc, nil
}

func (s *MemoryKnowledgeStore) ListDocuments(_ context.Context) ([]models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]models.Document, 0, len(s.docs))
	for _, doc := range s.docs {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(a, b int) bool { return docs[a].UploadDate.After(docs[b].UploadDate) })
	return docs, nil
}

func (s *MemoryKnowledgeStore) UpdateDocumentStatus(_ context.Context, id string, status models.DocumentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return mongo.ErrNoDocuments
	}
	doc.Status = status
	s.docs[id] = doc
	return nil
}

func (s *MemoryKnowledgeStore) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
	s.deleteChunksLocked(id)
	return nil
}

func (s *MemoryKnowledgeStore) DeleteChunks(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteChunksLocked(documentID)
	return nil
}

func (s *MemoryKnowledgeStore) deleteChunksLocked(documentID string) {
	for chunkID, ch := range s.chunks {
		if ch.DocumentID == documentID {
			delete(s.chunks, chunkID)
		}
	}
}

func (s *MemoryKnowledgeStore) InsertChunks(_ context.Context, chunks []models.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range chunks {
		s.chunks[ch.ID] = ch
	}
	return nil
}

func (s *MemoryKnowledgeStore) AllChunks(_ context.Context) ([]models.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chunks := make([]models.Chunk, 0, len(s.chunks))
	for _, ch := range s.chunks {
		chunks = append(chunks, ch)
	}
	sort.Slice(chunks, func(a, b int) bool {
		if chunks[a].DocumentID != chunks[b].DocumentID {
			return chunks[a].DocumentID < chunks[b].DocumentID
		}
		return chunks[a].Order < chunks[b].Order
	})
	return chunks, nil
}

func (s *MemoryKnowledgeStore) ChunksByID(_ context.Context, ids []string) ([]models.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chunks := make([]models.Chunk, 0, len(ids))
	for _, id := range ids {
		if ch, ok := s.chunks[id]; ok {
			chunks = append(chunks, ch)
		}
	}
	return chunks, nil
}

func (s *MemoryKnowledgeStore) CountChunks(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.chunks)), nil
}
