package models

import "fmt"

// Chunk is a bounded-length segment of a document together with its
// embedding vector. Chunk IDs are deterministic so re-ingesting a document
// upserts rather than duplicates.
type Chunk struct {
	ID          string    `bson:"chunk_id" json:"chunk_id"`
	DocumentID  string    `bson:"document_id" json:"document_id"`
	Order       int       `bson:"order" json:"order"`
	Content     string    `bson:"content" json:"content"`
	Embedding   []float32 `bson:"embedding,omitempty" json:"-"`
	SourceTitle string    `bson:"source_title" json:"source_title"`
	Tags        []string  `bson:"tags,omitempty" json:"tags,omitempty"`
}

// ChunkID derives the deterministic chunk id for a document ordinal.
func ChunkID(documentID string, ordinal int) string {
	return fmt.Sprintf("%s_%d", documentID, ordinal)
}
