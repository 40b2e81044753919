package models

import "time"

// DocumentStatus tracks a document through the ingestion pipeline.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// Document is an ingested knowledge-base document. It is immutable after
// ingestion completes, except for deletion.
type Document struct {
	ID         string         `bson:"_id" json:"id"`
	Title      string         `bson:"title" json:"title"`
	Content    string         `bson:"content" json:"-"`
	Summary    string         `bson:"summary" json:"summary"`
	EntityTags []string       `bson:"entity_tags,omitempty" json:"entity_tags,omitempty"`
	Category   string         `bson:"category" json:"category"`
	UploadDate time.Time      `bson:"upload_date" json:"upload_date"`
	Status     DocumentStatus `bson:"status" json:"status"`
}

// DocumentMetadata is what the summarization collaborator extracts from a
// document during ingestion. All fields are best-effort.
type DocumentMetadata struct {
	Summary            string   `json:"summary"`
	Category           string   `json:"category"`
	EntityTags         []string `json:"entity_tags"`
	ExtractedRules     []string `json:"extracted_rules"`
	SuggestedQuestions []string `json:"suggested_questions"`
}

// IngestResult is returned to the caller once ingestion finishes.
// DegradedChunks counts chunks that were persisted with a zero embedding
// because the provider permanently failed on them.
type IngestResult struct {
	DocumentID         string   `json:"document_id"`
	ChunkCount         int      `json:"chunk_count"`
	DegradedChunks     int      `json:"degraded_chunks"`
	Summary            string   `json:"summary"`
	EntityTags         []string `json:"entity_tags"`
	ExtractedRules     []string `json:"extracted_rules"`
	SuggestedQuestions []string `json:"suggested_questions"`
}
