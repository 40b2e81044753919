package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"dashboard-knowledge-engine/internal/logger"
	"dashboard-knowledge-engine/models"
	"dashboard-knowledge-engine/services"
)

const TaskIngestDocument = "knowledge:ingest"

type IngestPayload struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	Text       string `json:"text"`
}

// NewIngestTask enqueues a document for background ingestion.
func NewIngestTask(documentID, title, text string) (*asynq.Task, error) {
	payload, err := json.Marshal(IngestPayload{
		DocumentID: documentID,
		Title:      title,
		Text:       text,
	})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskIngestDocument,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Queue("ingest"),
	), nil
}

// TaskProcessor runs queued ingestion through the same orchestrator the
// synchronous endpoint uses.
type TaskProcessor struct {
	ingestion *services.IngestionService
}

func NewTaskProcessor(ingestion *services.IngestionService) *TaskProcessor {
	return &TaskProcessor{ingestion: ingestion}
}

func (p *TaskProcessor) HandleIngest(ctx context.Context, t *asynq.Task) error {
	var payload IngestPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	result, err := p.ingestion.IngestDocument(ctx, payload.DocumentID, payload.Title, payload.Text, func(stage services.IngestStage) {
		logger.Debug("ingest stage", "document_id", payload.DocumentID, "stage", string(stage))
	})
	if err != nil {
		var validationErr *models.ValidationError
		var capacityErr *models.CapacityError
		if errors.As(err, &validationErr) || errors.As(err, &capacityErr) {
			// Retrying won't fix the input.
			logger.Warn("ingest task rejected", "document_id", payload.DocumentID, "error", err)
			return asynq.SkipRetry
		}
		return err // Will retry
	}

	logger.Info("ingest task completed",
		"document_id", result.DocumentID,
		"chunks", result.ChunkCount,
		"degraded", result.DegradedChunks)
	return nil
}
