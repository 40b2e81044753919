package routes

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.mongodb.org/mongo-driver/mongo"

	"dashboard-knowledge-engine/internal/logger"
	"dashboard-knowledge-engine/internal/queue"
	"dashboard-knowledge-engine/middleware"
	"dashboard-knowledge-engine/models"
	"dashboard-knowledge-engine/services"
	"dashboard-knowledge-engine/utils"
)

type IngestRequest struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title" binding:"required"`
	Text       string `json:"text" binding:"required"`
}

type QueryRequest struct {
	Query string `json:"query" binding:"required"`
	TopK  int    `json:"top_k"`
}

// SetupKnowledgeRoutes wires the retrieval core onto the router. The asynq
// client may be nil, in which case the async endpoint reports unavailable.
func SetupKnowledgeRoutes(router *gin.Engine, ingestion *services.IngestionService, retrieval *services.RetrievalService, store services.KnowledgeStore, queueClient *asynq.Client) {
	knowledge := router.Group("/knowledge")

	knowledge.POST("/documents", func(c *gin.Context) {
		var req IngestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request data", gin.H{"error": err.Error()})
			return
		}

		result, err := ingestion.IngestDocument(c.Request.Context(), req.DocumentID, req.Title, req.Text, func(stage services.IngestStage) {
			logger.Debug("ingest stage", "request_id", middleware.GetRequestID(c), "stage", string(stage))
		})
		if err != nil {
			respondWithDomainError(c, err)
			return
		}

		c.JSON(http.StatusCreated, result)
	})

	knowledge.POST("/documents/async", func(c *gin.Context) {
		var req IngestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request data", gin.H{"error": err.Error()})
			return
		}
		if queueClient == nil {
			utils.RespondWithError(c, http.StatusServiceUnavailable, "queue_unavailable",
				"Background ingestion is not configured", nil)
			return
		}

		docID := req.DocumentID
		if docID == "" {
			docID = uuid.NewString()
		}
		task, err := queue.NewIngestTask(docID, req.Title, req.Text)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to build ingest task", nil)
			return
		}
		info, err := queueClient.EnqueueContext(c.Request.Context(), task)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to enqueue ingest task", gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"document_id": docID,
			"task_id":     info.ID,
			"queue":       info.Queue,
		})
	})

	knowledge.POST("/query", func(c *gin.Context) {
		var req QueryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request data", gin.H{"error": err.Error()})
			return
		}

		resp, err := retrieval.Answer(c.Request.Context(), req.Query, req.TopK)
		if err != nil {
			respondWithDomainError(c, err)
			return
		}

		c.JSON(http.StatusOK, resp)
	})

	knowledge.GET("/documents", func(c *gin.Context) {
		docs, err := store.ListDocuments(c.Request.Context())
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to list documents", nil)
			return
		}
		c.JSON(http.StatusOK, gin.H{"documents": docs, "total": len(docs)})
	})

	knowledge.DELETE("/documents/:id", func(c *gin.Context) {
		id := c.Param("id")
		if _, err := store.GetDocument(c.Request.Context(), id); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				utils.RespondWithNotFound(c, "Document not found")
				return
			}
			utils.RespondWithInternalError(c, "Failed to load document", nil)
			return
		}
		if err := ingestion.DeleteDocument(c.Request.Context(), id); err != nil {
			respondWithDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": id})
	})
}

// respondWithDomainError maps the retrieval core's error taxonomy onto
// HTTP statuses.
func respondWithDomainError(c *gin.Context, err error) {
	var validationErr *models.ValidationError
	var capacityErr *models.CapacityError
	var providerErr *models.ProviderError
	var persistenceErr *models.PersistenceError

	switch {
	case errors.As(err, &validationErr):
		utils.RespondWithError(c, http.StatusBadRequest, "validation_failed", validationErr.Reason, nil)
	case errors.As(err, &capacityErr):
		utils.RespondWithError(c, http.StatusRequestEntityTooLarge, "capacity_exceeded", capacityErr.Error(), nil)
	case errors.As(err, &providerErr):
		utils.RespondWithError(c, http.StatusBadGateway, "provider_error", providerErr.Error(),
			gin.H{"transient": providerErr.Transient})
	case errors.As(err, &persistenceErr):
		utils.RespondWithInternalError(c, persistenceErr.Error(), nil)
	default:
		utils.RespondWithInternalError(c, "Unexpected error", gin.H{"error": err.Error()})
	}
}
