package handlers

import (
	"errors"
	"io"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/cjLee-cmd/test-PatAI/internal/extract"
	"github.com/cjLee-cmd/test-PatAI/internal/ingestion"
	"github.com/cjLee-cmd/test-PatAI/internal/storage/models"
	"github.com/cjLee-cmd/test-PatAI/pkg/logger"
)

type DocumentHandler struct {
	service *ingestion.Service
}

func NewDocumentHandler(service *ingestion.Service) *DocumentHandler {
	return &DocumentHandler{
		service: service,
	}
}

// UploadDocument accepts a multipart upload and enqueues ingestion.
// A byte-identical re-upload returns the existing document with 409.
func (h *DocumentHandler) UploadDocument(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "file is required",
		})
	}

	file, err := fileHeader.Open()
	if err != nil {
		logger.Error("Failed to open upload", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "unreadable upload",
		})
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		logger.Error("Failed to read upload", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "unreadable upload",
		})
	}

	contentType := fileHeader.Header.Get("Content-Type")
	doc, job, err := h.service.Ingest(fileHeader.Filename, contentType, data)
	switch {
	case errors.Is(err, ingestion.ErrDuplicateDocument):
		resp := fiber.Map{"error": "document already exists"}
		if doc != nil {
			resp["document_id"] = doc.ID
			resp["status"] = doc.Status
		}
		return c.Status(fiber.StatusConflict).JSON(resp)
	case errors.Is(err, ingestion.ErrFileTooLarge):
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
			"error": "file exceeds size limit",
		})
	case errors.Is(err, extract.ErrInvalidDocument):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	case err != nil:
		logger.Error("Failed to ingest document", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to ingest document",
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"document_id": doc.ID,
		"job_id":      job.ID,
		"status":      doc.Status,
	})
}

func (h *DocumentHandler) GetDocument(c *fiber.Ctx) error {
	doc, err := h.service.GetDocument(c.Params("id"))
	if errors.Is(err, ingestion.ErrDocumentNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "document not found",
		})
	}
	if err != nil {
		logger.Error("Failed to get document", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to get document",
		})
	}
	return c.JSON(documentJSON(doc))
}

func (h *DocumentHandler) ListDocuments(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	docs, err := h.service.ListDocuments(limit, offset)
	if err != nil {
		logger.Error("Failed to list documents", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list documents",
		})
	}

	items := make([]fiber.Map, 0, len(docs))
	for i := range docs {
		items = append(items, documentJSON(&docs[i]))
	}
	return c.JSON(fiber.Map{
		"documents": items,
		"count":     len(items),
	})
}

// DeleteDocument is idempotent: deleting an absent document succeeds.
func (h *DocumentHandler) DeleteDocument(c *fiber.Ctx) error {
	if err := h.service.Delete(c.Context(), c.Params("id")); err != nil {
		logger.Error("Failed to delete document", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to delete document",
		})
	}
	return c.JSON(fiber.Map{
		"message": "document deleted",
	})
}

func (h *DocumentHandler) ReIndexDocument(c *fiber.Ctx) error {
	job, err := h.service.ReIndex(c.Params("id"))
	switch {
	case errors.Is(err, ingestion.ErrDocumentNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "document not found",
		})
	case errors.Is(err, ingestion.ErrJobActive):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "document has an active ingestion job",
		})
	case err != nil:
		logger.Error("Failed to re-index document", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to re-index document",
		})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"job_id": job.ID,
		"status": job.Status,
	})
}

func (h *DocumentHandler) GetJob(c *fiber.Ctx) error {
	job, err := h.service.JobStatus(c.Params("id"))
	if errors.Is(err, ingestion.ErrJobNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "job not found",
		})
	}
	if err != nil {
		logger.Error("Failed to get job", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to get job",
		})
	}
	return c.JSON(jobJSON(job))
}

func (h *DocumentHandler) CancelJob(c *fiber.Ctx) error {
	job, err := h.service.CancelJob(c.Params("id"))
	if errors.Is(err, ingestion.ErrJobNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "job not found",
		})
	}
	if err != nil {
		logger.Error("Failed to cancel job", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to cancel job",
		})
	}
	return c.JSON(jobJSON(job))
}

func documentJSON(doc *models.Document) fiber.Map {
	return fiber.Map{
		"id":                doc.ID,
		"original_filename": doc.OriginalFilename,
		"content_hash":      doc.ContentHash,
		"file_size":         doc.FileSize,
		"mime_type":         doc.MimeType,
		"status":            doc.Status,
		"version":           doc.Version,
		"chunk_count":       doc.ChunkCount,
		"error_detail":      doc.ErrorDetail,
		"created_at":        doc.CreatedAt.Unix(),
		"updated_at":        doc.UpdatedAt.Unix(),
	}
}

func jobJSON(job *models.IngestionJob) fiber.Map {
	m := fiber.Map{
		"id":           job.ID,
		"document_id":  job.DocumentID,
		"phase":        job.Phase,
		"status":       job.Status,
		"attempts":     job.Attempts,
		"error_detail": job.ErrorDetail,
		"reason":       job.Reason,
		"created_at":   job.CreatedAt.Unix(),
	}
	if job.StartedAt != nil {
		m["started_at"] = job.StartedAt.Unix()
	}
	if job.FinishedAt != nil {
		m["finished_at"] = job.FinishedAt.Unix()
	}
	return m
}
