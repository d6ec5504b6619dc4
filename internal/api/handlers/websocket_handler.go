package handlers

import (
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/cjLee-cmd/test-PatAI/internal/ingestion"
	"github.com/cjLee-cmd/test-PatAI/internal/storage/models"
	"github.com/cjLee-cmd/test-PatAI/pkg/logger"
)

// WebSocketHandler streams ingestion job progress. A client sends
// {"type": "watch", "job_id": "..."} and receives a status event per
// phase transition until the job reaches a terminal state.
type WebSocketHandler struct {
	service      *ingestion.Service
	pollInterval time.Duration
}

func NewWebSocketHandler(service *ingestion.Service) *WebSocketHandler {
	return &WebSocketHandler{
		service:      service,
		pollInterval: 500 * time.Millisecond,
	}
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg struct {
			Type  string `json:"type"`
			JobID string `json:"job_id"`
		}

		if err := c.ReadJSON(&msg); err != nil {
			break
		}

		if msg.Type != "watch" || msg.JobID == "" {
			h.sendError(c, "expected {\"type\": \"watch\", \"job_id\": ...}")
			continue
		}

		if err := h.streamJob(c, msg.JobID); err != nil {
			logger.Error("Failed to stream job progress", zap.Error(err))
			return
		}
	}
}

func (h *WebSocketHandler) streamJob(c *websocket.Conn, jobID string) error {
	var lastPhase models.JobPhase
	var lastStatus models.JobStatus
	var lastAttempts int

	for {
		job, err := h.service.JobStatus(jobID)
		if err != nil {
			h.sendError(c, "job not found")
			return nil
		}

		if job.Phase != lastPhase || job.Status != lastStatus || job.Attempts != lastAttempts {
			lastPhase, lastStatus, lastAttempts = job.Phase, job.Status, job.Attempts

			if err := c.WriteJSON(map[string]interface{}{
				"type":        "progress",
				"job_id":      job.ID,
				"document_id": job.DocumentID,
				"phase":       job.Phase,
				"status":      job.Status,
				"attempts":    job.Attempts,
			}); err != nil {
				return err
			}
		}

		if job.Status == models.JobSucceeded || job.Status == models.JobFailed {
			return c.WriteJSON(map[string]interface{}{
				"type":         "complete",
				"job_id":       job.ID,
				"status":       job.Status,
				"error_detail": job.ErrorDetail,
				"reason":       job.Reason,
			})
		}

		time.Sleep(h.pollInterval)
	}
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	c.WriteJSON(map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	})
}
