package api

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"correlator/internal/domain"
	"correlator/internal/ingest"
)

// IngestHandler handles HTTP requests for message ingestion.
type IngestHandler struct {
	service *ingest.Service
	logger  *slog.Logger
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(service *ingest.Service, logger *slog.Logger) *IngestHandler {
	return &IngestHandler{
		service: service,
		logger:  logger,
	}
}

// Ingest handles POST /v1/events
// Receives a monitoring message and publishes it to the input queue.
// Returns 202 Accepted immediately - correlation happens asynchronously.
func (h *IngestHandler) Ingest(c *fiber.Ctx) error {
	var msg domain.Message
	if err := c.BodyParser(&msg); err != nil {
		h.logger.Debug("failed to parse message body", "error", err)
		return BadRequest(c, "invalid request body")
	}

	if err := h.service.Ingest(c.Context(), &msg); err != nil {
		if errors.Is(err, ingest.ErrInvalidMessage) {
			return ValidationError(c, err.Error())
		}
		h.logger.Error("failed to ingest message", "error", err, "host", msg.Host)
		return InternalError(c, "failed to ingest message")
	}

	return Accepted(c, map[string]string{
		"status": "accepted",
		"item":   domain.ItemName(msg.Host, msg.Service),
	})
}
