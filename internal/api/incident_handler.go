package api

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"correlator/internal/domain"
	"correlator/internal/store"
)

// Acknowledger changes the acknowledgement state of incidents.
type Acknowledger interface {
	Acknowledge(ctx context.Context, corrEventID int64, ack domain.AckState, username string) (*domain.CorrEvent, error)
}

// IncidentHandler handles HTTP requests for correlated events.
type IncidentHandler struct {
	corrEvents store.CorrEventRepository
	history    store.HistoryRepository
	acker      Acknowledger
	logger     *slog.Logger
}

// NewIncidentHandler creates a new incident handler.
func NewIncidentHandler(corrEvents store.CorrEventRepository, history store.HistoryRepository, acker Acknowledger, logger *slog.Logger) *IncidentHandler {
	return &IncidentHandler{
		corrEvents: corrEvents,
		history:    history,
		acker:      acker,
		logger:     logger,
	}
}

// IncidentResponse is an incident with its raw event members.
type IncidentResponse struct {
	*domain.CorrEvent
	Members []int64           `json:"members"`
	History []*domain.History `json:"history"`
}

// AckRequest is the body of an acknowledgement change.
type AckRequest struct {
	Ack      string `json:"ack"`
	Username string `json:"username"`
}

// List handles GET /v1/incidents
// Supports query parameters: ack, limit, offset
func (h *IncidentHandler) List(c *fiber.Ctx) error {
	filter := domain.CorrEventFilter{
		Limit:  c.QueryInt("limit", 100),
		Offset: c.QueryInt("offset", 0),
	}
	if ack := c.Query("ack"); ack != "" {
		state, err := domain.ParseAckState(ack)
		if err != nil {
			return BadRequest(c, "invalid ack state")
		}
		filter.Ack = state
	}
	if filter.Limit > 1000 {
		filter.Limit = 1000
	}

	incidents, err := h.corrEvents.List(c.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list incidents", "error", err)
		return InternalError(c, "failed to list incidents")
	}
	return Success(c, incidents)
}

// GetByID handles GET /v1/incidents/:id
// Returns the incident, its members and the history of its cause.
func (h *IncidentHandler) GetByID(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return BadRequest(c, "invalid incident id")
	}

	ce, err := h.corrEvents.GetByID(c.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrCorrEventNotFound) {
			return IncidentNotFound(c)
		}
		h.logger.Error("failed to get incident", "error", err, "corrEventID", id)
		return InternalError(c, "failed to get incident")
	}

	members, err := h.corrEvents.Members(c.Context(), id)
	if err != nil {
		h.logger.Error("failed to list incident members", "error", err, "corrEventID", id)
		return InternalError(c, "failed to get incident")
	}
	history, err := h.history.ListForEvent(c.Context(), ce.CauseID)
	if err != nil {
		h.logger.Error("failed to list incident history", "error", err, "corrEventID", id)
		return InternalError(c, "failed to get incident")
	}

	return Success(c, IncidentResponse{CorrEvent: ce, Members: members, History: history})
}

// Acknowledge handles POST /v1/incidents/:id/ack
func (h *IncidentHandler) Acknowledge(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return BadRequest(c, "invalid incident id")
	}

	var req AckRequest
	if err := c.BodyParser(&req); err != nil {
		return BadRequest(c, "invalid request body")
	}
	ack, err := domain.ParseAckState(req.Ack)
	if err != nil {
		return ValidationError(c, err.Error())
	}

	ce, err := h.acker.Acknowledge(c.Context(), id, ack, req.Username)
	switch {
	case errors.Is(err, domain.ErrCorrEventNotFound):
		return IncidentNotFound(c)
	case errors.Is(err, domain.ErrInvalidAckTransition):
		return AckConflict(c, err.Error())
	case err != nil:
		h.logger.Error("failed to acknowledge incident", "error", err, "corrEventID", id)
		return InternalError(c, "failed to acknowledge incident")
	}
	return Success(c, ce)
}

func parseID(c *fiber.Ctx) (int64, error) {
	return strconv.ParseInt(c.Params("id"), 10, 64)
}
