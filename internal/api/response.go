// Package api provides HTTP handlers and routing for the correlator REST API.
package api

import (
	"github.com/gofiber/fiber/v2"
)

// APIResponse is the envelope of every API response.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

// APIError describes a failed request.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest       = "BAD_REQUEST"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	// ErrCodeAckTransition rejects an acknowledgement the lifecycle forbids.
	ErrCodeAckTransition = "INVALID_ACK_TRANSITION"
	// ErrCodeRuleConfig rejects a rule reload (cycle, missing or unknown rule).
	ErrCodeRuleConfig = "INVALID_RULE_CONFIG"
)

// Success sends data with 200 OK.
func Success(c *fiber.Ctx, data interface{}) error {
	return c.JSON(APIResponse{
		Success: true,
		Data:    data,
	})
}

// Accepted sends 202: the message is queued and correlation happens later.
func Accepted(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusAccepted).JSON(APIResponse{
		Success: true,
		Data:    data,
	})
}

// Error sends an error envelope with the given status code.
func Error(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
		},
	})
}

// BadRequest sends 400 for malformed input.
func BadRequest(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadRequest, ErrCodeBadRequest, message)
}

// ValidationError sends 400 for well-formed input that fails validation.
func ValidationError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadRequest, ErrCodeValidationFailed, message)
}

// IncidentNotFound sends 404 for an unknown correlated event.
func IncidentNotFound(c *fiber.Ctx) error {
	return Error(c, fiber.StatusNotFound, ErrCodeNotFound, "incident not found")
}

// AckConflict sends 409 when the incident cannot move to the requested
// acknowledgement state.
func AckConflict(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusConflict, ErrCodeAckTransition, message)
}

// RuleConfigError sends 400 when the configured rule set cannot be loaded.
func RuleConfigError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadRequest, ErrCodeRuleConfig, message)
}

// InternalError sends 500.
func InternalError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, ErrCodeInternalError, message)
}
