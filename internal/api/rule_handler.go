package api

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"
)

// StatsSource reports rule execution statistics.
type StatsSource interface {
	GetStats() map[string]float64
}

// ReloadFunc rebuilds the rule set and returns the loaded rule names.
type ReloadFunc func(ctx context.Context) ([]string, error)

// RuleHandler handles HTTP requests about correlation rules.
type RuleHandler struct {
	stats  StatsSource
	reload ReloadFunc
	logger *slog.Logger
}

// NewRuleHandler creates a new rule handler.
func NewRuleHandler(stats StatsSource, reload ReloadFunc, logger *slog.Logger) *RuleHandler {
	return &RuleHandler{
		stats:  stats,
		reload: reload,
		logger: logger,
	}
}

// Stats handles GET /v1/stats
// Returns average rule durations since the previous call, then resets them.
func (h *RuleHandler) Stats(c *fiber.Ctx) error {
	return Success(c, h.stats.GetStats())
}

// Reload handles POST /v1/rules/reload
func (h *RuleHandler) Reload(c *fiber.Ctx) error {
	names, err := h.reload(c.Context())
	if err != nil {
		h.logger.Error("failed to reload rules", "error", err)
		return RuleConfigError(c, err.Error())
	}
	h.logger.Info("rules reloaded", "rules", names)
	return Success(c, map[string]any{"rules": names})
}
