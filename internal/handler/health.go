package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"webproxy/internal/config"
	"webproxy/internal/rules"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	rules   *rules.Set
	version Version
}

// NewHealthHandler creates a HealthHandler. rs may be nil.
func NewHealthHandler(cfg *config.Config, rs *rules.Set, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, rules: rs, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns proxy status information.
func (h *HealthHandler) Status(c echo.Context) error {
	ruleCount := 0
	if h.rules != nil {
		ruleCount = h.rules.Len()
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":        "ok",
		"version":       string(h.version),
		"store_backend": h.cfg.Store.Backend,
		"cache":         h.cfg.Cache.Enabled,
		"rate_limit":    h.cfg.RateLimit.Enabled,
		"auth":          h.cfg.Auth.APIKey != "",
		"rules":         ruleCount,
	})
}
