package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"webproxy/internal/config"
	"webproxy/internal/middleware"
	"webproxy/internal/policy"
	"webproxy/internal/rewrite"
	"webproxy/internal/store"
	"webproxy/internal/target"
)

// AdminHandler serves the authenticated maintenance endpoints.
type AdminHandler struct {
	cache  store.Cache
	cfg    *config.Config
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(cache store.Cache, cfg *config.Config, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		cache:  cache,
		cfg:    cfg,
		logger: logger.With("component", "admin_handler"),
	}
}

// Purge evicts the cached response for the form field url. The entry is
// the caller's own unless the form names another identity, and the one
// rewritten for this proxy's origin unless the form names another origin.
func (h *AdminHandler) Purge(c echo.Context) error {
	t, err := target.Parse(c.FormValue("url"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	}

	origin, err := h.purgeOrigin(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	}

	identity := c.FormValue("identity")
	if identity == "" {
		identity = middleware.IdentityOf(c)
	}

	key := policy.CacheKey(origin.String(), t.String(), identity)
	if err := h.cache.Delete(c.Request().Context(), key); err != nil {
		h.logger.Error("cache purge failed", "err", err, "url", t.String())
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "cache purge failed",
		})
	}

	h.logger.Info("cache entry purged", "url", t.String(), "identity", identity, "origin", origin.String())
	return c.JSON(http.StatusOK, map[string]string{
		"status":   "purged",
		"url":      t.String(),
		"identity": identity,
		"origin":   origin.String(),
	})
}

func (h *AdminHandler) purgeOrigin(c echo.Context) (*rewrite.Origin, error) {
	raw := c.FormValue("origin")
	if raw == "" {
		raw = h.cfg.Server.PublicOrigin
	}
	if raw == "" {
		return deriveOrigin(c, h.cfg)
	}
	return rewrite.NewOrigin(raw, h.cfg.Proxy.Path, h.cfg.Proxy.TargetParam)
}
