// Package handler implements the HTTP endpoints of the proxy.
package handler

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"webproxy/internal/config"
	"webproxy/internal/metrics"
	"webproxy/internal/middleware"
	"webproxy/internal/policy"
)

// RegisterRoutes wires all route handlers onto the Echo instance. Proxy
// routes authenticate before they charge the rate limit. limiter and m may
// be nil.
func RegisterRoutes(
	e *echo.Echo,
	cfg *config.Config,
	proxy *ProxyHandler,
	admin *AdminHandler,
	health *HealthHandler,
	checker *policy.KeyChecker,
	limiter *policy.FixedWindow,
	m *metrics.Metrics,
	logger *slog.Logger,
) {
	e.GET("/healthz", health.Healthz)
	e.GET("/status", health.Status)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	auth := middleware.APIKeyAuth(checker)
	limit := middleware.RateLimit(limiter, logger, m)

	e.POST("/admin/purge", admin.Purge, auth)

	e.Any(cfg.Proxy.Path, proxy.Handle, auth, limit)
	e.Any(cfg.Proxy.Path+"/*", proxy.Handle, auth, limit)

	e.Any("/*", proxy.HandleStray, auth, limit)
}
