// Package middleware provides Echo middleware for logging, security, metrics
// and the access policy applied to proxied requests.
package middleware

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// NewLogSampler returns a limiter admitting perSecond successful request log
// lines, or nil to log every request.
func NewLogSampler(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSecond), max(int(perSecond), 1))
}

// RequestLogger returns an Echo middleware that logs each request with slog.
// When sampler is set, responses below 400 are logged only while it admits
// them. Errors are always logged.
func RequestLogger(logger *slog.Logger, sampler *rate.Limiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			status := res.Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			if status < 400 && sampler != nil && !sampler.Allow() {
				return err
			}

			logger.Info("request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
				"cache", res.Header().Get("X-Cache"),
			)

			return err
		}
	}
}
