package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"webproxy/internal/metrics"
)

// MetricsMiddleware records request counts, latency and bytes written per
// path prefix. A nil m disables it.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if m == nil {
			return next
		}
		return func(c echo.Context) error {
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()
			err := next(c)

			res := c.Response()
			statusCode := res.Status
			// An *echo.HTTPError is written later by the central error
			// handler, so its code is not on the response yet.
			var he *echo.HTTPError
			if err != nil && errors.As(err, &he) {
				statusCode = he.Code
			}

			status := strconv.Itoa(statusCode)
			method := metrics.NormalizeMethod(c.Request().Method)
			path := m.PathLabel(c.Request().URL.Path)

			m.RequestsTotal.WithLabelValues(method, status, path).Inc()
			m.RequestDuration.WithLabelValues(method, status, path).Observe(time.Since(start).Seconds())
			if res.Size > 0 {
				m.ResponseBytes.WithLabelValues(path).Add(float64(res.Size))
			}

			return err
		}
	}
}
