package middleware

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"webproxy/internal/metrics"
	"webproxy/internal/policy"
)

// IdentityOf returns the identity requests are counted and cached under:
// the client address from the server's IPExtractor.
func IdentityOf(c echo.Context) string {
	return c.RealIP()
}

// IPExtractor returns the client address extractor for the server. With no
// trusted proxies it uses the peer address only; otherwise X-Forwarded-For
// is followed back through the trusted ranges and nothing else.
func IPExtractor(trusted []*net.IPNet) echo.IPExtractor {
	if len(trusted) == 0 {
		return echo.ExtractIPDirect()
	}
	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, n := range trusted {
		opts = append(opts, echo.TrustIPRange(n))
	}
	return echo.ExtractIPFromXFFHeader(opts...)
}

// RateLimit charges each request to the caller's fixed window. A nil
// limiter disables the check. When the counter store fails the request is
// let through and the failure logged.
func RateLimit(limiter *policy.FixedWindow, logger *slog.Logger, m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if limiter == nil {
			return next
		}
		return func(c echo.Context) error {
			d, err := limiter.Allow(c.Request().Context(), IdentityOf(c))
			switch {
			case errors.Is(err, policy.ErrRateLimited):
				setRateLimitHeaders(c, d)
				c.Response().Header().Set("Retry-After", strconv.FormatInt(d.RetryAfter(limiter.Now()), 10))
				if m != nil {
					m.RateLimitRejections.Inc()
				}
				return c.JSON(http.StatusTooManyRequests, map[string]any{
					"error":     err.Error(),
					"limit":     d.Limit,
					"remaining": d.Remaining,
				})
			case err != nil:
				logger.Warn("rate limit check failed, allowing request",
					"err", err,
					"remote_ip", c.RealIP(),
				)
				return next(c)
			}
			setRateLimitHeaders(c, d)
			return next(c)
		}
	}
}

func setRateLimitHeaders(c echo.Context, d policy.Decision) {
	h := c.Response().Header()
	h.Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
}
