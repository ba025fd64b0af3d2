package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"webproxy/internal/policy"
)

// APIKeyAuth rejects requests that do not present the configured API key.
// It runs before RateLimit so rejected requests consume no quota.
func APIKeyAuth(checker *policy.KeyChecker) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := checker.Check(c.Request()); err != nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": err.Error(),
				})
			}
			return next(c)
		}
	}
}
