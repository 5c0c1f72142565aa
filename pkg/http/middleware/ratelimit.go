package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Allower is a keyed token bucket.
type Allower interface {
	Allow(key string, capacity, refillPerSec float64) bool
}

// RateLimit rejects requests from a client IP once its bucket is empty.
func RateLimit(l Allower, capacity, refillPerSec float64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !l.Allow(c.RealIP(), capacity, refillPerSec) {
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"status":  http.StatusTooManyRequests,
					"message": "too many requests, please slow down",
				})
			}
			return next(c)
		}
	}
}
