package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// RateLimit allows maxRequests per client IP per fixed window, counted in
// Redis so every server instance shares the budget. name separates the
// counters of different route groups. When Redis is unreachable the request
// is let through and the failure logged.
func RateLimit(rdb *redis.Client, name string, maxRequests int, window time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			bucket := time.Now().Unix() / int64(window.Seconds())
			key := fmt.Sprintf("ratelimit:%s:%s:%d", name, c.RealIP(), bucket)

			pipe := rdb.TxPipeline()
			incr := pipe.Incr(ctx, key)
			pipe.Expire(ctx, key, window)
			if _, err := pipe.Exec(ctx); err != nil {
				slog.Warn("rate limit check failed", slog.String("error", err.Error()))
				return next(c)
			}

			count := incr.Val()
			remaining := int64(maxRequests) - count
			if remaining < 0 {
				remaining = 0
			}
			c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(maxRequests))
			c.Response().Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

			if count > int64(maxRequests) {
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded, try again later")
			}
			return next(c)
		}
	}
}
