package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/mike-walpole/d2g/pkg/redis"
)

type Limiter interface {
	Allow(ctx context.Context, key string) (redis.RateLimitResult, error)
}

// RateLimit throttles a route per client IP. Limiter failures let the request through.
func RateLimit(logger ectologger.Logger, limiter Limiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			key := c.Path() + ":" + c.RealIP()

			result, err := limiter.Allow(ctx, key)
			if err != nil {
				logger.WithContext(ctx).WithError(err).Warn("rate limiter unavailable, allowing request")
				return next(c)
			}

			c.Response().Header().Set("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
			if !result.Allowed {
				retryAfter := int(math.Ceil(result.RetryIn.Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
				logger.WithContext(ctx).WithField("client_ip", c.RealIP()).Warn("rate limit exceeded")
				return httperror.NewHTTPError(http.StatusTooManyRequests, "Too many requests, try again later")
			}

			return next(c)
		}
	}
}
