package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/mike-walpole/d2g/pkg/context"
)

// quietPrefixes are polled by probes and scrapers and only log at debug
var quietPrefixes = []string{"/metrics", "/api/v1/health"}

// Logger emits one line per request. Errors are rendered here so the status is final.
// Server errors log at error, client errors at warn.
func Logger(logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			req := c.Request()
			res := c.Response()
			start := time.Now()
			if err = next(c); err != nil {
				c.Error(err)
			}

			ctx := req.Context()
			entry := logger.WithContext(ctx).WithFields(map[string]any{
				"user_id":       context.GetUserID(ctx),
				"method":        req.Method,
				"route":         c.Path(),
				"uri":           req.RequestURI,
				"status":        res.Status,
				"remote_ip":     c.RealIP(),
				"user_agent":    req.UserAgent(),
				"duration_ms":   time.Since(start).Milliseconds(),
				"response_size": res.Size,
			})
			if err != nil {
				entry = entry.WithError(err)
			}

			switch {
			case res.Status >= http.StatusInternalServerError:
				entry.Error("request failed")
			case res.Status >= http.StatusBadRequest:
				entry.Warn("request rejected")
			case isQuiet(req.URL.Path):
				entry.Debug("request")
			default:
				entry.Info("request")
			}
			return nil
		}
	}
}

func isQuiet(path string) bool {
	for _, prefix := range quietPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
