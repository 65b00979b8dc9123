package middleware

import (
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/mike-walpole/d2g/pkg/context"
	"github.com/mike-walpole/d2g/pkg/tracing"
)

type ErrorResponse struct {
	Message   string         `json:"message"`
	RequestID string         `json:"request_id"`
	TraceID   string         `json:"trace_id"`
	Meta      map[string]any `json:"meta"`
}

// Error renders every error as an ErrorResponse. Only HTTP errors keep their message;
// anything else becomes a generic 500.
func Error(logger ectologger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		ctx := c.Request().Context()
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		message := "Internal Server Error"
		meta := map[string]any{}

		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if msg, ok := he.Message.(string); ok {
				message = msg
			} else {
				message = http.StatusText(code)
			}
		}

		var httperr *httperror.HTTPError
		if errors.As(err, &httperr) {
			code = httperr.Code
			if code < http.StatusInternalServerError {
				message = httperr.Message
			}
			for k, v := range httperr.Meta {
				meta[k] = v
			}
		}
		meta["success"] = false

		entry := logger.WithContext(ctx).WithError(err).WithField("status", code)
		if code >= http.StatusInternalServerError {
			entry.Error("api is returning an error")
		} else {
			entry.Warn("api is returning an error")
		}

		_ = c.JSON(code, ErrorResponse{
			Message:   message,
			RequestID: context.GetRequestID(ctx),
			TraceID:   tracing.GetTraceID(ctx),
			Meta:      meta,
		})
	}
}
