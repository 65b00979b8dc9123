package repositories

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mike-walpole/d2g/pkg/database"
	"github.com/mike-walpole/d2g/pkg/tracing"
)

// NotFound returns a 404 HTTP error with a descriptive message
func NotFound(format string, args ...any) error {
	return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf(format, args...))
}

// Conflict returns a 409 HTTP error with a descriptive message
func Conflict(format string, args ...any) error {
	return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf(format, args...))
}

// IsNotFound reports whether err is a 404 HTTP error
func IsNotFound(err error) bool {
	return err != nil && httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == http.StatusNotFound
}

// IsConflict reports whether err is a 409 HTTP error
func IsConflict(err error) bool {
	return err != nil && httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == http.StatusConflict
}

// Repository carries the database handle, logger and span helpers shared by table repositories
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

func (r *Repository) DB() database.DB {
	return r.db
}

// StartSpan starts a span tagged with the database system
func (r *Repository) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	ctx, span := tracing.StartSpan(ctx, name)
	span.SetAttributes(attribute.String("db.system", "postgresql"))
	return ctx, span
}

// LogError logs a failed statement with the operation and table
func (r *Repository) LogError(ctx context.Context, operation string, table string, err error) {
	r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
		"operation": operation,
		"table":     table,
	}).Errorf("%s on %s failed", operation, table)
}

// LogMutation logs a successful write at debug level
func (r *Repository) LogMutation(ctx context.Context, operation string, table string, fields map[string]any) {
	entry := map[string]any{
		"operation": operation,
		"table":     table,
	}
	for k, v := range fields {
		entry[k] = v
	}
	r.logger.WithContext(ctx).WithFields(entry).Debugf("%s on %s", operation, table)
}
