package exporters

import (
	"context"

	"go.opentelemetry.io/otel/sdk/trace"
)

// ConsoleExporter discards spans. It keeps span ids flowing into logs and error
// responses when no collector is configured.
type ConsoleExporter struct{}

func (c *ConsoleExporter) ExportSpans(ctx context.Context, spans []trace.ReadOnlySpan) error {
	return nil
}

func (c *ConsoleExporter) Shutdown(ctx context.Context) error {
	return nil
}
