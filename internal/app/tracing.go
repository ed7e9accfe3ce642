package app

import (
	"context"
	"log/slog"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/mgomes/units"

// newTracerProvider returns a provider whose ended spans are written to
// logger. It returns nil when tracing is disabled.
func newTracerProvider(cfg TraceConfig, logger *slog.Logger) *sdktrace.TracerProvider {
	if !cfg.Enabled {
		return nil
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(&logExporter{logger: logger}),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
}

func tracerFrom(provider *sdktrace.TracerProvider) trace.Tracer {
	if provider == nil {
		return nil
	}
	return provider.Tracer(tracerName)
}

// logExporter writes each span as one log record.
type logExporter struct {
	logger *slog.Logger
}

func (e *logExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		attrs := []any{
			"span", span.Name(),
			"trace_id", span.SpanContext().TraceID().String(),
			"elapsed", span.EndTime().Sub(span.StartTime()),
			"status", span.Status().Code.String(),
		}
		if parent := span.Parent(); parent.IsValid() {
			attrs = append(attrs, "parent_id", parent.SpanID().String())
		}
		for _, kv := range span.Attributes() {
			attrs = append(attrs, string(kv.Key), kv.Value.Emit())
		}
		e.logger.InfoContext(ctx, "Span ended.", attrs...)
	}
	return nil
}

func (e *logExporter) Shutdown(context.Context) error { return nil }
