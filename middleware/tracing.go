package middleware

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/victorbash400/rainmaker/pipeline"
)

// tracerName is the instrumentation scope name for rainmaker tracing.
const tracerName = "github.com/victorbash400/rainmaker"

// Tracing returns middleware that wraps stage execution in an OpenTelemetry
// span. If no TracerProvider is configured globally, the default noop tracer
// is used and this middleware becomes a pass-through with zero overhead.
//
// Span attributes include: rainmaker.workflow.id, rainmaker.stage,
// rainmaker.retry_count, rainmaker.prospect_ref.
// On error, the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, st *pipeline.State, next Handler) (json.RawMessage, error) {
		ctx, span := tracer.Start(ctx, "rainmaker.stage.execute",
			trace.WithAttributes(
				attribute.String("rainmaker.workflow.id", st.ID.String()),
				attribute.String("rainmaker.stage", string(st.CurrentStage)),
				attribute.Int("rainmaker.retry_count", st.RetryCount),
				attribute.String("rainmaker.prospect_ref", st.ProspectRef),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		result, err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return result, err
	}
}
