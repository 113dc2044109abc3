package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const TracerName = "relay"

// ExtractTraceContext reads W3C trace headers carried by a broker message.
func ExtractTraceContext(ctx context.Context, headers map[string]string) context.Context {
	if len(headers) == 0 {
		return ctx
	}
	propagator := otel.GetTextMapPropagator()
	if propagator == nil {
		return ctx
	}
	return propagator.Extract(ctx, propagation.MapCarrier(headers))
}

// InjectTraceContext writes the span context of ctx into headers, allocating
// the map when needed.
func InjectTraceContext(ctx context.Context, headers map[string]string) map[string]string {
	if headers == nil {
		headers = make(map[string]string)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))
	return headers
}

// LinksFromHeaders returns one span link per message that carried a valid
// remote span context. A batch span links to its producers instead of
// choosing a single parent.
func LinksFromHeaders(headers ...map[string]string) []trace.Link {
	var links []trace.Link
	for _, h := range headers {
		sc := trace.SpanContextFromContext(ExtractTraceContext(context.Background(), h))
		if sc.IsValid() {
			links = append(links, trace.Link{SpanContext: sc})
		}
	}
	return links
}

func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return GetTracer(TracerName).Start(ctx, name, opts...)
}
